package mutualcredit

import "errors"

// Control/protocol errors. These are never fatal: they indicate the
// caller should fail the operation (Cancel) rather than abort the node.
var (
	// ErrDuplicateRequestId is returned when a request_id already has an
	// open pending entry on the side being inserted into.
	ErrDuplicateRequestId = errors.New("mutualcredit: duplicate request_id")

	// ErrNotFound is returned when a response or cancel references a
	// request_id with no matching pending entry.
	ErrNotFound = errors.New("mutualcredit: no matching pending transaction")

	// ErrBadSignature is returned when a response's signature fails to
	// verify over the canonical response buffer.
	ErrBadSignature = errors.New("mutualcredit: response signature invalid")

	// ErrCurrencyNotDrained is returned when removing a currency whose
	// pending totals or balance are not all zero.
	ErrCurrencyNotDrained = errors.New("mutualcredit: currency has nonzero balance or pending debt")
)
