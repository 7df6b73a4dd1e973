package funder

import "errors"

// Control precondition errors (§4.3, §7 "Control precondition errors"):
// reported synchronously to the requesting app, with no state change.
var (
	ErrFriendExists        = errors.New("funder: friend already exists")
	ErrFriendNotFound      = errors.New("funder: friend not found")
	ErrFriendNotDrained    = errors.New("funder: friend channel not drained")
	ErrCurrencyInUse       = errors.New("funder: currency still in active set")
	ErrCurrencyNotDrained  = errors.New("funder: currency not drained")
	ErrChannelNotInconsistent = errors.New("funder: channel is not Inconsistent")
	ErrResetTokenMismatch  = errors.New("funder: offered reset token does not match remote's")
	ErrPaymentExists       = errors.New("funder: payment_id already in use")
	ErrPaymentNotFound     = errors.New("funder: payment not found")
	ErrPaymentWrongStage   = errors.New("funder: payment is not in the expected stage")
	ErrInvoiceExists       = errors.New("funder: invoice_id already in use")
	ErrInvoiceNotFound     = errors.New("funder: invoice not found")
	ErrBadCommitSignature  = errors.New("funder: commit signature invalid")
	ErrBadCommitPreimage   = errors.New("funder: hash(src_plain_lock) does not match stored src_hashed_lock")
	ErrTooManyRelays       = errors.New("funder: relay count exceeds MAX_NODE_RELAYS")
	ErrRouteInvalid        = errors.New("funder: route must have at least 2 nodes, be unique, start with us, and end at the payment's dest_pk")
	ErrFriendNotReady      = errors.New("funder: friend is disabled, unknown, or currency inactive")
	ErrDuplicateRequestId  = errors.New("funder: request_id already in use")
)
