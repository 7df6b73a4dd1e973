package tokenchannel

import "errors"

var (
	// ErrNotYourTurn is returned when preparing an outgoing MoveToken
	// while the channel is not in ConsistentIn.
	ErrNotYourTurn = errors.New("tokenchannel: channel does not hold the token")

	// ErrChannelInconsistent is returned by any MoveToken-preparation or
	// application call while the channel is Inconsistent and no
	// compatible reset has landed yet.
	ErrChannelInconsistent = errors.New("tokenchannel: channel is inconsistent")

	// ErrUnknownCurrency is returned when an operation names a currency
	// that is not active on this channel.
	ErrUnknownCurrency = errors.New("tokenchannel: unknown currency")

	// ErrResetTokenMismatch is returned when an offered reset token does
	// not match the remote's proposed ResetTerms (SPEC_FULL §3).
	ErrResetTokenMismatch = errors.New("tokenchannel: offered reset token does not match remote terms")
)
