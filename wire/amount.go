package wire

import (
	"errors"

	"lukechampine.com/uint128"
)

// ErrOverflow is the numeric invariant-violation error. Per the error
// handling design, overflow is always fatal and is never signalled over
// the wire — callers that hit it should abort the owning loop.
var ErrOverflow = errors.New("wire: checked arithmetic overflow")

// Amount is an unsigned 128-bit quantity: local_max_debt, remote_max_debt,
// pending debts, dest_payment, and fee accumulators are all this width in
// the data model.
type Amount = uint128.Uint128

// ZeroAmount is the additive identity.
var ZeroAmount = uint128.Zero

// AmountFromUint64 lifts a uint64 into the 128-bit domain.
func AmountFromUint64(v uint64) Amount {
	return uint128.From64(v)
}

// AddChecked returns a+b, or ErrOverflow if the sum does not fit in 128
// bits.
func AddChecked(a, b Amount) (Amount, error) {
	if b.Cmp(uint128.Max.Sub(a)) > 0 {
		return Amount{}, ErrOverflow
	}
	return a.Add(b), nil
}

// SubChecked returns a-b, or ErrOverflow if b > a.
func SubChecked(a, b Amount) (Amount, error) {
	if b.Cmp(a) > 0 {
		return Amount{}, ErrOverflow
	}
	return a.Sub(b), nil
}

// Balance is a signed 128-bit quantity stored sign-magnitude, matching the
// canonical wire encoding in §6 ("sign-magnitude for i128"). balance > 0
// means the remote owes us.
type Balance struct {
	Neg bool
	Mag Amount
}

// ZeroBalance is the additive identity.
var ZeroBalance = Balance{}

// BalanceFromInt64 lifts a plain int64 into sign-magnitude form.
func BalanceFromInt64(v int64) Balance {
	if v >= 0 {
		return Balance{Mag: uint128.From64(uint64(v))}
	}
	return Balance{Neg: true, Mag: uint128.From64(uint64(-v))}
}

// IsZero reports whether the balance is exactly zero.
func (b Balance) IsZero() bool {
	return b.Mag.IsZero()
}

// Negate returns -b.
func (b Balance) Negate() Balance {
	if b.IsZero() {
		return b
	}
	return Balance{Neg: !b.Neg, Mag: b.Mag}
}

// Cmp returns -1, 0, or 1 comparing b to other.
func (b Balance) Cmp(other Balance) int {
	if b.Neg != other.Neg {
		if b.IsZero() && other.IsZero() {
			return 0
		}
		if b.Neg {
			return -1
		}
		return 1
	}
	c := b.Mag.Cmp(other.Mag)
	if b.Neg {
		return -c
	}
	return c
}

// AddBalanceChecked returns b+delta as a signed value, failing only if the
// magnitude overflows 128 bits.
func AddBalanceChecked(b Balance, delta Balance) (Balance, error) {
	if b.Neg == delta.Neg {
		mag, err := AddChecked(b.Mag, delta.Mag)
		if err != nil {
			return Balance{}, err
		}
		return Balance{Neg: b.Neg && !mag.IsZero(), Mag: mag}, nil
	}

	// Opposite signs: subtract the smaller magnitude from the larger and
	// take the sign of the larger operand.
	if b.Mag.Cmp(delta.Mag) >= 0 {
		mag := b.Mag.Sub(delta.Mag)
		return Balance{Neg: b.Neg && !mag.IsZero(), Mag: mag}, nil
	}
	mag := delta.Mag.Sub(b.Mag)
	return Balance{Neg: delta.Neg && !mag.IsZero(), Mag: mag}, nil
}

// SubBalanceChecked returns b-delta.
func SubBalanceChecked(b Balance, delta Balance) (Balance, error) {
	return AddBalanceChecked(b, delta.Negate())
}

// AddAmountToBalance adds an unsigned amount (credits moving toward the
// remote owing us more) to a signed balance.
func AddAmountToBalance(b Balance, amt Amount) (Balance, error) {
	return AddBalanceChecked(b, Balance{Mag: amt})
}

// SubAmountFromBalance subtracts an unsigned amount from a signed balance.
func SubAmountFromBalance(b Balance, amt Amount) (Balance, error) {
	return AddBalanceChecked(b, Balance{Neg: true, Mag: amt})
}

// PutAmount128 encodes v as 16-byte little-endian, the canonical u128 wire
// layout from §6.
func PutAmount128(dst []byte, v Amount) {
	_ = dst[15]
	b := v.Big().Bytes()
	// big.Int.Bytes is big-endian and minimal-length; right-align then
	// reverse into little-endian.
	var be [16]byte
	copy(be[16-len(b):], b)
	for i := 0; i < 16; i++ {
		dst[i] = be[15-i]
	}
}

// Amount128 decodes a 16-byte little-endian u128.
func Amount128(src []byte) Amount {
	_ = src[15]
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[15-i] = src[i]
	}
	return uint128.FromBytes(be[:])
}

// PutBalance128 encodes a signed balance as 16-byte little-endian
// sign-magnitude: the magnitude occupies the low 127 bits and the MSB of
// the last byte carries the sign, set only for a nonzero negative balance.
func PutBalance128(dst []byte, b Balance) {
	PutAmount128(dst, b.Mag)
	if b.Neg && !b.Mag.IsZero() {
		dst[15] |= 0x80
	}
}

// Balance128 decodes a sign-magnitude 128-bit balance.
func Balance128(src []byte) Balance {
	var mag [16]byte
	copy(mag[:], src[:16])
	neg := mag[15]&0x80 != 0
	mag[15] &^= 0x80
	return Balance{Neg: neg, Mag: Amount128(mag[:])}
}
