package wire

import (
	"encoding/binary"
	"sort"

	"github.com/btcsuite/fastsha256"
)

// Hash256 is the hash() primitive referenced throughout the data model.
func Hash256(parts ...[]byte) Hash {
	h := fastsha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// encodeBalanceView canonically encodes one (currency, balance_view) row:
// currency bytes, then balance/local_pending_debt/remote_pending_debt/
// in_fees/out_fees each as 16-byte little-endian (sign-magnitude for the
// signed balance), exactly the layout named in §6.
func encodeBalanceView(v CurrencyBalanceView) []byte {
	out := make([]byte, 0, len(v.Currency)+16*5)
	out = append(out, []byte(v.Currency)...)
	var buf [16]byte
	PutBalance128(buf[:], v.Balance)
	out = append(out, buf[:]...)
	PutAmount128(buf[:], v.LocalPendingDebt)
	out = append(out, buf[:]...)
	PutAmount128(buf[:], v.RemotePendingDebt)
	out = append(out, buf[:]...)
	PutAmount128(buf[:], v.InFees)
	out = append(out, buf[:]...)
	PutAmount128(buf[:], v.OutFees)
	out = append(out, buf[:]...)
	return out
}

// BalancesHash hashes the sorted-by-currency list of balance views, as
// seen by whichever side is about to verify/sign (§3 "balances_hash hashes
// the sorted (currency, balance_view) list as seen by the receiver").
func BalancesHash(views []CurrencyBalanceView) Hash {
	sorted := make([]CurrencyBalanceView, len(views))
	copy(sorted, views)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Currency < sorted[j].Currency })

	h := fastsha256.New()
	for _, v := range sorted {
		h.Write(encodeBalanceView(v))
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// canonicalOperations encodes the operation list in the order given (§6:
// "orders operations as given").
func canonicalOperations(ops []Operation) []byte {
	h := fastsha256.New()
	for _, op := range ops {
		h.Write([]byte{byte(op.Kind)})
		switch op.Kind {
		case OpRequestSendFunds:
			r := op.Request
			h.Write(r.RequestId[:])
			h.Write([]byte(r.Currency))
			h.Write(r.SrcHashedLock[:])
			var buf [16]byte
			PutAmount128(buf[:], r.DestPayment)
			h.Write(buf[:])
			PutAmount128(buf[:], r.TotalDestPayment)
			h.Write(buf[:])
			h.Write(r.InvoiceHash[:])
			for _, pk := range r.Route {
				h.Write(pk[:])
			}
			PutAmount128(buf[:], r.LeftFees)
			h.Write(buf[:])
		case OpResponseSendFunds:
			r := op.Response
			h.Write(r.RequestId[:])
			h.Write(r.SrcPlainLock[:])
			h.Write(le64(r.SerialNum))
			h.Write(r.Signature)
		case OpCancelSendFunds:
			c := op.Cancel
			h.Write(c.RequestId[:])
			h.Write(c.Canceller[:])
		}
	}
	return h.Sum(nil)
}

// InfoHash combines balances_hash and move_token_counter into the value
// the MoveToken signature ultimately binds (§3).
func InfoHash(info TokenInfo) Hash {
	return Hash256([]byte("TokenInfo"), info.BalancesHash[:], le64(info.MoveTokenCounter))
}

// MoveTokenSignHash is the canonical pre-image for a MoveToken's
// new_token signature (§6): hash("MoveToken" || old_token ||
// canonical(operations) || info_hash || recipient_pk).
func MoveTokenSignHash(oldToken []byte, ops []Operation, infoHash Hash, recipientPk PublicKey) Hash {
	return Hash256([]byte("MoveToken"), oldToken, canonicalOperations(ops), infoHash[:], recipientPk[:])
}

// ResetTokenSignHash is the canonical pre-image for a reset token (§6):
// hash("ResetToken" || local_pk || remote_pk || move_token_counter).
func ResetTokenSignHash(localPk, remotePk PublicKey, counter uint64) Hash {
	return Hash256([]byte("ResetToken"), localPk[:], remotePk[:], le64(counter))
}

// ResponseSignHash is the canonical pre-image the destination signs when
// producing a ResponseSendFunds (§4.1, §6).
func ResponseSignHash(
	requestId RequestId, srcPlainLock [32]byte, serialNum uint64,
	destPk PublicKey, destPayment, totalDestPayment Amount, invoiceHash Hash,
) Hash {
	var buf [16]byte
	parts := [][]byte{[]byte("Response"), requestId[:], srcPlainLock[:], le64(serialNum), destPk[:]}
	PutAmount128(buf[:], destPayment)
	parts = append(parts, append([]byte(nil), buf[:]...))
	PutAmount128(buf[:], totalDestPayment)
	parts = append(parts, append([]byte(nil), buf[:]...))
	parts = append(parts, invoiceHash[:])
	return Hash256(parts...)
}

// CommitSignHash is the canonical pre-image of the buyer's Commit
// signature (§3 "Commit").
func CommitSignHash(
	invoiceId InvoiceId, currency Currency, totalDestPayment Amount,
	srcPlainLock, destPlainLock [32]byte, serialNum uint64,
) Hash {
	var buf [16]byte
	PutAmount128(buf[:], totalDestPayment)
	return Hash256(
		[]byte("Commit"), invoiceId[:], []byte(currency), buf[:],
		srcPlainLock[:], destPlainLock[:], le64(serialNum),
	)
}

// ReceiptSignHash is the canonical pre-image of the seller's Receipt
// signature (§3 "Receipt").
func ReceiptSignHash(
	invoiceId InvoiceId, currency Currency, destPayment, totalDestPayment Amount,
) Hash {
	var buf [16]byte
	parts := [][]byte{[]byte("Receipt"), invoiceId[:], []byte(currency)}
	PutAmount128(buf[:], destPayment)
	parts = append(parts, append([]byte(nil), buf[:]...))
	PutAmount128(buf[:], totalDestPayment)
	parts = append(parts, append([]byte(nil), buf[:]...))
	return Hash256(parts...)
}
