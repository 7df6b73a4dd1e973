package store

import (
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

// PaymentStage tags the closed PaymentStage variant (§3 "Payment (buyer
// side)"): NewTransactions(n) -> InProgress(n) -> (Success(n) | Canceled) ->
// AfterSuccessAck(n) -> gone.
type PaymentStage int

const (
	StageNewTransactions PaymentStage = iota
	StageInProgress
	StageSuccess
	StageCanceled
	StageAfterSuccessAck
)

func (s PaymentStage) String() string {
	switch s {
	case StageNewTransactions:
		return "NewTransactions"
	case StageInProgress:
		return "InProgress"
	case StageSuccess:
		return "Success"
	case StageCanceled:
		return "Canceled"
	case StageAfterSuccessAck:
		return "AfterSuccessAck"
	default:
		return "Unknown"
	}
}

// PaymentRecord is the durable form of one buyer-side Payment.
type PaymentRecord struct {
	PaymentId    wire.PaymentId
	SrcPlainLock [32]byte

	Stage             PaymentStage
	NumTransactions   uint64
	InvoiceId         wire.InvoiceId
	Currency          wire.Currency
	TotalDestPayment  wire.Amount
	DestPk            identity.PublicKey

	Receipt []byte
	AckUid  wire.AckUid
}

func paymentKey(id wire.PaymentId) []byte {
	return id[:]
}

// PutPayment persists (inserts or overwrites) a payment record.
func (d *DB) PutPayment(p PaymentRecord) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(paymentsBucketKey)
		return bucket.Put(paymentKey(p.PaymentId), data)
	}, func() {})
}

// FetchPayment returns the persisted record for id, or ErrNotFound.
func (d *DB) FetchPayment(id wire.PaymentId) (PaymentRecord, error) {
	var p PaymentRecord
	err := kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(paymentsBucketKey)
		data := bucket.Get(paymentKey(id))
		if data == nil {
			return ErrNotFound
		}
		return decode(data, &p)
	}, func() {})
	return p, err
}

// RemovePayment deletes a payment record, on AckClosePayment.
func (d *DB) RemovePayment(id wire.PaymentId) error {
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(paymentsBucketKey)
		return bucket.Delete(paymentKey(id))
	}, func() {})
}

// ForEachPayment iterates every persisted payment.
func (d *DB) ForEachPayment(fn func(PaymentRecord) error) error {
	return kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(paymentsBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			var p PaymentRecord
			if err := decode(v, &p); err != nil {
				return err
			}
			return fn(p)
		})
	}, func() {})
}
