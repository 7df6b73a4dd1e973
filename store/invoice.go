package store

import (
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/offstlabs/offst/wire"
)

// InvoiceRecord is the durable form of a seller-side Invoice (§3 "Invoice
// lifetime": AddInvoice through CommitInvoice or CancelInvoice).
type InvoiceRecord struct {
	InvoiceId          wire.InvoiceId
	Currency           wire.Currency
	TotalDestPayment   wire.Amount
	DestPlainLock      [32]byte
	IncomingTransactions []wire.RequestId
	HasSrcHashedLock   bool
	SrcHashedLock      wire.Hash
}

func invoiceKey(id wire.InvoiceId) []byte {
	return id[:]
}

// PutInvoice persists (inserts or overwrites) an invoice record.
func (d *DB) PutInvoice(inv InvoiceRecord) error {
	data, err := encode(inv)
	if err != nil {
		return err
	}
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(invoicesBucketKey)
		return bucket.Put(invoiceKey(inv.InvoiceId), data)
	}, func() {})
}

// FetchInvoice returns the persisted record for id, or ErrNotFound.
func (d *DB) FetchInvoice(id wire.InvoiceId) (InvoiceRecord, error) {
	var inv InvoiceRecord
	err := kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(invoicesBucketKey)
		data := bucket.Get(invoiceKey(id))
		if data == nil {
			return ErrNotFound
		}
		return decode(data, &inv)
	}, func() {})
	return inv, err
}

// RemoveInvoice deletes an invoice record (on CommitInvoice or
// CancelInvoice).
func (d *DB) RemoveInvoice(id wire.InvoiceId) error {
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(invoicesBucketKey)
		return bucket.Delete(invoiceKey(id))
	}, func() {})
}

// ForEachInvoice iterates every persisted invoice.
func (d *DB) ForEachInvoice(fn func(InvoiceRecord) error) error {
	return kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(invoicesBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			var inv InvoiceRecord
			if err := decode(v, &inv); err != nil {
				return err
			}
			return fn(inv)
		})
	}, func() {})
}
