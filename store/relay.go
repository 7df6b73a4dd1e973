package store

import (
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/offstlabs/offst/wire"
)

// PutLocalRelays persists this node's own advertised relay list, read back
// on startup so restarts don't lose the set a peer's Channeler may still be
// mid-Transition on (§3 "sent_local_relays").
func (d *DB) PutLocalRelays(relays []wire.RelayAddress) error {
	data, err := encode(relays)
	if err != nil {
		return err
	}
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(metaBucketKey)
		return bucket.Put(relaysKey, data)
	}, func() {})
}

// FetchLocalRelays returns the persisted local relay list, or an empty
// slice if none has ever been set.
func (d *DB) FetchLocalRelays() ([]wire.RelayAddress, error) {
	var relays []wire.RelayAddress
	err := kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(metaBucketKey)
		data := bucket.Get(relaysKey)
		if data == nil {
			return nil
		}
		return decode(data, &relays)
	}, func() {})
	return relays, err
}
