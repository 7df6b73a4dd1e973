package store

import (
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

// SentLocalRelaysState mirrors the Friend.sent_local_relays tri-state
// (§3 "sent_local_relays three-state transition"): NeverSent before the
// first MoveToken carrying our relay list, Transition while a newer set
// awaits acknowledgement, LastSent once the peer has acked the latest set.
type SentLocalRelaysState int

const (
	RelaysNeverSent SentLocalRelaysState = iota
	RelaysTransition
	RelaysLastSent
)

// CurrencyConfig is a friend's per-currency forwarding policy
// (§4.3 "Friend.currency_configs").
type CurrencyConfig struct {
	Rate                     wire.Rate
	RemoteMaxDebt            wire.Amount
	WantedLocalRequestsOpen  bool
}

// FriendRecord is the durable form of one Friend: everything InitTokenChannel
// and the funder actor need to resume exactly where they left off after a
// restart, mirroring channeldb/db.go's per-entity Fetch/Put pair but for the
// credit-network Friend instead of a channel.OpenChannel.
type FriendRecord struct {
	RemotePk identity.PublicKey
	Name     string
	Enabled  bool

	Relays []wire.RelayAddress

	CurrencyConfigs map[wire.Currency]CurrencyConfig

	Channel *tokenchannel.TokenChannel

	SentLocalRelaysState SentLocalRelaysState
	SentLocalRelaysOld   []wire.RelayAddress
	SentLocalRelaysNew   []wire.RelayAddress
}

func friendKey(pk identity.PublicKey) []byte {
	return pk[:]
}

// PutFriend persists (inserts or overwrites) a friend record.
func (d *DB) PutFriend(f FriendRecord) error {
	data, err := encode(f)
	if err != nil {
		return err
	}
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(friendsBucketKey)
		return bucket.Put(friendKey(f.RemotePk), data)
	}, func() {})
}

// FetchFriend returns the persisted record for pk, or ErrNotFound.
func (d *DB) FetchFriend(pk identity.PublicKey) (FriendRecord, error) {
	var f FriendRecord
	err := kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(friendsBucketKey)
		data := bucket.Get(friendKey(pk))
		if data == nil {
			return ErrNotFound
		}
		return decode(data, &f)
	}, func() {})
	return f, err
}

// RemoveFriend deletes a friend record (§3 "Lifetimes"). No check that the
// channel is drained is made here, and funder.RemoveFriend makes none either.
func (d *DB) RemoveFriend(pk identity.PublicKey) error {
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(friendsBucketKey)
		return bucket.Delete(friendKey(pk))
	}, func() {})
}

// ForEachFriend iterates every persisted friend, in key (public-key) order,
// the way channeldb.ForEachChannel walks the bucket it owns.
func (d *DB) ForEachFriend(fn func(FriendRecord) error) error {
	return kvdb.View(d.Backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(friendsBucketKey)
		return bucket.ForEach(func(k, v []byte) error {
			var f FriendRecord
			if err := decode(v, &f); err != nil {
				return err
			}
			return fn(f)
		})
	}, func() {})
}
