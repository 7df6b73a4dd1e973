// Package store is the persistence layer: the full Funder state (friends,
// channels including last MoveTokens, invoices, payments, relays) plus
// the Channeler's friend list (§6 "Persisted state"). Reset terms and
// move_token_counter MUST survive crashes; pending-user queues MAY be
// dropped since the originating app re-sends them.
//
// It modernizes channeldb/db.go's bolt-backed, versioned-migration idiom
// onto the backend-agnostic github.com/lightningnetwork/lnd/kvdb package,
// replacing direct boltdb/bolt calls with kvdb.Backend so an operator can
// later point the daemon at any backend kvdb supports without touching
// this package.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	dbFileName       = "offst.db"
	dbFilePermission = 0600
)

var (
	friendsBucketKey = []byte("friends")
	invoicesBucketKey = []byte("invoices")
	paymentsBucketKey = []byte("payments")
	metaBucketKey    = []byte("meta")

	relaysKey          = []byte("local-relays")
	dbVersionKey       = []byte("db-version")
	currentDBVersion   = uint32(1)
)

// DB is the primary datastore for cmd/offstd, wrapping a kvdb.Backend the
// way channeldb.DB wraps *bolt.DB.
type DB struct {
	kvdb.Backend
	dbPath string
}

// Open opens (creating if necessary) the on-disk store at dbPath.
func Open(dbPath string) (*DB, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbFileName)
	backend, err := kvdb.Create(kvdb.BoltBackendName, path, true, kvdb.DefaultDBTimeout)
	if err != nil {
		return nil, err
	}

	db := &DB{Backend: backend, dbPath: dbPath}
	if err := db.initBuckets(); err != nil {
		backend.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) initBuckets() error {
	return kvdb.Update(d.Backend, func(tx kvdb.RwTx) error {
		for _, key := range [][]byte{friendsBucketKey, invoicesBucketKey, paymentsBucketKey, metaBucketKey} {
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}

		meta := tx.ReadWriteBucket(metaBucketKey)
		if meta.Get(dbVersionKey) == nil {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(currentDBVersion); err != nil {
				return err
			}
			return meta.Put(dbVersionKey, buf.Bytes())
		}
		return nil
	}, func() {})
}

// encode gob-encodes v, the serialization this package uses throughout:
// the records here (FriendRecord, InvoiceRecord, PaymentRecord) are
// internal-only, so encoding/gob's self-describing format is a better fit
// than a hand-rolled canonical layout — unlike the wire package's
// MoveToken, nothing here is ever hashed or signed over.
func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// Close closes the underlying backend.
func (d *DB) Close() error {
	return d.Backend.Close()
}
