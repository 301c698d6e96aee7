package appstorage

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const persistenceLogPrefix = "appstorage:persistence"

var itemsBucket = []byte("items")

// Persistence is the flat key/value layer Appstorage instances share, one
// directory (prefix) each. Grounded on elves-elvish's bbolt-backed store
// (pkg/store/{cmd,dir}.go): one bucket, byte-slice values, explicit
// transactions.
type Persistence interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	ScanPrefix(prefix string) (map[string][]byte, error)
	Close() error
}

// BoltPersistence implements Persistence over a single bbolt database file.
type BoltPersistence struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) a bbolt database at path for use as
// the Appstorage persistence layer.
func OpenBolt(path string) (*BoltPersistence, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open %s: %w", persistenceLogPrefix, path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(itemsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s - failed to initialize bucket: %w", persistenceLogPrefix, err)
	}
	return &BoltPersistence{db: db}, nil
}

func (b *BoltPersistence) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(itemsBucket).Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s - get %q: %w", persistenceLogPrefix, key, err)
	}
	return value, value != nil, nil
}

func (b *BoltPersistence) Set(key string, value []byte) error {
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Put([]byte(key), value)
	}); err != nil {
		return fmt.Errorf("%s - set %q: %w", persistenceLogPrefix, key, err)
	}
	return nil
}

func (b *BoltPersistence) ScanPrefix(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(itemsBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s - scan %q: %w", persistenceLogPrefix, prefix, err)
	}
	return out, nil
}

func (b *BoltPersistence) Close() error {
	return b.db.Close()
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
