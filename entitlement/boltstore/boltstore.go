// Package boltstore persists entitlement counts in a bbolt file.
package boltstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pipacs/shop/entitlement"
)

var bucketEntitlements = []byte("entitlements_by_key")

const FileName = "entitlements.db"

type DB struct {
	path string
	db   *bolt.DB
}

// Open opens (creating if needed) datadir/entitlements.db.
func Open(datadir string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if err := os.MkdirAll(datadir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", datadir, err)
	}
	path := filepath.Join(datadir, FileName)
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntitlements); err != nil {
			return fmt.Errorf("create bucket %s: %w", string(bucketEntitlements), err)
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &DB{path: path, db: bdb}, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Path() string { return d.path }

func (d *DB) Get(key string) (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntitlements).Get([]byte(key))
		if v == nil {
			return nil
		}
		got, err := decodeCount(v)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		n = got
		return nil
	})
	return n, err
}

func (d *DB) Set(key string, n int) error {
	if n < 0 {
		return entitlement.ErrNegativeCount
	}
	if key == "" {
		return fmt.Errorf("empty key")
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntitlements).Put([]byte(key), encodeCount(n))
	})
}

func (d *DB) Delete(key string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntitlements).Delete([]byte(key))
	})
}

func (d *DB) Keys() ([]string, error) {
	var out []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntitlements).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func encodeCount(n int) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func decodeCount(v []byte) (int, error) {
	if len(v) != 8 {
		return 0, fmt.Errorf("count: bad length %d", len(v))
	}
	u := binary.LittleEndian.Uint64(v)
	if u > uint64(int(^uint(0)>>1)) {
		return 0, fmt.Errorf("count: out of range")
	}
	return int(u), nil
}
