package boltstore

import (
	"errors"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/pipacs/shop/entitlement"
)

func TestOpen_RequiresDatadir(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty datadir")
	}
}

func TestDB_RoundTripAndReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	d, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := entitlement.WithPrefix(d, entitlement.Domain)
	if n, err := s.Get("foo"); err != nil || n != 0 {
		t.Fatalf("missing: n=%d err=%v", n, err)
	}
	if err := s.Set("foo", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("bar", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("bar"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Set("neg", -3); !errors.Is(err, entitlement.ErrNegativeCount) {
		t.Fatalf("negative: err=%v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	if n, _ := d.Get(entitlement.Domain + ".foo"); n != 2 {
		t.Fatalf("foo=%d, want 2", n)
	}
	keys, err := d.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != entitlement.Domain+".foo" {
		t.Fatalf("keys=%v", keys)
	}
	if d.Path() != filepath.Join(dir, FileName) {
		t.Fatalf("path=%s", d.Path())
	}
}

func TestDB_CorruptValue(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntitlements).Put([]byte("foo"), []byte{1, 2, 3})
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := d.Get("foo"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCloseNil(t *testing.T) {
	var d *DB
	if err := d.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
