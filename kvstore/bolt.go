package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltValues  = []byte("drafts")
	boltUpdated = []byte("drafts_updated")
)

// Bolt stores drafts in a bbolt file. Values and their write times live in
// two buckets keyed identically.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: bolt mkdir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: bolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltValues, boltUpdated} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: bolt buckets: %w", err)
	}
	return &Bolt{db: db, now: time.Now}, nil
}

func (b *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltValues).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

func (b *Bolt) Put(_ context.Context, key string, value []byte) error {
	stamp := make([]byte, 8)
	binary.BigEndian.PutUint64(stamp, uint64(b.now().UnixMilli()))
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltValues).Put([]byte(key), value); err != nil {
			return err
		}
		return tx.Bucket(boltUpdated).Put([]byte(key), stamp)
	})
	if err != nil {
		return fmt.Errorf("kvstore: bolt put %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltValues).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(boltUpdated).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kvstore: bolt delete %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) List(_ context.Context) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		updated := tx.Bucket(boltUpdated)
		return tx.Bucket(boltValues).ForEach(func(k, v []byte) error {
			e := Entry{Key: string(k), Size: len(v)}
			if ts := updated.Get(k); len(ts) == 8 {
				e.UpdatedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(ts)))
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: bolt list: %w", err)
	}
	return out, nil
}

func (b *Bolt) Close() error { return b.db.Close() }
