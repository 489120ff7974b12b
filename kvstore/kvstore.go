// Package kvstore provides the on-device durable key/value backends that
// hold form drafts: SQLite (default), bbolt, and an in-memory map.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: not found")

// Backend is a flat string-keyed byte store. Implementations are safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Entry describes a stored key without its value.
type Entry struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Open builds the backend named by driver. An empty path places the file
// under dataDir with a driver-specific name.
func Open(driver, path, dataDir string) (Backend, error) {
	switch driver {
	case "", DriverSQLite:
		if path == "" {
			path = filepath.Join(dataDir, "drafts.db")
		}
		return OpenSQLite(path)
	case DriverBolt:
		if path == "" {
			path = filepath.Join(dataDir, "drafts.bolt")
		}
		return OpenBolt(path)
	case DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("kvstore: unknown driver %q", driver)
}
