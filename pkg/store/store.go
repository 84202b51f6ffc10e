// Package store provides the shared key/value scope used by the degraded
// signaling transport and the discoverable room directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

// Store is a string-keyed blob store. Writes are last-write-wins; callers
// doing read-modify-write must tolerate lost updates from other processes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open builds the store named by cfg.StoreKind.
func Open(cfg config.ClientConfig) (Store, error) {
	switch strings.ToLower(cfg.StoreKind) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.StoreDSN)
	case "redis":
		return NewRedisStore(RedisOptions{Addr: cfg.RedisAddr})
	default:
		return nil, fmt.Errorf("store: unknown kind %q", cfg.StoreKind)
	}
}
