// Package credentials persists the access and refresh credentials used by
// the API client.
//
// A Store is the only thing the request pipeline talks to. Stores keep the
// access credential in memory and, depending on the variant, mirror it into
// a durable Backend that other processes may share.
package credentials

import (
	"context"
	"errors"
	"sync"
)

// Durable storage keys. All three are cleared together on logout.
const (
	AccessTokenKey  = "at"
	RefreshTokenKey = "rt"
	UserKey         = "user"
)

// ErrBackendUnavailable is returned by backends that cannot be reached.
var ErrBackendUnavailable = errors.New("credential backend unavailable")

// Backend is durable, string-valued key storage. Get returns "" with a nil
// error when the key is absent. Delete of a missing key is not an error.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values[key], nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.values, k)
	}
	return nil
}

// Len reports how many keys are stored.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}
