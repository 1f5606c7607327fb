package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// tokenFile is the on-disk layout. Each namespace (one per API base URL)
// holds its own key/value map so that several profiles can share a file.
type tokenFile struct {
	Stores map[string]map[string]string `json:"stores"`
}

// FileBackend stores values in a JSON file shared between processes.
// Writes take a lock file and replace the file atomically.
type FileBackend struct {
	path      string
	namespace string
}

// NewFileBackend returns a FileBackend for path, scoped to namespace.
func NewFileBackend(path, namespace string) *FileBackend {
	return &FileBackend{path: path, namespace: namespace}
}

// Path returns the backing file path.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Get(_ context.Context, key string) (string, error) {
	data, err := b.read()
	if err != nil {
		return "", err
	}
	return data.Stores[b.namespace][key], nil
}

func (b *FileBackend) Set(ctx context.Context, key, value string) error {
	return b.update(ctx, func(values map[string]string) {
		values[key] = value
	})
}

func (b *FileBackend) Delete(ctx context.Context, keys ...string) error {
	if _, err := os.Stat(b.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return b.update(ctx, func(values map[string]string) {
		for _, k := range keys {
			delete(values, k)
		}
	})
}

// read loads the file; a missing file is an empty store.
func (b *FileBackend) read() (*tokenFile, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return &tokenFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var data tokenFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &data, nil
}

// update applies fn to this namespace under the file lock, preserving
// every other namespace.
func (b *FileBackend) update(ctx context.Context, fn func(map[string]string)) error {
	lock, err := acquireFileLock(ctx, b.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		_ = lock.release()
	}()

	data, err := b.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		data = &tokenFile{}
	}
	if data.Stores == nil {
		data.Stores = make(map[string]map[string]string)
	}
	values := data.Stores[b.namespace]
	if values == nil {
		values = make(map[string]string)
	}

	fn(values)

	if len(values) == 0 {
		delete(data.Stores, b.namespace)
	} else {
		data.Stores[b.namespace] = values
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tempFile := b.path + ".tmp"
	if err := os.WriteFile(tempFile, out, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, b.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
