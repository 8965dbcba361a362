package devicestore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

// FileStore implements Store as a single JSON object on the local filesystem.
// Example:
//
//	store, err := devicestore.NewFileStore("file:///tmp/profilectl/device.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a new FileStore instance from a file URI.
// The path must be absolute and is cleaned to prevent path traversal attacks.
func NewFileStore(uri string) (*FileStore, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid file URI: %w", err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("invalid file URI scheme: %s", u.Scheme)
	}
	if u.Host != "" {
		return nil, fmt.Errorf("device store path must be absolute: %s%s", u.Host, u.Path)
	}

	// Clean the path to resolve any .. or . components
	cleanPath := filepath.Clean(u.Path)

	// Ensure path is absolute to prevent relative path attacks
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("device store path must be absolute: %s", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &FileStore{
		path: cleanPath,
	}, nil
}

// Load returns the value stored under key, or "" if the file or key is missing.
func (f *FileStore) Load(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// Save stores value under key, rewriting the whole file.
func (f *FileStore) Save(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

// Delete removes key. Deleting a missing key is not an error.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.write(values)
}

func (f *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read device store file: %w", err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode device store: %w", err)
	}
	return values, nil
}

// write replaces the file through a rename so a crash never leaves it half written.
func (f *FileStore) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode device store: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write device store file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace device store file: %w", err)
	}
	return nil
}
