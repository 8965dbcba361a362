// Package devicestore keeps the small amount of durable per-device state the
// profile flows need: the persisted current identity id and the resolver's
// cached Cognito identity. Every backend treats a missing key as an empty
// value, not an error.
package devicestore

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
)

// Well-known keys.
const (
	// KeyUserID holds the identity id of the profile this device is signed in as.
	KeyUserID = "userId"
	// KeyKeychain holds the resolver's cached identity record.
	KeyKeychain = "cognito.identity"
)

// Store is a durable string key/value store.
// Example:
//
//	store, err := devicestore.Open("bolt:///var/lib/profilectl/device.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := store.Load(ctx, devicestore.KeyUserID)
//	if id == "" {
//	    // no identity persisted yet
//	}
type Store interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Open creates a Store from a URI. Supported schemes are bolt:// and file://
// with an absolute path, and mem:// for a process-local store.
func Open(uri string) (Store, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid device store URI: %w", err)
	}

	switch u.Scheme {
	case "mem":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(uri)
	case "bolt":
		if u.Host != "" {
			return nil, fmt.Errorf("device store path must be absolute: %s%s", u.Host, u.Path)
		}
		cleanPath := filepath.Clean(u.Path)
		if !filepath.IsAbs(cleanPath) {
			return nil, fmt.Errorf("device store path must be absolute: %s", cleanPath)
		}
		return OpenBoltStore(cleanPath)
	default:
		return nil, fmt.Errorf("invalid device store URI scheme: %s", u.Scheme)
	}
}

// Close releases resources held by s when it has any.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
