package devicestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// stores returns one fresh instance of every backend.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	tmpDir := t.TempDir()

	fileStore, err := NewFileStore("file://" + filepath.Join(tmpDir, "device.json"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	boltStore, err := OpenBoltStore(filepath.Join(tmpDir, "device.db"))
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = boltStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"bolt":   boltStore,
	}
}

func TestStore_SaveLoad(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Save(ctx, KeyUserID, "us-east-1:abc123"); err != nil {
				t.Fatalf("failed to save: %v", err)
			}

			loaded, err := store.Load(ctx, KeyUserID)
			if err != nil {
				t.Fatalf("failed to load: %v", err)
			}
			if loaded != "us-east-1:abc123" {
				t.Errorf("value mismatch: got %s, want us-east-1:abc123", loaded)
			}
		})
	}
}

func TestStore_MissingKey(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			loaded, err := store.Load(context.Background(), KeyKeychain)
			if err != nil {
				t.Fatalf("failed to load missing key: %v", err)
			}
			if loaded != "" {
				t.Errorf("expected empty value, got %s", loaded)
			}
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Save(ctx, KeyUserID, "first"); err != nil {
				t.Fatalf("failed to save first value: %v", err)
			}
			if err := store.Save(ctx, KeyUserID, "second"); err != nil {
				t.Fatalf("failed to save second value: %v", err)
			}

			loaded, err := store.Load(ctx, KeyUserID)
			if err != nil {
				t.Fatalf("failed to load: %v", err)
			}
			if loaded != "second" {
				t.Errorf("expected 'second', got %s", loaded)
			}
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Save(ctx, KeyUserID, "abc"); err != nil {
				t.Fatalf("failed to save: %v", err)
			}
			if err := store.Save(ctx, KeyKeychain, "kept"); err != nil {
				t.Fatalf("failed to save: %v", err)
			}
			for i := 0; i < 2; i++ {
				if err := store.Delete(ctx, KeyUserID); err != nil {
					t.Fatalf("delete %d failed: %v", i, err)
				}
			}

			loaded, err := store.Load(ctx, KeyUserID)
			if err != nil {
				t.Fatalf("failed to load: %v", err)
			}
			if loaded != "" {
				t.Errorf("expected deleted key to be empty, got %s", loaded)
			}

			kept, err := store.Load(ctx, KeyKeychain)
			if err != nil {
				t.Fatalf("failed to load: %v", err)
			}
			if kept != "kept" {
				t.Errorf("delete removed an unrelated key, got %q", kept)
			}
		})
	}
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device.db")
	ctx := context.Background()

	store, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	if err := store.Save(ctx, KeyUserID, "persisted"); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	reopened, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("failed to reopen bolt store: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, KeyUserID)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if loaded != "persisted" {
		t.Errorf("expected 'persisted', got %s", loaded)
	}
}

func TestBoltStore_CanceledContext(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, KeyUserID, "x"); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	nestedDir := filepath.Join(t.TempDir(), "nested", "dir")

	store, err := NewFileStore("file://" + filepath.Join(nestedDir, "device.json"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
		t.Error("expected nested directory to be created")
	}

	if err := store.Save(context.Background(), KeyUserID, "test"); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	store, err := NewFileStore("file://" + path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	if _, err := store.Load(context.Background(), KeyUserID); err == nil {
		t.Error("expected error for corrupt device store file")
	}
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	valid := []string{
		"mem://",
		"file://" + filepath.Join(tmpDir, "device.json"),
		"bolt://" + filepath.Join(tmpDir, "device.db"),
	}
	for _, uri := range valid {
		t.Run(uri, func(t *testing.T) {
			store, err := Open(uri)
			if err != nil {
				t.Fatalf("failed to open %s: %v", uri, err)
			}
			if err := Close(store); err != nil {
				t.Errorf("failed to close %s: %v", uri, err)
			}
		})
	}

	invalid := []string{
		"s3://bucket/key",
		"http://example.com/file",
		"/path/without/scheme",
		"bolt://relative/device.db",
		"file://relative/device.json",
	}
	for _, uri := range invalid {
		t.Run(uri, func(t *testing.T) {
			if _, err := Open(uri); err == nil {
				t.Errorf("expected error for invalid device store URI: %s", uri)
			}
		})
	}
}
