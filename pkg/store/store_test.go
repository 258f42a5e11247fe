package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupSQLiteStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "tscms-store-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err := NewSQLiteStore(filepath.Join(tmpDir, "client.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
	return s, cleanup
}

// RunKVTests runs the shared KV contract against an implementation.
func RunKVTests(t *testing.T, kv KV) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := kv.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if ok {
			t.Error("expected missing key to be absent")
		}
	})

	t.Run("set get overwrite", func(t *testing.T) {
		if err := kv.Set(ctx, "auth_token", "a", 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := kv.Set(ctx, "auth_token", "b", 0); err != nil {
			t.Fatalf("Set (overwrite) failed: %v", err)
		}
		got, ok, err := kv.Get(ctx, "auth_token")
		if err != nil || !ok {
			t.Fatalf("Get failed: ok=%v err=%v", ok, err)
		}
		if got != "b" {
			t.Errorf("expected b, got %s", got)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		if err := kv.Set(ctx, "k", "v", 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := kv.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := kv.Delete(ctx, "k"); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, ok, _ := kv.Get(ctx, "k"); ok {
			t.Error("expected key to be deleted")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	RunKVTests(t, NewMemoryStore())
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Set(ctx, "short", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("expected key to expire")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, cleanup := setupSQLiteStore(t)
	defer cleanup()
	RunKVTests(t, s)
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s, cleanup := setupSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := s.Set(ctx, "short", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "short"); !ok {
		t.Fatal("expected key before expiry")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Error("expected key to expire")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "client.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Set(ctx, "auth_token", "persisted", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, ok, err := reopened.Get(ctx, "auth_token")
	if err != nil || !ok || got != "persisted" {
		t.Errorf("expected persisted value, got %q ok=%v err=%v", got, ok, err)
	}
}
