package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Corphon/AIDungeonMaster/internal/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "dm.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "saves/a.json", []byte("one")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "saves/a.json", []byte("two")); err != nil {
		t.Fatalf("Put() upsert error = %v", err)
	}
	got, err := store.Get(ctx, "saves/a.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("Get() = %q, want two", got)
	}

	if err := store.Delete(ctx, "saves/a.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "saves/a.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if err := store.Delete(ctx, "saves/a.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Delete() missing error = %v", err)
	}
}

func TestStoreListByPrefix(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for _, key := range []string{"saves/b", "saves/a", "savesx/c", "config/app"} {
		if err := store.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}
	keys, err := store.List(ctx, "saves/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "saves/a" || keys[1] != "saves/b" {
		t.Fatalf("List() = %v", keys)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dm.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := first.Put(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_ = first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()
	got, err := second.Get(context.Background(), "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get() after reopen = %q, %v", got, err)
	}
}

func TestExtractUp(t *testing.T) {
	t.Parallel()

	got := extractUp("-- +migrate Up\nCREATE TABLE t (a);\n-- +migrate Down\nDROP TABLE t;\n")
	if got != "\nCREATE TABLE t (a);\n" {
		t.Fatalf("extractUp() = %q", got)
	}
}
