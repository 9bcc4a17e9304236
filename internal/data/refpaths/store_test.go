package refpaths

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_PutGetAndUpsert(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "refs.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	key := Key("Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null")
	if !strings.HasPrefix(key, "REF_Lib, ") {
		t.Fatalf("unexpected key %q", key)
	}

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss on empty store, got ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, key, "/libs/a/Lib.dll"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, key, "/libs/b/Lib.dll"); err != nil {
		t.Fatalf("put again: %v", err)
	}

	path, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if path != "/libs/b/Lib.dll" {
		t.Fatalf("expected upserted path, got %q", path)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Hits != 1 || entries[0].UpdatedAt.IsZero() {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if err := store.Put(ctx, " ", "/x"); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestStore_DeleteAndDeletePath(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "refs.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for _, k := range []string{"REF_A", "REF_B", "REF_C"} {
		path := "/libs/shared.dll"
		if k == "REF_C" {
			path = "/libs/c.dll"
		}
		if err := store.Put(ctx, k, path); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeletePath(ctx, "/libs/shared.dll")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows removed, got %d", n)
	}
	if err := store.Delete(ctx, "REF_C"); err != nil {
		t.Fatal(err)
	}
	entries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty store, got %+v", entries)
	}
}

func TestStore_OpenRejectsDirectoryPath(t *testing.T) {
	_, err := Open(t.TempDir(), 0)
	if err == nil {
		t.Fatal("expected open error for directory path")
	}
	if !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Open("  ", 0); err == nil {
		t.Fatal("expected open error for empty path")
	}
}

func TestStore_OpenCorruptDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.db")
	if err := os.WriteFile(path, []byte("this is not sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path, 0)
	if err == nil {
		t.Fatal("expected sqlite open error")
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "not a database") && !strings.Contains(lower, "schema") {
		t.Fatalf("expected schema/open error, got: %v", err)
	}
}

func TestEnsureSchema_DetectsNewerVersionDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.db")
	store, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT OR REPLACE INTO schema_migrations(version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = EnsureSchema(db)
	if err == nil {
		t.Fatal("expected drift error")
	}
	if !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureSchema_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.db")
	for i := 0; i < 2; i++ {
		store, err := Open(path, 0)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if err := store.Put(context.Background(), "REF_X", "/x.dll"); err != nil {
			t.Fatal(err)
		}
		store.Close()
	}
}

func TestIsCorruptError(t *testing.T) {
	if !IsCorruptError(errors.New("database disk image is malformed")) {
		t.Fatal("expected malformed sqlite message to be treated as corrupt")
	}
	if IsCorruptError(nil) {
		t.Fatal("nil is not corrupt")
	}
}
