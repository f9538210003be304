package cache

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := openTestStore(t)

	hash := HashSource([]byte("let x = 1"))
	image := []byte{0xA1, 0x02, 0x03}
	if err := store.Put(hash, "main", image); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := store.Get(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if !bytes.Equal(got, image) {
		t.Errorf("image mismatch: %v", got)
	}
}

func TestStore_GetMiss(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Get(HashSource([]byte("never stored")))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected a miss")
	}
}

func TestStore_PutReplaces(t *testing.T) {
	store := openTestStore(t)
	hash := HashSource([]byte("src"))

	if err := store.Put(hash, "main", []byte{1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(hash, "main", []byte{2}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, _ := store.Get(hash)
	if !ok || !bytes.Equal(got, []byte{2}) {
		t.Errorf("expected the replacement, got %v", got)
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestStore_DifferentSourcesDifferentHashes(t *testing.T) {
	a := HashSource([]byte("let x = 1"))
	b := HashSource([]byte("let x = 2"))
	if a == b {
		t.Error("different sources must hash differently")
	}
	if a != HashSource([]byte("let x = 1")) {
		t.Error("hashing must be deterministic")
	}
}

func TestStore_Prune(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		src := []byte{byte(i)}
		if err := store.Put(HashSource(src), "m", src); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	deleted, err := store.Prune(2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}
	if n, _ := store.Count(); n != 2 {
		t.Errorf("expected 2 remaining, got %d", n)
	}
}

func TestStore_PersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	hash := HashSource([]byte("src"))
	if err := store.Put(hash, "main", []byte{7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	got, ok, err := store.Get(hash)
	if err != nil || !ok || !bytes.Equal(got, []byte{7}) {
		t.Errorf("expected the entry to persist, got %v ok=%v err=%v", got, ok, err)
	}
}
