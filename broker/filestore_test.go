package broker

import (
	"path/filepath"
	"testing"
)

func TestFileStoreSaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	sess := newSession("client-1", false, 100)
	sess.Subscriptions["a/b"] = 1
	store.Save(sess)

	loaded, ok := store.Load("client-1")
	if !ok {
		t.Fatalf("expected session to load")
	}
	if loaded.Subscriptions["a/b"] != 1 {
		t.Fatalf("expected restored subscription, got %v", loaded.Subscriptions)
	}

	store.Delete("client-1")
	if _, ok := store.Load("client-1"); ok {
		t.Fatalf("expected session removed after delete")
	}
}

func TestFileStoreRejectsPathTraversalClientID(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	store.Save(&Session{ClientID: "../escape"})
	if _, err := filepath.Abs(dir); err != nil {
		t.Fatalf("unexpected error resolving test dir: %v", err)
	}
	if _, ok := store.Load("../escape"); ok {
		t.Fatalf("expected traversal clientID to never resolve to a file")
	}
}
