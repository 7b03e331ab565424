package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestManagerOpensGenerationDirs(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base, 1, 50, nil)
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	for _, name := range []string{"static-generation-1", "dynamic-generation-1", "offline-generation-1"} {
		if _, err := os.Stat(filepath.Join(base, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if m.GenerationName() != "generation-1" {
		t.Fatalf("unexpected generation name: %s", m.GenerationName())
	}
}

func TestManagerActivateDeletesOldGenerations(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base, 1, 50, nil)
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}

	if _, err := m.Static().Put(context.Background(), "/static/app.css", Payload{Status: 200, Body: []byte("old")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	if err := m.Activate(context.Background(), 2); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if m.Generation() != 2 {
		t.Fatalf("generation should be 2, got %d", m.Generation())
	}
	if _, err := os.Stat(filepath.Join(base, "static-generation-1")); !os.IsNotExist(err) {
		t.Fatalf("old generation should be deleted wholesale, stat err=%v", err)
	}
	if _, err := m.Static().Get(context.Background(), "/static/app.css"); err != ErrNotFound {
		t.Fatalf("entries must not survive generation switch, got %v", err)
	}
}

func TestManagerActivateSameGenerationIsNoop(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base, 3, 50, nil)
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	if _, err := m.Dynamic().Put(context.Background(), "/api/x", Payload{Status: 200, Body: []byte("v")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := m.Activate(context.Background(), 3); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if _, err := m.Dynamic().Get(context.Background(), "/api/x"); err != nil {
		t.Fatalf("same-generation activate must keep entries: %v", err)
	}
}

func TestManagerEntryCounts(t *testing.T) {
	m, err := NewManager(t.TempDir(), 1, 50, nil)
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	if _, err := m.Dynamic().Put(context.Background(), "/api/a", Payload{Status: 200, Body: []byte("a")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	counts, err := m.EntryCounts(context.Background())
	if err != nil {
		t.Fatalf("counts error: %v", err)
	}
	if counts[NameDynamic] != 1 || counts[NameStatic] != 0 || counts[NameOffline] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
