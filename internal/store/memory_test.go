package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryCreateAndRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Read(ctx, "actor/a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	v, err := m.Commit(ctx, Write{Ref: "actor/a1", ExpectedVersion: 0, Data: []byte(`{"cash":500}`)})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	doc, err := m.Read(ctx, "actor/a1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(doc.Data) != `{"cash":500}` || doc.Version != 1 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestMemoryStaleCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Commit(ctx, Write{Ref: "k", ExpectedVersion: 0, Data: []byte("a")}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Create against an existing doc must conflict.
	if _, err := m.Commit(ctx, Write{Ref: "k", ExpectedVersion: 0, Data: []byte("b")}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Stale version must conflict.
	if _, err := m.Commit(ctx, Write{Ref: "k", ExpectedVersion: 2, Data: []byte("b")}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := m.Commit(ctx, Write{Ref: "k", ExpectedVersion: 1, Data: []byte("b")}); err != nil {
		t.Fatalf("expected success at current version: %v", err)
	}
}

func TestMemoryCommitAllAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Commit(ctx, Write{Ref: "a", ExpectedVersion: 0, Data: []byte("1")}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := m.CommitAll(ctx, []Write{
		{Ref: "a", ExpectedVersion: 1, Data: []byte("2")},
		{Ref: "b", ExpectedVersion: 7, Data: []byte("x")}, // stale
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	doc, err := m.Read(ctx, "a")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(doc.Data) != "1" {
		t.Fatalf("partial commit leaked: %q", doc.Data)
	}
}

func TestMemoryConcurrentCommitsSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Commit(ctx, Write{Ref: "counter", ExpectedVersion: 0, Data: []byte("0")}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	const writers = 16
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Commit(ctx, Write{Ref: "counter", ExpectedVersion: 1, Data: []byte("1")})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner at version 1, got %d", wins)
	}
	doc, _ := m.Read(ctx, "counter")
	if doc.Version != 2 {
		t.Fatalf("expected version 2, got %d", doc.Version)
	}
}
