// Package store defines the authoritative-store contract the engines run
// against: versioned document reads and compare-and-swap commits, single or
// grouped. Implementations exist for memory, Redis, and Postgres; nothing
// above this package depends on which one is in use.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when no document exists at the ref.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Commit/CommitAll when a document's version
	// no longer matches the expected version.
	ErrConflict = errors.New("version conflict")
)

// Doc is a versioned document snapshot. Version 0 never occurs on a stored
// document; it is reserved to mean "absent" in Write.ExpectedVersion.
type Doc struct {
	Data    []byte
	Version int64
}

// Write is a single compare-and-swap commit. ExpectedVersion 0 means the
// document must not exist yet (create-if-missing). On success the stored
// version becomes ExpectedVersion+1.
type Write struct {
	Ref             string
	ExpectedVersion int64
	Data            []byte
}

// Store is the authoritative-store transaction contract. Operations against
// the same ref are serialized by the version check: a losing concurrent
// writer observes ErrConflict and must re-read before retrying.
type Store interface {
	// Read returns the current document at ref, or ErrNotFound.
	Read(ctx context.Context, ref string) (Doc, error)
	// Commit applies one write. Returns the new version, or ErrConflict.
	Commit(ctx context.Context, w Write) (int64, error)
	// CommitAll applies all writes atomically: either every write commits
	// or none does. Any stale expected version fails the whole group with
	// ErrConflict.
	CommitAll(ctx context.Context, writes []Write) error
	// Delete removes a document. Deleting a missing ref is a no-op.
	Delete(ctx context.Context, ref string) error
}
