package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and single-node setups.
// A single mutex covers every ref, so grouped commits are trivially atomic.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Doc
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Doc)}
}

func (m *Memory) Read(_ context.Context, ref string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[ref]
	if !ok {
		return Doc{}, ErrNotFound
	}
	out := Doc{Data: append([]byte(nil), doc.Data...), Version: doc.Version}
	return out, nil
}

func (m *Memory) Commit(_ context.Context, w Write) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(w); err != nil {
		return 0, err
	}
	m.apply(w)
	return w.ExpectedVersion + 1, nil
}

func (m *Memory) CommitAll(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if err := m.check(w); err != nil {
			return err
		}
	}
	for _, w := range writes {
		m.apply(w)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, ref)
	return nil
}

func (m *Memory) check(w Write) error {
	doc, ok := m.docs[w.Ref]
	if !ok {
		if w.ExpectedVersion != 0 {
			return ErrConflict
		}
		return nil
	}
	if doc.Version != w.ExpectedVersion {
		return ErrConflict
	}
	return nil
}

func (m *Memory) apply(w Write) {
	m.docs[w.Ref] = Doc{
		Data:    append([]byte(nil), w.Data...),
		Version: w.ExpectedVersion + 1,
	}
}
