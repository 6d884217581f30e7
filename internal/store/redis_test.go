package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisStore creates a store connected to a miniredis instance
func setupRedisStore(t *testing.T) *Redis {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedis(&redis.Options{Addr: mr.Addr()}, "test-class")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestNewRedisRejectsEmptyNamespace(t *testing.T) {
	_, err := NewRedis(&redis.Options{Addr: "localhost:6379"}, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "namespace")
}

func TestRedisReadMissing(t *testing.T) {
	s := setupRedisStore(t)
	_, err := s.Read(context.Background(), "actor/a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCommitAndRead(t *testing.T) {
	s := setupRedisStore(t)
	ctx := context.Background()

	v, err := s.Commit(ctx, Write{Ref: "actor/a1", ExpectedVersion: 0, Data: []byte(`{"cash":500}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	doc, err := s.Read(ctx, "actor/a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.JSONEq(t, `{"cash":500}`, string(doc.Data))
}

func TestRedisStaleCommitConflicts(t *testing.T) {
	s := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, Write{Ref: "k", ExpectedVersion: 0, Data: []byte("a")})
	require.NoError(t, err)

	_, err = s.Commit(ctx, Write{Ref: "k", ExpectedVersion: 0, Data: []byte("b")})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Commit(ctx, Write{Ref: "k", ExpectedVersion: 5, Data: []byte("b")})
	assert.ErrorIs(t, err, ErrConflict)

	v, err := s.Commit(ctx, Write{Ref: "k", ExpectedVersion: 1, Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestRedisCommitAllAtomic(t *testing.T) {
	s := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, Write{Ref: "a", ExpectedVersion: 0, Data: []byte("1")})
	require.NoError(t, err)

	err = s.CommitAll(ctx, []Write{
		{Ref: "a", ExpectedVersion: 1, Data: []byte("2")},
		{Ref: "b", ExpectedVersion: 3, Data: []byte("x")}, // stale
	})
	assert.ErrorIs(t, err, ErrConflict)

	doc, err := s.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(doc.Data))
	assert.Equal(t, int64(1), doc.Version)
}

func TestRedisNamespaceIsolation(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	one, err := NewRedis(&redis.Options{Addr: mr.Addr()}, "class-a")
	require.NoError(t, err)
	t.Cleanup(func() { one.Close() })
	two, err := NewRedis(&redis.Options{Addr: mr.Addr()}, "class-b")
	require.NoError(t, err)
	t.Cleanup(func() { two.Close() })

	ctx := context.Background()
	_, err = one.Commit(ctx, Write{Ref: "actor/a1", ExpectedVersion: 0, Data: []byte("x")})
	require.NoError(t, err)

	_, err = two.Read(ctx, "actor/a1")
	assert.ErrorIs(t, err, ErrNotFound)
}
