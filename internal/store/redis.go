package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a single Redis instance. Each document lives in
// a hash with "data" and "version" fields; commits run under WATCH so a
// concurrent write to any touched key aborts the transaction.
//
// All keys are namespaced with the class name, so several classrooms can
// share one Redis without colliding.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

// NewRedis creates a Redis-backed store for the given namespace.
// Returns an error if namespace is empty.
func NewRedis(opts *redis.Options, namespace string) (*Redis, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Redis{rdb: redis.NewClient(opts), namespace: namespace}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Redis) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) key(ref string) string {
	return s.namespace + ":doc:" + ref
}

func (s *Redis) Read(ctx context.Context, ref string) (Doc, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(ref)).Result()
	if err != nil {
		return Doc{}, fmt.Errorf("read %s: %w", ref, err)
	}
	// HGetAll returns an empty map for missing keys.
	if len(fields) == 0 {
		return Doc{}, ErrNotFound
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return Doc{}, fmt.Errorf("read %s: bad version %q", ref, fields["version"])
	}
	return Doc{Data: []byte(fields["data"]), Version: version}, nil
}

func (s *Redis) Delete(ctx context.Context, ref string) error {
	return s.rdb.Del(ctx, s.key(ref)).Err()
}

func (s *Redis) Commit(ctx context.Context, w Write) (int64, error) {
	if err := s.CommitAll(ctx, []Write{w}); err != nil {
		return 0, err
	}
	return w.ExpectedVersion + 1, nil
}

func (s *Redis) CommitAll(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = s.key(w.Ref)
	}

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for i, w := range writes {
			current, err := tx.HGet(ctx, keys[i], "version").Int64()
			if errors.Is(err, redis.Nil) {
				current = 0
			} else if err != nil {
				return fmt.Errorf("check %s: %w", w.Ref, err)
			}
			if current != w.ExpectedVersion {
				return ErrConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, w := range writes {
				pipe.HSet(ctx, keys[i],
					"data", string(w.Data),
					"version", strconv.FormatInt(w.ExpectedVersion+1, 10),
				)
			}
			return nil
		})
		return err
	}, keys...)

	// TxFailedErr means a watched key changed between check and exec; the
	// caller treats that exactly like a stale expected version.
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}
