package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a single docs table. The version column is
// the commit predicate: an UPDATE guarded by `version = $expected` that
// touches zero rows is a conflict, which gives the same compare-and-swap
// semantics as the Redis store without advisory locks.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the docs table if it does not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS bank;
		CREATE TABLE IF NOT EXISTS bank.docs (
			ref        text PRIMARY KEY,
			data       jsonb NOT NULL,
			version    bigint NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Read(ctx context.Context, ref string) (Doc, error) {
	var doc Doc
	err := s.db.QueryRow(ctx, `
		SELECT data, version
		FROM bank.docs
		WHERE ref = $1
	`, ref).Scan(&doc.Data, &doc.Version)
	if err == pgx.ErrNoRows {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	return doc, nil
}

func (s *Postgres) Delete(ctx context.Context, ref string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM bank.docs WHERE ref = $1`, ref)
	return err
}

func (s *Postgres) Commit(ctx context.Context, w Write) (int64, error) {
	if err := s.CommitAll(ctx, []Write{w}); err != nil {
		return 0, err
	}
	return w.ExpectedVersion + 1, nil
}

func (s *Postgres) CommitAll(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, w := range writes {
		var cmd interface{ RowsAffected() int64 }
		if w.ExpectedVersion == 0 {
			tag, err := tx.Exec(ctx, `
				INSERT INTO bank.docs (ref, data, version)
				VALUES ($1, $2, 1)
				ON CONFLICT (ref) DO NOTHING
			`, w.Ref, w.Data)
			if err != nil {
				return err
			}
			cmd = tag
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE bank.docs
				SET data = $1, version = $2, updated_at = now()
				WHERE ref = $3 AND version = $4
			`, w.Data, w.ExpectedVersion+1, w.Ref, w.ExpectedVersion)
			if err != nil {
				return err
			}
			cmd = tag
		}
		if cmd.RowsAffected() == 0 {
			return ErrConflict
		}
	}
	return tx.Commit(ctx)
}
