package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("dedup/postgres: invalid config")

const cursorName = "l2-withdraw-scan"

type Store struct {
	pool *pgxpool.Pool
}

var _ dedup.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("dedup/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (dedup.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, set_name FROM relay_withdrawals`)
	if err != nil {
		return dedup.Snapshot{}, fmt.Errorf("dedup/postgres: load: %w", err)
	}
	defer rows.Close()

	members := make(map[dedup.Set][]withdrawal.ID, 3)
	for rows.Next() {
		var rawID, setName string
		if err := rows.Scan(&rawID, &setName); err != nil {
			return dedup.Snapshot{}, fmt.Errorf("dedup/postgres: scan: %w", err)
		}
		id, err := withdrawal.ParseID(rawID)
		if err != nil {
			return dedup.Snapshot{}, fmt.Errorf("%w: row %q: %v", dedup.ErrCorrupt, rawID, err)
		}
		set := dedup.Set(setName)
		if !set.Valid() {
			return dedup.Snapshot{}, fmt.Errorf("%w: row %q has set %q", dedup.ErrCorrupt, rawID, setName)
		}
		members[set] = append(members[set], id)
	}
	if err := rows.Err(); err != nil {
		return dedup.Snapshot{}, fmt.Errorf("dedup/postgres: load: %w", err)
	}
	return dedup.NewSnapshot(members), nil
}

func (s *Store) Contains(ctx context.Context, set dedup.Set, id withdrawal.ID) (bool, error) {
	id, err := dedup.CheckArgs(set, id)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM relay_withdrawals WHERE id = $1 AND set_name = $2)
	`, string(id), string(set)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("dedup/postgres: contains: %w", err)
	}
	return ok, nil
}

func (s *Store) Add(ctx context.Context, set dedup.Set, id withdrawal.ID) error {
	id, err := dedup.CheckArgs(set, id)
	if err != nil {
		return err
	}

	if set == dedup.SetProcessed {
		// Promotion to processed also clears the pending membership, in the same statement.
		_, err = s.pool.Exec(ctx, `
			INSERT INTO relay_withdrawals (id, set_name, created_at, updated_at)
			VALUES ($1, 'processed', now(), now())
			ON CONFLICT (id) DO UPDATE
			SET set_name = 'processed', updated_at = now()
			WHERE relay_withdrawals.set_name <> 'processed'
		`, string(id))
		if err != nil {
			return fmt.Errorf("dedup/postgres: add %s to %s: %w", id, set, err)
		}
		return nil
	}

	// An existing row means the id is already in this set, in processed, or pending under the other kind.
	// Only the last is an error.
	var current string
	err = s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO relay_withdrawals (id, set_name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
			ON CONFLICT (id) DO NOTHING
			RETURNING set_name
		)
		SELECT set_name FROM ins
		UNION ALL
		SELECT set_name FROM relay_withdrawals WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM ins)
	`, string(id), string(set)).Scan(&current)
	if err != nil {
		return fmt.Errorf("dedup/postgres: add %s to %s: %w", id, set, err)
	}
	if other, _ := dedup.OtherPending(set); current == string(other) {
		return fmt.Errorf("%w: %s is in %s", dedup.ErrKindConflict, id, other)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, set dedup.Set, id withdrawal.ID) error {
	id, err := dedup.CheckRemove(set, id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		DELETE FROM relay_withdrawals WHERE id = $1 AND set_name = $2
	`, string(id), string(set))
	if err != nil {
		return fmt.Errorf("dedup/postgres: remove %s from %s: %w", id, set, err)
	}
	return nil
}

func (s *Store) Cursor(ctx context.Context) (uint64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT block FROM relay_cursor WHERE name = $1`, cursorName).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("dedup/postgres: cursor: %w", err)
	}
	if block < 0 {
		return 0, false, fmt.Errorf("%w: negative cursor %d", dedup.ErrCorrupt, block)
	}
	return uint64(block), true, nil
}

func (s *Store) SetCursor(ctx context.Context, block uint64) error {
	if block > math.MaxInt64 {
		return fmt.Errorf("%w: cursor %d overflows bigint", ErrInvalidConfig, block)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_cursor (name, block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET block = EXCLUDED.block, updated_at = now()
	`, cursorName, int64(block))
	if err != nil {
		return fmt.Errorf("dedup/postgres: set cursor: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error { return nil }
