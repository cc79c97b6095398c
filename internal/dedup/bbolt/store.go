// Package bbolt stores the dedup sets in an embedded bbolt database: one bucket per set, keyed by
// canonical id, plus a meta bucket for the scan cursor.
package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/dedup"
	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
	bolt "go.etcd.io/bbolt"
)

var ErrInvalidConfig = errors.New("dedup/bbolt: invalid config")

var (
	metaBucket = []byte("meta")
	cursorKey  = []byte("cursor")
	present    = []byte{1}
)

type Store struct {
	db *bolt.DB
}

var _ dedup.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("dedup/bbolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range bucketNames() {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedup/bbolt: init: %w", err)
	}
	return &Store{db: db}, nil
}

func bucketNames() [][]byte {
	out := [][]byte{metaBucket}
	for _, set := range dedup.Sets() {
		out = append(out, []byte(set))
	}
	return out
}

func (s *Store) Load(_ context.Context) (dedup.Snapshot, error) {
	members := make(map[dedup.Set][]withdrawal.ID, 3)
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, set := range dedup.Sets() {
			err := tx.Bucket([]byte(set)).ForEach(func(k, _ []byte) error {
				id, err := withdrawal.ParseID(string(k))
				if err != nil {
					return fmt.Errorf("%w: bucket %s: %v", dedup.ErrCorrupt, set, err)
				}
				members[set] = append(members[set], id)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dedup.Snapshot{}, err
	}
	return dedup.NewSnapshot(members), nil
}

func (s *Store) Contains(_ context.Context, set dedup.Set, id withdrawal.ID) (bool, error) {
	id, err := dedup.CheckArgs(set, id)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(set)).Get([]byte(id)) != nil
		return nil
	})
	return ok, err
}

func (s *Store) Add(_ context.Context, set dedup.Set, id withdrawal.ID) error {
	id, err := dedup.CheckArgs(set, id)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if set.IsPending() {
			if tx.Bucket([]byte(dedup.SetProcessed)).Get([]byte(id)) != nil {
				return nil
			}
			other, _ := dedup.OtherPending(set)
			if tx.Bucket([]byte(other)).Get([]byte(id)) != nil {
				return fmt.Errorf("%w: %s is in %s", dedup.ErrKindConflict, id, other)
			}
		}
		return tx.Bucket([]byte(set)).Put([]byte(id), present)
	})
	if err != nil {
		return fmt.Errorf("dedup/bbolt: add %s to %s: %w", id, set, err)
	}
	return nil
}

func (s *Store) Remove(_ context.Context, set dedup.Set, id withdrawal.ID) error {
	id, err := dedup.CheckRemove(set, id)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(set)).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("dedup/bbolt: remove %s from %s: %w", id, set, err)
	}
	return nil
}

func (s *Store) Cursor(_ context.Context) (uint64, bool, error) {
	var (
		n  uint64
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(cursorKey)
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("%w: cursor length %d", dedup.ErrCorrupt, len(v))
		}
		n = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return n, ok, err
}

func (s *Store) SetCursor(_ context.Context, block uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(cursorKey, buf[:])
	})
	if err != nil {
		return fmt.Errorf("dedup/bbolt: set cursor: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
