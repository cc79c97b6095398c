package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
)

const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverBolt     = "bbolt"
	DriverPostgres = "postgres"
)

var (
	ErrInvalidConfig      = errors.New("dedup: invalid config")
	ErrInvalidSet         = errors.New("dedup: invalid set")
	ErrProcessedPermanent = errors.New("dedup: processed entries are permanent")
	ErrCorrupt            = errors.New("dedup: corrupt store")
	ErrKindConflict       = errors.New("dedup: id is pending under another kind")
)

// Set names one of the durable id collections.
type Set string

const (
	SetProcessed    Set = "processed"
	SetPendingETH   Set = "pending-eth"
	SetPendingToken Set = "pending-token"
)

// Sets lists every set in load order. Processed comes first so pending residue can be filtered against it.
func Sets() []Set {
	return []Set{SetProcessed, SetPendingETH, SetPendingToken}
}

func (s Set) Valid() bool {
	switch s {
	case SetProcessed, SetPendingETH, SetPendingToken:
		return true
	default:
		return false
	}
}

func (s Set) IsPending() bool {
	return s == SetPendingETH || s == SetPendingToken
}

// PendingSet maps an asset kind to the pending set that holds its unfinished withdrawals.
func PendingSet(kind withdrawal.Kind) (Set, error) {
	switch kind {
	case withdrawal.KindETH:
		return SetPendingETH, nil
	case withdrawal.KindToken:
		return SetPendingToken, nil
	default:
		return "", fmt.Errorf("%w: no pending set for kind %s", ErrInvalidSet, kind)
	}
}

// OtherPending returns the pending set of the other asset kind.
func OtherPending(set Set) (Set, bool) {
	switch set {
	case SetPendingETH:
		return SetPendingToken, true
	case SetPendingToken:
		return SetPendingETH, true
	default:
		return "", false
	}
}

// KindOf is the inverse of PendingSet.
func KindOf(set Set) (withdrawal.Kind, bool) {
	switch set {
	case SetPendingETH:
		return withdrawal.KindETH, true
	case SetPendingToken:
		return withdrawal.KindToken, true
	default:
		return 0, false
	}
}

// Store is the durable record of which withdrawals are finalized and which are still owed a relay.
//
// Implementations must guarantee:
//   - ids are accepted with or without the 0x prefix and in any hex case;
//   - processed is append-only: Remove on it fails with ErrProcessedPermanent;
//   - Add is idempotent, and Add to a pending set is a no-op for an id already in processed;
//   - an id is pending under at most one kind: Add to the other pending set fails with ErrKindConflict;
//   - a successful Add or Remove is durable before it returns.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Contains(ctx context.Context, set Set, id withdrawal.ID) (bool, error)
	Add(ctx context.Context, set Set, id withdrawal.ID) error
	Remove(ctx context.Context, set Set, id withdrawal.ID) error

	// Cursor returns the last fully scanned L2 block, if one was recorded.
	Cursor(ctx context.Context) (uint64, bool, error)
	SetCursor(ctx context.Context, block uint64) error

	Close() error
}

// CheckArgs validates the arguments of Contains/Add/Remove and returns the canonical id. Drivers call it
// before touching storage.
func CheckArgs(set Set, id withdrawal.ID) (withdrawal.ID, error) {
	if !set.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSet, set)
	}
	return withdrawal.ParseID(string(id))
}

// CheckRemove additionally rejects removals from processed.
func CheckRemove(set Set, id withdrawal.ID) (withdrawal.ID, error) {
	canon, err := CheckArgs(set, id)
	if err != nil {
		return "", err
	}
	if set == SetProcessed {
		return "", fmt.Errorf("%w: %s", ErrProcessedPermanent, canon)
	}
	return canon, nil
}

func kindConflict(set Set, id withdrawal.ID) error {
	other, _ := OtherPending(set)
	return fmt.Errorf("%w: %s is in %s, not %s", ErrKindConflict, id, other, set)
}

// Snapshot is a point-in-time copy of every set.
type Snapshot struct {
	sets map[Set]map[withdrawal.ID]struct{}
}

// NewSnapshot builds a snapshot from raw set contents. Pending entries that are also processed are dropped,
// which hides the residue a crash between "add processed" and "remove pending" can leave behind.
func NewSnapshot(members map[Set][]withdrawal.ID) Snapshot {
	s := Snapshot{sets: make(map[Set]map[withdrawal.ID]struct{}, 3)}
	for _, set := range Sets() {
		s.sets[set] = make(map[withdrawal.ID]struct{}, len(members[set]))
	}
	for _, id := range members[SetProcessed] {
		s.sets[SetProcessed][id] = struct{}{}
	}
	for _, set := range []Set{SetPendingETH, SetPendingToken} {
		for _, id := range members[set] {
			if _, done := s.sets[SetProcessed][id]; done {
				continue
			}
			s.sets[set][id] = struct{}{}
		}
	}
	return s
}

func (s Snapshot) Contains(set Set, id withdrawal.ID) bool {
	if _, ok := s.sets[set][id]; ok {
		return true
	}
	canon, err := withdrawal.ParseID(string(id))
	if err != nil || canon == id {
		return false
	}
	_, ok := s.sets[set][canon]
	return ok
}

func (s Snapshot) IsProcessed(id withdrawal.ID) bool {
	return s.Contains(SetProcessed, id)
}

// IsPending reports whether id is pending under any kind.
func (s Snapshot) IsPending(id withdrawal.ID) bool {
	return s.Contains(SetPendingETH, id) || s.Contains(SetPendingToken, id)
}

func (s Snapshot) Len(set Set) int {
	return len(s.sets[set])
}

// Members returns the ids of set in sorted order.
func (s Snapshot) Members(set Set) []withdrawal.ID {
	m := s.sets[set]
	out := make([]withdrawal.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Snapshot) Pending(kind withdrawal.Kind) []withdrawal.ID {
	set, err := PendingSet(kind)
	if err != nil {
		return nil
	}
	return s.Members(set)
}
