package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bridge-relayer/scroll-withdraw-relayer/internal/withdrawal"
)

const (
	cursorFileName        = "cursor"
	legacyPendingFileName = "pending.txt"
	legacyMigratedSuffix  = ".migrated"
)

// FileName returns the on-disk file holding set.
func FileName(set Set) string {
	return string(set) + ".txt"
}

// FileStore keeps each set as a newline-delimited text file of canonical ids inside one directory.
//
// Additions are appended and fsynced. Removals rewrite the whole file through a temp file and rename, so a
// crash leaves either the old or the new contents. Removal cost grows with the size of the set.
type FileStore struct {
	dir string

	mu        sync.Mutex
	sets      map[Set]map[withdrawal.ID]struct{}
	cursor    uint64
	hasCursor bool
}

// OpenFileStore loads (or initializes) a file store rooted at dir.
//
// Missing files are treated as empty sets. Ids written by older relayers without the 0x prefix are
// normalized. A single legacy pending.txt is folded into the token pending set and renamed aside.
func OpenFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dedup/file: create dir: %w", err)
	}

	s := &FileStore{
		dir:  dir,
		sets: make(map[Set]map[withdrawal.ID]struct{}, 3),
	}
	for _, set := range Sets() {
		ids, err := s.readSet(set)
		if err != nil {
			return nil, err
		}
		s.sets[set] = ids
	}
	if err := s.migrateLegacyPending(); err != nil {
		return nil, err
	}

	cursor, ok, err := s.readCursor()
	if err != nil {
		return nil, err
	}
	s.cursor, s.hasCursor = cursor, ok
	return s, nil
}

func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[Set][]withdrawal.ID, len(s.sets))
	for set, m := range s.sets {
		for id := range m {
			members[set] = append(members[set], id)
		}
	}
	return NewSnapshot(members), nil
}

func (s *FileStore) Contains(_ context.Context, set Set, id withdrawal.ID) (bool, error) {
	id, err := CheckArgs(set, id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[set][id]
	return ok, nil
}

func (s *FileStore) Add(_ context.Context, set Set, id withdrawal.ID) error {
	id, err := CheckArgs(set, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.IsPending() {
		if _, done := s.sets[SetProcessed][id]; done {
			return nil
		}
		other, _ := OtherPending(set)
		if _, dup := s.sets[other][id]; dup {
			return kindConflict(set, id)
		}
	}
	if _, ok := s.sets[set][id]; ok {
		return nil
	}
	if err := appendLine(s.path(set), string(id)); err != nil {
		return fmt.Errorf("dedup/file: add %s to %s: %w", id, set, err)
	}
	s.sets[set][id] = struct{}{}
	return nil
}

func (s *FileStore) Remove(_ context.Context, set Set, id withdrawal.ID) error {
	id, err := CheckRemove(set, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sets[set][id]; !ok {
		return nil
	}
	next := make(map[withdrawal.ID]struct{}, len(s.sets[set]))
	for other := range s.sets[set] {
		if other != id {
			next[other] = struct{}{}
		}
	}
	if err := writeAtomic(s.path(set), encodeSet(next)); err != nil {
		return fmt.Errorf("dedup/file: remove %s from %s: %w", id, set, err)
	}
	s.sets[set] = next
	return nil
}

func (s *FileStore) Cursor(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor, nil
}

func (s *FileStore) SetCursor(_ context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := []byte(strconv.FormatUint(block, 10) + "\n")
	if err := writeAtomic(filepath.Join(s.dir, cursorFileName), payload); err != nil {
		return fmt.Errorf("dedup/file: set cursor: %w", err)
	}
	s.cursor = block
	s.hasCursor = true
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(set Set) string {
	return filepath.Join(s.dir, FileName(set))
}

// readSet parses one set file. A torn final line (no trailing newline, not a valid id) is the signature of a
// crash mid-append; it is dropped and the file is compacted so later appends start on a clean line.
func (s *FileStore) readSet(set Set) (map[withdrawal.ID]struct{}, error) {
	p := s.path(set)
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[withdrawal.ID]struct{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup/file: read %s: %w", p, err)
	}

	ids, torn, err := parseLines(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, p, err)
	}
	if torn {
		if err := writeAtomic(p, encodeSet(ids)); err != nil {
			return nil, fmt.Errorf("dedup/file: compact %s: %w", p, err)
		}
	}
	return ids, nil
}

func (s *FileStore) migrateLegacyPending() error {
	legacy := filepath.Join(s.dir, legacyPendingFileName)
	raw, err := os.ReadFile(legacy)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dedup/file: read legacy pending: %w", err)
	}
	ids, _, err := parseLines(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, legacy, err)
	}

	merged := make(map[withdrawal.ID]struct{}, len(s.sets[SetPendingToken])+len(ids))
	for id := range s.sets[SetPendingToken] {
		merged[id] = struct{}{}
	}
	for id := range ids {
		if _, done := s.sets[SetProcessed][id]; done {
			continue
		}
		if _, eth := s.sets[SetPendingETH][id]; eth {
			continue
		}
		merged[id] = struct{}{}
	}
	if err := writeAtomic(s.path(SetPendingToken), encodeSet(merged)); err != nil {
		return fmt.Errorf("dedup/file: migrate legacy pending: %w", err)
	}
	s.sets[SetPendingToken] = merged
	if err := os.Rename(legacy, legacy+legacyMigratedSuffix); err != nil {
		return fmt.Errorf("dedup/file: rename legacy pending: %w", err)
	}
	return nil
}

func (s *FileStore) readCursor() (uint64, bool, error) {
	p := filepath.Join(s.dir, cursorFileName)
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("dedup/file: read cursor: %w", err)
	}
	v := strings.TrimSpace(string(raw))
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: cursor %q", ErrCorrupt, v)
	}
	return n, true, nil
}

func parseLines(raw []byte) (map[withdrawal.ID]struct{}, bool, error) {
	out := make(map[withdrawal.ID]struct{})
	lines := bytes.Split(raw, []byte("\n"))
	// Without a trailing newline the next append would glue onto the last line.
	torn := len(raw) > 0 && raw[len(raw)-1] != '\n'
	for i, line := range lines {
		v := strings.TrimSpace(string(line))
		if v == "" {
			continue
		}
		id, err := withdrawal.ParseID(v)
		if err != nil {
			if i == len(lines)-1 {
				torn = true
				continue
			}
			return nil, false, fmt.Errorf("line %d: %v", i+1, err)
		}
		out[id] = struct{}{}
	}
	return out, torn, nil
}

func encodeSet(ids map[withdrawal.ID]struct{}) []byte {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, string(id))
	}
	sort.Strings(sorted)

	var buf bytes.Buffer
	for _, id := range sorted {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func appendLine(path string, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename itself already happened.
	_ = d.Sync()
	return nil
}
