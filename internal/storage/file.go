package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "promptgate/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.entries.snapshot.json (periodic snapshot)
//   - <prefix>.entries.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. Rate windows are
// held in memory only: they are sub-hour ephemeral state and a restart simply
// resets quotas, which the fail-open policy already tolerates.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	entries      map[string]entryRecord

	writes int

	rateMu  sync.Mutex
	windows map[string][]int64 // identity -> unix-milli timestamps, ascending
}

type entryRecord struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	Until int64  `json:"until"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".entries.snapshot.json"
	journalPath := prefix + ".entries.journal.jsonl"

	entries := map[string]entryRecord{}
	_ = loadEntrySnapshot(snapPath, entries)
	_ = replayEntryJournal(journalPath, entries)
	pruneExpiredEntries(entries, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		entries:      entries,
		windows:      map[string][]int64{},
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("entry journal closed")
	}
	return nil
}

func (s *fileStore) PutEntry(ctx context.Context, key string, value []byte, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	rec := entryRecord{Key: key, Value: value, Until: until.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("entry journal closed")
	}
	s.entries[key] = rec

	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(time.Now()); err != nil {
			s.log.Debug("entry compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetEntry(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if rec.Until < time.Now().UnixMilli() {
		delete(s.entries, key)
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (s *fileStore) TakeRate(ctx context.Context, identity string, windowStart, now time.Time, max int) (RateDecision, error) {
	_ = ctx
	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	startMs := windowStart.UnixMilli()
	w := s.windows[identity]
	i := sort.Search(len(w), func(i int) bool { return w[i] >= startMs })
	w = append(w[:0], w[i:]...)

	d := RateDecision{Count: len(w)}
	if len(w) > 0 {
		d.Oldest = time.UnixMilli(w[0])
	}
	if max > 0 && len(w) >= max {
		s.windows[identity] = w
		return d, nil
	}

	w = append(w, now.UnixMilli())
	s.windows[identity] = w
	d.Allowed = true
	return d, nil
}

func (s *fileStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	removed := 0

	s.mu.Lock()
	removed += pruneExpiredEntries(s.entries, now)
	if s.journalFile != nil {
		if err := s.compactLocked(now); err != nil {
			s.log.Debug("entry compact failed", logx.Err(err))
		}
	}
	s.mu.Unlock()

	s.rateMu.Lock()
	for id, w := range s.windows {
		if len(w) == 0 || time.UnixMilli(w[len(w)-1]).Before(now.Add(-24*time.Hour)) {
			delete(s.windows, id)
			removed++
		}
	}
	s.rateMu.Unlock()

	return removed, nil
}

func (s *fileStore) compactLocked(now time.Time) error {
	pruneExpiredEntries(s.entries, now)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadEntrySnapshot(path string, out map[string]entryRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]entryRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayEntryJournal(path string, out map[string]entryRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r entryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r
	}
	return sc.Err()
}

func pruneExpiredEntries(m map[string]entryRecord, now time.Time) int {
	ms := now.UnixMilli()
	n := 0
	for k, v := range m {
		if v.Until < ms {
			delete(m, k)
			n++
		}
	}
	return n
}
