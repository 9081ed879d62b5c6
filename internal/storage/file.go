package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "prayercall/pkg/logx"
)

// compactEvery is the number of dedup writes between snapshot rewrites.
const compactEvery = 512

var errClosed = errors.New("file store closed")

// jsonl is an append-only JSON Lines file.
type jsonl struct {
	path string
	f    *os.File
}

func openJSONL(path string) (*jsonl, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &jsonl{path: path, f: f}, nil
}

func (j *jsonl) append(v any) error {
	if j == nil || j.f == nil {
		return errClosed
	}
	return json.NewEncoder(j.f).Encode(v)
}

// scanJSONL calls fn for every line of path that decodes into T. Torn lines
// are skipped.
func scanJSONL[T any](ctx context.Context, path string, fn func(T)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var v T
		if json.Unmarshal(sc.Bytes(), &v) != nil {
			continue
		}
		fn(v)
	}
	return sc.Err()
}

func (j *jsonl) truncate() error {
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	_, err := j.f.Seek(0, io.SeekEnd)
	return err
}

func (j *jsonl) close() error {
	if j == nil || j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

// fileStore keeps state in three files sharing the Path prefix:
//
//	<prefix>.announcements.jsonl  delivery journal
//	<prefix>.dedup.json           dedup snapshot (rewritten atomically)
//	<prefix>.dedup.jsonl          dedup writes since the last snapshot
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	ann      *jsonl
	dedupLog *jsonl
	snapPath string
	dedup    map[string]int64 // unix milli
	pending  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(path, filepath.Ext(path))

	s := &fileStore{log: log, snapPath: prefix + ".dedup.json", dedup: map[string]int64{}}
	if err := s.loadDedup(prefix + ".dedup.jsonl"); err != nil {
		return nil, err
	}

	var err error
	if s.ann, err = openJSONL(prefix + ".announcements.jsonl"); err != nil {
		return nil, err
	}
	if s.dedupLog, err = openJSONL(prefix + ".dedup.jsonl"); err != nil {
		_ = s.ann.close()
		return nil, err
	}
	return s, nil
}

// loadDedup merges the snapshot and the write log, newest entry wins.
func (s *fileStore) loadDedup(logPath string) error {
	b, err := os.ReadFile(s.snapPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &s.dedup); err != nil {
			s.log.Warn("dedup snapshot unreadable; starting empty", logx.String("path", s.snapPath), logx.Err(err))
			s.dedup = nil
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read dedup snapshot: %w", err)
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}

	err = scanJSONL(context.Background(), logPath, func(r dedupRecord) {
		if r.Key != "" {
			s.dedup[r.Key] = r.Until
		}
	})
	if err != nil && !os.IsNotExist(err) {
		s.log.Warn("dedup log replay failed", logx.String("path", logPath), logx.Err(err))
	}
	dropExpired(s.dedup, time.Now())
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.dedupLog != nil && s.dedupLog.f != nil && s.pending > 0 {
		errs = append(errs, s.compactLocked())
	}
	errs = append(errs, s.ann.close(), s.dedupLog.close())
	return errors.Join(errs...)
}

func (s *fileStore) AppendAnnouncement(ctx context.Context, r AnnouncementRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ann.append(r)
}

func (s *fileStore) ListAnnouncements(ctx context.Context, since time.Time, limit int) ([]AnnouncementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ann.f == nil {
		return nil, errClosed
	}
	var out []AnnouncementRecord
	err := scanJSONL(ctx, s.ann.path, func(r AnnouncementRecord) {
		if !r.At.Before(since) {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	rec := dedupRecord{Key: key, Until: until.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dedupLog.append(rec); err != nil {
		return err
	}
	s.dedup[key] = rec.Until
	s.pending++
	if s.pending >= compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	ms, ok := s.dedup[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// compactLocked rewrites the snapshot without expired keys and empties the
// write log.
func (s *fileStore) compactLocked() error {
	dropExpired(s.dedup, time.Now())
	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	tmp := s.snapPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	s.pending = 0
	return s.dedupLog.truncate()
}

func dropExpired(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}
