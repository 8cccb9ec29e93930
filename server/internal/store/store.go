package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/detections"
)

// Cursor marks a position in arrival order. It is only meaningful for the
// generation it was issued in.
type Cursor struct {
	Gen uint64
	N   int
}

// Listener receives each batch of newly observed rows.
type Listener func([]types.Detection)

// Store is a thread-safe cache of the detection log.
type Store struct {
	log *detections.Log

	// refreshMu serializes Refresh so each new row is observed once.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	byTime    []types.Detection // sorted by timestamp
	byArrival []types.Detection // file order
	state     detections.FileState
	offset    int64
	skipped   int
	gen       uint64
	version   uint64
	listeners []Listener

	poll time.Duration
}

// New creates a Store over log. poll is the fallback refresh interval used
// by Run alongside file notifications.
func New(log *detections.Log, poll time.Duration) *Store {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Store{
		log:  log,
		poll: poll,
	}
}

// Log returns the underlying detection log.
func (s *Store) Log() *detections.Log { return s.log }

// OnNew registers fn to receive every batch of new rows. Rows loaded by the
// first read or by a reset are history, not new, and are not delivered.
// Listeners run on the refreshing goroutine and must not block.
func (s *Store) OnNew(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Refresh reads rows appended since the last call and returns how many were
// added. It is a no-op when the file's size and mtime are unchanged. A file
// that shrank, or changed without growing, is re-read from the start and the
// generation is bumped.
func (s *Store) Refresh() (int, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	st, err := s.log.Stat()
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}

	s.mu.RLock()
	prev, offset := s.state, s.offset
	s.mu.RUnlock()

	if st == prev {
		return 0, nil
	}

	reset := st.Size < offset || (st.Size == offset && !st.ModTime.Equal(prev.ModTime))
	if reset {
		offset = 0
	}

	snap, next, err := s.log.ReadFrom(offset)
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}

	s.mu.Lock()
	if reset {
		s.byTime = nil
		s.byArrival = nil
		s.skipped = 0
		s.gen++
		s.version++
		slog.Info("store: detection log reset", "path", s.log.Path(), "generation", s.gen)
	}
	s.state = st
	s.offset = next
	s.skipped += snap.Skipped
	if len(snap.Rows) > 0 {
		s.merge(snap.Rows)
		s.version++
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if offset > 0 && len(snap.Rows) > 0 {
		batch := append([]types.Detection(nil), snap.Rows...)
		for _, fn := range listeners {
			fn(batch)
		}
	}
	return len(snap.Rows), nil
}

// merge adds sorted rows to both views. Caller holds s.mu.
func (s *Store) merge(rows []types.Detection) {
	s.byArrival = append(s.byArrival, rows...)
	inOrder := len(s.byTime) == 0 || !rows[0].Timestamp.Before(s.byTime[len(s.byTime)-1].Timestamp)
	s.byTime = append(s.byTime, rows...)
	if !inOrder {
		sort.SliceStable(s.byTime, func(i, j int) bool {
			return s.byTime[i].Timestamp.Before(s.byTime[j].Timestamp)
		})
	}
}

// Append writes ds through to the log and then refreshes the cache, so the
// rows reach listeners like any other new rows.
func (s *Store) Append(ds ...types.Detection) error {
	if err := s.log.Append(ds...); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	_, err := s.Refresh()
	return err
}

// All returns a copy of every cached row, oldest first.
func (s *Store) All() []types.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Detection(nil), s.byTime...)
}

// Len returns the number of cached rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTime)
}

// Skipped returns how many malformed rows were ignored in this generation.
func (s *Store) Skipped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped
}

// Generation increments each time the log is reset.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Version changes whenever the cached rows change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Head returns a cursor positioned after the newest row.
func (s *Store) Head() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Cursor{Gen: s.gen, N: len(s.byArrival)}
}

// Since returns rows that arrived after c, in arrival order, and the cursor to
// use next. A cursor from an older generation yields no rows and the head.
func (s *Store) Since(c Cursor) ([]types.Detection, Cursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	head := Cursor{Gen: s.gen, N: len(s.byArrival)}
	if c.Gen != s.gen || c.N >= len(s.byArrival) || c.N < 0 {
		return nil, head
	}
	return append([]types.Detection(nil), s.byArrival[c.N:]...), head
}

// Between returns rows with from <= timestamp < to. A zero bound is open.
func (s *Store) Between(from, to time.Time) []types.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(s.byTime), func(i int) bool { return !s.byTime[i].Timestamp.Before(from) })
	}
	hi := len(s.byTime)
	if !to.IsZero() {
		hi = sort.Search(len(s.byTime), func(i int) bool { return !s.byTime[i].Timestamp.Before(to) })
	}
	if lo >= hi {
		return nil
	}
	return append([]types.Detection(nil), s.byTime[lo:hi]...)
}

// Latest returns up to n rows, newest first.
func (s *Store) Latest(n int) []types.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.byTime) {
		n = len(s.byTime)
	}
	out := make([]types.Detection, 0, n)
	for i := len(s.byTime) - 1; i >= len(s.byTime)-n; i-- {
		out = append(out, s.byTime[i])
	}
	return out
}

// Run keeps the cache in sync with the log until ctx is cancelled. It reacts
// to file notifications on the log's directory and also polls every interval,
// since some filesystems do not deliver events.
func (s *Store) Run(ctx context.Context) {
	if _, err := s.Refresh(); err != nil {
		slog.Error("store: initial refresh failed", "err", err)
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(s.log.Path())); err != nil {
			slog.Warn("store: watch failed, polling only", "path", s.log.Path(), "err", err)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	} else {
		slog.Warn("store: fsnotify unavailable, polling only", "err", err)
	}

	t := time.NewTicker(s.poll)
	defer t.Stop()

	name := filepath.Clean(s.log.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			s.refreshLogged()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Error("store: watcher error", "err", err)
		case <-t.C:
			s.refreshLogged()
		}
	}
}

func (s *Store) refreshLogged() {
	n, err := s.Refresh()
	if err != nil {
		slog.Error("store: refresh failed", "path", s.log.Path(), "err", err)
		return
	}
	if n > 0 {
		slog.Debug("store: new detections", "count", n)
	}
}
