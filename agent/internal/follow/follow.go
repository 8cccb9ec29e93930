package follow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/areawatch/areawatch/agent/internal/config"
	"github.com/areawatch/areawatch/pkg/types"
)

// maxLineBytes caps an unterminated line. Longer lines are discarded.
const maxLineBytes = 1 << 20

// ErrBelowMinConfidence is returned by Classify for lines under the floor.
var ErrBelowMinConfidence = errors.New("follow: below min confidence")

// Line is one line of detector output.
type Line struct {
	TS         string  `json:"ts"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Violation  *bool   `json:"violation,omitempty"`
	CameraID   string  `json:"camera_id,omitempty"`
}

// Rules turn Lines into detections.
type Rules struct {
	Restricted    []string
	MinConfidence float64

	// CameraID stamps lines that carry none.
	CameraID string

	// Location interprets timestamps without a zone. Nil means time.Local.
	Location *time.Location
}

// RulesFrom builds Rules from the agent config.
func RulesFrom(a config.AgentConfig) Rules {
	return Rules{
		Restricted:    append([]string(nil), a.Detector.RestrictedClasses...),
		MinConfidence: a.Detector.MinConfidence,
		CameraID:      a.CameraID,
	}
}

func (r Rules) restricted(class string) bool {
	for _, c := range r.Restricted {
		if strings.EqualFold(strings.TrimSpace(c), class) {
			return true
		}
	}
	return false
}

// Classify converts l into a Detection. now is used when l has no timestamp.
// The violation flag comes from l when present, otherwise from the
// restricted classes.
func (r Rules) Classify(l Line, now time.Time) (types.Detection, error) {
	d := types.Detection{
		Timestamp:  now,
		Class:      strings.TrimSpace(l.Class),
		Confidence: l.Confidence,
		CameraID:   strings.TrimSpace(l.CameraID),
	}
	if l.TS != "" {
		ts, err := types.ParseTimestamp(strings.TrimSpace(l.TS), r.Location)
		if err != nil {
			return types.Detection{}, err
		}
		d.Timestamp = ts
	}
	if err := d.Validate(); err != nil {
		return types.Detection{}, err
	}
	if d.Confidence < r.MinConfidence {
		return types.Detection{}, ErrBelowMinConfidence
	}
	if d.CameraID == "" {
		d.CameraID = r.CameraID
	}
	if l.Violation != nil {
		d.Violation = *l.Violation
	} else {
		d.Violation = r.restricted(d.Class)
	}
	return d, nil
}

// Follower tails a JSON-lines file. ReadNew and Run are safe for
// concurrent use with SetRules.
type Follower struct {
	path string
	poll time.Duration
	now  func() time.Time

	rulesMu sync.RWMutex
	rules   Rules

	// readMu serializes ReadNew so each line is consumed once.
	readMu  sync.Mutex
	offset  int64
	partial []byte
	skipped int
	dropped int
}

// New creates a Follower for path reading from the start of the file.
// poll is the fallback read interval used by Run alongside file notifications.
func New(path string, rules Rules, poll time.Duration) *Follower {
	if poll <= 0 {
		poll = time.Second
	}
	return &Follower{path: path, poll: poll, now: time.Now, rules: rules}
}

// SetRules replaces the classification rules for lines read from now on.
func (f *Follower) SetRules(r Rules) {
	f.rulesMu.Lock()
	f.rules = r
	f.rulesMu.Unlock()
}

// Rules returns the active rules.
func (f *Follower) Rules() Rules {
	f.rulesMu.RLock()
	defer f.rulesMu.RUnlock()
	return f.rules
}

// SeekEnd skips everything currently in the file. A missing file is not an error.
func (f *Follower) SeekEnd() error {
	f.readMu.Lock()
	defer f.readMu.Unlock()
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("follow: stat: %w", err)
	}
	f.offset = info.Size()
	f.partial = nil
	return nil
}

// Stats returns how many lines were malformed and how many fell below the
// confidence floor.
func (f *Follower) Stats() (skipped, dropped int) {
	f.readMu.Lock()
	defer f.readMu.Unlock()
	return f.skipped, f.dropped
}

// ReadNew reads the complete lines appended since the last call.
func (f *Follower) ReadNew() ([]types.Detection, error) {
	f.readMu.Lock()
	defer f.readMu.Unlock()

	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.offset, f.partial = 0, nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("follow: open: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("follow: stat: %w", err)
	}
	if info.Size() < f.offset {
		slog.Info("follow: file truncated, reading from start", "path", f.path, "offset", f.offset, "size", info.Size())
		f.offset, f.partial = 0, nil
	}
	if info.Size() == f.offset {
		return nil, nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("follow: seek: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(file, info.Size()-f.offset))
	if err != nil {
		return nil, fmt.Errorf("follow: read: %w", err)
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		if len(buf) > maxLineBytes {
			slog.Warn("follow: discarding oversized line", "bytes", len(buf))
			f.skipped++
			buf = nil
		}
		f.partial = buf
		return nil, nil
	}
	f.partial = append([]byte(nil), buf[last+1:]...)

	rules := f.Rules()
	now := f.now()
	var out []types.Detection
	for _, raw := range bytes.Split(buf[:last], []byte{'\n'}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var l Line
		if err := json.Unmarshal(raw, &l); err != nil {
			f.skipped++
			continue
		}
		d, err := rules.Classify(l, now)
		switch {
		case errors.Is(err, ErrBelowMinConfidence):
			f.dropped++
		case err != nil:
			slog.Debug("follow: skipping line", "err", err)
			f.skipped++
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

// Run reads new lines whenever the file changes, and every poll interval,
// handing each non-empty batch to emit. It blocks until ctx is cancelled.
func (f *Follower) Run(ctx context.Context, emit func([]types.Detection)) {
	f.readLogged(emit)

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(f.path)); err != nil {
			slog.Warn("follow: watch failed, polling only", "path", f.path, "err", err)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	} else {
		slog.Warn("follow: fsnotify unavailable, polling only", "err", err)
	}

	t := time.NewTicker(f.poll)
	defer t.Stop()

	name := filepath.Clean(f.path)
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
			f.readLogged(emit)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Error("follow: watcher error", "err", err)
		case <-t.C:
			f.readLogged(emit)
		}
	}
}

func (f *Follower) readLogged(emit func([]types.Detection)) {
	ds, err := f.ReadNew()
	if err != nil {
		slog.Error("follow: read failed", "path", f.path, "err", err)
		return
	}
	if len(ds) > 0 {
		slog.Debug("follow: new detections", "count", len(ds))
		emit(ds)
	}
}
