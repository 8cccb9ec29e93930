package snapshots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

var (
	// ErrNotFound is returned for names that do not exist in the directory.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidName is returned for names that are not a plain image file name.
	ErrInvalidName = errors.New("invalid snapshot name")
)

// MaxThumbWidth bounds the width a caller may request.
const MaxThumbWidth = 1920

// Snapshot describes one image file.
type Snapshot struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Retention limits applied by Prune. Zero values disable a limit.
type Retention struct {
	MaxAge   time.Duration
	MaxFiles int
}

// Manager operates on one frames directory.
type Manager struct {
	dir    string
	keep   Retention
	thumbW int

	// OnPrune, when set, receives the number of files removed by each Prune.
	OnPrune func(n int)
}

// New returns a Manager for dir. thumbWidth is the default thumbnail width.
func New(dir string, keep Retention, thumbWidth int) *Manager {
	if thumbWidth <= 0 {
		thumbWidth = 320
	}
	return &Manager{dir: dir, keep: keep, thumbW: thumbWidth}
}

// Dir returns the frames directory.
func (m *Manager) Dir() string { return m.dir }

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// scan lists image files, newest first. A missing directory is empty.
func (m *Manager) scan() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshots: read dir %q: %w", m.dir, err)
	}
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		out = append(out, Snapshot{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Name > out[j].Name
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// Count returns the number of image files.
func (m *Manager) Count() (int, error) {
	all, err := m.scan()
	return len(all), err
}

// List returns up to limit snapshots, newest first. limit <= 0 returns all.
func (m *Manager) List(limit int) ([]Snapshot, error) {
	all, err := m.scan()
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Latest returns the path of the newest snapshot, or "" when there is none.
func (m *Manager) Latest() string {
	all, err := m.scan()
	if err != nil || len(all) == 0 {
		return ""
	}
	return filepath.Join(m.dir, all[0].Name)
}

// Path resolves name to a file inside the directory.
func (m *Manager) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") || !isImage(name) {
		return "", fmt.Errorf("snapshots: %q: %w", name, ErrInvalidName)
	}
	p := filepath.Join(m.dir, name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("snapshots: %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Delete removes one snapshot.
func (m *Manager) Delete(name string) error {
	p, err := m.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("snapshots: remove %q: %w", name, err)
	}
	return nil
}

// Thumbnail returns a JPEG of the snapshot scaled to width, keeping the
// aspect ratio. Images narrower than width are not enlarged.
func (m *Manager) Thumbnail(name string, width int) ([]byte, error) {
	p, err := m.Path(name)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		width = m.thumbW
	}
	if width > MaxThumbWidth {
		width = MaxThumbWidth
	}
	img, err := imaging.Open(p)
	if err != nil {
		return nil, fmt.Errorf("snapshots: decode %q: %w", name, err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("snapshots: encode %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Prune removes snapshots older than MaxAge and then the oldest beyond
// MaxFiles. It returns the number of files removed.
func (m *Manager) Prune(now time.Time) (int, error) {
	if m.keep.MaxAge <= 0 && m.keep.MaxFiles <= 0 {
		return 0, nil
	}
	all, err := m.scan()
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, s := range all {
		expired := m.keep.MaxAge > 0 && now.Sub(s.Modified) > m.keep.MaxAge
		excess := m.keep.MaxFiles > 0 && i >= m.keep.MaxFiles
		if !expired && !excess {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, s.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("snapshots: prune failed", "name", s.Name, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("snapshots: pruned", "removed", removed, "dir", m.dir)
		if m.OnPrune != nil {
			m.OnPrune(removed)
		}
	}
	return removed, nil
}

// Run prunes every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.keep.MaxAge <= 0 && m.keep.MaxFiles <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := m.Prune(now); err != nil {
				slog.Error("snapshots: prune", "err", err)
			}
		}
	}
}
