package detections

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

const bom = "\ufeff"

// Log is the detection CSV file. It is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
}

// Snapshot is the result of a full read.
type Snapshot struct {
	Rows    []types.Detection
	Skipped int
}

// FileState identifies a version of the log file for change detection.
type FileState struct {
	Size    int64
	ModTime time.Time
}

// Open prepares the log at path, creating parent directories and the header
// row when the file is absent or empty. loc interprets timestamps; nil means
// time.Local.
func Open(path string, loc *time.Location) (*Log, error) {
	if loc == nil {
		loc = time.Local
	}
	l := &Log{path: path, loc: loc}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("detections: create dir for %q: %w", path, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.ensureHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the log location.
func (l *Log) Path() string { return l.path }

// Location returns the zone used for timestamps.
func (l *Log) Location() *time.Location { return l.loc }

// ensureHeader writes the header when the file is missing or empty and
// reports whether the file carries the camera column. Caller holds l.mu.
func (l *Log) ensureHeader() (bool, error) {
	fi, err := os.Stat(l.path)
	if err == nil && fi.Size() > 0 {
		return l.hasCameraColumn()
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("detections: stat %q: %w", l.path, err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(append(append([]string{}, types.LogHeader...), types.CameraColumn))
	w.Flush()
	if err := os.WriteFile(l.path, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("detections: write header %q: %w", l.path, err)
	}
	return true, nil
}

func (l *Log) hasCameraColumn() (bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return false, fmt.Errorf("detections: open %q: %w", l.path, err)
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("detections: read header %q: %w", l.path, err)
	}
	line = strings.TrimPrefix(line, bom)
	if !isHeader(line) {
		return false, nil
	}
	return strings.Contains(strings.ToLower(line), strings.ToLower(types.CameraColumn)), nil
}

// Append validates every row, then appends them in one write. Existing rows
// are never rewritten. Nothing is written if any row is invalid.
func (l *Log) Append(ds ...types.Detection) error {
	if len(ds) == 0 {
		return nil
	}
	for i, d := range ds {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("detections: row %d: %w", i, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	withCamera, err := l.ensureHeader()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, d := range ds {
		_ = w.Write(d.In(l.loc).Record(withCamera))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("detections: encode: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("detections: open %q: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("detections: append %q: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("detections: sync %q: %w", l.path, err)
	}
	return nil
}

// ReadAll parses the whole log. Malformed rows are skipped and counted.
// Rows are sorted by timestamp, keeping file order for equal timestamps.
// A missing file reads as empty.
func (l *Log) ReadAll() (Snapshot, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("detections: read %q: %w", l.path, err)
	}
	return Parse(bytes.NewReader(data), l.loc)
}

// ReadFrom parses the complete lines written at or after offset and returns
// the offset just past the last complete line. A trailing partial line is left
// for the next call.
func (l *Log) ReadFrom(offset int64) (Snapshot, int64, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, 0, nil
	}
	if err != nil {
		return Snapshot{}, offset, fmt.Errorf("detections: open %q: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Snapshot{}, offset, fmt.Errorf("detections: seek %q: %w", l.path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return Snapshot{}, offset, fmt.Errorf("detections: read %q: %w", l.path, err)
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return Snapshot{}, offset, nil
	}
	data = data[:end+1]

	snap, err := Parse(bytes.NewReader(data), l.loc)
	if err != nil {
		return snap, offset, err
	}
	return snap, offset + int64(len(data)), nil
}

// Parse reads detection rows from r. It is ReadAll without the file.
func Parse(r io.Reader, loc *time.Location) (Snapshot, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(bom)); err == nil && string(b) == bom {
		_, _ = br.Discard(len(bom))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var snap Snapshot
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				snap.Skipped++
				continue
			}
			return snap, fmt.Errorf("detections: parse: %w", err)
		}
		if first {
			first = false
			if len(rec) > 0 && isHeader(rec[0]) {
				continue
			}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		d, err := types.ParseRecord(rec, loc)
		if err != nil {
			snap.Skipped++
			continue
		}
		snap.Rows = append(snap.Rows, d)
	}

	sort.SliceStable(snap.Rows, func(i, j int) bool {
		return snap.Rows[i].Timestamp.Before(snap.Rows[j].Timestamp)
	})
	return snap, nil
}

// Stat returns the file's size and modification time. A missing file
// reports a zero FileState.
func (l *Log) Stat() (FileState, error) {
	fi, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileState{}, nil
	}
	if err != nil {
		return FileState{}, fmt.Errorf("detections: stat %q: %w", l.path, err)
	}
	return FileState{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func isHeader(field string) bool {
	f := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(field, bom)))
	return strings.HasPrefix(f, "timestamp")
}

// WriteCSV writes ds with a header row, including the camera column.
func WriteCSV(w io.Writer, ds []types.Detection) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, types.LogHeader...), types.CameraColumn)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("detections: write header: %w", err)
	}
	for _, d := range ds {
		if err := cw.Write(d.Record(true)); err != nil {
			return fmt.Errorf("detections: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
