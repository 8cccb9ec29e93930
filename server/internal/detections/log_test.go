package detections

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/areawatch/areawatch/pkg/types"
)

var baseTime = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func det(offset time.Duration, class string, conf float64, violation bool) types.Detection {
	return types.Detection{
		Timestamp:  baseTime.Add(offset),
		Class:      class,
		Confidence: conf,
		Violation:  violation,
	}
}

func openLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "detection_log.csv"), time.UTC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestOpen_WritesHeader(t *testing.T) {
	l := openLog(t)
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "Timestamp,Class,Confidence,Restricted Area Violation,Camera\n"
	if string(data) != want {
		t.Errorf("header: got %q, want %q", data, want)
	}
}

func TestOpen_KeepsExistingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.csv")
	body := "Timestamp,Class,Confidence,Restricted Area Violation\n2024-03-10 14:00:00,person,0.9000,Yes\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(p, time.UTC); err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != body {
		t.Errorf("existing file changed: %q", data)
	}
}

func TestAppend_ReadAll(t *testing.T) {
	l := openLog(t)
	in := []types.Detection{
		det(0, "person", 0.91, true),
		det(time.Minute, "car", 0.5, false),
	}
	in[1].CameraID = "cam_01"
	if err := l.Append(in...); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(det(2*time.Minute, "dog", 0.75, false)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	snap, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := append(in, det(2*time.Minute, "dog", 0.75, false))
	if diff := cmp.Diff(want, snap.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
	if snap.Skipped != 0 {
		t.Errorf("Skipped: got %d, want 0", snap.Skipped)
	}
}

func TestAppend_InvalidBatchWritesNothing(t *testing.T) {
	l := openLog(t)
	before, _ := l.Stat()

	err := l.Append(det(0, "person", 0.9, true), det(0, "", 0.9, false))
	if err == nil {
		t.Fatal("expected error for empty class, got nil")
	}
	after, _ := l.Stat()
	if after.Size != before.Size {
		t.Errorf("size changed from %d to %d", before.Size, after.Size)
	}
}

func TestAppend_LegacyLogWithoutCamera(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(p, []byte("Timestamp,Class,Confidence,Restricted Area Violation\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Open(p, time.UTC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d := det(0, "person", 0.8, true)
	d.CameraID = "cam_x"
	if err := l.Append(d); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, _ := os.ReadFile(p)
	if !strings.HasSuffix(string(data), "2024-03-10 14:00:00,person,0.8000,Yes\n") {
		t.Errorf("row: got %q", data)
	}
}

func TestReadAll_SkipsMalformed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.csv")
	body := "\ufeffTimestamp,Class,Confidence,Restricted Area Violation\n" +
		"2024-03-10 14:05:00, person ,0.9,yes\n" +
		"not-a-time,person,0.9,Yes\n" +
		"2024-03-10 14:01:00,car,abc,No\n" +
		"2024-03-10 14:02:00,car\n" +
		"\n" +
		"2024-03-10 14:00:00,bike,0.4,no\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Open(p, time.UTC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if snap.Skipped != 3 {
		t.Errorf("Skipped: got %d, want 3", snap.Skipped)
	}
	if len(snap.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(snap.Rows))
	}
	if snap.Rows[0].Class != "bike" || snap.Rows[1].Class != "person" {
		t.Errorf("order: got %s, %s", snap.Rows[0].Class, snap.Rows[1].Class)
	}
	if !snap.Rows[1].Violation {
		t.Error("lower-case yes should parse as a violation")
	}
}

func TestReadAll_StableForEqualTimestamps(t *testing.T) {
	l := openLog(t)
	if err := l.Append(det(0, "a", 0.5, false), det(0, "b", 0.5, false), det(0, "c", 0.5, false)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	snap, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var got []string
	for _, r := range snap.Rows {
		got = append(got, r.Class)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestReadAll_MissingFile(t *testing.T) {
	l := openLog(t)
	if err := os.Remove(l.Path()); err != nil {
		t.Fatal(err)
	}
	snap, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(snap.Rows) != 0 {
		t.Errorf("rows: got %d, want 0", len(snap.Rows))
	}
	st, err := l.Stat()
	if err != nil || st.Size != 0 {
		t.Errorf("Stat: got %+v, %v", st, err)
	}
}

func TestStat_ChangesOnAppend(t *testing.T) {
	l := openLog(t)
	before, err := l.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := l.Append(det(0, "person", 0.9, true)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	after, _ := l.Stat()
	if after.Size <= before.Size {
		t.Errorf("size did not grow: %d -> %d", before.Size, after.Size)
	}
}

func TestReadFrom_Tail(t *testing.T) {
	l := openLog(t)
	if err := l.Append(det(0, "person", 0.9, true)); err != nil {
		t.Fatal(err)
	}
	first, off, err := l.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom(0): %v", err)
	}
	if len(first.Rows) != 1 {
		t.Fatalf("rows: got %d, want 1", len(first.Rows))
	}

	if err := l.Append(det(time.Minute, "car", 0.6, false)); err != nil {
		t.Fatal(err)
	}
	// A partial line must not be consumed.
	f, err := os.OpenFile(l.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("2024-03-10 14:05:00,tru")
	f.Close()

	tail, off2, err := l.ReadFrom(off)
	if err != nil {
		t.Fatalf("ReadFrom(%d): %v", off, err)
	}
	if len(tail.Rows) != 1 || tail.Rows[0].Class != "car" {
		t.Fatalf("tail: got %+v", tail.Rows)
	}
	st, _ := l.Stat()
	if off2 >= st.Size {
		t.Errorf("offset %d should stop before the partial line (size %d)", off2, st.Size)
	}
}

func TestWriteCSV_ParsesBack(t *testing.T) {
	in := []types.Detection{det(0, "person", 0.91, true), det(time.Minute, "car", 0.5, false)}
	in[0].CameraID = "cam_02"

	var sb strings.Builder
	if err := WriteCSV(&sb, in); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(sb.String(), "Timestamp,Class,Confidence,Restricted Area Violation,Camera\n") {
		t.Errorf("unexpected header in %q", sb.String())
	}
	snap, err := Parse(strings.NewReader(sb.String()), time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(in, snap.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}
