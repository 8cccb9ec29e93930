package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/detections"
)

var baseTime = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n minutes.
func tick(n int) time.Time { return baseTime.Add(time.Duration(n) * time.Minute) }

func det(n int, class string, violation bool) types.Detection {
	return types.Detection{Timestamp: tick(n), Class: class, Confidence: 0.8, Violation: violation}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	l, err := detections.Open(filepath.Join(t.TempDir(), "detection_log.csv"), time.UTC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := New(l, 50*time.Millisecond)
	if _, err := st.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return st
}

// appendRaw writes rows behind the store's back, like an external detector.
func appendRaw(t *testing.T, path string, lines string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(lines); err != nil {
		t.Fatal(err)
	}
}

func TestAppend_UpdatesCache(t *testing.T) {
	st := newStore(t)
	if err := st.Append(det(0, "person", true), det(1, "car", false)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if st.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", st.Len())
	}
	all := st.All()
	if all[0].Class != "person" || all[1].Class != "car" {
		t.Errorf("All: got %+v", all)
	}
}

func TestAppend_InvalidRejected(t *testing.T) {
	st := newStore(t)
	if err := st.Append(types.Detection{Timestamp: tick(0), Class: "x", Confidence: 2}); err == nil {
		t.Fatal("expected error for confidence 2, got nil")
	}
	if st.Len() != 0 {
		t.Errorf("Len: got %d, want 0", st.Len())
	}
}

func TestRefresh_NoChangeIsNoop(t *testing.T) {
	st := newStore(t)
	_ = st.Append(det(0, "person", true))
	v := st.Version()
	n, err := st.Refresh()
	if err != nil || n != 0 {
		t.Fatalf("Refresh: got %d, %v", n, err)
	}
	if st.Version() != v {
		t.Error("Version changed without new rows")
	}
}

func TestRefresh_ExternalWriterNotifiesOnce(t *testing.T) {
	st := newStore(t)

	var mu sync.Mutex
	var got []types.Detection
	st.OnNew(func(ds []types.Detection) {
		mu.Lock()
		got = append(got, ds...)
		mu.Unlock()
	})

	appendRaw(t, st.Log().Path(), "2024-03-10 14:05:00,person,0.9100,Yes,cam_a\n")
	if n, err := st.Refresh(); err != nil || n != 1 {
		t.Fatalf("Refresh: got %d, %v", n, err)
	}
	if n, _ := st.Refresh(); n != 0 {
		t.Errorf("second Refresh: got %d new rows, want 0", n)
	}
	_ = st.Append(det(6, "car", false))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("listener rows: got %d, want 2", len(got))
	}
	if got[0].CameraID != "cam_a" || got[1].Class != "car" {
		t.Errorf("listener rows: got %+v", got)
	}
}

func TestRefresh_InitialLoadIsNotNew(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.csv")
	body := "Timestamp,Class,Confidence,Restricted Area Violation\n2024-03-10 14:00:00,person,0.9,Yes\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := detections.Open(p, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	st := New(l, time.Second)
	called := false
	st.OnNew(func([]types.Detection) { called = true })
	if n, err := st.Refresh(); err != nil || n != 1 {
		t.Fatalf("Refresh: got %d, %v", n, err)
	}
	if called {
		t.Error("history rows must not reach listeners")
	}
}

func TestRefresh_ShrinkResets(t *testing.T) {
	st := newStore(t)
	_ = st.Append(det(0, "person", true), det(1, "car", false), det(2, "dog", false))
	gen := st.Generation()

	body := "Timestamp,Class,Confidence,Restricted Area Violation\n2024-03-10 15:00:00,bike,0.5,No\n"
	if err := os.WriteFile(st.Log().Path(), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if st.Generation() != gen+1 {
		t.Errorf("Generation: got %d, want %d", st.Generation(), gen+1)
	}
	if st.Len() != 1 || st.All()[0].Class != "bike" {
		t.Errorf("after reset: got %+v", st.All())
	}
}

func TestSince(t *testing.T) {
	st := newStore(t)
	c := st.Head()
	_ = st.Append(det(0, "person", true))

	rows, c := st.Since(c)
	if len(rows) != 1 {
		t.Fatalf("Since: got %d rows, want 1", len(rows))
	}
	rows, c = st.Since(c)
	if len(rows) != 0 {
		t.Errorf("Since at head: got %d rows, want 0", len(rows))
	}

	// An out-of-order row is still delivered once, in arrival order.
	_ = st.Append(det(-30, "early", false))
	rows, _ = st.Since(c)
	if len(rows) != 1 || rows[0].Class != "early" {
		t.Errorf("Since: got %+v", rows)
	}
	if st.All()[0].Class != "early" {
		t.Error("All should stay sorted by timestamp")
	}

	stale := Cursor{Gen: c.Gen + 5, N: 0}
	if rows, _ := st.Since(stale); rows != nil {
		t.Errorf("stale cursor: got %d rows, want none", len(rows))
	}
}

func TestBetweenAndLatest(t *testing.T) {
	st := newStore(t)
	for i := 0; i < 5; i++ {
		_ = st.Append(det(i*10, "c", false))
	}

	got := st.Between(tick(10), tick(30))
	if len(got) != 2 || !got[0].Timestamp.Equal(tick(10)) || !got[1].Timestamp.Equal(tick(20)) {
		t.Errorf("Between: got %+v", got)
	}
	if n := len(st.Between(time.Time{}, time.Time{})); n != 5 {
		t.Errorf("open Between: got %d, want 5", n)
	}

	latest := st.Latest(2)
	if len(latest) != 2 || !latest[0].Timestamp.Equal(tick(40)) {
		t.Errorf("Latest: got %+v", latest)
	}
	if n := len(st.Latest(0)); n != 5 {
		t.Errorf("Latest(0): got %d, want 5", n)
	}
}

func TestRun_PicksUpExternalRows(t *testing.T) {
	st := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()

	appendRaw(t, st.Log().Path(), "2024-03-10 14:05:00,person,0.9100,Yes,\n")

	deadline := time.Now().Add(3 * time.Second)
	for st.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Run did not pick up the new row within 3s")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
}
