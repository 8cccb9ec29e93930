package ws_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/activity"
	"github.com/areawatch/areawatch/server/internal/detections"
	"github.com/areawatch/areawatch/server/internal/store"
	wsHub "github.com/areawatch/areawatch/server/internal/ws"
)

var baseTime = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func newStore(t *testing.T, ds ...types.Detection) *store.Store {
	t.Helper()
	log, err := detections.Open(filepath.Join(t.TempDir(), "log.csv"), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(log, time.Minute)
	if err := st.Append(ds...); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(); err != nil {
		t.Fatal(err)
	}
	return st
}

func det(sec int, class string, violation bool) types.Detection {
	return types.Detection{Timestamp: baseTime.Add(time.Duration(sec) * time.Second), Class: class, Confidence: 0.8765, Violation: violation}
}

func TestLiveFeed(t *testing.T) {
	st := newStore(t, det(0, "person", true), det(1, "car", false))
	f := wsHub.NewLiveFeed(st)

	init, _ := f.Initial()
	m := init.(wsHub.LiveMessage)
	if m.Type != "initial" || len(m.Class) != 2 || m.Class[0] != "person" {
		t.Errorf("initial: %+v", m)
	}
	if m.Confidence[0] != 87.65 || m.Violation[0] != "Yes" || m.Summary.TotalDetections != 2 {
		t.Errorf("initial values: %+v", m)
	}

	if next, _ := f.Next(); next != nil {
		t.Errorf("Next with no new rows: got %+v", next)
	}

	if err := st.Append(det(2, "dog", false)); err != nil {
		t.Fatal(err)
	}
	next, _ := f.Next()
	u, ok := next.(wsHub.LiveMessage)
	if !ok {
		t.Fatalf("Next: got %T", next)
	}
	if u.Type != "update" || len(u.Class) != 1 || u.Class[0] != "dog" || u.Summary.TotalDetections != 3 {
		t.Errorf("update: %+v", u)
	}
	if again, _ := f.Next(); again != nil {
		t.Error("rows delivered twice")
	}
}

func TestTableFeed(t *testing.T) {
	st := newStore(t, det(0, "person", true), det(5, "car", false))
	f := wsHub.NewTableFeed(st)

	init, _ := f.Initial()
	tm := init.(wsHub.TableMessage)
	if len(tm.Data) != 2 || tm.Data[0].Class != "car" {
		t.Errorf("table not newest first: %+v", tm.Data)
	}
	if next, _ := f.Next(); next != nil {
		t.Error("unchanged table was pushed")
	}
	if err := st.Append(det(9, "bike", false)); err != nil {
		t.Fatal(err)
	}
	next, _ := f.Next()
	if tm, ok := next.(wsHub.TableMessage); !ok || len(tm.Data) != 3 {
		t.Errorf("changed table: %+v", next)
	}
}

func TestActivityFeed(t *testing.T) {
	feed := activity.New()
	for i := 0; i < 30; i++ {
		feed.Add("camera_added", nil)
	}
	f := wsHub.NewActivityFeed(feed)
	m, _ := f.Next()
	if got := len(m.(wsHub.ActivityMessage).Events); got != 20 {
		t.Errorf("events: got %d, want 20", got)
	}
}
