package follow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/areawatch/areawatch/agent/internal/config"
	"github.com/areawatch/areawatch/pkg/types"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testRules() Rules {
	return Rules{Restricted: []string{"person"}, MinConfidence: 0.5, CameraID: "cam_default", Location: time.UTC}
}

func newFollower(t *testing.T) (*Follower, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.jsonl")
	f := New(path, testRules(), 20*time.Millisecond)
	f.now = func() time.Time { return baseTime }
	return f, path
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(s); err != nil {
		t.Fatal(err)
	}
}

func boolPtr(b bool) *bool { return &b }

func TestClassify(t *testing.T) {
	r := testRules()
	tests := []struct {
		name          string
		line          Line
		wantErr       bool
		wantDrop      bool
		wantViolation bool
		wantCamera    string
	}{
		{name: "restricted class", line: Line{Class: "person", Confidence: 0.9}, wantViolation: true, wantCamera: "cam_default"},
		{name: "restricted case-insensitive", line: Line{Class: "Person", Confidence: 0.9}, wantViolation: true, wantCamera: "cam_default"},
		{name: "unrestricted class", line: Line{Class: "car", Confidence: 0.9}, wantCamera: "cam_default"},
		{name: "explicit flag wins", line: Line{Class: "person", Confidence: 0.9, Violation: boolPtr(false)}, wantCamera: "cam_default"},
		{name: "explicit violation", line: Line{Class: "car", Confidence: 0.9, Violation: boolPtr(true)}, wantViolation: true, wantCamera: "cam_default"},
		{name: "own camera", line: Line{Class: "car", Confidence: 0.9, CameraID: "cam_2"}, wantCamera: "cam_2"},
		{name: "below floor", line: Line{Class: "person", Confidence: 0.3}, wantDrop: true},
		{name: "no class", line: Line{Confidence: 0.9}, wantErr: true},
		{name: "confidence range", line: Line{Class: "car", Confidence: 1.2}, wantErr: true},
		{name: "bad timestamp", line: Line{TS: "yesterday", Class: "car", Confidence: 0.9}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := r.Classify(tc.line, baseTime)
			switch {
			case tc.wantDrop:
				if !errors.Is(err, ErrBelowMinConfidence) {
					t.Fatalf("err = %v, want ErrBelowMinConfidence", err)
				}
				return
			case tc.wantErr:
				if err == nil || errors.Is(err, ErrBelowMinConfidence) {
					t.Fatalf("err = %v, want validation error", err)
				}
				return
			case err != nil:
				t.Fatalf("unexpected err: %v", err)
			}
			if d.Violation != tc.wantViolation {
				t.Errorf("violation = %v, want %v", d.Violation, tc.wantViolation)
			}
			if d.CameraID != tc.wantCamera {
				t.Errorf("camera = %q, want %q", d.CameraID, tc.wantCamera)
			}
			if !d.Timestamp.Equal(baseTime) {
				t.Errorf("timestamp = %v, want now", d.Timestamp)
			}
		})
	}
}

func TestClassify_Timestamp(t *testing.T) {
	d, err := testRules().Classify(Line{TS: "2026-03-09T08:30:00Z", Class: "car", Confidence: 0.7}, baseTime)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC); !d.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", d.Timestamp, want)
	}
}

func TestRulesFrom(t *testing.T) {
	r := RulesFrom(config.AgentConfig{
		CameraID: "cam_x",
		Detector: config.DetectorConfig{RestrictedClasses: []string{"forklift"}, MinConfidence: 0.4},
	})
	if !r.restricted("FORKLIFT") || r.MinConfidence != 0.4 || r.CameraID != "cam_x" {
		t.Errorf("RulesFrom: %+v", r)
	}
}

func TestReadNew_CompleteLinesOnly(t *testing.T) {
	f, path := newFollower(t)

	ds, err := f.ReadNew()
	if err != nil || len(ds) != 0 {
		t.Fatalf("missing file: got %v, %v", ds, err)
	}

	appendFile(t, path, `{"class":"person","confidence":0.9}`+"\n"+`{"class":"car","conf`)
	ds, err = f.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Class != "person" || !ds[0].Violation {
		t.Fatalf("first read: %+v", ds)
	}

	appendFile(t, path, `idence":0.8}`+"\n")
	ds, err = f.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Class != "car" || ds[0].Confidence != 0.8 {
		t.Fatalf("completed line: %+v", ds)
	}

	ds, _ = f.ReadNew()
	if len(ds) != 0 {
		t.Errorf("no new data: got %+v", ds)
	}
}

func TestReadNew_SkipsAndDrops(t *testing.T) {
	f, path := newFollower(t)
	appendFile(t, path, "not json\n\n"+
		`{"class":"person","confidence":0.2}`+"\n"+
		`{"class":"","confidence":0.9}`+"\n"+
		`{"class":"car","confidence":0.6}`+"\n")

	ds, err := f.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Class != "car" {
		t.Fatalf("kept: %+v", ds)
	}
	skipped, dropped := f.Stats()
	if skipped != 2 || dropped != 1 {
		t.Errorf("stats: skipped %d dropped %d, want 2 and 1", skipped, dropped)
	}
}

func TestReadNew_Truncation(t *testing.T) {
	f, path := newFollower(t)
	appendFile(t, path, `{"class":"car","confidence":0.9}`+"\n"+`{"class":"car","confidence":0.9}`+"\n")
	if ds, _ := f.ReadNew(); len(ds) != 2 {
		t.Fatalf("initial read: %d rows", len(ds))
	}

	if err := os.WriteFile(path, []byte(`{"class":"person","confidence":0.7}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	ds, err := f.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Class != "person" {
		t.Errorf("after truncation: %+v", ds)
	}
}

func TestSeekEnd(t *testing.T) {
	f, path := newFollower(t)
	appendFile(t, path, `{"class":"car","confidence":0.9}`+"\n")
	if err := f.SeekEnd(); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, `{"class":"person","confidence":0.9}`+"\n")
	ds, _ := f.ReadNew()
	if len(ds) != 1 || ds[0].Class != "person" {
		t.Errorf("after SeekEnd: %+v", ds)
	}
}

func TestSetRules_AppliesToLaterLines(t *testing.T) {
	f, path := newFollower(t)
	appendFile(t, path, `{"class":"forklift","confidence":0.9}`+"\n")
	ds, _ := f.ReadNew()
	if len(ds) != 1 || ds[0].Violation {
		t.Fatalf("before: %+v", ds)
	}

	r := testRules()
	r.Restricted = append(r.Restricted, "forklift")
	f.SetRules(r)
	appendFile(t, path, `{"class":"forklift","confidence":0.9}`+"\n")
	ds, _ = f.ReadNew()
	if len(ds) != 1 || !ds[0].Violation {
		t.Errorf("after: %+v", ds)
	}
}

func TestRun_EmitsBatches(t *testing.T) {
	f, path := newFollower(t)

	var mu sync.Mutex
	var got []types.Detection
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx, func(ds []types.Detection) {
			mu.Lock()
			got = append(got, ds...)
			mu.Unlock()
		})
	}()

	appendFile(t, path, `{"class":"person","confidence":0.9}`+"\n"+`{"class":"car","confidence":0.9}`+"\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("emitted %d detections, want 2", len(got))
	}
}
