package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/areawatch/areawatch/pkg/ingest"
	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/detections"
)

type fakeRecorder struct {
	batches []int
	failAt  int // 1-based call number that fails; 0 never
}

func (f *fakeRecorder) RecordDetections(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return nil, errors.New("boom")
	}
	ds, err := ingest.DecodeDetections(in)
	if err != nil {
		return nil, err
	}
	f.batches = append(f.batches, len(ds))
	return ingest.AcceptedResponse(len(ds)), nil
}

func rows(n int) []types.Detection {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	out := make([]types.Detection, n)
	for i := range out {
		out[i] = types.Detection{Timestamp: base.Add(time.Duration(i) * time.Second), Class: "person", Confidence: 0.8}
	}
	return out
}

func TestReplay_Batches(t *testing.T) {
	rec := &fakeRecorder{}
	sent, err := replay(context.Background(), rec, rows(25), 10)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sent != 25 {
		t.Errorf("sent: got %d, want 25", sent)
	}
	want := []int{10, 10, 5}
	if len(rec.batches) != len(want) {
		t.Fatalf("batches: got %v, want %v", rec.batches, want)
	}
	for i := range want {
		if rec.batches[i] != want[i] {
			t.Errorf("batch %d: got %d, want %d", i, rec.batches[i], want[i])
		}
	}
}

func TestReplay_StopsOnError(t *testing.T) {
	rec := &fakeRecorder{failAt: 2}
	sent, err := replay(context.Background(), rec, rows(50), 10)
	if err == nil {
		t.Fatal("want error from failing batch")
	}
	if sent != 10 {
		t.Errorf("sent: got %d, want 10", sent)
	}
}

func TestReplay_Empty(t *testing.T) {
	rec := &fakeRecorder{}
	sent, err := replay(context.Background(), rec, nil, 10)
	if err != nil || sent != 0 || len(rec.batches) != 0 {
		t.Errorf("empty replay: sent %d err %v batches %v", sent, err, rec.batches)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAppendAndReport(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "detection_log.csv")
	reportsDir := filepath.Join(dir, "reports")
	missingConfig := filepath.Join(dir, "none.yaml")

	out, err := execute(t, "append", "--config", missingConfig, "--log", logPath,
		"--class", "person", "--confidence", "0.9", "--violation", "--at", "2026-03-09 10:15:00")
	if err != nil {
		t.Fatalf("append: %v (%s)", err, out)
	}
	if !strings.Contains(out, "person") {
		t.Errorf("append output: %q", out)
	}

	log, err := detections.Open(logPath, time.Local)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := log.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Rows) != 1 || !snap.Rows[0].Violation {
		t.Fatalf("log rows: %+v", snap.Rows)
	}

	out, err = execute(t, "report", "daily", "--config", missingConfig, "--log", logPath,
		"--out", reportsDir, "--date", "2026-03-09")
	if err != nil {
		t.Fatalf("report: %v (%s)", err, out)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), reportsDir) {
		t.Errorf("report path: %q", out)
	}
}

func TestAppend_RejectsBadConfidence(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "append", "--config", filepath.Join(dir, "none.yaml"),
		"--log", filepath.Join(dir, "log.csv"), "--class", "person", "--confidence", "1.5")
	if err == nil {
		t.Fatal("want validation error")
	}
}
