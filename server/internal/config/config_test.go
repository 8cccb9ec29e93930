package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Agent section only; server section absent.
	p := writeConfig(t, `agent:
  server_endpoint: "localhost:50051"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", s.GRPCPort, DefaultGRPCPort)
	}
	if s.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", s.HTTPPort, DefaultHTTPPort)
	}
	if s.Data.LogPath != "data/detection_log.csv" {
		t.Errorf("data.log_path: got %q", s.Data.LogPath)
	}
	if s.Data.FramesDir != "data/frames" || s.Data.ReportsDir != "data/reports" {
		t.Errorf("data dirs: got %q %q", s.Data.FramesDir, s.Data.ReportsDir)
	}
	if s.Alerts.ResolveAfter != DefaultResolveAfter {
		t.Errorf("alerts.resolve_after: got %v", s.Alerts.ResolveAfter)
	}
	if s.Email.SMTPPort != 465 || s.Email.SMTPHost != DefaultSMTPHost {
		t.Errorf("email: got %s:%d", s.Email.SMTPHost, s.Email.SMTPPort)
	}
	if s.Level() != slog.LevelInfo {
		t.Errorf("Level: got %v, want info", s.Level())
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  log_level: debug
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-area-key
  data:
    dir: /var/lib/areawatch
    timezone: UTC
  live:
    interval: 500ms
  alerts:
    resolve_after: 10m
    rules:
      - name: night_person
        condition: "class == person && hour < 6"
        severity: critical
        cooldown: 1m
  email:
    enabled: true
    smtp_port: 587
    recipients: [ops@example.com]
  snapshots:
    max_files: 100
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != 9090 || s.HTTPPort != 9091 {
		t.Errorf("ports: got %d/%d", s.GRPCPort, s.HTTPPort)
	}
	if s.Level() != slog.LevelDebug {
		t.Errorf("Level: got %v, want debug", s.Level())
	}
	if s.Auth.EffectiveHeader() != "x-area-key" {
		t.Errorf("header: got %q", s.Auth.EffectiveHeader())
	}
	if s.Data.LogPath != "/var/lib/areawatch/detection_log.csv" {
		t.Errorf("data.log_path: got %q", s.Data.LogPath)
	}
	if s.Data.Location() != time.UTC {
		t.Errorf("Location: got %v, want UTC", s.Data.Location())
	}
	wantLive := LiveConfig{
		Interval:         500 * time.Millisecond,
		TableInterval:    DefaultLiveInterval,
		ActivityInterval: DefaultActivityInterval,
		Poll:             DefaultLogPoll,
	}
	if diff := cmp.Diff(wantLive, s.Live); diff != "" {
		t.Errorf("live (-want +got):\n%s", diff)
	}
	if len(s.Alerts.Rules) != 1 || s.Alerts.Rules[0].Cooldown != time.Minute {
		t.Errorf("alerts.rules: got %+v", s.Alerts.Rules)
	}
	if s.Alerts.ResolveAfter != 10*time.Minute {
		t.Errorf("resolve_after: got %v", s.Alerts.ResolveAfter)
	}
	if !s.Email.Enabled || s.Email.SMTPPort != 587 || len(s.Email.Recipients) != 1 {
		t.Errorf("email: got %+v", s.Email)
	}
	if s.Snapshots.MaxFiles != 100 || s.Snapshots.ThumbWidth != DefaultThumbWidth {
		t.Errorf("snapshots: got %+v", s.Snapshots)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_SMTP_PASS", "hunter2")
	t.Setenv("TEST_HOOK", "https://hooks.example.com/x")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
  email:
    password_env: TEST_SMTP_PASS
  alerts:
    webhooks:
      - type: slack
        url_env: TEST_HOOK
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q", k)
	}
	if pw := cfg.Server.Email.Password(); pw != "hunter2" {
		t.Errorf("Password(): got %q", pw)
	}
	if u := cfg.Server.Alerts.Webhooks[0].URL(); u != "https://hooks.example.com/x" {
		t.Errorf("URL(): got %q", u)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"auth mode": `server:
  auth:
    mode: oauth2
`,
		"port": `server:
  grpc_port: 70000
`,
		"rule without condition": `server:
  alerts:
    rules:
      - name: r1
`,
		"rule severity": `server:
  alerts:
    rules:
      - name: r1
        condition: "violation == yes"
        severity: loud
`,
		"webhook type": `server:
  alerts:
    webhooks:
      - type: pager
`,
		"timezone": `server:
  data:
    timezone: Mars/Olympus
`,
		"thumb width": `server:
  snapshots:
    thumb_width: -1
`,
		"unparseable condition": `server:
  alerts:
    rules:
      - name: r1
        condition: "confidence is high"
`,
		"prune interval with retention": `server:
  snapshots:
    max_files: 5
    prune_interval: 0s
`,
		"negative prune interval": `server:
  snapshots:
    max_age: 24h
    prune_interval: -1m
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_PruneIntervalIgnoredWithoutRetention(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  snapshots:\n    prune_interval: 0s\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Snapshots.MaxAge != 0 || cfg.Server.Snapshots.MaxFiles != 0 {
		t.Errorf("retention: got %+v", cfg.Server.Snapshots)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Data.LogPath == "" || cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("Default: got %+v", cfg.Server)
	}
}

func TestWatch_Reload(t *testing.T) {
	p := writeConfig(t, "server:\n  http_port: 8001\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, p, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  http_port: 8002\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	// Truncate-then-write may surface an intermediate empty file first.
	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case c := <-got:
			seen = c.Server.HTTPPort == 8002
		case <-deadline:
			t.Fatal("no reload with http_port 8002 within 3s")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}
