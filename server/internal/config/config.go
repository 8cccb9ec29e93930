package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/areawatch/areawatch/server/internal/alerts/condition"
)

// AlertsConfig holds alerting rules and delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// ResolveAfter is how long a firing alert stays open without a new
	// matching detection. Defaults to 5 minutes, the incident gap.
	ResolveAfter time.Duration `yaml:"resolve_after"`

	// Email sends a violation alert email on every fire, using the email section.
	Email bool `yaml:"email"`
}

// AlertRule defines one detection-matching alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is one or more "field op value" clauses joined by "&&":
	// "violation == yes", "confidence >= 0.8 && class == person", "hour < 6".
	Condition string `yaml:"condition"`

	// Classes restricts the rule to these detection classes. Empty matches all.
	Classes []string `yaml:"classes"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8000
	DefaultLiveInterval     = time.Second
	DefaultActivityInterval = 2 * time.Second
	DefaultLogPoll          = 2 * time.Second
	DefaultResolveAfter     = 5 * time.Minute
	DefaultSMTPHost         = "smtp.gmail.com"
	DefaultSMTPPort         = 465
	DefaultEmailTimeout     = 15 * time.Second
	DefaultThumbWidth       = 320
	DefaultPruneInterval    = 10 * time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the detection ingest listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API and WebSocket hubs listen on (default 8000).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error (default info).
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Data locates the detection log and the file-backed stores.
	Data DataConfig `yaml:"data"`

	// Live controls the WebSocket push cadence.
	Live LiveConfig `yaml:"live"`

	// Alerts holds rule definitions and delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`

	// Email configures SMTP delivery of reports and violation alerts.
	Email EmailConfig `yaml:"email"`

	// Snapshots controls retention and thumbnails for the frames directory.
	Snapshots SnapshotConfig `yaml:"snapshots"`
}

// Level maps LogLevel to a slog level, defaulting to info.
func (s ServerConfig) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// DataConfig locates the on-disk state.
type DataConfig struct {
	// Dir holds cameras.json, cost_config.json, report_schedules.json and users.db.
	Dir string `yaml:"dir"`

	// LogPath is the detection CSV log. Defaults to <dir>/detection_log.csv.
	LogPath string `yaml:"log_path"`

	// FramesDir holds detector snapshots. Defaults to <dir>/frames.
	FramesDir string `yaml:"frames_dir"`

	// ReportsDir receives generated report JSON. Defaults to <dir>/reports.
	ReportsDir string `yaml:"reports_dir"`

	// Timezone interprets log timestamps (IANA name). Defaults to the host zone.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone, falling back to time.Local.
func (d DataConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LiveConfig controls WebSocket push intervals and log polling.
type LiveConfig struct {
	Interval         time.Duration `yaml:"interval"`
	TableInterval    time.Duration `yaml:"table_interval"`
	ActivityInterval time.Duration `yaml:"activity_interval"`

	// Poll is the fallback log refresh interval when no fsnotify event arrives.
	Poll time.Duration `yaml:"poll"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`

	// SMTPPort 465 uses implicit TLS; any other port requires STARTTLS.
	SMTPPort int    `yaml:"smtp_port"`
	Sender   string `yaml:"sender"`

	// PasswordEnv names the environment variable holding the SMTP password.
	PasswordEnv string `yaml:"password_env"`

	// Recipients is the default recipient list for reports and alerts.
	Recipients []string `yaml:"recipients"`

	Timeout time.Duration `yaml:"timeout"`
}

// Password returns the SMTP password resolved from the environment.
func (e EmailConfig) Password() string {
	if e.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(e.PasswordEnv)
}

// SnapshotConfig controls the frames directory.
type SnapshotConfig struct {
	// MaxAge deletes snapshots older than this. Zero keeps them forever.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxFiles keeps at most this many snapshots, newest first. Zero is unlimited.
	MaxFiles int `yaml:"max_files"`

	// ThumbWidth is the default thumbnail width in pixels.
	ThumbWidth int `yaml:"thumb_width"`

	// PruneInterval is how often retention runs.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	resolvePaths(&cfg.Server.Data)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := defaults()
	resolvePaths(&cfg.Server.Data)
	return cfg
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: "info",
			Data: DataConfig{
				Dir: "data",
			},
			Live: LiveConfig{
				Interval:         DefaultLiveInterval,
				TableInterval:    DefaultLiveInterval,
				ActivityInterval: DefaultActivityInterval,
				Poll:             DefaultLogPoll,
			},
			Alerts: AlertsConfig{
				ResolveAfter: DefaultResolveAfter,
			},
			Email: EmailConfig{
				SMTPHost: DefaultSMTPHost,
				SMTPPort: DefaultSMTPPort,
				Timeout:  DefaultEmailTimeout,
			},
			Snapshots: SnapshotConfig{
				ThumbWidth:    DefaultThumbWidth,
				PruneInterval: DefaultPruneInterval,
			},
		},
	}
}

// resolvePaths fills file locations that were left relative to Data.Dir.
func resolvePaths(d *DataConfig) {
	if d.Dir == "" {
		d.Dir = "data"
	}
	if d.LogPath == "" {
		d.LogPath = d.Dir + "/detection_log.csv"
	}
	if d.FramesDir == "" {
		d.FramesDir = d.Dir + "/frames"
	}
	if d.ReportsDir == "" {
		d.ReportsDir = d.Dir + "/reports"
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Live.Interval <= 0 || s.Live.TableInterval <= 0 || s.Live.ActivityInterval <= 0 || s.Live.Poll <= 0 {
		return fmt.Errorf("server.live intervals must be positive")
	}
	if s.Data.Timezone != "" {
		if _, err := time.LoadLocation(s.Data.Timezone); err != nil {
			return fmt.Errorf("server.data.timezone: %w", err)
		}
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if strings.TrimSpace(r.Condition) == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
		if _, err := condition.Parse(r.Condition); err != nil {
			return fmt.Errorf("server.alerts.rules[%d] %q: %w", i, r.Name, err)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	if s.Alerts.ResolveAfter < 0 {
		return fmt.Errorf("server.alerts.resolve_after must not be negative")
	}
	if s.Email.Enabled && (s.Email.SMTPPort <= 0 || s.Email.SMTPPort > 65535) {
		return fmt.Errorf("server.email.smtp_port %d is out of range [1, 65535]", s.Email.SMTPPort)
	}
	if s.Snapshots.MaxAge < 0 || s.Snapshots.MaxFiles < 0 {
		return fmt.Errorf("server.snapshots retention must not be negative")
	}
	if (s.Snapshots.MaxAge > 0 || s.Snapshots.MaxFiles > 0) && s.Snapshots.PruneInterval <= 0 {
		return fmt.Errorf("server.snapshots.prune_interval must be positive when retention is enabled")
	}
	if s.Snapshots.ThumbWidth <= 0 {
		return fmt.Errorf("server.snapshots.thumb_width must be positive")
	}
	return nil
}
