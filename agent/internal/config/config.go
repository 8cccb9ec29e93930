package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval    = 15 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultFlushInterval     = 2 * time.Second
	DefaultBufferSize        = 5000
	DefaultBatchSize         = 100
	DefaultMinConfidence     = 0.5
	DefaultTargetFPS         = 20
	DefaultAPIKeyHeader      = "x-api-key"
)

// Config is the agent configuration file. Fields map 1:1 to the agent
// section of config.example.yaml.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of areawatch-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// CameraID is the server-side camera this agent reports for. Detections
	// without their own camera_id are stamped with it.
	CameraID string `yaml:"camera_id"`

	ScrapeInterval    time.Duration `yaml:"scrape_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// FlushInterval bounds how long a partial batch waits before it is sent.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BufferSize is the maximum number of detections held in memory while
	// the server is unreachable. The oldest are dropped first.
	BufferSize int `yaml:"buffer_size"`

	// BatchSize is the maximum number of detections per RecordDetections call.
	BatchSize int `yaml:"batch_size"`

	Detector DetectorConfig `yaml:"detector"`

	// Cameras are the stream endpoints probed for reachability and TLS expiry.
	Cameras []CameraProbe `yaml:"cameras"`

	// ServerAuth configures how the agent authenticates to areawatch-server.
	// Supported modes: mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// DetectorConfig locates the external detector's outputs.
type DetectorConfig struct {
	// Output is the JSON-lines file the detector appends one detection to per line.
	Output string `yaml:"output"`

	// MetricsEndpoint is the detector's Prometheus endpoint. Empty disables
	// health scraping; heartbeats then carry the unknown state.
	MetricsEndpoint string `yaml:"metrics_endpoint"`

	// MetricsAuth configures how the agent authenticates to MetricsEndpoint.
	MetricsAuth AuthConfig `yaml:"metrics_auth"`
	TLS         TLSConfig  `yaml:"tls"`

	// RestrictedClasses marks a detection as a violation when the detector
	// line does not say so itself. Matching is case-insensitive.
	RestrictedClasses []string `yaml:"restricted_classes"`

	// MinConfidence drops detections below this confidence (0..1).
	MinConfidence float64 `yaml:"min_confidence"`

	// TargetFPS is the frame rate the detector is expected to sustain.
	TargetFPS float64 `yaml:"target_fps"`

	// BaselineLatency is the acceptable inference latency. Zero disables the
	// latency penalty.
	BaselineLatency time.Duration `yaml:"baseline_latency"`
}

// Restricted reports whether class is one of the restricted classes.
func (d DetectorConfig) Restricted(class string) bool {
	for _, c := range d.RestrictedClasses {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(class)) {
			return true
		}
	}
	return false
}

// CameraProbe is one camera stream endpoint, e.g. rtsps://10.0.0.5:322/live.
type CameraProbe struct {
	Name string    `yaml:"name"`
	URL  string    `yaml:"url"`
	TLS  TLSConfig `yaml:"tls"`
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header or gRPC metadata key carrying the API key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token variable name.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns Header, or the server's default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultAPIKeyHeader
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Expiry is still
	// read from the presented certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval:    DefaultScrapeInterval,
			HeartbeatInterval: DefaultHeartbeatInterval,
			FlushInterval:     DefaultFlushInterval,
			BufferSize:        DefaultBufferSize,
			BatchSize:         DefaultBatchSize,
			Detector: DetectorConfig{
				MinConfidence: DefaultMinConfidence,
				TargetFPS:     DefaultTargetFPS,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.Detector.Output == "" {
		return fmt.Errorf("agent.detector.output is required")
	}
	if a.ScrapeInterval <= 0 || a.HeartbeatInterval <= 0 || a.FlushInterval <= 0 {
		return fmt.Errorf("agent intervals must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.BatchSize <= 0 || a.BatchSize > a.BufferSize {
		return fmt.Errorf("agent.batch_size must be in [1, buffer_size], got %d", a.BatchSize)
	}
	if c := a.Detector.MinConfidence; c < 0 || c > 1 {
		return fmt.Errorf("agent.detector.min_confidence must be in [0, 1], got %v", c)
	}
	if a.Detector.TargetFPS < 0 {
		return fmt.Errorf("agent.detector.target_fps must not be negative")
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	switch a.Detector.MetricsAuth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("agent.detector.metrics_auth: unknown mode %q", a.Detector.MetricsAuth.Mode)
	}
	for i, cam := range a.Cameras {
		if cam.URL == "" {
			return fmt.Errorf("cameras[%d] %q: url is required", i, cam.Name)
		}
	}
	return nil
}
