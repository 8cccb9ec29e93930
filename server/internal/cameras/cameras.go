package cameras

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/areawatch/areawatch/pkg/types"
)

var (
	// ErrNotFound is returned when no camera has the requested id.
	ErrNotFound = errors.New("camera not found")

	// ErrDuplicateName is returned when another camera already uses the name.
	ErrDuplicateName = errors.New("camera with this name already exists")

	// ErrInvalid wraps validation failures of a Config.
	ErrInvalid = errors.New("invalid camera")
)

// Defaults applied to new cameras.
const (
	DefaultResolution = "640x480"
	DefaultFPS        = 20
)

// Change kinds passed to the change hook.
const (
	Added   = "camera_added"
	Updated = "camera_updated"
	Deleted = "camera_deleted"
)

// Config is the user-editable part of a camera.
type Config struct {
	Name             string   `json:"name"`
	URL              string   `json:"url"`
	Location         string   `json:"location"`
	Resolution       string   `json:"resolution"`
	FPS              int      `json:"fps"`
	DetectionClasses []string `json:"detection_classes"`
	AlertClasses     []string `json:"alert_classes"`
	Enabled          *bool    `json:"enabled,omitempty"`
}

func (c *Config) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if c.Resolution == "" {
		c.Resolution = DefaultResolution
	}
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.FPS < 0 {
		return fmt.Errorf("%w: fps %d must be positive", ErrInvalid, c.FPS)
	}
	if c.DetectionClasses == nil {
		c.DetectionClasses = []string{}
	}
	if c.AlertClasses == nil {
		c.AlertClasses = []string{}
	}
	return nil
}

// Camera is one configured camera as stored in cameras.json.
type Camera struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	Enabled          bool       `json:"enabled"`
	Resolution       string     `json:"resolution"`
	FPS              int        `json:"fps"`
	Location         string     `json:"location"`
	DetectionClasses []string   `json:"detection_classes"`
	AlertClasses     []string   `json:"alert_classes"`
	CreatedAt        time.Time  `json:"created_at"`
	LastActive       *time.Time `json:"last_active"`
	Status           string     `json:"status"`

	// Set from agent heartbeats.
	HealthScore float64 `json:"health_score,omitempty"`
	HealthState string  `json:"health_state,omitempty"`
	Detail      string  `json:"detail,omitempty"`
}

func (c *Camera) apply(cfg Config) {
	c.Name = cfg.Name
	c.URL = cfg.URL
	c.Resolution = cfg.Resolution
	c.FPS = cfg.FPS
	c.Location = cfg.Location
	c.DetectionClasses = cfg.DetectionClasses
	c.AlertClasses = cfg.AlertClasses
	if cfg.Enabled != nil {
		c.Enabled = *cfg.Enabled
	}
}

// Health summarises camera status for the health endpoints.
type Health struct {
	Total   int `json:"total_count"`
	Online  int `json:"online_count"`
	Offline int `json:"offline_count"`
}

// ChangeFunc observes successful mutations.
type ChangeFunc func(kind string, c Camera)

type file struct {
	Cameras []Camera `json:"cameras"`
}

// Store is the camera registry. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	path     string
	cameras  []Camera
	onChange ChangeFunc

	now func() time.Time
}

// Open loads path. A missing file is an empty registry.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cameras: read %q: %w", path, err)
	}
	var f file
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("cameras: parse %q: %w", path, err)
		}
	}
	s.cameras = f.Cameras
	return s, nil
}

// OnChange registers fn to be called after every add, update and delete.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// List returns all cameras in insertion order.
func (s *Store) List() []Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Camera, len(s.cameras))
	copy(out, s.cameras)
	return out
}

// Get returns the camera with id.
func (s *Store) Get(id string) (Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return Camera{}, fmt.Errorf("cameras: %q: %w", id, ErrNotFound)
	}
	return s.cameras[i], nil
}

// Create adds a new offline camera.
func (s *Store) Create(cfg Config) (Camera, error) {
	if err := cfg.normalize(); err != nil {
		return Camera{}, err
	}
	s.mu.Lock()
	if s.nameTaken(cfg.Name, "") {
		s.mu.Unlock()
		return Camera{}, fmt.Errorf("cameras: %q: %w", cfg.Name, ErrDuplicateName)
	}
	c := Camera{
		ID:        "cam_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Enabled:   true,
		CreatedAt: s.now(),
		Status:    types.CameraOffline,
	}
	c.apply(cfg)
	s.cameras = append(s.cameras, c)
	if err := s.save(); err != nil {
		s.cameras = s.cameras[:len(s.cameras)-1]
		s.mu.Unlock()
		return Camera{}, err
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(Added, c)
	}
	return c, nil
}

// Update replaces the editable fields of camera id. Status and timestamps are kept.
func (s *Store) Update(id string, cfg Config) (Camera, error) {
	if err := cfg.normalize(); err != nil {
		return Camera{}, err
	}
	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return Camera{}, fmt.Errorf("cameras: %q: %w", id, ErrNotFound)
	}
	if s.nameTaken(cfg.Name, id) {
		s.mu.Unlock()
		return Camera{}, fmt.Errorf("cameras: %q: %w", cfg.Name, ErrDuplicateName)
	}
	prev := s.cameras[i]
	s.cameras[i].apply(cfg)
	if err := s.save(); err != nil {
		s.cameras[i] = prev
		s.mu.Unlock()
		return Camera{}, err
	}
	c, fn := s.cameras[i], s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(Updated, c)
	}
	return c, nil
}

// Delete removes camera id and returns it.
func (s *Store) Delete(id string) (Camera, error) {
	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return Camera{}, fmt.Errorf("cameras: %q: %w", id, ErrNotFound)
	}
	prev := s.cameras
	c := s.cameras[i]
	s.cameras = append(append([]Camera(nil), prev[:i]...), prev[i+1:]...)
	if err := s.save(); err != nil {
		s.cameras = prev
		s.mu.Unlock()
		return Camera{}, err
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(Deleted, c)
	}
	return c, nil
}

// ReportStatus applies an agent heartbeat to its camera.
func (s *Store) ReportStatus(cs types.CameraStatus) (Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(cs.CameraID)
	if i < 0 {
		return Camera{}, fmt.Errorf("cameras: %q: %w", cs.CameraID, ErrNotFound)
	}
	at := cs.ReportedAt
	if at.IsZero() {
		at = s.now()
	}
	c := &s.cameras[i]
	c.Status = cs.Status
	if c.Status == "" {
		c.Status = types.CameraOnline
	}
	c.HealthScore = types.Round2(cs.Score)
	c.HealthState = cs.State
	c.Detail = cs.Detail
	if c.Status != types.CameraOffline {
		c.LastActive = &at
	}
	if err := s.save(); err != nil {
		return Camera{}, err
	}
	return *c, nil
}

// Health counts cameras by status. Anything not online counts as offline.
func (s *Store) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{Total: len(s.cameras)}
	for _, c := range s.cameras {
		if c.Status == types.CameraOnline {
			h.Online++
		}
	}
	h.Offline = h.Total - h.Online
	return h
}

func (s *Store) index(id string) int {
	for i, c := range s.cameras {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) nameTaken(name, except string) bool {
	for _, c := range s.cameras {
		if c.Name == name && c.ID != except {
			return true
		}
	}
	return false
}

// save writes the registry atomically. Caller holds s.mu.
func (s *Store) save() error {
	cams := s.cameras
	if cams == nil {
		cams = []Camera{}
	}
	data, err := json.MarshalIndent(file{Cameras: cams}, "", "  ")
	if err != nil {
		return fmt.Errorf("cameras: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cameras: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cameras: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cameras: replace %q: %w", s.path, err)
	}
	return nil
}
