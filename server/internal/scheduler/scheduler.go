package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/areawatch/areawatch/server/internal/reports"
)

// ErrNotFound is returned for an unknown schedule id.
var ErrNotFound = errors.New("scheduler: schedule not found")

// ErrInvalid wraps every validation failure from Add.
var ErrInvalid = errors.New("scheduler: invalid schedule")

// Frequencies.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// Runner delivers one report.
type Runner interface {
	Deliver(ctx context.Context, req reports.Request) (reports.Delivery, error)
}

// Schedule is a recurring report delivery.
type Schedule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	ReportType      string     `json:"report_type"`
	TemplateType    string     `json:"template_type"`
	Frequency       string     `json:"frequency"`
	Time            string     `json:"time"`
	DayOfWeek       int        `json:"day_of_week"`  // 0=Monday
	DayOfMonth      int        `json:"day_of_month"` // 1..28
	EmailRecipients []string   `json:"email_recipients"`
	ComplianceType  string     `json:"compliance_type,omitempty"`
	IncludeCSV      bool       `json:"include_csv"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRun         *time.Time `json:"last_run"`
	LastStatus      string     `json:"last_status,omitempty"`
	NextRun         *time.Time `json:"next_run,omitempty"`
}

// Spec is the cron expression for s: minute hour day-of-month month day-of-week.
func (s Schedule) Spec() (string, error) {
	hour, minute, err := parseClock(s.Time)
	if err != nil {
		return "", err
	}
	switch s.Frequency {
	case Daily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case Weekly:
		// cron counts Sunday as 0
		return fmt.Sprintf("%d %d * * %d", minute, hour, (s.DayOfWeek+1)%7), nil
	case Monthly:
		return fmt.Sprintf("%d %d %d * *", minute, hour, s.DayOfMonth), nil
	default:
		return "", fmt.Errorf("%w: frequency %q", ErrInvalid, s.Frequency)
	}
}

func (s *Schedule) normalize() error {
	s.ReportType = strings.ToLower(strings.TrimSpace(s.ReportType))
	s.Frequency = strings.ToLower(strings.TrimSpace(s.Frequency))
	switch s.ReportType {
	case reports.KindDaily, reports.KindWeekly, reports.KindMonthly:
	case reports.KindCompliance:
		if s.ComplianceType == "" {
			s.ComplianceType = reports.OSHA
		}
		s.ComplianceType = strings.ToUpper(s.ComplianceType)
		switch s.ComplianceType {
		case reports.OSHA, reports.ISO, reports.SOC2:
		default:
			return fmt.Errorf("%w: compliance type %q", ErrInvalid, s.ComplianceType)
		}
	default:
		return fmt.Errorf("%w: report type %q", ErrInvalid, s.ReportType)
	}
	if s.TemplateType == "" {
		s.TemplateType = reports.TemplateSummary
	}
	if s.Frequency == Monthly && s.DayOfMonth == 0 {
		s.DayOfMonth = 1
	}
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week %d not in 0..6", ErrInvalid, s.DayOfWeek)
	}
	if s.Frequency == Monthly && (s.DayOfMonth < 1 || s.DayOfMonth > 28) {
		return fmt.Errorf("%w: day_of_month %d not in 1..28", ErrInvalid, s.DayOfMonth)
	}
	if s.Name == "" {
		s.Name = strings.ToUpper(s.ReportType[:1]) + s.ReportType[1:] + " report"
	}
	_, err := s.Spec()
	return err
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalid, s)
	}
	return t.Hour(), t.Minute(), nil
}

// Scheduler owns the schedules and their cron entries.
type Scheduler struct {
	path   string
	runner Runner
	cron   *cron.Cron
	loc    *time.Location

	// now is replaced in tests.
	now func() time.Time

	running atomic.Bool

	mu        sync.Mutex
	schedules []*Schedule
	entries   map[string]cron.EntryID
	jobCtx    context.Context
}

// New loads the schedules stored at path and registers the active ones.
// A missing file starts empty. Jobs fire in loc; nil means time.Local.
func New(path string, runner Runner, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		path:    path,
		runner:  runner,
		loc:     loc,
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
		jobCtx:  context.Background(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("scheduler: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.schedules); err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", path, err)
	}
	for _, sc := range s.schedules {
		if !sc.Active {
			continue
		}
		if err := s.register(sc); err != nil {
			slog.Warn("scheduler: schedule not registered", "id", sc.ID, "err", err)
		}
	}
	slog.Info("scheduler: loaded", "schedules", len(s.schedules), "active", len(s.entries))
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.jobCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.running.Store(true)
	<-ctx.Done()
	s.running.Store(false)
	<-s.cron.Stop().Done()
	slog.Info("scheduler: stopped")
}

// Running reports whether the cron loop is started.
func (s *Scheduler) Running() bool { return s.running.Load() }

// List returns every schedule with its next fire time.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, s.view(sc))
	}
	return out
}

// Get returns the schedule with id.
func (s *Scheduler) Get(id string) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.find(id)
	if sc == nil {
		return Schedule{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s.view(sc), nil
}

// Add validates sc, assigns an id, registers it when active and persists.
func (s *Scheduler) Add(sc Schedule) (Schedule, error) {
	if err := sc.normalize(); err != nil {
		return Schedule{}, err
	}
	sc.ID = "schedule_" + uuid.NewString()
	sc.CreatedAt = s.now()
	sc.LastRun = nil
	sc.LastStatus = ""
	sc.NextRun = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	added := &sc
	if sc.Active {
		if err := s.register(added); err != nil {
			return Schedule{}, err
		}
	}
	s.schedules = append(s.schedules, added)
	if err := s.save(); err != nil {
		s.unregister(added.ID)
		s.schedules = s.schedules[:len(s.schedules)-1]
		return Schedule{}, err
	}
	slog.Info("scheduler: schedule added", "id", added.ID, "name", added.Name, "frequency", added.Frequency)
	return s.view(added), nil
}

// Remove unregisters and deletes the schedule with id.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sc := range s.schedules {
		if sc.ID != id {
			continue
		}
		s.unregister(id)
		s.schedules = append(s.schedules[:i], s.schedules[i+1:]...)
		return s.save()
	}
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}

// Toggle activates or deactivates the schedule with id.
func (s *Scheduler) Toggle(id string, active bool) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.find(id)
	if sc == nil {
		return Schedule{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	sc.Active = active
	if active {
		if err := s.register(sc); err != nil {
			return Schedule{}, err
		}
	} else {
		s.unregister(id)
	}
	if err := s.save(); err != nil {
		return Schedule{}, err
	}
	return s.view(sc), nil
}

// ExecuteNow runs the schedule synchronously and records the outcome.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string) (reports.Delivery, error) {
	s.mu.Lock()
	sc := s.find(id)
	if sc == nil {
		s.mu.Unlock()
		return reports.Delivery{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	snapshot := *sc
	s.mu.Unlock()
	return s.execute(ctx, snapshot)
}

func (s *Scheduler) execute(ctx context.Context, sc Schedule) (reports.Delivery, error) {
	slog.Info("scheduler: executing", "id", sc.ID, "name", sc.Name, "report", sc.ReportType)
	d, err := s.runner.Deliver(ctx, reports.Request{
		ReportType:     sc.ReportType,
		TemplateType:   sc.TemplateType,
		ComplianceType: sc.ComplianceType,
		Recipients:     sc.EmailRecipients,
		IncludeCSV:     sc.IncludeCSV,
		IncludeCharts:  true,
	})
	status := d.Status
	if err != nil {
		status = "error: " + err.Error()
		slog.Error("scheduler: report failed", "id", sc.ID, "err", err)
	}

	ran := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.find(sc.ID); cur != nil {
		cur.LastRun = &ran
		cur.LastStatus = status
		if saveErr := s.save(); saveErr != nil {
			slog.Error("scheduler: persist last run", "id", sc.ID, "err", saveErr)
		}
	}
	return d, err
}

func (s *Scheduler) register(sc *Schedule) error {
	spec, err := sc.Spec()
	if err != nil {
		return err
	}
	s.unregister(sc.ID)
	id := sc.ID
	entry, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		cur := s.find(id)
		ctx := s.jobCtx
		var snapshot Schedule
		if cur != nil {
			snapshot = *cur
		}
		s.mu.Unlock()
		if cur == nil {
			return
		}
		_, _ = s.execute(ctx, snapshot)
	})
	if err != nil {
		return fmt.Errorf("scheduler: cron %q: %w", spec, err)
	}
	s.entries[id] = entry
	return nil
}

func (s *Scheduler) unregister(id string) {
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

func (s *Scheduler) find(id string) *Schedule {
	for _, sc := range s.schedules {
		if sc.ID == id {
			return sc
		}
	}
	return nil
}

// view copies sc and fills NextRun. Callers hold mu.
func (s *Scheduler) view(sc *Schedule) Schedule {
	out := *sc
	out.EmailRecipients = append([]string(nil), sc.EmailRecipients...)
	out.NextRun = nil
	if entry, ok := s.entries[sc.ID]; ok {
		if next := s.cron.Entry(entry).Next; !next.IsZero() {
			out.NextRun = &next
		} else if spec, err := sc.Spec(); err == nil {
			if sched, err := cron.ParseStandard(spec); err == nil {
				n := sched.Next(s.now().In(s.loc))
				out.NextRun = &n
			}
		}
	}
	return out
}

// save writes the schedules atomically. Callers hold mu.
func (s *Scheduler) save() error {
	list := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		c := *sc
		c.NextRun = nil
		list = append(list, c)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("scheduler: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("scheduler: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("scheduler: replace %q: %w", s.path, err)
	}
	return nil
}
