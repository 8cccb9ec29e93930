package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/alerts/condition"
	"github.com/areawatch/areawatch/server/internal/config"
	"github.com/areawatch/areawatch/server/internal/mailer"
)

const (
	defaultCooldown     = 15 * time.Minute
	defaultResolveAfter = config.DefaultResolveAfter
	maxHistoryLen       = 200
	recentWindowHours   = 1
	defaultCamera       = "default"
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID          string     `json:"id"`
	RuleName    string     `json:"rule_name"`
	CameraID    string     `json:"camera_id"`
	Class       string     `json:"class"`
	Severity    string     `json:"severity"`
	Message     string     `json:"message"`
	Confidence  float64    `json:"confidence"`
	Matches     int        `json:"matches"`
	FiredAt     time.Time  `json:"fired_at"`
	LastMatchAt time.Time  `json:"last_match_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	State       string     `json:"state"`
}

// Notifier sends violation emails.
type Notifier interface {
	SendViolationAlert(ctx context.Context, v mailer.Violation, recipients []string) mailer.Result
}

type rule struct {
	config.AlertRule
	cond    condition.Condition
	classes map[string]bool
}

func (r rule) match(d types.Detection) bool {
	if len(r.classes) > 0 && !r.classes[strings.ToLower(d.Class)] {
		return false
	}
	return r.cond.Match(d)
}

func compile(cfg config.AlertsConfig) ([]rule, error) {
	out := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		cond, err := condition.Parse(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		cr := rule{AlertRule: r, cond: cond}
		if len(r.Classes) > 0 {
			cr.classes = make(map[string]bool, len(r.Classes))
			for _, c := range r.Classes {
				cr.classes[strings.ToLower(c)] = true
			}
		}
		if cr.Severity == "" {
			cr.Severity = "warning"
		}
		if cr.Cooldown <= 0 {
			cr.Cooldown = defaultCooldown
		}
		out = append(out, cr)
	}
	return out, nil
}

// Engine evaluates alert rules against new detections and delivers
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu           sync.Mutex
	rules        []rule
	webhooks     []config.WebhookConfig
	resolveAfter time.Duration
	email        bool

	notifier   Notifier
	snapshot   func() string
	transition func(Alert)

	active   map[string]*Alert    // key: "ruleName:cameraID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	wg       sync.WaitGroup

	// now is replaced in tests.
	now func() time.Time
}

// New creates an Engine from the server alert configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	if err := e.SetRules(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// SetRules swaps rules, webhooks and delivery settings. Open alerts stay open.
func (e *Engine) SetRules(cfg config.AlertsConfig) error {
	rules, err := compile(cfg)
	if err != nil {
		return err
	}
	resolve := cfg.ResolveAfter
	if resolve <= 0 {
		resolve = defaultResolveAfter
	}
	e.mu.Lock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	e.resolveAfter = resolve
	e.email = cfg.Email
	e.mu.Unlock()
	slog.Info("alerts: rules loaded", "rules", len(rules), "webhooks", len(cfg.Webhooks))
	return nil
}

// SetNotifier enables violation emails through n. latest returns the newest
// snapshot path to attach, or "".
func (e *Engine) SetNotifier(n Notifier, latest func() string) {
	e.mu.Lock()
	e.notifier = n
	e.snapshot = latest
	e.mu.Unlock()
}

// OnTransition registers fn to observe every fire and resolve.
func (e *Engine) OnTransition(fn func(Alert)) {
	e.mu.Lock()
	e.transition = fn
	e.mu.Unlock()
}

// Evaluate tests every rule against each detection. A match on an open alert
// extends it; otherwise a new alert fires unless the rule's cooldown for that
// camera has not elapsed.
func (e *Engine) Evaluate(ds []types.Detection) {
	e.mu.Lock()
	if len(e.rules) == 0 {
		e.mu.Unlock()
		return
	}
	now := e.now()
	var fired []Alert
	for _, d := range ds {
		cam := d.CameraID
		if cam == "" {
			cam = defaultCamera
		}
		for _, r := range e.rules {
			if !r.match(d) {
				continue
			}
			key := r.Name + ":" + cam
			if a, ok := e.active[key]; ok {
				a.Matches++
				a.LastMatchAt = now
				continue
			}
			if last, ok := e.lastFire[key]; ok && now.Sub(last) < r.Cooldown {
				continue
			}
			a := &Alert{
				ID:         uuid.NewString(),
				RuleName:   r.Name,
				CameraID:   cam,
				Class:      d.Class,
				Severity:   r.Severity,
				Confidence: d.Confidence,
				Matches:    1,
				Message: fmt.Sprintf("[%s] %s fired on %s: %s detected at %.1f%% confidence",
					r.Severity, r.Name, cam, d.Class, d.ConfidencePct()),
				FiredAt:     now,
				LastMatchAt: now,
				State:       StateFiring,
			}
			e.active[key] = a
			e.lastFire[key] = now
			fired = append(fired, *a)

			slog.Warn("alert fired",
				"rule", r.Name,
				"camera", cam,
				"class", d.Class,
				"confidence", d.Confidence,
				"severity", r.Severity,
			)
		}
	}
	e.mu.Unlock()

	for i := range fired {
		e.dispatch(fired[i])
	}
}

// Sweep resolves alerts with no matching detection for resolve_after.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	var resolved []Alert
	for key, a := range e.active {
		if now.Sub(a.LastMatchAt) < e.resolveAfter {
			continue
		}
		at := now
		a.State = StateResolved
		a.ResolvedAt = &at
		delete(e.active, key)

		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		resolved = append(resolved, *a)
		slog.Info("alert resolved", "rule", a.RuleName, "camera", a.CameraID, "matches", a.Matches)
	}
	e.mu.Unlock()

	for i := range resolved {
		e.dispatch(resolved[i])
	}
	return len(resolved)
}

// Run sweeps every interval until ctx is cancelled, then waits for in-flight
// deliveries.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case <-t.C:
			e.Sweep(e.now())
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (e *Engine) Wait() { e.wg.Wait() }

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// dispatch hands a to the transition hook and starts asynchronous delivery.
func (e *Engine) dispatch(a Alert) {
	e.mu.Lock()
	hook := e.transition
	e.mu.Unlock()
	if hook != nil {
		hook(a)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(&a)
	}()
}
