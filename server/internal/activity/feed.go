package activity

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

// Feed limits.
const (
	MaxEvents       = 1000
	SyncDetections  = 500
	SyncUserEntries = 200
)

// Event types.
const (
	TypeDetection    = "detection"
	TypeUserActivity = "user_activity"
	TypeAlertFired   = "alert_fired"
	TypeAlertCleared = "alert_resolved"
)

// Event is one feed entry.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	IsViolation *bool          `json:"is_violation,omitempty"`
	Class       string         `json:"class,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	CameraID    string         `json:"camera_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	User        string         `json:"user,omitempty"`
	Action      string         `json:"action,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// UserEntry is a logged user action.
type UserEntry struct {
	Timestamp time.Time
	User      string
	Action    string
	Details   string
	Status    string
}

// Feed is the newest-first event list. It is safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	events []Event
	seq    uint64

	// now is replaced in tests.
	now func() time.Time
}

// New returns an empty Feed.
func New() *Feed {
	return &Feed{now: time.Now}
}

// Sync rebuilds the feed from the newest detections and the user log.
// Detections come first, newest first, followed by user entries in the given
// order. It returns the new event count.
func (f *Feed) Sync(ds []types.Detection, users []UserEntry) int {
	rows := append([]types.Detection(nil), ds...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	if len(rows) > SyncDetections {
		rows = rows[:SyncDetections]
	}
	if len(users) > SyncUserEntries {
		users = users[:SyncUserEntries]
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = make([]Event, 0, len(rows)+len(users))
	f.seq = 0
	for _, d := range rows {
		f.events = append(f.events, f.detectionEvent(d))
	}
	for _, u := range users {
		f.events = append(f.events, f.userEvent(u))
	}
	return len(f.events)
}

// Add inserts an event of type typ at the front of the feed.
func (f *Feed) Add(typ string, data map[string]any) Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := Event{ID: f.nextID(), Timestamp: f.now(), Type: typ, Data: data}
	f.push(ev)
	return ev
}

// AddDetections inserts one detection event per row, newest at the front.
func (f *Feed) AddDetections(ds []types.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range ds {
		f.push(f.detectionEvent(d))
	}
}

// AddUser inserts a user action at the front.
func (f *Feed) AddUser(u UserEntry) Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.userEvent(u)
	f.push(ev)
	return ev
}

// Feed returns up to limit of the newest events. typ, when set, filters the
// already-limited slice.
func (f *Feed) Feed(limit int, typ string) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.events)
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for _, ev := range f.events[:n] {
		if typ == "" || ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Total is the number of events held.
func (f *Feed) Total() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events)
}

// push prepends ev, dropping the oldest beyond MaxEvents. Callers hold mu.
func (f *Feed) push(ev Event) {
	f.events = append(f.events, Event{})
	copy(f.events[1:], f.events)
	f.events[0] = ev
	if len(f.events) > MaxEvents {
		f.events = f.events[:MaxEvents]
	}
}

func (f *Feed) nextID() string {
	f.seq++
	return strconv.FormatUint(f.seq, 10)
}

func (f *Feed) detectionEvent(d types.Detection) Event {
	v := d.Violation
	return Event{
		ID:          f.nextID(),
		Timestamp:   d.Timestamp,
		Type:        TypeDetection,
		Title:       "Detection: " + d.Class,
		Description: fmt.Sprintf("Confidence: %.1f%%", d.Confidence*100),
		IsViolation: &v,
		Class:       d.Class,
		Confidence:  d.ConfidencePct(),
		CameraID:    d.CameraID,
	}
}

func (f *Feed) userEvent(u UserEntry) Event {
	user, action, status := u.User, u.Action, u.Status
	if user == "" {
		user = "Unknown"
	}
	if action == "" {
		action = "Unknown"
	}
	if status == "" {
		status = "success"
	}
	ts := u.Timestamp
	if ts.IsZero() {
		ts = f.now()
	}
	return Event{
		ID:          f.nextID(),
		Timestamp:   ts,
		Type:        TypeUserActivity,
		Title:       user + ": " + action,
		Description: u.Details,
		Status:      status,
		User:        user,
		Action:      action,
	}
}
