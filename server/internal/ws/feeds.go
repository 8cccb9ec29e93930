package ws

import (
	"sync"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/activity"
	"github.com/areawatch/areawatch/server/internal/analytics"
	"github.com/areawatch/areawatch/server/internal/store"
)

// Rows is the part of *store.Store the detection feeds read.
type Rows interface {
	All() []types.Detection
	Latest(n int) []types.Detection
	Head() store.Cursor
	Since(c store.Cursor) ([]types.Detection, store.Cursor)
	Version() uint64
}

// initialRows is how many rows a new live client receives.
const initialRows = 50

// LiveMessage carries detection rows column by column, with confidence as a
// percentage, and the summary of the whole log.
type LiveMessage struct {
	Type       string            `json:"type"`
	Timestamp  []string          `json:"timestamp"`
	Class      []string          `json:"class"`
	Confidence []float64         `json:"confidence"`
	Violation  []string          `json:"restricted_area_violation"`
	Summary    analytics.Summary `json:"summary"`
}

func newLiveMessage(kind string, rows, all []types.Detection, now time.Time) LiveMessage {
	m := LiveMessage{
		Type:       kind,
		Timestamp:  make([]string, 0, len(rows)),
		Class:      make([]string, 0, len(rows)),
		Confidence: make([]float64, 0, len(rows)),
		Violation:  make([]string, 0, len(rows)),
		Summary:    analytics.Summarize(all, now),
	}
	for _, d := range rows {
		m.Timestamp = append(m.Timestamp, d.Timestamp.Format(types.TimeLayout))
		m.Class = append(m.Class, d.Class)
		m.Confidence = append(m.Confidence, d.ConfidencePct())
		m.Violation = append(m.Violation, types.FormatViolation(d.Violation))
	}
	return m
}

// LiveFeed pushes rows that arrived since the previous tick.
type LiveFeed struct {
	rows Rows

	mu     sync.Mutex
	cursor store.Cursor

	now func() time.Time
}

// NewLiveFeed starts at the current head of rows.
func NewLiveFeed(rows Rows) *LiveFeed {
	return &LiveFeed{rows: rows, cursor: rows.Head(), now: time.Now}
}

// Initial sends the newest rows, oldest first, with the summary.
func (f *LiveFeed) Initial() (any, error) {
	latest := f.rows.Latest(initialRows)
	for i, j := 0, len(latest)-1; i < j; i, j = i+1, j-1 {
		latest[i], latest[j] = latest[j], latest[i]
	}
	return newLiveMessage("initial", latest, f.rows.All(), f.now()), nil
}

// Next returns the new rows in arrival order, or nil when there are none.
func (f *LiveFeed) Next() (any, error) {
	f.mu.Lock()
	rows, next := f.rows.Since(f.cursor)
	f.cursor = next
	f.mu.Unlock()
	if len(rows) == 0 {
		return nil, nil
	}
	return newLiveMessage("update", rows, f.rows.All(), f.now()), nil
}

// TableMessage is the full log, newest first.
type TableMessage struct {
	Data []analytics.Record `json:"data"`
}

// TableFeed pushes the whole table whenever the log changed.
type TableFeed struct {
	rows Rows

	mu      sync.Mutex
	version uint64
}

// NewTableFeed creates a TableFeed that considers the current version seen.
func NewTableFeed(rows Rows) *TableFeed {
	return &TableFeed{rows: rows, version: rows.Version()}
}

// Initial sends the whole table.
func (f *TableFeed) Initial() (any, error) {
	return TableMessage{Data: analytics.Records(f.rows.Latest(0))}, nil
}

// Next sends the table only when the store version moved.
func (f *TableFeed) Next() (any, error) {
	f.mu.Lock()
	v := f.rows.Version()
	changed := v != f.version
	f.version = v
	f.mu.Unlock()
	if !changed {
		return nil, nil
	}
	return f.Initial()
}

// Events is the part of *activity.Feed the activity stream reads.
type Events interface {
	Feed(limit int, typ string) []activity.Event
}

// activityEvents is how many events each activity message carries.
const activityEvents = 20

// ActivityMessage carries the newest activity events.
type ActivityMessage struct {
	Events []activity.Event `json:"events"`
}

// ActivityFeed pushes the newest events on every tick.
type ActivityFeed struct {
	events Events
}

// NewActivityFeed wraps events.
func NewActivityFeed(events Events) *ActivityFeed {
	return &ActivityFeed{events: events}
}

// Initial sends the newest events.
func (f *ActivityFeed) Initial() (any, error) {
	return ActivityMessage{Events: f.events.Feed(activityEvents, "")}, nil
}

// Next is the same as Initial.
func (f *ActivityFeed) Next() (any, error) { return f.Initial() }
