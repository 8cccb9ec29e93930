package users

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUserExists is returned by Signup when the username is taken.
	ErrUserExists = errors.New("username already exists")

	// ErrNoSession is returned for unknown or expired tokens.
	ErrNoSession = errors.New("session not found")

	// ErrInvalid wraps malformed input.
	ErrInvalid = errors.New("invalid input")
)

// MaxActivity is the number of activity rows kept.
const MaxActivity = 1000

// Action names written by this package.
const (
	ActionLogin        = "login_success"
	ActionLoginFailed  = "login_failed"
	ActionLogout       = "logout"
	ActionSignup       = "signup_success"
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	systemUser         = "system"
	defaultActionLimit = 100
)

// Session is one logged-in client.
type Session struct {
	Token     string    `json:"token,omitempty"`
	Username  string    `json:"username"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity is one entry of the user activity log.
type Activity struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ip_address"`
	Status    string    `json:"status"`
}

// Stats summarises the activity log.
type Stats struct {
	TotalUsers   int       `json:"total_users"`
	TotalActions int       `json:"total_actions"`
	ActiveToday  int       `json:"active_today"`
	UniqueIPs    int       `json:"unique_ips"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store is the SQLite-backed account store.
type Store struct {
	db   *sql.DB
	cost int

	// onActivity observes every logged entry.
	onActivity func(Activity)

	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS activity (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	user       TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'success'
);
CREATE INDEX IF NOT EXISTS idx_activity_user ON activity(user);
CREATE INDEX IF NOT EXISTS idx_activity_action ON activity(action);
`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("users: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("users: open %q: %w", path, err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("users: create schema: %w", err)
	}
	return &Store{db: db, cost: bcrypt.DefaultCost, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// OnActivity registers fn to observe every logged activity entry.
func (s *Store) OnActivity(fn func(Activity)) { s.onActivity = fn }

// Signup creates an account and returns an auto-login session.
func (s *Store) Signup(ctx context.Context, username, password, email, ip string) (Session, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || password == "" {
		return Session{}, fmt.Errorf("users: signup: %w: username and password are required", ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("users: hash password: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return Session{}, fmt.Errorf("users: signup: %w", err)
	}
	if exists > 0 {
		return Session{}, fmt.Errorf("users: %q: %w", username, ErrUserExists)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, email, created_at) VALUES (?, ?, ?, ?)`,
		username, string(hash), email, s.now().UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("users: insert %q: %w", username, err)
	}

	details := "New user registered"
	if email != "" {
		details += " with email: " + email
	}
	s.log(ctx, Activity{User: username, Action: ActionSignup, Details: details, IPAddress: ip, Status: StatusSuccess})
	return s.newSession(ctx, username, ip)
}

// Login checks credentials, case-insensitively on the username, and opens a
// session under the stored spelling of the name.
func (s *Store) Login(ctx context.Context, username, password, ip string) (Session, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	var stored, hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash FROM users WHERE username = ?`, username).Scan(&stored, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		s.log(ctx, Activity{User: username, Action: ActionLoginFailed, Details: "User not found", IPAddress: ip, Status: StatusFailed})
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("users: login: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		s.log(ctx, Activity{User: stored, Action: ActionLoginFailed, Details: "Invalid password", IPAddress: ip, Status: StatusFailed})
		return Session{}, ErrInvalidCredentials
	}

	sess, err := s.newSession(ctx, stored, ip)
	if err != nil {
		return Session{}, err
	}
	s.log(ctx, Activity{User: stored, Action: ActionLogin, Details: "User logged in successfully", IPAddress: ip, Status: StatusSuccess})
	return sess, nil
}

// Logout ends the session for token. It reports whether a session existed.
func (s *Store) Logout(ctx context.Context, token, ip string) (bool, error) {
	sess, err := s.Session(ctx, token)
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return false, fmt.Errorf("users: logout: %w", err)
	}
	s.log(ctx, Activity{User: sess.Username, Action: ActionLogout, Details: "User logged out", IPAddress: ip, Status: StatusSuccess})
	return true, nil
}

// Session looks up token.
func (s *Store) Session(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoSession
	}
	var (
		sess Session
		ts   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, username, ip_address, created_at FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.Username, &sess.IPAddress, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("users: session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, ts)
	return sess, nil
}

// ValidSession reports whether token belongs to an open session.
func (s *Store) ValidSession(ctx context.Context, token string) bool {
	_, err := s.Session(ctx, token)
	return err == nil
}

// Sessions lists open sessions, oldest first. Tokens are not included.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, ip_address, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("users: sessions: %w", err)
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		var (
			sess Session
			ts   int64
		)
		if err := rows.Scan(&sess.Username, &sess.IPAddress, &ts); err != nil {
			return nil, fmt.Errorf("users: scan session: %w", err)
		}
		sess.CreatedAt = time.Unix(0, ts)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// LogActivity appends an entry. Status defaults to success.
func (s *Store) LogActivity(ctx context.Context, a Activity) (Activity, error) {
	if strings.TrimSpace(a.Action) == "" {
		return Activity{}, fmt.Errorf("users: log activity: %w: action is required", ErrInvalid)
	}
	return s.insert(ctx, a)
}

// Activity returns up to limit entries, newest first, filtered by user and
// action when they are non-empty, plus the unfiltered total.
func (s *Store) Activity(ctx context.Context, limit int, user, action string) ([]Activity, int, error) {
	if limit <= 0 {
		limit = defaultActionLimit
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count activity: %w", err)
	}

	q := `SELECT id, ts, user, action, details, ip_address, status FROM activity WHERE 1=1`
	var args []any
	if user != "" {
		q += ` AND user = ?`
		args = append(args, user)
	}
	if action != "" {
		q += ` AND action = ?`
		args = append(args, action)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: query activity: %w", err)
	}
	defer rows.Close()
	out := []Activity{}
	for rows.Next() {
		var (
			a  Activity
			id int64
			ts int64
		)
		if err := rows.Scan(&id, &ts, &a.User, &a.Action, &a.Details, &a.IPAddress, &a.Status); err != nil {
			return nil, 0, fmt.Errorf("users: scan activity: %w", err)
		}
		a.ID = strconv.FormatInt(id, 10)
		a.Timestamp = time.Unix(0, ts)
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// Stats counts distinct users, non-system actions, users active in the 24
// hours before now, and distinct client addresses.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{Timestamp: now}
	cutoff := now.Add(-24 * time.Hour).UnixNano()
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT CASE WHEN user != '' THEN user END),
			COUNT(CASE WHEN user != '' AND user != ? THEN 1 END),
			COUNT(DISTINCT CASE WHEN user != '' AND ts >= ? THEN user END),
			COUNT(DISTINCT CASE WHEN ip_address != '' THEN ip_address END)
		FROM activity`, systemUser, cutoff).
		Scan(&st.TotalUsers, &st.TotalActions, &st.ActiveToday, &st.UniqueIPs)
	if err != nil {
		return Stats{}, fmt.Errorf("users: stats: %w", err)
	}
	return st, nil
}

func (s *Store) newSession(ctx context.Context, username, ip string) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	sess := Session{Token: token, Username: username, IPAddress: ip, CreatedAt: s.now()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, username, ip_address, created_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.Username, sess.IPAddress, sess.CreatedAt.UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("users: create session: %w", err)
	}
	return sess, nil
}

// log records an entry produced by this package. Failures only lose the entry.
func (s *Store) log(ctx context.Context, a Activity) {
	_, _ = s.insert(ctx, a)
}

func (s *Store) insert(ctx context.Context, a Activity) (Activity, error) {
	if a.Status == "" {
		a.Status = StatusSuccess
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (ts, user, action, details, ip_address, status) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Timestamp.UnixNano(), a.User, a.Action, a.Details, a.IPAddress, a.Status)
	if err != nil {
		return Activity{}, fmt.Errorf("users: insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Activity{}, fmt.Errorf("users: insert activity: %w", err)
	}
	a.ID = strconv.FormatInt(id, 10)

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM activity WHERE id <= (SELECT id FROM activity ORDER BY id DESC LIMIT 1 OFFSET ?)`, MaxActivity)
	if err != nil {
		return Activity{}, fmt.Errorf("users: trim activity: %w", err)
	}

	if s.onActivity != nil {
		s.onActivity(a)
	}
	return a, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("users: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
