package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/areawatch/areawatch/server/internal/config"
)

// Result statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusDisabled = "disabled"
)

// Result is the outcome of a send or a connection test.
type Result struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Recipients  []string `json:"recipients,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Attachment is a file on disk sent under Name.
type Attachment struct {
	Path string
	Name string
}

// PublicConfig is the email configuration without the password.
type PublicConfig struct {
	Enabled       bool     `json:"enabled"`
	SMTPServer    string   `json:"smtp_server"`
	SMTPPort      int      `json:"smtp_port"`
	SenderEmail   string   `json:"sender_email"`
	RecipientList []string `json:"recipient_emails"`
	Configured    bool     `json:"configured"`
}

// Observer is told about every finished send.
type Observer func(kind string, r Result)

// Mailer delivers HTML mail. It is safe for concurrent use; Update swaps the
// configuration on reload.
type Mailer struct {
	mu      sync.RWMutex
	cfg     config.EmailConfig
	observe Observer
}

// New returns a Mailer for cfg.
func New(cfg config.EmailConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// Update replaces the configuration.
func (m *Mailer) Update(cfg config.EmailConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// OnResult registers fn to observe send outcomes.
func (m *Mailer) OnResult(fn Observer) {
	m.mu.Lock()
	m.observe = fn
	m.mu.Unlock()
}

func (m *Mailer) snapshot() (config.EmailConfig, Observer) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.observe
}

// PublicConfig returns the current configuration with the password left out.
func (m *Mailer) PublicConfig() PublicConfig {
	cfg, _ := m.snapshot()
	return PublicConfig{
		Enabled:       cfg.Enabled,
		SMTPServer:    cfg.SMTPHost,
		SMTPPort:      cfg.SMTPPort,
		SenderEmail:   cfg.Sender,
		RecipientList: append([]string{}, cfg.Recipients...),
		Configured:    cfg.Sender != "" && cfg.Password() != "",
	}
}

// Recipients returns the configured default recipients.
func (m *Mailer) Recipients() []string {
	cfg, _ := m.snapshot()
	return append([]string(nil), cfg.Recipients...)
}

// ParseRecipients splits a comma or semicolon separated address list.
func ParseRecipients(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SendReport mails html to every recipient, one message each. An empty
// recipients list falls back to the configured one.
func (m *Mailer) SendReport(ctx context.Context, subject, html string, recipients []string, attachments []Attachment) Result {
	r := m.send(ctx, subject, html, recipients, attachments)
	if r.OK() {
		r.Message = fmt.Sprintf("Report sent to %d recipient(s)", len(r.Recipients))
	}
	m.notify("report", r)
	return r
}

// SendViolationAlert mails an alert for v. The snapshot and video are
// attached when the files exist.
func (m *Mailer) SendViolationAlert(ctx context.Context, v Violation, recipients []string) Result {
	body, err := renderViolation(v)
	if err != nil {
		return Result{Status: StatusError, Message: err.Error()}
	}
	var atts []Attachment
	if existing(v.SnapshotPath) {
		atts = append(atts, Attachment{Path: v.SnapshotPath, Name: "snapshot" + ext(v.SnapshotPath, ".jpg")})
	}
	if existing(v.VideoPath) {
		atts = append(atts, Attachment{Path: v.VideoPath, Name: "recording" + ext(v.VideoPath, ".mp4")})
	}
	subject := fmt.Sprintf("VIOLATION ALERT - %s Detected", v.className())
	r := m.send(ctx, subject, body, recipients, atts)
	if r.OK() {
		r.Message = fmt.Sprintf("Violation alert sent to %d recipient(s) with %d attachment(s)",
			len(r.Recipients), len(r.Attachments))
	}
	m.notify("violation", r)
	return r
}

// Test dials and authenticates without sending anything.
func (m *Mailer) Test(ctx context.Context) Result {
	cfg, _ := m.snapshot()
	if r, ok := precheck(cfg); !ok {
		return r
	}
	c, err := newClient(cfg)
	if err != nil {
		return Result{Status: StatusError, Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	if err := c.DialWithContext(ctx); err != nil {
		return Result{Status: StatusError, Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	if err := c.Close(); err != nil {
		slog.Debug("mailer: close after test", "err", err)
	}
	return Result{Status: StatusSuccess, Message: "Email connection successful"}
}

func (m *Mailer) send(ctx context.Context, subject, html string, recipients []string, atts []Attachment) Result {
	cfg, _ := m.snapshot()
	if r, ok := precheck(cfg); !ok {
		return r
	}
	if len(recipients) == 0 {
		recipients = cfg.Recipients
	}
	if len(recipients) == 0 {
		return Result{Status: StatusError, Message: "No recipient emails configured"}
	}

	msgs := make([]*mail.Msg, 0, len(recipients))
	for _, rcpt := range recipients {
		msg, err := buildMsg(cfg.Sender, strings.TrimSpace(rcpt), subject, html, atts)
		if err != nil {
			return Result{Status: StatusError, Message: err.Error()}
		}
		msgs = append(msgs, msg)
	}

	c, err := newClient(cfg)
	if err != nil {
		return Result{Status: StatusError, Message: fmt.Sprintf("Failed to send email: %v", err)}
	}
	if err := c.DialAndSendWithContext(ctx, msgs...); err != nil {
		slog.Error("mailer: send failed", "subject", subject, "recipients", len(recipients), "err", err)
		return Result{Status: StatusError, Message: fmt.Sprintf("Failed to send email: %v", err)}
	}

	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = a.Name
	}
	trimmed := make([]string, len(recipients))
	for i, r := range recipients {
		trimmed[i] = strings.TrimSpace(r)
	}
	slog.Info("mailer: sent", "subject", subject, "recipients", len(trimmed), "attachments", len(names))
	return Result{Status: StatusSuccess, Recipients: trimmed, Attachments: names}
}

func (m *Mailer) notify(kind string, r Result) {
	if _, fn := m.snapshot(); fn != nil {
		fn(kind, r)
	}
}

func precheck(cfg config.EmailConfig) (Result, bool) {
	if !cfg.Enabled {
		return Result{Status: StatusDisabled, Message: "Email service is disabled"}, false
	}
	if cfg.Sender == "" || cfg.Password() == "" {
		return Result{Status: StatusError, Message: "Email credentials not configured"}, false
	}
	return Result{}, true
}

func newClient(cfg config.EmailConfig) (*mail.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultEmailTimeout
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Sender),
		mail.WithPassword(cfg.Password()),
		mail.WithTimeout(timeout),
	}
	if cfg.SMTPPort == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	c, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: client: %w", err)
	}
	return c, nil
}

func buildMsg(from, to, subject, html string, atts []Attachment) (*mail.Msg, error) {
	if to == "" {
		return nil, errors.New("mailer: empty recipient")
	}
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("mailer: sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mailer: recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextHTML, html)
	for _, a := range atts {
		msg.AttachFile(a.Path, mail.WithFileName(a.Name))
	}
	return msg, nil
}

func existing(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func ext(path, fallback string) string {
	if e := filepath.Ext(path); e != "" {
		return strings.ToLower(e)
	}
	return fallback
}

// Violation describes one restricted-area event for an alert email.
type Violation struct {
	Class        string    `json:"class_name"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	Location     string    `json:"location,omitempty"`
	CameraID     string    `json:"camera_id,omitempty"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
	VideoPath    string    `json:"video_path,omitempty"`
}

func (v Violation) className() string {
	if v.Class == "" {
		return "Unknown"
	}
	return v.Class
}
