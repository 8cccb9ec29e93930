package security

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/areawatch/areawatch/agent/internal/config"
)

// Probe outcomes.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusReachable   = "reachable"
	StatusUnreachable = "unreachable"
)

const (
	defaultDialTimeout = 10 * time.Second
	expiringDays       = 30
)

// defaultPorts are used when a camera URL has no explicit port.
var defaultPorts = map[string]string{
	"https": "443",
	"wss":   "443",
	"rtsps": "322",
	"http":  "80",
	"ws":    "80",
	"rtsp":  "554",
}

var tlsSchemes = map[string]bool{"https": true, "wss": true, "rtsps": true}

// Result describes one camera endpoint.
type Result struct {
	Name     string
	URL      string
	Status   string
	DaysLeft int       // TLS only
	NotAfter time.Time // TLS only
	Issuer   string    // TLS only
	Err      string
}

// OK reports whether the endpoint answered with a usable certificate or
// accepted a TCP connection.
func (r Result) OK() bool {
	return r.Status == StatusValid || r.Status == StatusExpiring || r.Status == StatusReachable
}

func (r Result) String() string {
	name := r.Name
	if name == "" {
		name = r.URL
	}
	switch r.Status {
	case StatusValid, StatusExpiring, StatusExpired:
		return fmt.Sprintf("%s: cert %s (%dd)", name, r.Status, r.DaysLeft)
	case StatusUnreachable:
		return fmt.Sprintf("%s: unreachable", name)
	}
	return fmt.Sprintf("%s: %s", name, r.Status)
}

// Detail joins results into the heartbeat detail line.
func Detail(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "; ")
}

// Prober checks camera stream endpoints.
type Prober struct {
	Timeout time.Duration
	now     func() time.Time
}

// NewProber returns a Prober with a 10 second dial timeout.
func NewProber() *Prober {
	return &Prober{Timeout: defaultDialTimeout, now: time.Now}
}

// ProbeAll checks every camera in order.
func (p *Prober) ProbeAll(ctx context.Context, cams []config.CameraProbe) []Result {
	out := make([]Result, 0, len(cams))
	for _, c := range cams {
		out = append(out, p.Probe(ctx, c))
	}
	return out
}

// Probe checks one camera endpoint. TLS URLs (https, wss, rtsps) report the
// leaf certificate's expiry; other URLs get a TCP reachability check.
func (p *Prober) Probe(ctx context.Context, cam config.CameraProbe) Result {
	res := Result{Name: cam.Name, URL: cam.URL}

	u, err := url.Parse(cam.URL)
	if err != nil || u.Host == "" {
		res.Status = StatusUnreachable
		res.Err = "invalid url"
		return res
	}
	scheme := strings.ToLower(u.Scheme)
	host := u.Host
	if u.Port() == "" {
		port, ok := defaultPorts[scheme]
		if !ok {
			res.Status = StatusUnreachable
			res.Err = fmt.Sprintf("no default port for scheme %q", u.Scheme)
			return res
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	if !tlsSchemes[scheme] {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", host)
		if err != nil {
			res.Status = StatusUnreachable
			res.Err = err.Error()
			return res
		}
		conn.Close()
		res.Status = StatusReachable
		return res
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: cam.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		res.Status = StatusUnreachable
		res.Err = err.Error()
		return res
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		res.Status = StatusUnreachable
		res.Err = "no peer certificate"
		return res
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(p.now()).Hours() / 24
	res.NotAfter = leaf.NotAfter.UTC()
	res.Issuer = leaf.Issuer.CommonName
	res.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		res.Status = StatusExpired
	case daysLeft <= expiringDays:
		res.Status = StatusExpiring
	default:
		res.Status = StatusValid
	}
	return res
}
