package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/areawatch/areawatch/agent/internal/config"
	"github.com/areawatch/areawatch/pkg/ingest"
	"github.com/areawatch/areawatch/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers detections and camera heartbeats and sends them to
// areawatch-server over gRPC. Ship and Heartbeat never block; when the
// detection buffer is full the oldest detections are evicted. Run must be
// called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	dialFn dialFunc // injectable for tests

	mu      sync.Mutex
	buf     []types.Detection
	dropped int
	sent    int

	notify chan struct{}
	beats  chan types.CameraStatus
}

// dialFunc opens a gRPC connection. Tests swap it for a local listener.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = cfg.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	return &Shipper{
		cfg:    cfg,
		dialFn: defaultDial,
		notify: make(chan struct{}, 1),
		beats:  make(chan types.CameraStatus, 1),
	}
}

// Ship enqueues detections. Detections without a camera id get the agent's.
func (s *Shipper) Ship(ds []types.Detection) {
	if len(ds) == 0 {
		return
	}
	s.mu.Lock()
	for _, d := range ds {
		if d.CameraID == "" {
			d.CameraID = s.cfg.CameraID
		}
		s.buf = append(s.buf, d)
	}
	evicted := s.trimLocked()
	full := len(s.buf) >= s.cfg.BatchSize
	s.mu.Unlock()

	if evicted > 0 {
		slog.Warn("shipper: buffer full, evicted oldest detections",
			"evicted", evicted, "buffer_cap", s.cfg.BufferSize)
	}
	if full {
		s.wake()
	}
}

// Heartbeat queues a camera status. An unsent heartbeat is replaced by the
// newer one.
func (s *Shipper) Heartbeat(cs types.CameraStatus) {
	if cs.CameraID == "" {
		cs.CameraID = s.cfg.CameraID
	}
	for {
		select {
		case s.beats <- cs:
			return
		default:
		}
		select {
		case <-s.beats:
		default:
		}
	}
}

// Stats returns the number of buffered, evicted and delivered detections.
func (s *Shipper) Stats() (pending, dropped, sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf), s.dropped, s.sent
}

// Run drains the buffer, sending batches to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)

		err = s.drain(ctx, ingest.NewClient(conn), bo)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// client is the part of *ingest.Client the shipper calls.
type client interface {
	RecordDetections(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ReportCamera(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

// drain sends full batches as they fill, partial batches every flush
// interval and heartbeats as they arrive, until a send fails with a
// transient error or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, c client, bo *backoff) error {
	t := time.NewTicker(s.cfg.FlushInterval)
	defer t.Stop()

	if err := s.flush(ctx, c, true); err != nil {
		return err
	}
	bo.reset()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cs := <-s.beats:
			if err := s.sendHeartbeat(ctx, c, cs); err != nil {
				return err
			}
		case <-s.notify:
			if err := s.flush(ctx, c, false); err != nil {
				return err
			}
		case <-t.C:
			if err := s.flush(ctx, c, true); err != nil {
				return err
			}
		}
	}
}

// flush sends batches until the buffer holds less than a full batch, or is
// empty when partial is true.
func (s *Shipper) flush(ctx context.Context, c client, partial bool) error {
	for {
		batch := s.take(partial)
		if len(batch) == 0 {
			return nil
		}
		req, err := ingest.EncodeDetections(batch)
		if err != nil {
			slog.Error("shipper: encode failed, discarding batch", "rows", len(batch), "err", err)
			continue
		}

		callCtx, cancel := s.outgoing(ctx)
		resp, err := c.RecordDetections(callCtx, req)
		cancel()
		if err != nil {
			if isPermanentError(err) {
				slog.Error("shipper: permanent send error, discarding batch",
					"rows", len(batch), "err", err)
				continue
			}
			s.requeue(batch)
			return fmt.Errorf("record detections: %w", err)
		}

		n := ingest.Accepted(resp)
		s.mu.Lock()
		s.sent += n
		s.mu.Unlock()
		slog.Debug("shipper: batch delivered", "rows", len(batch), "accepted", n)
	}
}

func (s *Shipper) sendHeartbeat(ctx context.Context, c client, cs types.CameraStatus) error {
	req, err := ingest.EncodeCameraStatus(cs)
	if err != nil {
		slog.Error("shipper: encode heartbeat failed", "err", err)
		return nil
	}
	callCtx, cancel := s.outgoing(ctx)
	defer cancel()
	if _, err := c.ReportCamera(callCtx, req); err != nil {
		if isPermanentError(err) {
			slog.Error("shipper: heartbeat rejected", "camera", cs.CameraID, "err", err)
			return nil
		}
		// Keep it unless a newer one arrived meanwhile.
		select {
		case s.beats <- cs:
		default:
		}
		return fmt.Errorf("report camera: %w", err)
	}
	slog.Debug("shipper: heartbeat delivered", "camera", cs.CameraID, "status", cs.Status)
	return nil
}

// outgoing adds the per-call timeout and, in apikey mode, the API key metadata.
func (s *Shipper) outgoing(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}
	return ctx, cancel
}

// take removes the next batch from the buffer. Without partial it only
// returns full batches.
func (s *Shipper) take(partial bool) []types.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(len(s.buf), s.cfg.BatchSize)
	if n == 0 || (!partial && n < s.cfg.BatchSize) {
		return nil
	}
	batch := make([]types.Detection, n)
	copy(batch, s.buf)
	s.buf = append(s.buf[:0], s.buf[n:]...)
	return batch
}

// requeue puts an undelivered batch back at the front of the buffer.
func (s *Shipper) requeue(batch []types.Detection) {
	s.mu.Lock()
	s.buf = append(append(make([]types.Detection, 0, len(batch)+len(s.buf)), batch...), s.buf...)
	evicted := s.trimLocked()
	s.mu.Unlock()
	if evicted > 0 {
		slog.Warn("shipper: buffer full on requeue, evicted oldest detections", "evicted", evicted)
	}
}

// trimLocked drops the oldest detections beyond BufferSize. s.mu must be held.
func (s *Shipper) trimLocked() int {
	over := len(s.buf) - s.cfg.BufferSize
	if over <= 0 {
		return 0
	}
	s.buf = append(s.buf[:0], s.buf[over:]...)
	s.dropped += over
	return over
}

func (s *Shipper) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// isPermanentError returns true for gRPC errors that retrying cannot fix.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for older servers
}

// dialOptions builds the transport credentials for the server auth mode.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey sends the key per call; none is for local setups.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
