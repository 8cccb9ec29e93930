package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/areawatch/areawatch/pkg/ingest"
	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/activity"
	"github.com/areawatch/areawatch/server/internal/alerts"
	"github.com/areawatch/areawatch/server/internal/api"
	"github.com/areawatch/areawatch/server/internal/auth"
	"github.com/areawatch/areawatch/server/internal/cameras"
	"github.com/areawatch/areawatch/server/internal/config"
	"github.com/areawatch/areawatch/server/internal/cost"
	"github.com/areawatch/areawatch/server/internal/detections"
	"github.com/areawatch/areawatch/server/internal/health"
	"github.com/areawatch/areawatch/server/internal/mailer"
	"github.com/areawatch/areawatch/server/internal/metrics"
	"github.com/areawatch/areawatch/server/internal/receiver"
	"github.com/areawatch/areawatch/server/internal/reports"
	"github.com/areawatch/areawatch/server/internal/scheduler"
	"github.com/areawatch/areawatch/server/internal/snapshots"
	"github.com/areawatch/areawatch/server/internal/store"
	"github.com/areawatch/areawatch/server/internal/users"
	"github.com/areawatch/areawatch/server/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// alertSweepInterval is how often open alerts are checked for resolution.
const alertSweepInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file; a missing file runs with defaults")
	logLevel := flag.String("log-level", "", "override server.log_level (debug|info|warn|error)")
	uiDir := flag.String("ui-dir", "", "serve the pre-built UI from this directory (e.g. ui/dist); leave empty to disable")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.Level()}))
	slog.SetDefault(logger)

	slog.Info("areawatch-server starting", "version", version, "config", *configPath)
	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"log_path", cfg.Server.Data.LogPath,
		"frames_dir", cfg.Server.Data.FramesDir,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, *uiDir); err != nil {
		slog.Error("areawatch-server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("areawatch-server shut down")
}

// loadConfig reads path, falling back to defaults when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, configPath, uiDir string) error {
	sc := cfg.Server
	data := sc.Data
	loc := data.Location()

	// --- state ---------------------------------------------------------------

	log, err := detections.Open(data.LogPath, loc)
	if err != nil {
		return err
	}
	st := store.New(log, sc.Live.Poll)
	if _, err := st.Refresh(); err != nil {
		return fmt.Errorf("initial log read: %w", err)
	}
	slog.Info("detection log loaded", "rows", st.Len(), "skipped", st.Skipped())

	cams, err := cameras.Open(filepath.Join(data.Dir, "cameras.json"))
	if err != nil {
		return err
	}
	costs, err := cost.Open(filepath.Join(data.Dir, "cost_config.json"))
	if err != nil {
		return err
	}
	userStore, err := users.Open(filepath.Join(data.Dir, "users.db"))
	if err != nil {
		return err
	}
	defer userStore.Close()

	mail := mailer.New(sc.Email)
	frames := snapshots.New(data.FramesDir, snapshots.Retention{
		MaxAge:   sc.Snapshots.MaxAge,
		MaxFiles: sc.Snapshots.MaxFiles,
	}, sc.Snapshots.ThumbWidth)

	alertEngine, err := alerts.New(sc.Alerts)
	if err != nil {
		return err
	}
	alertEngine.SetNotifier(mail, frames.Latest)

	reportSvc := reports.NewService(st, data.ReportsDir, loc)
	dispatcher := reports.NewDispatcher(reportSvc, mail)
	sched, err := scheduler.New(filepath.Join(data.Dir, "report_schedules.json"), dispatcher, loc)
	if err != nil {
		return err
	}

	feed := activity.New()
	feed.Sync(st.All(), nil)
	monitor := health.New(cams)

	// --- hooks ---------------------------------------------------------------

	m := metrics.New()
	m.TrackLog(st.Len, st.Generation)

	st.OnNew(func(ds []types.Detection) {
		alertEngine.Evaluate(ds)
		feed.AddDetections(ds)
		m.ObserveDetections("log", ds)
	})
	alertEngine.OnTransition(func(a alerts.Alert) {
		m.AlertTransition(a.State)
		typ := activity.TypeAlertFired
		if a.State == alerts.StateResolved {
			typ = activity.TypeAlertCleared
		}
		feed.Add(typ, map[string]any{
			"rule":      a.RuleName,
			"camera_id": a.CameraID,
			"severity":  a.Severity,
			"message":   a.Message,
		})
	})
	mail.OnResult(func(kind string, r mailer.Result) {
		m.EmailResult(kind, r.Status)
		if !r.OK() && r.Status != mailer.StatusDisabled {
			slog.Warn("email not sent", "kind", kind, "status", r.Status, "message", r.Message)
		}
	})
	reportSvc.OnGenerated(m.ReportGenerated)
	frames.OnPrune = m.SnapshotsPruned
	cams.OnChange(func(kind string, c cameras.Camera) {
		feed.Add(kind, map[string]any{"camera_id": c.ID, "name": c.Name, "status": c.Status})
	})
	userStore.OnActivity(func(a users.Activity) {
		feed.AddUser(activity.UserEntry{
			Timestamp: a.Timestamp,
			User:      a.User,
			Action:    a.Action,
			Details:   a.Details,
			Status:    a.Status,
		})
	})

	// --- gRPC ingest ---------------------------------------------------------

	interceptor := auth.APIKeyInterceptor(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	recv := receiver.New(st, cams)
	recv.OnAccepted = func(ds []types.Detection) { m.ObserveDetections("grpc", ds) }
	ingest.Register(grpcSrv, recv)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc :%d: %w", sc.GRPCPort, err)
	}

	// --- HTTP ----------------------------------------------------------------

	handler := api.New(api.Deps{
		Store:      st,
		Alerts:     alertEngine,
		Cost:       costs,
		Reports:    reportSvc,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Mailer:     mail,
		Snapshots:  frames,
		Activity:   feed,
		Health:     monitor,
		Cameras:    cams,
		Users:      userStore,
		Version:    version,
	})

	live := ws.New("live", ws.NewLiveFeed(st), sc.Live.Interval)
	table := ws.New("table", ws.NewTableFeed(st), sc.Live.TableInterval)
	events := ws.New("activity", ws.NewActivityFeed(feed), sc.Live.ActivityInterval)
	hubs := []*ws.Hub{live, table, events}
	for _, h := range hubs {
		h.OnClients(m.SetClients)
	}

	router := handler.Router()
	router.Handle("/ws", live)
	router.Handle("/ws/data", table)
	router.Handle("/ws/activity", events)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	if uiDir != "" {
		router.NotFoundHandler = spa(uiDir, router.NotFoundHandler)
		slog.Info("serving UI static files", "dir", uiDir)
	}
	guard := auth.RequireAPIKey(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key(), userStore,
		"/api/health", "/api/info", "/api/auth")
	router.Use(m.Middleware, guard.Middleware)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- run -----------------------------------------------------------------

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { st.Run(gctx); return nil })
	g.Go(func() error { alertEngine.Run(gctx, alertSweepInterval); return nil })
	g.Go(func() error { sched.Run(gctx); return nil })
	g.Go(func() error { frames.Run(gctx, sc.Snapshots.PruneInterval); return nil })
	for _, h := range hubs {
		h := h
		g.Go(func() error { h.Run(gctx); return nil })
	}
	if _, err := os.Stat(configPath); err == nil {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(next *config.Config) {
				if err := alertEngine.SetRules(next.Server.Alerts); err != nil {
					slog.Error("config reload: alert rules rejected, keeping previous config", "err", err)
					return
				}
				mail.Update(next.Server.Email)
			})
		})
	}

	g.Go(func() error {
		slog.Info("gRPC ingest listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("areawatch-server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// spa serves files from dir and falls back to index.html for client-side
// routes. Unknown /api paths go to apiNotFound.
func spa(dir string, apiNotFound http.Handler) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			apiNotFound.ServeHTTP(w, r)
			return
		}
		p := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}
