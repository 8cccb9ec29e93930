package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/areawatch/areawatch/agent/internal/compute"
	"github.com/areawatch/areawatch/agent/internal/config"
	"github.com/areawatch/areawatch/agent/internal/follow"
	"github.com/areawatch/areawatch/agent/internal/scraper"
	"github.com/areawatch/areawatch/agent/internal/security"
	"github.com/areawatch/areawatch/agent/internal/shipper"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	fromStart := flag.Bool("from-start", false, "ship the detector output already on disk")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("areawatch-agent starting", "version", version, "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"camera_id", cfg.Agent.CameraID,
		"detector_output", cfg.Agent.Detector.Output,
		"restricted_classes", cfg.Agent.Detector.RestrictedClasses,
		"cameras", len(cfg.Agent.Cameras),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, *fromStart); err != nil {
		slog.Error("agent stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("areawatch-agent shutting down")
}

func run(ctx context.Context, cfg *config.Config, configPath string, fromStart bool) error {
	a := cfg.Agent

	follower := follow.New(a.Detector.Output, follow.RulesFrom(a), time.Second)
	if !fromStart {
		if err := follower.SeekEnd(); err != nil {
			return err
		}
	}

	ship := shipper.New(a)

	var engine *compute.Engine
	var scr scraper.Scraper
	if a.Detector.MetricsEndpoint != "" {
		s, err := scraper.New(a.Detector)
		if err != nil {
			return err
		}
		scr = s
		engine = compute.NewEngine(a.Detector.TargetFPS, a.Detector.BaselineLatency)
	} else {
		slog.Warn("detector.metrics_endpoint not set, detector health will be unknown")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		follower.Run(ctx, ship.Ship)
		return nil
	})

	g.Go(func() error {
		ship.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return config.Watch(ctx, configPath, func(updated *config.Config) {
			follower.SetRules(follow.RulesFrom(updated.Agent))
		})
	})

	if scr != nil {
		g.Go(func() error {
			scrapeLoop(ctx, a.ScrapeInterval, scr, engine)
			return nil
		})
	}

	if a.CameraID != "" {
		g.Go(func() error {
			heartbeatLoop(ctx, a, engine, ship, follower)
			return nil
		})
	} else {
		slog.Warn("camera_id not set, heartbeats disabled")
	}

	return g.Wait()
}

// scrapeLoop polls the detector every interval and feeds the engine.
func scrapeLoop(ctx context.Context, interval time.Duration, s scraper.Scraper, engine *compute.Engine) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			res, err := s.Scrape(ctx)
			if err != nil {
				slog.Warn("scrape error", "err", err)
				continue
			}
			out := engine.Process(res, now)
			slog.Debug("detector health",
				"state", out.State,
				"score", out.Score,
				"fps", out.FPS,
				"drop_pct", out.DropPct,
			)
		}
	}
}

// heartbeatLoop probes the cameras and reports the camera status every
// heartbeat interval, starting immediately.
func heartbeatLoop(ctx context.Context, a config.AgentConfig, engine *compute.Engine, ship *shipper.Shipper, follower *follow.Follower) {
	prober := security.NewProber()
	t := time.NewTicker(a.HeartbeatInterval)
	defer t.Stop()

	for {
		results := prober.ProbeAll(ctx, a.Cameras)
		var last *compute.Result
		if engine != nil {
			last = engine.Last()
		}
		cs := shipper.StatusFrom(last, a.CameraID, security.Detail(results), time.Now())
		ship.Heartbeat(cs)

		pending, dropped, sent := ship.Stats()
		skipped, belowFloor := follower.Stats()
		slog.Debug("heartbeat queued",
			"status", cs.Status,
			"state", cs.State,
			"pending", pending,
			"evicted", dropped,
			"sent", sent,
			"skipped_lines", skipped,
			"below_min_confidence", belowFloor,
		)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
