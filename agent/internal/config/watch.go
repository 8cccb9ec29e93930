package config

import (
	"context"
	"log/slog"
	"slices"

	"github.com/fsnotify/fsnotify"
)

// Watch follows path and calls onChange when a reload changes the detector's
// classification rules (restricted classes or the confidence floor). Other
// fields are read once at startup; a change to them is logged as requiring a
// restart. Watch runs until ctx is cancelled.
//
// A reload that fails to load or validate keeps the previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	current, _ := Load(path)

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Editors that save by rename leave the old inode watched.
			_ = watcher.Add(path)

			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			if current != nil {
				if fields := restartFields(current.Agent, next.Agent); len(fields) > 0 {
					slog.Warn("config: changes need an agent restart", "fields", fields)
				}
				if sameRules(current.Agent.Detector, next.Agent.Detector) {
					slog.Debug("config: no rule change", "path", path)
					current = next
					continue
				}
			}
			current = next

			slog.Info("config: rules reloaded", "path", path,
				"restricted_classes", next.Agent.Detector.RestrictedClasses,
				"min_confidence", next.Agent.Detector.MinConfidence)
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func sameRules(a, b DetectorConfig) bool {
	return a.MinConfidence == b.MinConfidence && slices.Equal(a.RestrictedClasses, b.RestrictedClasses)
}

// restartFields names the settings that differ between a and b but are only
// applied at startup.
func restartFields(a, b AgentConfig) []string {
	var out []string
	if a.ServerEndpoint != b.ServerEndpoint {
		out = append(out, "server_endpoint")
	}
	if a.CameraID != b.CameraID {
		out = append(out, "camera_id")
	}
	if a.Detector.Output != b.Detector.Output {
		out = append(out, "detector.output")
	}
	if a.Detector.MetricsEndpoint != b.Detector.MetricsEndpoint {
		out = append(out, "detector.metrics_endpoint")
	}
	if a.ScrapeInterval != b.ScrapeInterval || a.HeartbeatInterval != b.HeartbeatInterval {
		out = append(out, "intervals")
	}
	if a.BufferSize != b.BufferSize || a.BatchSize != b.BatchSize {
		out = append(out, "buffer")
	}
	if len(a.Cameras) != len(b.Cameras) {
		out = append(out, "cameras")
	}
	return out
}
