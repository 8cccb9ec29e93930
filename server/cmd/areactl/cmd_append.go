package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/detections"
)

var (
	appendClass      string
	appendConfidence float64
	appendViolation  bool
	appendCamera     string
	appendLog        string
	appendAt         string
)

// appendCmd writes one detection row to the log.
var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append one detection to the detection log",
	Long: `Append one detection row to the CSV log the server watches.

The row is timestamped now unless --at is given (YYYY-MM-DD HH:MM:SS or RFC3339).
A running server picks it up on its next log refresh.`,
	Example: `  areactl append --class person --confidence 0.91 --violation
  areactl append --class car --confidence 0.4 --camera cam_1a2b3c4d --log data/detection_log.csv`,
	RunE: runAppend,
}

func init() {
	appendCmd.Flags().StringVar(&appendClass, "class", "", "detected class (required)")
	appendCmd.Flags().Float64Var(&appendConfidence, "confidence", 0, "confidence in [0, 1]")
	appendCmd.Flags().BoolVar(&appendViolation, "violation", false, "mark the row as a restricted area violation")
	appendCmd.Flags().StringVar(&appendCamera, "camera", "", "camera id")
	appendCmd.Flags().StringVar(&appendLog, "log", "", "detection log path (default: from config)")
	appendCmd.Flags().StringVar(&appendAt, "at", "", "timestamp of the row (default: now)")
	_ = appendCmd.MarkFlagRequired("class")
}

func runAppend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc := cfg.Server.Data.Location()
	path := appendLog
	if path == "" {
		path = cfg.Server.Data.LogPath
	}

	d := types.Detection{
		Timestamp:  time.Now().In(loc),
		Class:      appendClass,
		Confidence: appendConfidence,
		Violation:  appendViolation,
		CameraID:   appendCamera,
	}
	if appendAt != "" {
		ts, err := types.ParseTimestamp(appendAt, loc)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		d.Timestamp = ts
	}
	if err := d.Validate(); err != nil {
		return err
	}

	log, err := detections.Open(path, loc)
	if err != nil {
		return err
	}
	if err := log.Append(d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "appended %s %s %.2f%% violation=%s to %s\n",
		d.Timestamp.Format(types.TimeLayout), d.Class, d.ConfidencePct(), types.FormatViolation(d.Violation), path)
	return nil
}
