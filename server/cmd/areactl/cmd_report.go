package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/areawatch/areawatch/server/internal/detections"
	"github.com/areawatch/areawatch/server/internal/reports"
	"github.com/areawatch/areawatch/server/internal/store"
)

var (
	reportDate       string
	reportYear       int
	reportMonth      int
	reportCompliance string
	reportLog        string
	reportOut        string
)

// reportCmd generates a report from the log without a running server.
var reportCmd = &cobra.Command{
	Use:   "report daily|weekly|monthly|compliance",
	Short: "Generate a report from the detection log",
	Long: `Generate a report from the detection log and write it as JSON to the
reports directory. The path of the written file is printed.

  daily       the day given by --date (default: yesterday)
  weekly      the seven days ending on --date (default: today)
  monthly     --year/--month (default: current month)
  compliance  the last 30 days against --type OSHA|ISO|SOC2`,
	Example: `  areactl report daily --date 2026-03-09
  areactl report compliance --type ISO`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{reports.KindDaily, reports.KindWeekly, reports.KindMonthly, reports.KindCompliance},
	RunE:      runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "report date, YYYY-MM-DD")
	reportCmd.Flags().IntVar(&reportYear, "year", 0, "monthly report year")
	reportCmd.Flags().IntVar(&reportMonth, "month", 0, "monthly report month (1-12)")
	reportCmd.Flags().StringVar(&reportCompliance, "type", reports.OSHA, "compliance framework")
	reportCmd.Flags().StringVar(&reportLog, "log", "", "detection log path (default: from config)")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "reports directory (default: from config)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data := cfg.Server.Data
	loc := data.Location()
	if reportLog == "" {
		reportLog = data.LogPath
	}
	if reportOut == "" {
		reportOut = data.ReportsDir
	}

	log, err := detections.Open(reportLog, loc)
	if err != nil {
		return err
	}
	st := store.New(log, cfg.Server.Live.Poll)
	if _, err := st.Refresh(); err != nil {
		return err
	}
	if n := st.Skipped(); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d malformed rows skipped\n", n)
	}

	svc := reports.NewService(st, reportOut, loc)
	r, err := reports.NewDispatcher(svc, nil).Generate(reports.Request{
		ReportType:     strings.ToLower(args[0]),
		Date:           reportDate,
		Year:           reportYear,
		Month:          reportMonth,
		ComplianceType: reportCompliance,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), svc.Path(r))
	return nil
}
