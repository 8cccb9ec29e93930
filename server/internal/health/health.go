package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/areawatch/areawatch/server/internal/cameras"
)

// Status values.
const (
	StatusHealthy = "healthy"
	StatusWarning = "warning"
)

// warnPercent is the CPU or memory usage at which the host is reported as warning.
const warnPercent = 90

// CameraCounter supplies camera counts. *cameras.Store satisfies it.
type CameraCounter interface {
	Health() cameras.Health
}

// Detailed is the flat host report returned by /api/health/detailed.
type Detailed struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	CPUCount          int       `json:"cpu_count"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryUsedGB      float64   `json:"memory_used_gb"`
	MemoryTotalGB     float64   `json:"memory_total_gb"`
	DiskPercent       float64   `json:"disk_percent"`
	DiskUsedGB        float64   `json:"disk_used_gb"`
	DiskTotalGB       float64   `json:"disk_total_gb"`
	NetworkConnected  bool      `json:"network_connected"`
	BytesSentMB       float64   `json:"bytes_sent_mb"`
	BytesRecvMB       float64   `json:"bytes_recv_mb"`
	ProcessMemoryMB   float64   `json:"process_memory_mb"`
	ProcessCPUPercent float64   `json:"process_cpu_percent"`
	ActiveThreads     int32     `json:"active_threads"`
	Goroutines        int       `json:"goroutines"`
	OpenFiles         int       `json:"open_files"`
	GoVersion         string    `json:"go_version"`
	UptimeFormatted   string    `json:"uptime_formatted"`
	CameraCount       int       `json:"camera_count"`
	OnlineCameras     int       `json:"online_cameras"`
	OfflineCameras    int       `json:"offline_cameras"`
}

// Uptime describes how long the server has been running.
type Uptime struct {
	StartTime time.Time `json:"start_time"`
	Seconds   int64     `json:"uptime_seconds"`
	Formatted string    `json:"uptime_formatted"`
	Days      int64     `json:"uptime_days"`
	Hours     int64     `json:"uptime_hours"`
	Minutes   int64     `json:"uptime_minutes"`
}

// Monitor collects health figures.
type Monitor struct {
	start   time.Time
	cameras CameraCounter

	// Sample is the CPU measurement window.
	Sample time.Duration

	now func() time.Time
}

// New returns a Monitor whose uptime starts now.
func New(cams CameraCounter) *Monitor {
	return &Monitor{start: time.Now(), cameras: cams, Sample: 500 * time.Millisecond, now: time.Now}
}

// Uptime reports time since New.
func (m *Monitor) Uptime() Uptime {
	secs := int64(m.now().Sub(m.start) / time.Second)
	return Uptime{
		StartTime: m.start,
		Seconds:   secs,
		Formatted: FormatUptime(secs),
		Days:      secs / 86400,
		Hours:     secs % 86400 / 3600,
		Minutes:   secs % 3600 / 60,
	}
}

// Detailed samples the host. Individual probes that fail are logged at debug
// and left zero; only a failed CPU or memory read is an error.
func (m *Monitor) Detailed(ctx context.Context) (Detailed, error) {
	d := Detailed{
		Timestamp:  m.now(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	pcts, err := cpu.PercentWithContext(ctx, m.Sample, false)
	if err != nil {
		return d, fmt.Errorf("health: cpu: %w", err)
	}
	if len(pcts) > 0 {
		d.CPUPercent = round1(pcts[0])
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		d.CPUCount = n
	} else {
		d.CPUCount = runtime.NumCPU()
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return d, fmt.Errorf("health: memory: %w", err)
	}
	d.MemoryPercent = round1(vm.UsedPercent)
	d.MemoryUsedGB = gb(vm.Used)
	d.MemoryTotalGB = gb(vm.Total)

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		d.DiskPercent = round1(du.UsedPercent)
		d.DiskUsedGB = gb(du.Used)
		d.DiskTotalGB = gb(du.Total)
	} else {
		slog.Debug("health: disk usage", "err", err)
	}

	if io, err := net.IOCountersWithContext(ctx, false); err == nil && len(io) > 0 {
		d.NetworkConnected = true
		d.BytesSentMB = mb(io[0].BytesSent)
		d.BytesRecvMB = mb(io[0].BytesRecv)
	} else if err != nil {
		slog.Debug("health: net counters", "err", err)
	}

	m.sampleProcess(ctx, &d)

	if m.cameras != nil {
		h := m.cameras.Health()
		d.CameraCount, d.OnlineCameras, d.OfflineCameras = h.Total, h.Online, h.Offline
	}

	d.UptimeFormatted = m.Uptime().Formatted
	d.Status = StatusHealthy
	if d.CPUPercent >= warnPercent || d.MemoryPercent >= warnPercent {
		d.Status = StatusWarning
	}
	return d, nil
}

func (m *Monitor) sampleProcess(ctx context.Context, d *Detailed) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Debug("health: process", "err", err)
		return
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
		d.ProcessMemoryMB = mb(mi.RSS)
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		d.ProcessCPUPercent = round1(pct)
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		d.ActiveThreads = n
	}
	if files, err := p.OpenFilesWithContext(ctx); err == nil {
		d.OpenFiles = len(files)
	}
}

// Services is the service map returned by /api/health.
func Services(emailEnabled, schedulerRunning bool) map[string]string {
	state := func(ok bool, off string) string {
		if ok {
			return "operational"
		}
		return off
	}
	return map[string]string{
		"analytics":     "operational",
		"reports":       "operational",
		"cost_analysis": "operational",
		"email":         state(emailEnabled, "disabled"),
		"scheduler":     state(schedulerRunning, "stopped"),
	}
}

// FormatUptime renders seconds as "H:MM:SS", prefixed by "N day(s), " past a day.
func FormatUptime(secs int64) string {
	days := secs / 86400
	rest := secs % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rest/3600, rest%3600/60, rest%60)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

func gb(b uint64) float64 { return round2(float64(b) / (1 << 30)) }
func mb(b uint64) float64 { return round2(float64(b) / (1 << 20)) }

func round1(v float64) float64 { return float64(int64(v*10+0.5)) / 10 }
func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }
