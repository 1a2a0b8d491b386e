package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/cpuspec"
)

type cpuResourceInfo struct {
	Model            string  `json:"model"`
	NumCPU           int     `json:"num_cpu"`
	PerformanceCores int     `json:"performance_cores"`
	InferenceThreads int     `json:"inference_threads"`
	UsagePercent     float64 `json:"usage_percent"`
}

type memoryResourceInfo struct {
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usage_percent"`
}

type diskResourceInfo struct {
	Path         string  `json:"path"`
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usage_percent"`
}

type processResourceInfo struct {
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

type systemResourcesResponse struct {
	OS                string               `json:"os"`
	Architecture      string               `json:"architecture"`
	Hostname          string               `json:"hostname,omitempty"`
	Platform          string               `json:"platform,omitempty"`
	GoVersion         string               `json:"go_version"`
	HostUptimeSeconds uint64               `json:"host_uptime_seconds,omitempty"`
	AppStart          time.Time            `json:"app_start_time"`
	AppUptimeSeconds  int64                `json:"app_uptime_seconds"`
	CPU               cpuResourceInfo      `json:"cpu"`
	Memory            *memoryResourceInfo  `json:"memory,omitempty"`
	Disk              *diskResourceInfo    `json:"disk,omitempty"`
	Process           *processResourceInfo `json:"process,omitempty"`
}

// SystemResources handles GET /api/v2/system/resources. Probes that
// fail on a given platform are logged and omitted from the response
// rather than failing the whole read. The CPU usage sample blocks for
// one second.
func (c *Controller) SystemResources(ctx echo.Context) error {
	spec := cpuspec.GetCPUSpec()
	resp := systemResourcesResponse{
		OS:               runtime.GOOS,
		Architecture:     runtime.GOARCH,
		GoVersion:        runtime.Version(),
		AppStart:         c.startTime,
		AppUptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		CPU: cpuResourceInfo{
			Model:            spec.BrandName,
			NumCPU:           runtime.NumCPU(),
			PerformanceCores: spec.PerformanceCores,
			InferenceThreads: spec.GetOptimalThreadCount(),
		},
	}

	if hostInfo, err := host.Info(); err != nil {
		c.logger.Warn("host info probe failed", "error", err)
	} else {
		resp.Hostname = hostInfo.Hostname
		resp.Platform = hostInfo.Platform
		resp.HostUptimeSeconds = hostInfo.Uptime
	}

	// Average across all cores over a one second window.
	if cpuPercent, err := cpu.Percent(time.Second, false); err != nil {
		c.logger.Warn("cpu usage probe failed", "error", err)
	} else if len(cpuPercent) > 0 {
		resp.CPU.UsagePercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn("memory probe failed", "error", err)
	} else {
		resp.Memory = &memoryResourceInfo{
			Total:        memInfo.Total,
			Used:         memInfo.Used,
			Free:         memInfo.Available,
			UsagePercent: memInfo.UsedPercent,
		}
	}

	diskPath := "/"
	if c.Settings != nil && c.Settings.Artifacts.Root != "" {
		diskPath = conf.GetBasePath(c.Settings.Artifacts.Root)
	}
	if usage, err := disk.Usage(diskPath); err != nil {
		c.logger.Warn("disk probe failed", "path", diskPath, "error", err)
	} else {
		resp.Disk = &diskResourceInfo{
			Path:         diskPath,
			Total:        usage.Total,
			Used:         usage.Used,
			Free:         usage.Free,
			UsagePercent: usage.UsedPercent,
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		info := &processResourceInfo{}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			info.MemoryMB = float64(memInfo.RSS) / (1024 * 1024)
		}
		if cpuPercent, err := proc.CPUPercent(); err == nil {
			info.CPUPercent = cpuPercent
		}
		resp.Process = info
	}

	return ctx.JSON(http.StatusOK, resp)
}
