package health

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSnapshot summarizes the machine the engine runs on.
type HostSnapshot struct {
	Hostname      string  `json:"hostname" yaml:"hostname"`
	OS            string  `json:"os" yaml:"os"`
	Platform      string  `json:"platform" yaml:"platform"`
	KernelVersion string  `json:"kernelVersion" yaml:"kernelVersion"`
	CPUs          int     `json:"cpus" yaml:"cpus"`
	CPUPercent    float64 `json:"cpuPercent" yaml:"cpuPercent"`
	RAMPercent    float64 `json:"ramPercent" yaml:"ramPercent"`
	RAMUsedMB     uint64  `json:"ramUsedMb" yaml:"ramUsedMb"`
	DiskPath      string  `json:"diskPath,omitempty" yaml:"diskPath,omitempty"`
	DiskFreeGB    float64 `json:"diskFreeGb,omitempty" yaml:"diskFreeGb,omitempty"`
}

// CollectHost gathers a best-effort snapshot; fields whose probe fails are
// left zero. diskPath selects the volume reported, typically the recording
// directory.
func CollectHost(diskPath string) HostSnapshot {
	var s HostSnapshot

	if info, err := host.Info(); err == nil {
		s.Hostname = info.Hostname
		s.OS = info.OS
		s.Platform = info.Platform
		s.KernelVersion = info.KernelVersion
	}
	if n, err := cpu.Counts(true); err == nil {
		s.CPUs = n
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.RAMPercent = vm.UsedPercent
		s.RAMUsedMB = vm.Used / 1024 / 1024
	}
	if diskPath != "" {
		if u, err := disk.Usage(diskPath); err == nil {
			s.DiskPath = diskPath
			s.DiskFreeGB = float64(u.Free) / 1024 / 1024 / 1024
		}
	}
	return s
}

// minDiskFreeGB is the free space below which recording is degraded.
const minDiskFreeGB = 1.0

// ReportHost records a "host" check: Degraded when the recording volume is
// nearly full.
func ReportHost(m *Monitor, s HostSnapshot) {
	if s.DiskPath != "" && s.DiskFreeGB < minDiskFreeGB {
		m.Update("host", Degraded, "low disk space for recordings")
		return
	}
	m.Update("host", Healthy, "")
}
