package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	pshost "github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// CPUOutput is the cpu provider payload.
type CPUOutput struct {
	Usage             float64   `json:"usage"`
	PerCore           []float64 `json:"perCore,omitempty"`
	LogicalCoreCount  int       `json:"logicalCoreCount"`
	PhysicalCoreCount int       `json:"physicalCoreCount"`
}

type cpuConfig struct {
	BaseConfig `mapstructure:",squash"`
	PerCore    bool `mapstructure:"perCore"`
}

// CPU samples processor utilisation.
type CPU struct {
	cfg cpuConfig
}

// NewCPU builds a cpu provider.
func NewCPU(raw map[string]any) (Provider, error) {
	var cfg cpuConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return &CPU{cfg: cfg}, nil
}

// Interval implements Provider.
func (c *CPU) Interval() time.Duration { return c.cfg.interval(5 * time.Second) }

// Sample implements Provider.
func (c *CPU) Sample(ctx context.Context) (any, error) {
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}

	out := CPUOutput{}
	if len(total) > 0 {
		out.Usage = total[0]
	}
	if c.cfg.PerCore {
		if out.PerCore, err = cpu.PercentWithContext(ctx, 0, true); err != nil {
			return nil, fmt.Errorf("cpu percent per core: %w", err)
		}
	}
	if out.LogicalCoreCount, err = cpu.CountsWithContext(ctx, true); err != nil {
		return nil, fmt.Errorf("cpu count: %w", err)
	}
	// Physical counts are unavailable in some sandboxes.
	out.PhysicalCoreCount, _ = cpu.CountsWithContext(ctx, false)
	return out, nil
}

// MemoryOutput is the memory provider payload.
type MemoryOutput struct {
	Total           uint64  `json:"total"`
	Used            uint64  `json:"used"`
	Available       uint64  `json:"available"`
	UsedPercent     float64 `json:"usedPercent"`
	SwapTotal       uint64  `json:"swapTotal"`
	SwapUsed        uint64  `json:"swapUsed"`
	SwapUsedPercent float64 `json:"swapUsedPercent"`
	TotalHuman      string  `json:"totalHuman"`
	UsedHuman       string  `json:"usedHuman"`
}

type memoryConfig struct {
	BaseConfig `mapstructure:",squash"`
}

// Memory samples physical and swap memory.
type Memory struct {
	cfg memoryConfig
}

// NewMemory builds a memory provider.
func NewMemory(raw map[string]any) (Provider, error) {
	var cfg memoryConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return &Memory{cfg: cfg}, nil
}

// Interval implements Provider.
func (m *Memory) Interval() time.Duration { return m.cfg.interval(5 * time.Second) }

// Sample implements Provider.
func (m *Memory) Sample(ctx context.Context) (any, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}

	out := MemoryOutput{
		Total:       vm.Total,
		Used:        vm.Used,
		Available:   vm.Available,
		UsedPercent: vm.UsedPercent,
		TotalHuman:  humanize.IBytes(vm.Total),
		UsedHuman:   humanize.IBytes(vm.Used),
	}

	// Swap might not be available.
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out.SwapTotal = sw.Total
		out.SwapUsed = sw.Used
		if sw.Total > 0 {
			out.SwapUsedPercent = sw.UsedPercent
		}
	}
	return out, nil
}

// DiskEntry is one mount in the disk provider payload.
type DiskEntry struct {
	Mountpoint  string  `json:"mountpoint"`
	Device      string  `json:"device,omitempty"`
	FSType      string  `json:"fsType"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
	TotalHuman  string  `json:"totalHuman"`
	FreeHuman   string  `json:"freeHuman"`
}

// DiskOutput is the disk provider payload.
type DiskOutput struct {
	Disks []DiskEntry `json:"disks"`
}

type diskConfig struct {
	BaseConfig `mapstructure:",squash"`
	Mounts     []string `mapstructure:"mounts"`
}

// Disk samples filesystem usage.
type Disk struct {
	cfg diskConfig
}

// NewDisk builds a disk provider. An empty mounts list reports every real
// partition.
func NewDisk(raw map[string]any) (Provider, error) {
	var cfg diskConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return &Disk{cfg: cfg}, nil
}

// Interval implements Provider.
func (d *Disk) Interval() time.Duration { return d.cfg.interval(60 * time.Second) }

// Sample implements Provider.
func (d *Disk) Sample(ctx context.Context) (any, error) {
	out := DiskOutput{Disks: []DiskEntry{}}

	if len(d.cfg.Mounts) > 0 {
		var errs []error
		for _, mp := range d.cfg.Mounts {
			usage, err := disk.UsageWithContext(ctx, mp)
			if err != nil {
				errs = append(errs, fmt.Errorf("usage %s: %w", mp, err))
				continue
			}
			out.Disks = append(out.Disks, diskEntry("", usage))
		}
		if len(out.Disks) == 0 && len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return out, nil
	}

	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("partitions: %w", err)
	}
	for _, p := range parts {
		if isVirtualFS(p.Fstype) {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		out.Disks = append(out.Disks, diskEntry(p.Device, usage))
	}
	return out, nil
}

func diskEntry(device string, u *disk.UsageStat) DiskEntry {
	return DiskEntry{
		Mountpoint:  u.Path,
		Device:      device,
		FSType:      u.Fstype,
		Total:       u.Total,
		Used:        u.Used,
		Free:        u.Free,
		UsedPercent: u.UsedPercent,
		TotalHuman:  humanize.IBytes(u.Total),
		FreeHuman:   humanize.IBytes(u.Free),
	}
}

// isVirtualFS reports filesystem types that do not represent real storage.
func isVirtualFS(fstype string) bool {
	switch fstype {
	case "devfs", "devtmpfs", "tmpfs", "sysfs", "proc", "cgroup", "cgroup2",
		"autofs", "mqueue", "hugetlbfs", "debugfs", "tracefs", "securityfs",
		"pstore", "bpf", "fusectl", "configfs", "ramfs", "rpc_pipefs",
		"nfsd", "devpts", "squashfs", "overlay":
		return true
	}
	return false
}

// HostOutput is the host provider payload.
type HostOutput struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	Version       string  `json:"version"`
	KernelVersion string  `json:"kernelVersion"`
	Uptime        uint64  `json:"uptime"`
	UptimeHuman   string  `json:"uptimeHuman"`
	BootTime      uint64  `json:"bootTime"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
}

type hostConfig struct {
	BaseConfig `mapstructure:",squash"`
}

// Host samples host identity, uptime and load.
type Host struct {
	cfg hostConfig
}

// NewHost builds a host provider.
func NewHost(raw map[string]any) (Provider, error) {
	var cfg hostConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	return &Host{cfg: cfg}, nil
}

// Interval implements Provider.
func (h *Host) Interval() time.Duration { return h.cfg.interval(60 * time.Second) }

// Sample implements Provider.
func (h *Host) Sample(ctx context.Context) (any, error) {
	info, err := pshost.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	out := HostOutput{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform,
		Version:       info.PlatformVersion,
		KernelVersion: info.KernelVersion,
		Uptime:        info.Uptime,
		UptimeHuman:   uptimeHuman(info.Uptime),
		BootTime:      info.BootTime,
	}
	// Load averages are not available on every platform.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load1, out.Load5, out.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return out, nil
}

func uptimeHuman(seconds uint64) string {
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now.Add(-time.Duration(seconds)*time.Second), now, "", ""))
}
