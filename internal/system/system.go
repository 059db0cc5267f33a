package system

import (
	"runtime"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// DefaultOpenFiles is the soft RLIMIT_NOFILE requested at startup. ffmpeg
// holds two or three descriptors per scene for the whole run.
const DefaultOpenFiles = 2048

// InitResourceLimits raises the soft open-files limit to want, capped at the
// hard limit. It never lowers an existing limit.
func InitResourceLimits(want uint64, log *zap.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("cannot read open files limit", zap.Error(err))
		return
	}

	target := want
	if target > rLimit.Max {
		target = rLimit.Max
	}
	if target <= rLimit.Cur {
		log.Debug("open files limit unchanged", zap.Uint64("current", rLimit.Cur))
		return
	}

	rLimit.Cur = target
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("cannot raise open files limit", zap.Uint64("want", target), zap.Error(err))
		return
	}
	log.Debug("open files limit raised", zap.Uint64("limit", rLimit.Cur))
}

// Host is a point-in-time view of the machine, for performance reports.
type Host struct {
	OS           string
	Arch         string
	LogicalCPUs  int
	PhysicalCPUs int
	MemTotal     uint64
	MemAvailable uint64
	MemUsedPct   float64
}

// HostSnapshot collects what it can. Failed probes leave their fields zero
// and are reported in err; the returned Host is always usable.
func HostSnapshot() (Host, error) {
	h := Host{OS: runtime.GOOS, Arch: runtime.GOARCH}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := cpu.Counts(true)
	keep(err)
	h.LogicalCPUs = n

	n, err = cpu.Counts(false)
	keep(err)
	h.PhysicalCPUs = n

	vm, err := mem.VirtualMemory()
	keep(err)
	if vm != nil {
		h.MemTotal = vm.Total
		h.MemAvailable = vm.Available
		h.MemUsedPct = vm.UsedPercent
	}
	return h, firstErr
}

func (h Host) Fields() []zap.Field {
	return []zap.Field{
		zap.String("os", h.OS),
		zap.String("arch", h.Arch),
		zap.Int("logical_cpus", h.LogicalCPUs),
		zap.Int("physical_cpus", h.PhysicalCPUs),
		zap.Uint64("mem_total", h.MemTotal),
		zap.Uint64("mem_available", h.MemAvailable),
		zap.Float64("mem_used_pct", h.MemUsedPct),
	}
}
