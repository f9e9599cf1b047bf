package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Sampler reads one resource snapshot for a process. The monitor takes a
// Sampler so tests can script usage series without touching the OS.
type Sampler interface {
	Sample(ctx context.Context, pid int32) (Usage, error)
}

// ProcessSampler reads real process statistics from the OS.
type ProcessSampler struct{}

// NewProcessSampler returns the OS-backed sampler.
func NewProcessSampler() *ProcessSampler { return &ProcessSampler{} }

// Sample reads CPU, memory, and thread counts for the given pid.
func (s *ProcessSampler) Sample(ctx context.Context, pid int32) (Usage, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Usage{}, fmt.Errorf("process %d: %w", pid, err)
	}

	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("cpu sample for %d: %w", pid, err)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("memory sample for %d: %w", pid, err)
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		memPercent = float64(memInfo.RSS) / float64(vm.Total) * 100.0
	}

	threads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}

	return Usage{
		CPUPercent:    cpuPercent,
		MemoryBytes:   memInfo.RSS,
		MemoryPercent: memPercent,
		ThreadCount:   int(threads),
		Timestamp:     time.Now(),
	}, nil
}
