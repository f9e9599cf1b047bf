// Package resource samples per-agent CPU, memory, and thread usage,
// publishes monitoring events, and signals idle suspension and limit
// breaches. The monitor holds agent ids only; it never references
// sessions.
package resource

import "time"

// Limits bound an agent's resource usage and drive idle suspension.
// Limits may be set per-agent or inherited from the global default.
type Limits struct {
	MaxCPUPercent    float64       `json:"max_cpu_percent" yaml:"max_cpu_percent"`
	MaxMemoryBytes   uint64        `json:"max_memory_bytes" yaml:"max_memory_bytes"`
	MaxMemoryPercent float64       `json:"max_memory_percent" yaml:"max_memory_percent"`
	IdleTimeout      time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	IdleCPUThreshold float64       `json:"idle_cpu_threshold" yaml:"idle_cpu_threshold"`
	AutoSuspend      bool          `json:"auto_suspend_enabled" yaml:"auto_suspend_enabled"`
	EnforceLimits    bool          `json:"enforce_limits" yaml:"enforce_limits"`
}

// DefaultLimits returns the global default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxCPUPercent:    80.0,
		MaxMemoryBytes:   2 << 30,
		MaxMemoryPercent: 50.0,
		IdleTimeout:      15 * time.Minute,
		IdleCPUThreshold: 5.0,
		AutoSuspend:      true,
		EnforceLimits:    false,
	}
}

// Usage is one resource sample for an agent process.
type Usage struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryBytes   uint64    `json:"memory_bytes"`
	MemoryPercent float64   `json:"memory_percent"`
	ThreadCount   int       `json:"thread_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// exceeded returns the names of resources this sample pushes past the
// limits, in a stable order.
func (u Usage) exceeded(limits Limits) []string {
	var breached []string
	if u.CPUPercent > limits.MaxCPUPercent {
		breached = append(breached, ResourceCPU)
	}
	if u.MemoryBytes > limits.MaxMemoryBytes {
		breached = append(breached, ResourceMemory)
	}
	if u.MemoryPercent > limits.MaxMemoryPercent {
		breached = append(breached, ResourceMemoryPercent)
	}
	return breached
}

// Resource names used in limit events.
const (
	ResourceCPU           = "CPU"
	ResourceMemory        = "Memory"
	ResourceMemoryPercent = "MemoryPercent"
)
