// Package procstat samples resource usage of the supervised game process.
package procstat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrInvalidPID is returned for pids that cannot name a process.
var ErrInvalidPID = errors.New("invalid pid")

// Usage is one resource sample of a process.
type Usage struct {
	CPUPercent float64    `json:"cpu_percent"`
	RSSMB      float64    `json:"memory_mb"`
	Threads    int32      `json:"threads"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// Sample reads CPU, memory, thread count and start time of pid. Fields the
// platform cannot report stay zero; failing to find the process is an error.
func Sample(ctx context.Context, pid int) (Usage, error) {
	if pid <= 0 {
		return Usage{}, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("sample pid %d: %w", pid, err)
	}

	var u Usage
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		u.RSSMB = float64(mem.RSS) / 1024 / 1024
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.Threads = n
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		u.StartedAt = &t
	}
	return u, nil
}
