// Package monitoring samples process resource usage for the /health
// endpoint.
package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	CPUPercent  float64
	MemoryBytes uint64
	Goroutines  int
	Timestamp   time.Time
}

// Sampler periodically measures this process's CPU and memory use. It
// is an explicitly constructed object rather than a process-wide
// singleton, so tests can create a fresh one per case.
type Sampler struct {
	proc *process.Process

	mu   sync.RWMutex
	last Snapshot
}

// NewSampler creates a Sampler for the current process.
func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: proc}, nil
}

// Run samples at the given interval until ctx is canceled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	var cpuPct float64
	var memBytes uint64

	if pct, err := s.proc.CPUPercent(); err == nil {
		cpuPct = pct
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		memBytes = mem.RSS
	}

	snap := Snapshot{
		CPUPercent:  cpuPct,
		MemoryBytes: memBytes,
		Goroutines:  runtime.NumGoroutine(),
		Timestamp:   time.Now(),
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

// Latest returns the most recent snapshot.
func (s *Sampler) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
