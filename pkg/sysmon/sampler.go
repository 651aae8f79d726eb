// Package sysmon provides point-in-time resource snapshots for the batch
// size controller. Sampling is cheap and never fails from the caller's
// perspective: a degraded sampler returns its last good snapshot.
package sysmon

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is a point-in-time view of system pressure.
type Snapshot struct {
	CPUPercent   float64
	MemoryUsedMB float64
	Timestamp    time.Time
}

// Sampler produces resource snapshots.
// Sample may block briefly but never returns an error.
type Sampler interface {
	Sample() Snapshot
}

type systemSampler struct {
	mu     sync.Mutex
	proc   *process.Process
	last   Snapshot
	logger *slog.Logger
}

// NewSampler returns a Sampler backed by gopsutil: system-wide CPU percent
// and the resident set size of the current process.
func NewSampler() Sampler {
	s := &systemSampler{
		logger: slog.Default().With("component", "sysmon"),
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn("process handle unavailable, memory sampling disabled", "error", err)
	} else {
		s.proc = p
	}
	return s
}

func (s *systemSampler) Sample() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.last
	snap.Timestamp = time.Now()

	// Interval 0 compares against the previous call, so the first sample
	// reports 0% and later ones are cheap.
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		s.logger.Warn("cpu sample failed, using last snapshot", "error", err)
	} else {
		snap.CPUPercent = percents[0]
	}

	if s.proc != nil {
		mem, err := s.proc.MemoryInfo()
		if err != nil {
			s.logger.Warn("memory sample failed, using last snapshot", "error", err)
		} else {
			snap.MemoryUsedMB = float64(mem.RSS) / (1024 * 1024)
		}
	}

	s.last = snap
	return snap
}

type fixedSampler struct {
	snap Snapshot
}

// Fixed returns a Sampler that always reports the given values. Useful in
// tests and for callers that want resource-based throttling disabled.
func Fixed(cpuPercent, memoryUsedMB float64) Sampler {
	return &fixedSampler{snap: Snapshot{
		CPUPercent:   cpuPercent,
		MemoryUsedMB: memoryUsedMB,
	}}
}

func (f *fixedSampler) Sample() Snapshot {
	snap := f.snap
	snap.Timestamp = time.Now()
	return snap
}
