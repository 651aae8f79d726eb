// Package config defines the tuning knobs for adaptive batch processing.
// The core packages accept the Config struct directly; file loading and
// environment overrides exist for binaries and are never required.
package config

import (
	"fmt"
	"time"
)

// Config controls batch sizing, concurrency and resource thresholds.
// The zero value is not usable; start from Default().
type Config struct {
	// InitialBatchSize is the batch size used during warmup.
	InitialBatchSize int `yaml:"initial_batch_size" json:"initial_batch_size"`
	// MinBatchSize and MaxBatchSize bound every adaptive adjustment.
	MinBatchSize int `yaml:"min_batch_size" json:"min_batch_size"`
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size"`

	// TargetProcessingTime is the per-batch latency the controller steers
	// toward.
	TargetProcessingTime time.Duration `yaml:"target_processing_time" json:"target_processing_time"`

	// MemoryThresholdMB and CPUThresholdPercent trigger an immediate batch
	// size reduction when exceeded. Each is compared only against its own
	// metric.
	MemoryThresholdMB   float64 `yaml:"memory_threshold_mb" json:"memory_threshold_mb"`
	CPUThresholdPercent float64 `yaml:"cpu_threshold_percent" json:"cpu_threshold_percent"`

	// AdaptationSensitivity scales each growth or shrink step
	// (0.1 = cautious, 0.5 = aggressive).
	AdaptationSensitivity float64 `yaml:"adaptation_sensitivity" json:"adaptation_sensitivity"`

	// PerformanceWindow is the number of recent batches considered for
	// latency statistics.
	PerformanceWindow int `yaml:"performance_window" json:"performance_window"`

	// MaxConcurrentBatches is the number of batches allowed in flight, and
	// the executor's fixed worker count.
	MaxConcurrentBatches int `yaml:"max_concurrent_batches" json:"max_concurrent_batches"`

	// WarmupBatches is the number of batches processed at InitialBatchSize
	// before adaptation starts.
	WarmupBatches int `yaml:"warmup_batches" json:"warmup_batches"`

	// TaskTimeout is the longest the pipeline waits for a single batch
	// before recording it as failed. The work itself is never cancelled.
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		InitialBatchSize:      50,
		MinBatchSize:          10,
		MaxBatchSize:          500,
		TargetProcessingTime:  time.Second,
		MemoryThresholdMB:     500,
		CPUThresholdPercent:   80,
		AdaptationSensitivity: 0.2,
		PerformanceWindow:     10,
		MaxConcurrentBatches:  4,
		WarmupBatches:         3,
		TaskTimeout:           5 * time.Minute,
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	return Validate(c,
		positive("MinBatchSize", float64(c.MinBatchSize)),
		positive("MaxBatchSize", float64(c.MaxBatchSize)),
		positive("MaxConcurrentBatches", float64(c.MaxConcurrentBatches)),
		positive("PerformanceWindow", float64(c.PerformanceWindow)),
		positive("TargetProcessingTime", float64(c.TargetProcessingTime)),
		positive("TaskTimeout", float64(c.TaskTimeout)),
		ValidatorFunc(func(any) error {
			if c.MinBatchSize > c.MaxBatchSize {
				return fmt.Errorf("MinBatchSize %d exceeds MaxBatchSize %d", c.MinBatchSize, c.MaxBatchSize)
			}
			if c.InitialBatchSize < c.MinBatchSize || c.InitialBatchSize > c.MaxBatchSize {
				return fmt.Errorf("InitialBatchSize %d outside [%d, %d]", c.InitialBatchSize, c.MinBatchSize, c.MaxBatchSize)
			}
			return nil
		}),
		Range("AdaptationSensitivity", c.AdaptationSensitivity, 0.01, 1),
		Range("CPUThresholdPercent", c.CPUThresholdPercent, 1, 100),
		positive("MemoryThresholdMB", c.MemoryThresholdMB),
		ValidatorFunc(func(any) error {
			if c.WarmupBatches < 0 {
				return fmt.Errorf("WarmupBatches must not be negative, got %d", c.WarmupBatches)
			}
			return nil
		}),
	)
}
