package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with optional fields so a partial file only
// overrides what it mentions. Durations accept Go duration strings ("500ms")
// or bare numbers interpreted as milliseconds.
type fileConfig struct {
	InitialBatchSize      *int     `yaml:"initial_batch_size" json:"initial_batch_size"`
	MinBatchSize          *int     `yaml:"min_batch_size" json:"min_batch_size"`
	MaxBatchSize          *int     `yaml:"max_batch_size" json:"max_batch_size"`
	TargetProcessingTime  *string  `yaml:"target_processing_time" json:"target_processing_time"`
	MemoryThresholdMB     *float64 `yaml:"memory_threshold_mb" json:"memory_threshold_mb"`
	CPUThresholdPercent   *float64 `yaml:"cpu_threshold_percent" json:"cpu_threshold_percent"`
	AdaptationSensitivity *float64 `yaml:"adaptation_sensitivity" json:"adaptation_sensitivity"`
	PerformanceWindow     *int     `yaml:"performance_window" json:"performance_window"`
	MaxConcurrentBatches  *int     `yaml:"max_concurrent_batches" json:"max_concurrent_batches"`
	WarmupBatches         *int     `yaml:"warmup_batches" json:"warmup_batches"`
	TaskTimeout           *string  `yaml:"task_timeout" json:"task_timeout"`
}

// Load reads a YAML or JSON config file (detected by extension, YAML by
// default) on top of Default().
func Load(path string) (Config, error) {
	// #nosec G304 -- path is provided by the caller.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
	}

	cfg := Default()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadWithEnv loads a config file and then applies environment overrides of
// the form PREFIX_FIELDNAME (e.g. FLOWBATCH_MAXBATCHSIZE=200). An empty path
// starts from Default().
func LoadWithEnv(path, prefix string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnvOverrides(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

func (fc fileConfig) apply(cfg *Config) error {
	if fc.InitialBatchSize != nil {
		cfg.InitialBatchSize = *fc.InitialBatchSize
	}
	if fc.MinBatchSize != nil {
		cfg.MinBatchSize = *fc.MinBatchSize
	}
	if fc.MaxBatchSize != nil {
		cfg.MaxBatchSize = *fc.MaxBatchSize
	}
	if fc.TargetProcessingTime != nil {
		d, err := parseDuration(*fc.TargetProcessingTime)
		if err != nil {
			return fmt.Errorf("target_processing_time: %w", err)
		}
		cfg.TargetProcessingTime = d
	}
	if fc.MemoryThresholdMB != nil {
		cfg.MemoryThresholdMB = *fc.MemoryThresholdMB
	}
	if fc.CPUThresholdPercent != nil {
		cfg.CPUThresholdPercent = *fc.CPUThresholdPercent
	}
	if fc.AdaptationSensitivity != nil {
		cfg.AdaptationSensitivity = *fc.AdaptationSensitivity
	}
	if fc.PerformanceWindow != nil {
		cfg.PerformanceWindow = *fc.PerformanceWindow
	}
	if fc.MaxConcurrentBatches != nil {
		cfg.MaxConcurrentBatches = *fc.MaxConcurrentBatches
	}
	if fc.WarmupBatches != nil {
		cfg.WarmupBatches = *fc.WarmupBatches
	}
	if fc.TaskTimeout != nil {
		d, err := parseDuration(*fc.TaskTimeout)
		if err != nil {
			return fmt.Errorf("task_timeout: %w", err)
		}
		cfg.TaskTimeout = d
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", s)
}

// ApplyEnvOverrides sets struct fields from environment variables named
// PREFIX_FIELDNAME. Duration fields accept the same values as config files.
func ApplyEnvOverrides(prefix string, target *Config) error {
	if prefix == "" {
		prefix = "FLOWBATCH"
	}

	val := reflect.ValueOf(target).Elem()
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}

		envKey := prefix + "_" + strings.ToUpper(typ.Field(i).Name)
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", typ.Field(i).Name, envKey, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldFromEnv(field reflect.Value, envValue string) error {
	if field.Type() == durationType {
		d, err := parseDuration(envValue)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(envValue, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", envValue)
		}
		field.SetInt(intVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(envValue, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", envValue)
		}
		field.SetFloat(floatVal)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
