package sheetsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents configuration for the sync engine
type Config struct {
	MaxRetries       int            `yaml:"max_retries"`        // Maximum number of retries for retryable API errors (default: 3)
	BaseDelay        time.Duration  `yaml:"base_delay"`         // Base interval for exponential backoff (default: 1s)
	MaxDelay         time.Duration  `yaml:"max_delay"`          // Backoff ceiling (default: 30s)
	InterCallDelay   time.Duration  `yaml:"inter_call_delay"`   // Minimum gap between remote calls (default: 500ms)
	BatchSize        int            `yaml:"batch_size"`         // Fixed batch size; 0 selects by volume
	MaxBatchSize     int            `yaml:"max_batch_size"`     // Batch size ceiling (default: 50)
	MinQuotaHeadroom int            `yaml:"min_quota_headroom"` // Calls that must remain before a run starts (default: 5)
	SyncInterval     time.Duration  `yaml:"sync_interval"`      // Interval for the Scheduler (default: 5m)
	Priority         PriorityPolicy `yaml:"priority"`

	Logger *slog.Logger                                     `yaml:"-"`
	Now    func() time.Time                                 `yaml:"-"`
	Sleep  func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

// PriorityPolicy holds the queue scoring constants. Only the ordering they
// produce matters; the numbers themselves are tunable.
type PriorityPolicy struct {
	LowWeight      float64         `yaml:"low_weight"`
	NormalWeight   float64         `yaml:"normal_weight"`
	HighWeight     float64         `yaml:"high_weight"`
	CriticalWeight float64         `yaml:"critical_weight"`
	CreateWeight   float64         `yaml:"create_weight"`
	UpdateWeight   float64         `yaml:"update_weight"`
	DeleteWeight   float64         `yaml:"delete_weight"`
	AgeFactor      float64         `yaml:"age_factor"` // score per minute of age
	AgeCap         float64         `yaml:"age_cap"`
	Aging          AgingThresholds `yaml:"aging"`
}

// AgingThresholds is how long a pending item waits before promotion
type AgingThresholds struct {
	Low    time.Duration `yaml:"low"`
	Normal time.Duration `yaml:"normal"`
	High   time.Duration `yaml:"high"`
}

// DefaultPriorityPolicy keeps tiers apart by more than the largest
// operation weight plus the age cap, so age alone never crosses a tier.
func DefaultPriorityPolicy() PriorityPolicy {
	return PriorityPolicy{
		LowWeight:      0,
		NormalWeight:   100,
		HighWeight:     200,
		CriticalWeight: 300,
		CreateWeight:   20,
		UpdateWeight:   10,
		DeleteWeight:   30,
		AgeFactor:      1,
		AgeCap:         50,
		Aging: AgingThresholds{
			Low:    30 * time.Minute,
			Normal: time.Hour,
			High:   2 * time.Hour,
		},
	}
}

// DefaultConfig returns the recommended configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		BaseDelay:        1 * time.Second,
		MaxDelay:         30 * time.Second,
		InterCallDelay:   500 * time.Millisecond,
		MaxBatchSize:     50,
		MinQuotaHeadroom: 5,
		SyncInterval:     5 * time.Minute,
		Priority:         DefaultPriorityPolicy(),
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be non-negative")
	}
	if cfg.InterCallDelay < 0 || cfg.BaseDelay < 0 || cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("delays must be non-negative")
	}
	return cfg, nil
}

// withDefaults fills zero values. A zero InterCallDelay disables the
// inter-call wait and a zero MaxRetries disables retries; only a negative
// MaxRetries falls back to the default.
func (c *Config) withDefaults() Config {
	d := DefaultConfig()
	if c == nil {
		c = d
	}
	out := *c
	if out.MaxRetries < 0 {
		out.MaxRetries = d.MaxRetries
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = d.BaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = d.MaxDelay
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = out.BaseDelay
	}
	if out.InterCallDelay < 0 {
		out.InterCallDelay = 0
	}
	if out.MaxBatchSize <= 0 {
		out.MaxBatchSize = d.MaxBatchSize
	}
	if out.MinQuotaHeadroom < 0 {
		out.MinQuotaHeadroom = 0
	}
	if out.SyncInterval <= 0 {
		out.SyncInterval = d.SyncInterval
	}
	if out.Priority == (PriorityPolicy{}) {
		out.Priority = d.Priority
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Sleep == nil {
		out.Sleep = sleepContext
	}
	return out
}

// sleepContext blocks for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
