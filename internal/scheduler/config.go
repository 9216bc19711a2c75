// Package scheduler runs fan-out work under global and per-class concurrency limits.
package scheduler

import "fmt"

// Config defines the scheduler limits.
type Config struct {
	// GlobalMax is the maximum number of concurrent jobs across all classes.
	GlobalMax int `koanf:"global_max" yaml:"global_max"`
	// ByClass defines per-class concurrency limits.
	ByClass map[string]int `koanf:"by_class" yaml:"by_class"`
	// DefaultClassMax applies to classes missing from ByClass.
	DefaultClassMax int `koanf:"default_class_max" yaml:"default_class_max"`
}

// DefaultConfig returns the default scheduler configuration. Interactive
// credential flows run one at a time.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax: 8,
		ByClass: map[string]int{
			"delegated_login": 1,
			"oauth":           1,
		},
		DefaultClassMax: 4,
	}
}

// GetClassLimit returns the concurrency limit for a class.
func (c *Config) GetClassLimit(class string) int {
	if limit, ok := c.ByClass[class]; ok {
		return limit
	}
	if c.DefaultClassMax > 0 {
		return c.DefaultClassMax
	}
	return 1
}

// Validate checks that every limit allows at least one job.
func (c *Config) Validate() error {
	if c.GlobalMax < 1 {
		return fmt.Errorf("global_max must be at least 1")
	}
	for class, limit := range c.ByClass {
		if limit < 1 {
			return fmt.Errorf("limit for class %q must be at least 1", class)
		}
	}
	return nil
}
