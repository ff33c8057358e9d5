package config

import (
	"fmt"
	"time"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
	// Categories disables individual categories when set to false.
	Categories map[string]bool `yaml:"categories,omitempty"`
	// SlowThreshold is the duration above which timed operations log at
	// warn level.
	SlowThreshold string `yaml:"slow_threshold"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories are enabled unless explicitly switched off.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// GetSlowThreshold returns the slow-operation threshold.
func (c *LoggingConfig) GetSlowThreshold() time.Duration {
	d, err := time.ParseDuration(c.SlowThreshold)
	if err != nil {
		return time.Second
	}
	return d
}

// Validate checks level and format.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Format)
	}
	return nil
}
