package config

import (
	"fmt"
	"strings"

	"github.com/happyhackingspace/henkan/dictionary"
)

// Validate checks value ranges. Load calls it automatically.
func (c *Config) Validate() error {
	if err := c.Training.validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := c.Decode.validate(); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (t *TrainingConfig) validate() error {
	if t.C1 < 0 {
		return fmt.Errorf("c1 must be >= 0 (got %v)", t.C1)
	}
	if t.C2 < 0 {
		return fmt.Errorf("c2 must be >= 0 (got %v)", t.C2)
	}
	if t.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0 (got %d)", t.MaxIterations)
	}
	if t.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be > 0 (got %v)", t.Epsilon)
	}
	return nil
}

func (d *DecodeConfig) validate() error {
	if d.NBest <= 0 {
		return fmt.Errorf("nbest must be > 0 (got %d)", d.NBest)
	}
	if d.CacheSize < 0 {
		return fmt.Errorf("cache_size must be >= 0 (got %d)", d.CacheSize)
	}
	if _, err := dictionary.ParseMergePolicy(d.Merge); err != nil {
		return err
	}
	return nil
}

func (l *LogConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}

// MergePolicy returns the parsed dictionary merge policy.
func (d DecodeConfig) MergePolicy() dictionary.MergePolicy {
	p, _ := dictionary.ParseMergePolicy(d.Merge)
	return p
}
