package spam

import "time"

const (
	DefaultHorizon      = 5 * time.Second
	DefaultReapInterval = 30 * time.Second
	DefaultThreshold    = 3
)

// Config controls how long messages are remembered and how many distinct
// channels must carry the same content before it counts as spam.
type Config struct {
	Horizon      time.Duration
	ReapInterval time.Duration
	Threshold    int
}

func DefaultConfig() Config {
	return Config{
		Horizon:      DefaultHorizon,
		ReapInterval: DefaultReapInterval,
		Threshold:    DefaultThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = DefaultHorizon
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	return c
}
