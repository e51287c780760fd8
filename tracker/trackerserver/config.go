package trackerserver

import "time"

// Config defines tracker server configuration.
type Config struct {

	// StaleThreshold is how long a membership record may go without a
	// refresh before the sweep evicts it. Abrupt participant death does not
	// always surface as a socket close.
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// SweepInterval is the period of the stale sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func (c Config) applyDefaults() Config {
	if c.StaleThreshold == 0 {
		c.StaleThreshold = 3 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	return c
}
