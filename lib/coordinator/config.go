package coordinator

import (
	"time"

	"github.com/meshswarm/meshswarm/lib/chunker"
	"github.com/meshswarm/meshswarm/lib/swarm"
	"github.com/meshswarm/meshswarm/lib/transport"
)

// Config defines Coordinator configuration.
type Config struct {
	Chunker   chunker.Config   `yaml:"chunker"`
	Swarm     swarm.Config     `yaml:"swarm"`
	Transport transport.Config `yaml:"transport"`

	// PumpInterval is the period of the opportunistic request pump, which
	// re-fills request pipelines so timed-out requests are retried even when
	// no frames are arriving.
	PumpInterval time.Duration `yaml:"pump_interval"`
}

func (c Config) applyDefaults() Config {
	if c.PumpInterval == 0 {
		c.PumpInterval = 5 * time.Second
	}
	// The manager validates piece lengths against the chunker's piece size.
	if c.Swarm.PieceSize == 0 {
		c.Swarm.PieceSize = c.Chunker.PieceSize
	}
	return c
}
