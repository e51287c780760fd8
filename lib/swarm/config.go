package swarm

import (
	"time"

	"github.com/meshswarm/meshswarm/utils/memsize"
)

// Config defines Manager configuration.
type Config struct {

	// PipelineLimit caps the number of in-flight piece requests per peer.
	PipelineLimit int `yaml:"pipeline_limit"`

	// RequestTimeout is how long a piece request may stay in flight before
	// it is released and becomes re-schedulable from any peer.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PieceSize is the payload length of every piece except the last, used
	// to validate arriving pieces. Must match the chunker's piece size.
	PieceSize int `yaml:"piece_size"`
}

func (c Config) applyDefaults() Config {
	if c.PipelineLimit == 0 {
		c.PipelineLimit = 5
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PieceSize == 0 {
		c.PieceSize = int(15 * memsize.KB)
	}
	return c
}
