package chunker

import "github.com/meshswarm/meshswarm/utils/memsize"

// Config defines Chunker configuration.
type Config struct {

	// PieceSize is the fixed payload size of every piece except possibly the
	// last. It must fit within the transport's per-frame limit with room for
	// framing overhead.
	PieceSize int `yaml:"piece_size"`
}

func (c Config) applyDefaults() Config {
	if c.PieceSize == 0 {
		c.PieceSize = int(15 * memsize.KB)
	}
	return c
}
