package transport

import (
	"time"

	"github.com/meshswarm/meshswarm/utils/memsize"
)

// MaxFrameSize bounds the size of a single encoded outbound frame. Piece
// size must be configured so that a piece frame, including the base64
// inflation of its payload and the JSON framing, stays below it.
const MaxFrameSize = int(32 * memsize.KB)

// Config defines Handler configuration.
type Config struct {

	// PeerLimit caps concurrent peers. Introductions past the cap are
	// refused with a log and no side effects.
	PeerLimit int `yaml:"peer_limit"`

	// DisconnectGrace is how long a transient disconnect is masked before
	// the peer is evicted and the coordinator notified.
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// ICERestartGrace is how long a failed connection is given to recover
	// after an ICE restart before the peer is declared dead.
	ICERestartGrace time.Duration `yaml:"ice_restart_grace"`
}

func (c Config) applyDefaults() Config {
	if c.PeerLimit == 0 {
		c.PeerLimit = 50
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = 10 * time.Second
	}
	if c.ICERestartGrace == 0 {
		c.ICERestartGrace = 5 * time.Second
	}
	return c
}
