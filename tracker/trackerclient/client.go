// Copyright (c) 2024-2026 the meshswarm authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trackerclient maintains a participant's websocket session with the
// tracker, transparently reconnecting when the session drops. Each
// (re)connection surfaces a fresh welcome envelope, which callers use to
// re-announce their swarms.
package trackerclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/lib/signal"
)

// ErrNotConnected returns when Send is attempted while the tracker session
// is down. Callers rely on the post-reconnect welcome to resynchronize, so
// buffering sends would only replay stale negotiation state.
var ErrNotConnected = errors.New("tracker session not connected")

// Config defines tracker client configuration.
type Config struct {

	// Addr is the host:port of the tracker.
	Addr string `yaml:"addr"`

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

func (c Config) applyDefaults() Config {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 3 * time.Second
	}
	return c
}

// Client is a tracker session.
type Client interface {
	Send(e signal.Envelope) error
	Envelopes() <-chan signal.Envelope
	Close()
}

type client struct {
	config Config
	logger *zap.SugaredLogger

	envelopes chan signal.Envelope
	done      chan struct{}
	wg        sync.WaitGroup

	mu sync.Mutex
	ws *websocket.Conn
}

// New creates a Client and starts its session loop.
func New(config Config, logger *zap.SugaredLogger) Client {
	c := &client{
		config:    config.applyDefaults(),
		logger:    logger,
		envelopes: make(chan signal.Envelope, 64),
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Send marshals e onto the current session.
func (c *client) Send(e signal.Envelope) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	b, err := signal.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %s", err)
	}
	// Serialize writes; the socket does not allow concurrent writers.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != ws {
		return ErrNotConnected
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// Envelopes returns the stream of envelopes received from the tracker. The
// channel closes after Close.
func (c *client) Envelopes() <-chan signal.Envelope {
	return c.envelopes
}

// Close tears down the session.
func (c *client) Close() {
	close(c.done)
	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *client) run() {
	defer c.wg.Done()
	defer close(c.envelopes)

	b := backoff.NewConstantBackOff(c.config.ReconnectInterval)
	for {
		ws, _, err := websocket.DefaultDialer.Dial(
			fmt.Sprintf("ws://%s/connect", c.config.Addr), nil)
		if err != nil {
			c.logger.Warnf("Error connecting to tracker: %s", err)
			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-c.done:
				return
			}
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()

		select {
		case <-time.After(b.NextBackOff()):
		case <-c.done:
			return
		}
	}
}

func (c *client) readLoop(ws *websocket.Conn) {
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warnf("Tracker session dropped: %s", err)
			}
			return
		}
		e, err := signal.Unmarshal(b)
		if err != nil {
			c.logger.Warnf("Dropping tracker envelope: %s", err)
			continue
		}
		select {
		case c.envelopes <- e:
		case <-c.done:
			return
		}
	}
}
