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

// Package transport establishes one reliable, ordered, bidirectional byte
// stream per peer pair and owns the per-peer connection lifecycle: offer /
// answer exchange through the tracker, ICE-restart recovery, disconnect
// grace, and the peer capacity bound.
package transport

import "encoding/json"

// ConnState is the coarse connectivity state reported by a Channel
// implementation.
type ConnState int

// Channel connectivity states.
const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// ChannelEvents are callbacks installed on a Channel at dial time. All
// callbacks may fire from the channel implementation's own goroutines.
type ChannelEvents struct {
	// OnOpen fires when the data channel becomes writable.
	OnOpen func()

	// OnMessage fires once per inbound frame, in send order.
	OnMessage func(b []byte)

	// OnCandidate fires for every locally gathered ICE candidate.
	OnCandidate func(candidate json.RawMessage)

	// OnStateChange fires on connectivity transitions.
	OnStateChange func(state ConnState)
}

// Channel is one reliable ordered stream to a remote peer, wrapping an
// ICE/DTLS connection whose session descriptions and candidates the caller
// relays through the tracker.
type Channel interface {
	// CreateOffer produces a local session description, creating the data
	// channel if this side is the initiator. iceRestart requests fresh ICE
	// credentials to recover a failed connection.
	CreateOffer(iceRestart bool) (json.RawMessage, error)

	// HandleOffer applies a remote offer and produces an answer.
	HandleOffer(offer json.RawMessage) (json.RawMessage, error)

	// HandleAnswer applies a remote answer to a previously created offer.
	HandleAnswer(answer json.RawMessage) error

	// AddCandidate applies one remote ICE candidate.
	AddCandidate(candidate json.RawMessage) error

	// Send writes one frame. Fails if the data channel is not open.
	Send(b []byte) error

	// Close tears down the underlying connection.
	Close() error
}

// Dialer creates Channels. The production implementation wraps WebRTC peer
// connections; tests substitute in-memory fakes.
type Dialer interface {
	Dial(events ChannelEvents) (Channel, error)
}
