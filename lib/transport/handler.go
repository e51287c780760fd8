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
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/core"
)

// State enumerates the lifecycle states of a peer connection.
type State int

// Peer connection lifecycle states.
const (
	StateNew State = iota
	StateOffering
	StateConnecting
	StateOpen
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrPeerCapacity returns when an introduction would exceed the
	// configured peer limit.
	ErrPeerCapacity = errors.New("peer capacity reached")

	// ErrUnknownPeer returns when an operation references a peer with no
	// connection state.
	ErrUnknownPeer = errors.New("unknown peer")

	errChannelNotOpen = errors.New("channel not open")
	errFrameTooLarge  = errors.New("frame exceeds size limit")
)

// Events are delivered by the Handler to its owner. Callbacks may fire from
// channel goroutines and must not block.
type Events interface {
	PeerConnected(peerID core.PeerID)
	PeerDisconnected(peerID core.PeerID)
	ChannelOpen(peerID core.PeerID)
	Frame(peerID core.PeerID, b []byte)
}

// Signaler carries session descriptions and candidates to a remote peer,
// via the tracker.
type Signaler interface {
	SendOffer(to core.PeerID, payload json.RawMessage) error
	SendAnswer(to core.PeerID, payload json.RawMessage) error
	SendCandidate(to core.PeerID, payload json.RawMessage) error
}

type peerConn struct {
	id          core.PeerID
	channel     Channel
	state       State
	initiator   bool
	restarted   bool
	connected   bool // Ever reached ConnConnected.
	channelOpen bool
	lastActive  time.Time
	graceTimer  *clock.Timer
}

// Handler owns every peer connection of one participant.
type Handler struct {
	config   Config
	stats    tally.Scope
	clk      clock.Clock
	dialer   Dialer
	signaler Signaler
	events   Events
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	peers map[core.PeerID]*peerConn
}

// NewHandler creates a new Handler.
func NewHandler(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	dialer Dialer,
	signaler Signaler,
	events Events,
	logger *zap.SugaredLogger) *Handler {

	stats = stats.Tagged(map[string]string{
		"module": "transport",
	})
	return &Handler{
		config:   config.applyDefaults(),
		stats:    stats,
		clk:      clk,
		dialer:   dialer,
		signaler: signaler,
		events:   events,
		logger:   logger,
		peers:    make(map[core.PeerID]*peerConn),
	}
}

// OpenPeer initiates a connection toward peerID: dials a channel, creates
// an offer, and sends it through the tracker. No-op if a connection already
// exists.
func (h *Handler) OpenPeer(peerID core.PeerID) error {
	h.mu.Lock()
	if _, ok := h.peers[peerID]; ok {
		h.mu.Unlock()
		h.logger.Debugf("Open %s: connection already exists", peerID)
		return nil
	}
	pc, err := h.addPeer(peerID, true)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	pc.state = StateOffering
	h.mu.Unlock()

	offer, err := pc.channel.CreateOffer(false)
	if err != nil {
		h.removePeer(peerID)
		return fmt.Errorf("create offer: %s", err)
	}
	if err := h.signaler.SendOffer(peerID, offer); err != nil {
		h.removePeer(peerID)
		return fmt.Errorf("send offer: %s", err)
	}
	return nil
}

// HandleOffer responds to a remote offer, dialing a channel if the peer is
// new. Offers on an existing connection are ICE restarts.
func (h *Handler) HandleOffer(from core.PeerID, payload json.RawMessage) error {
	h.mu.Lock()
	pc, ok := h.peers[from]
	if !ok {
		var err error
		pc, err = h.addPeer(from, false)
		if err != nil {
			h.mu.Unlock()
			return err
		}
	}
	pc.state = StateConnecting
	h.mu.Unlock()

	answer, err := pc.channel.HandleOffer(payload)
	if err != nil {
		return fmt.Errorf("handle offer: %s", err)
	}
	if err := h.signaler.SendAnswer(from, answer); err != nil {
		return fmt.Errorf("send answer: %s", err)
	}
	return nil
}

// HandleAnswer applies a remote answer to this side's outstanding offer.
func (h *Handler) HandleAnswer(from core.PeerID, payload json.RawMessage) error {
	pc, ok := h.getPeer(from)
	if !ok {
		return ErrUnknownPeer
	}
	h.mu.Lock()
	pc.state = StateConnecting
	h.mu.Unlock()
	if err := pc.channel.HandleAnswer(payload); err != nil {
		return fmt.Errorf("handle answer: %s", err)
	}
	return nil
}

// HandleCandidate applies one remote ICE candidate.
func (h *Handler) HandleCandidate(from core.PeerID, payload json.RawMessage) error {
	pc, ok := h.getPeer(from)
	if !ok {
		return ErrUnknownPeer
	}
	if err := pc.channel.AddCandidate(payload); err != nil {
		return fmt.Errorf("add candidate: %s", err)
	}
	return nil
}

// Send writes one frame to an open channel. Fails fast if the channel has
// not opened or the frame exceeds the size limit.
func (h *Handler) Send(peerID core.PeerID, b []byte) error {
	if len(b) > MaxFrameSize {
		return errFrameTooLarge
	}
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownPeer
	}
	if !pc.channelOpen {
		h.mu.Unlock()
		return errChannelNotOpen
	}
	h.mu.Unlock()
	return pc.channel.Send(b)
}

// ClosePeer tears down the connection to peerID without emitting
// PeerDisconnected.
func (h *Handler) ClosePeer(peerID core.PeerID) {
	h.removePeer(peerID)
}

// CloseAll tears down every connection. Best effort.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	ids := make([]core.PeerID, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.removePeer(id)
	}
}

// PeerState returns the lifecycle state of the connection to peerID.
func (h *Handler) PeerState(peerID core.PeerID) (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.peers[peerID]
	if !ok {
		return StateNew, false
	}
	return pc.state, true
}

// NumPeers returns the number of tracked peer connections.
func (h *Handler) NumPeers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// addPeer dials a channel for peerID under h.mu.
func (h *Handler) addPeer(peerID core.PeerID, initiator bool) (*peerConn, error) {
	if len(h.peers) >= h.config.PeerLimit {
		h.stats.Counter("capacity_refusals").Inc(1)
		h.logger.Warnf("Refusing connection to %s: peer capacity %d reached",
			peerID, h.config.PeerLimit)
		return nil, ErrPeerCapacity
	}
	pc := &peerConn{
		id:         peerID,
		state:      StateNew,
		initiator:  initiator,
		lastActive: h.clk.Now(),
	}
	channel, err := h.dialer.Dial(ChannelEvents{
		OnOpen:        func() { h.onOpen(peerID) },
		OnMessage:     func(b []byte) { h.onMessage(peerID, b) },
		OnCandidate:   func(c json.RawMessage) { h.onCandidate(peerID, c) },
		OnStateChange: func(s ConnState) { h.onStateChange(peerID, s) },
	})
	if err != nil {
		return nil, fmt.Errorf("dial channel: %s", err)
	}
	pc.channel = channel
	h.peers[peerID] = pc
	h.stats.Counter("dials").Inc(1)
	return pc, nil
}

func (h *Handler) getPeer(peerID core.PeerID) (*peerConn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.peers[peerID]
	return pc, ok
}

func (h *Handler) onOpen(peerID core.PeerID) {
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	pc.channelOpen = true
	h.mu.Unlock()

	h.logger.Infof("Channel open to %s", peerID)
	h.events.ChannelOpen(peerID)
}

func (h *Handler) onMessage(peerID core.PeerID, b []byte) {
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	pc.lastActive = h.clk.Now()
	h.mu.Unlock()

	h.events.Frame(peerID, b)
}

func (h *Handler) onCandidate(peerID core.PeerID, candidate json.RawMessage) {
	if err := h.signaler.SendCandidate(peerID, candidate); err != nil {
		h.logger.Warnf("Send candidate to %s: %s", peerID, err)
	}
}

func (h *Handler) onStateChange(peerID core.PeerID, s ConnState) {
	switch s {
	case ConnConnected:
		h.onConnected(peerID)
	case ConnDisconnected:
		h.onDisconnected(peerID)
	case ConnFailed:
		h.onFailed(peerID)
	case ConnClosed:
		h.evict(peerID, "channel closed")
	}
}

func (h *Handler) onConnected(peerID core.PeerID) {
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.stopGrace(pc)
	pc.state = StateOpen
	pc.restarted = false
	first := !pc.connected
	pc.connected = true
	h.mu.Unlock()

	if first {
		h.logger.Infof("Peer %s connected", peerID)
		h.events.PeerConnected(peerID)
	} else {
		h.logger.Infof("Peer %s recovered", peerID)
	}
}

func (h *Handler) onDisconnected(peerID core.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.peers[peerID]
	if !ok || pc.state == StateClosed {
		return
	}
	// Transient by assumption. The coordinator hears nothing until the
	// grace window expires.
	pc.state = StateDisconnected
	h.startGrace(pc, h.config.DisconnectGrace, "disconnect grace expired")
}

func (h *Handler) onFailed(peerID core.PeerID) {
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	pc.state = StateDisconnected
	restart := pc.initiator && !pc.restarted
	if restart {
		pc.restarted = true
	}
	h.startGrace(pc, h.config.ICERestartGrace, "ice restart grace expired")
	h.mu.Unlock()

	if !restart {
		return
	}
	h.stats.Counter("ice_restarts").Inc(1)
	h.logger.Infof("Restarting ICE toward %s", peerID)
	offer, err := pc.channel.CreateOffer(true)
	if err != nil {
		h.logger.Errorf("Create restart offer for %s: %s", peerID, err)
		h.evict(peerID, "ice restart failed")
		return
	}
	if err := h.signaler.SendOffer(peerID, offer); err != nil {
		h.logger.Errorf("Send restart offer to %s: %s", peerID, err)
		h.evict(peerID, "ice restart failed")
	}
}

// startGrace arms the eviction timer on pc, replacing any previous timer.
// Caller holds h.mu.
func (h *Handler) startGrace(pc *peerConn, d time.Duration, reason string) {
	h.stopGrace(pc)
	id := pc.id
	pc.graceTimer = h.clk.AfterFunc(d, func() {
		h.evict(id, reason)
	})
}

// stopGrace disarms the eviction timer on pc. Caller holds h.mu.
func (h *Handler) stopGrace(pc *peerConn) {
	if pc.graceTimer != nil {
		pc.graceTimer.Stop()
		pc.graceTimer = nil
	}
}

// evict removes the peer and notifies the coordinator if the peer had ever
// connected.
func (h *Handler) evict(peerID core.PeerID, reason string) {
	pc := h.remove(peerID)
	if pc == nil {
		return
	}
	h.stats.Counter("evictions").Inc(1)
	h.logger.Infof("Evicting peer %s: %s", peerID, reason)
	if pc.connected {
		h.events.PeerDisconnected(peerID)
	}
}

// removePeer tears down a peer without notification.
func (h *Handler) removePeer(peerID core.PeerID) {
	h.remove(peerID)
}

func (h *Handler) remove(peerID core.PeerID) *peerConn {
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	h.stopGrace(pc)
	pc.state = StateClosed
	delete(h.peers, peerID)
	h.mu.Unlock()

	if err := pc.channel.Close(); err != nil {
		h.logger.Debugf("Close channel to %s: %s", peerID, err)
	}
	return pc
}
