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

// Package coordinator glues the subsystems of one swarm participant
// together: tracker envelopes drive transport operations, transport frames
// drive the swarm manager, and manager actions are dispatched back onto the
// wire. Lifecycle events are pushed to an external scene sink.
//
// All participant state is owned by a single event loop goroutine. Transport
// callbacks and the public API post events to the loop; nothing outside it
// touches peers or swarms.
package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/lib/chunker"
	"github.com/meshswarm/meshswarm/lib/signal"
	"github.com/meshswarm/meshswarm/lib/swarm"
	"github.com/meshswarm/meshswarm/lib/transport"
	"github.com/meshswarm/meshswarm/lib/wire"
	"github.com/meshswarm/meshswarm/tracker/trackerclient"
	"github.com/meshswarm/meshswarm/utils/bitsetutil"
)

// ErrStopped returns when an operation is attempted on a stopped
// Coordinator.
var ErrStopped = errors.New("coordinator stopped")

// peerState is the coordinator's view of one connected peer. The introduced
// set records which artifacts the peer has been informed of on the current
// connection; it dies with the connection.
type peerState struct {
	channelOpen bool
	bitfields   map[core.ContentID]*bitset.BitSet
	introduced  map[core.ContentID]struct{}
}

// Coordinator is the top level of one swarm participant.
type Coordinator struct {
	config  Config
	stats   tally.Scope
	clk     clock.Clock
	chunker *chunker.Chunker
	manager *swarm.Manager
	tracker trackerclient.Client
	sink    SceneSink
	logger  *zap.SugaredLogger

	transport *transport.Handler

	// Loop-owned state.
	peers map[core.PeerID]*peerState

	events chan event
	done   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup

	mu      sync.Mutex
	localID core.PeerID
}

// New creates a Coordinator and starts its event loop. Stop closes the
// tracker session; the Coordinator owns it from here.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	tracker trackerclient.Client,
	dialer transport.Dialer,
	sink SceneSink,
	logger *zap.SugaredLogger) *Coordinator {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "coordinator",
	})
	c := &Coordinator{
		config:  config,
		stats:   stats,
		clk:     clk,
		chunker: chunker.New(config.Chunker, clk),
		manager: swarm.NewManager(config.Swarm, stats, clk, logger),
		tracker: tracker,
		sink:    sink,
		logger:  logger,
		peers:   make(map[core.PeerID]*peerState),
		events:  make(chan event, 1024),
		done:    make(chan struct{}),
	}
	c.transport = transport.NewHandler(
		config.Transport, stats, clk, dialer, &trackerSignaler{c}, &transportEvents{c}, logger)
	c.wg.Add(1)
	go c.run()
	return c
}

// Stop shuts down the event loop, tears down every peer connection, and
// closes the tracker session.
func (c *Coordinator) Stop() {
	c.stop.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.transport.CloseAll()
		c.tracker.Close()
	})
}

// PeerID returns the tracker-assigned participant id, empty until the first
// welcome arrives.
func (c *Coordinator) PeerID() core.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// ShareModel splits data into pieces, registers a seeder swarm, announces it
// to the tracker, and introduces the artifact to every open peer. This is
// the only ingress path into the engine; the caller owns blob acquisition.
func (c *Coordinator) ShareModel(
	data []byte, transform core.Transform, prov core.Provenance) (core.ContentID, error) {

	ev := shareModelEvent{
		data:      data,
		transform: transform,
		prov:      prov,
		result:    make(chan shareResult, 1),
	}
	select {
	case c.events <- ev:
	case <-c.done:
		return "", ErrStopped
	}
	select {
	case r := <-ev.result:
		return r.contentID, r.err
	case <-c.done:
		return "", ErrStopped
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	pump := c.clk.Ticker(c.config.PumpInterval)
	defer pump.Stop()

	envelopes := c.tracker.Envelopes()
	for {
		select {
		case e, ok := <-envelopes:
			if !ok {
				envelopes = nil
				continue
			}
			c.handleEnvelope(e)
		case ev := <-c.events:
			ev.apply(c)
		case <-pump.C:
			c.pump()
		case <-c.done:
			return
		}
	}
}

// post delivers ev to the event loop without blocking the caller. Posts
// racing a full loop are dropped; every dropped event is recoverable through
// the pump or a later frame.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		c.stats.Counter("events_dropped").Inc(1)
		c.logger.Warnf("Event loop saturated, dropping %T", ev)
	}
}

// pump refills request pipelines for every incomplete swarm so timed-out
// requests are re-issued even while no frames arrive.
func (c *Coordinator) pump() {
	for _, s := range c.manager.Swarms() {
		if !s.Complete() {
			c.dispatch(c.manager.RequestMoreChunks(s.ContentID(), c.bitfieldsFor(s.ContentID())))
		}
	}
}

func (c *Coordinator) handleEnvelope(e signal.Envelope) {
	switch v := e.(type) {
	case signal.Welcome:
		c.handleWelcome(v)
	case signal.AnnounceResponse:
		c.logger.Debugf("Swarm %s has %d other members", v.ContentID, len(v.Peers))
	case signal.PeerJoinedSwarm:
		c.logger.Debugf("Peer %s joined swarm %s", v.PeerID, v.ContentID)
	case signal.PeerLeftSwarm:
		c.handlePeerLeftSwarm(v)
	case signal.RequestConnection:
		if v.From == c.PeerID() {
			return
		}
		if err := c.transport.OpenPeer(v.From); err != nil {
			c.logger.Warnf("Error opening connection to %s: %s", v.From, err)
		}
	case signal.Offer:
		c.handleOffer(v)
	case signal.Answer:
		if err := c.transport.HandleAnswer(v.From, v.Payload); err != nil {
			c.logger.Warnf("Error handling answer from %s: %s", v.From, err)
		}
	case signal.ICECandidate:
		if err := c.transport.HandleCandidate(v.From, v.Payload); err != nil {
			c.logger.Warnf("Error handling candidate from %s: %s", v.From, err)
		}
	default:
		c.logger.Warnf("Ignoring %s envelope from tracker", e.EnvelopeType())
	}
}

// handleWelcome records the assigned id, re-announces every swarm, and asks
// the tracker to prompt other participants to connect. Welcomes recur on
// tracker reconnect; re-announcing is how membership survives it. Peer
// transports are untouched.
func (c *Coordinator) handleWelcome(w signal.Welcome) {
	c.mu.Lock()
	c.localID = w.PeerID
	c.mu.Unlock()

	c.logger.Infof("Joined tracker as %s", w.PeerID)
	for _, s := range c.manager.Swarms() {
		c.announce(s)
	}
	if err := c.tracker.Send(signal.RequestConnection{From: w.PeerID}); err != nil {
		c.logger.Warnf("Error requesting connections: %s", err)
	}
}

// handleOffer applies a remote offer, resolving simultaneous opens first:
// when both sides of a pair dialed each other, the smaller id keeps its
// offer and the larger id tears down its own attempt and answers as
// responder.
func (c *Coordinator) handleOffer(o signal.Offer) {
	if state, ok := c.transport.PeerState(o.From); ok {
		switch state {
		case transport.StateOffering:
			if c.PeerID().LessThan(o.From) {
				c.logger.Infof("Ignoring crossing offer from %s, keeping own offer", o.From)
				return
			}
			c.logger.Infof("Yielding to crossing offer from %s", o.From)
			c.transport.ClosePeer(o.From)
		case transport.StateConnecting, transport.StateOpen:
			// A stale crossing offer from an already resolved simultaneous
			// open. Offers on a live connection are only valid as ICE
			// restarts, which arrive in the disconnected state.
			c.logger.Infof("Ignoring stale offer from %s", o.From)
			return
		}
	}
	if err := c.transport.HandleOffer(o.From, o.Payload); err != nil {
		c.logger.Warnf("Error handling offer from %s: %s", o.From, err)
	}
}

func (c *Coordinator) handlePeerLeftSwarm(e signal.PeerLeftSwarm) {
	ps, ok := c.peers[e.PeerID]
	if !ok {
		return
	}
	delete(ps.bitfields, e.ContentID)
	if s, ok := c.manager.Swarm(e.ContentID); ok && !s.Complete() {
		c.dispatch(c.manager.RequestMoreChunks(e.ContentID, c.bitfieldsFor(e.ContentID)))
	}
}

func (c *Coordinator) handleFrame(peerID core.PeerID, b []byte) {
	f, err := wire.Unmarshal(b)
	if err != nil {
		c.stats.Counter("bad_frames").Inc(1)
		c.logger.Warnf("Dropping frame from %s: %s", peerID, err)
		return
	}
	switch v := f.(type) {
	case wire.Metadata:
		c.handleMetadata(peerID, v)
	case wire.Bitfield:
		c.handleBitfield(peerID, v)
	case wire.Have:
		c.handleHave(peerID, v)
	case wire.Request:
		c.dispatch(c.manager.HandleRequest(peerID, v.ContentID, v.Index))
	case wire.Piece:
		c.dispatch(c.manager.HandlePiece(peerID, &v.Piece, c.bitfieldsFor(v.Piece.ContentID)))
	}
}

// handleMetadata registers a leecher swarm for a newly learned artifact and
// announces the membership. Metadata for an already known content is a
// no-op; every peer introduces its artifacts on channel open.
func (c *Coordinator) handleMetadata(peerID core.PeerID, m wire.Metadata) {
	if m.Info == nil {
		c.logger.Warnf("Dropping metadata frame from %s: no artifact info", peerID)
		return
	}
	// The sender evidently has the metadata already; never introduce it back.
	c.getPeer(peerID).introduced[m.Info.ContentID] = struct{}{}
	if _, ok := c.manager.Swarm(m.Info.ContentID); ok {
		return
	}
	if _, err := c.manager.CreateSwarm(m.Info, nil); err != nil {
		c.logger.Warnf("Error creating swarm for %s: %s", m.Info.ContentID, err)
		return
	}
	c.logger.Infof("Learned artifact %s from %s, %d pieces",
		m.Info.ContentID, peerID, m.Info.NumPieces())
	if err := c.tracker.Send(signal.Announce{ContentID: m.Info.ContentID}); err != nil {
		c.logger.Warnf("Error announcing %s: %s", m.Info.ContentID, err)
	}
}

// handleBitfield records the peer's owned pieces and bootstraps requests
// against the updated view.
func (c *Coordinator) handleBitfield(peerID core.PeerID, f wire.Bitfield) {
	s, ok := c.manager.Swarm(f.ContentID)
	if !ok {
		c.logger.Warnf("Dropping bitfield from %s for unknown content %s", peerID, f.ContentID)
		return
	}
	c.getPeer(peerID).bitfields[f.ContentID] = bitsetutil.FromBytes(f.Bits, s.NumPieces())
	if !s.Complete() {
		c.dispatch(c.manager.RequestMoreChunks(f.ContentID, c.bitfieldsFor(f.ContentID)))
	}
}

// handleHave mirrors one bit into the peer's bitfield and, if the transfer
// is still in progress, tops up the pipelines.
func (c *Coordinator) handleHave(peerID core.PeerID, f wire.Have) {
	s, ok := c.manager.Swarm(f.ContentID)
	if !ok {
		return
	}
	ps := c.getPeer(peerID)
	bf, ok := ps.bitfields[f.ContentID]
	if !ok {
		bf = bitset.New(uint(s.NumPieces()))
		ps.bitfields[f.ContentID] = bf
	}
	if f.Index < 0 || f.Index >= s.NumPieces() {
		return
	}
	bf.Set(uint(f.Index))
	if !s.Complete() {
		c.dispatch(c.manager.RequestMoreChunks(f.ContentID, c.bitfieldsFor(f.ContentID)))
	}
}

func (c *Coordinator) shareModel(
	data []byte, transform core.Transform, prov core.Provenance) (core.ContentID, error) {

	info, pieces, err := c.chunker.Prepare(data, transform, prov)
	if err != nil {
		return "", fmt.Errorf("prepare artifact: %s", err)
	}
	s, err := c.manager.CreateSwarm(info, pieces)
	if err != nil {
		return "", fmt.Errorf("create swarm: %s", err)
	}
	c.logger.Infof("Sharing artifact %s, %d pieces", info.ContentID, info.NumPieces())
	c.stats.Counter("models_shared").Inc(1)
	c.announce(s)
	for peerID, ps := range c.peers {
		if ps.channelOpen {
			c.introduce(peerID, s)
		}
	}
	return info.ContentID, nil
}

func (c *Coordinator) announce(s *swarm.Swarm) {
	err := c.tracker.Send(signal.Announce{
		ContentID: s.ContentID(),
		Complete:  s.Complete(),
	})
	if err != nil {
		c.logger.Warnf("Error announcing %s: %s", s.ContentID(), err)
	}
}

// introduceContent introduces every local swarm to a peer whose channel just
// opened.
func (c *Coordinator) introduceContent(peerID core.PeerID) {
	for _, s := range c.manager.Swarms() {
		c.introduce(peerID, s)
	}
}

// introduce sends metadata then bitfield for one swarm, at most once per
// peer connection. Metadata always precedes the bitfield on a given channel.
func (c *Coordinator) introduce(peerID core.PeerID, s *swarm.Swarm) {
	ps := c.getPeer(peerID)
	if _, ok := ps.introduced[s.ContentID()]; ok {
		return
	}
	ps.introduced[s.ContentID()] = struct{}{}
	c.sendFrame(peerID, wire.Metadata{Info: s.Info()})
	c.sendFrame(peerID, wire.Bitfield{
		ContentID: s.ContentID(),
		Bits:      bitsetutil.ToBytes(s.Owned(), s.NumPieces()),
	})
}

// dispatch executes manager actions against the transport, tracker, and
// scene sink.
func (c *Coordinator) dispatch(actions []swarm.Action) {
	for _, a := range actions {
		switch v := a.(type) {
		case swarm.RequestChunk:
			c.sendFrame(v.PeerID, wire.Request{ContentID: v.ContentID, Index: v.Index})
		case swarm.SendPiece:
			c.sendFrame(v.PeerID, wire.Piece{Piece: *v.Piece})
		case swarm.BroadcastHave:
			for peerID, ps := range c.peers {
				if ps.channelOpen {
					c.sendFrame(peerID, wire.Have{ContentID: v.ContentID, Index: v.Index})
				}
			}
		case swarm.DownloadProgress:
			c.sink.OnDownloadProgress(v.ContentID, v.Percent)
		case swarm.DownloadComplete:
			c.completeDownload(v.ContentID)
		}
	}
}

// completeDownload reassembles the artifact, hands it to the scene, and
// flips the tracker membership to complete. The swarm stays registered so
// this participant serves pieces as a seeder.
func (c *Coordinator) completeDownload(contentID core.ContentID) {
	s, ok := c.manager.Swarm(contentID)
	if !ok {
		return
	}
	data, err := c.chunker.Assemble(s.Pieces())
	if err != nil {
		// Unreachable while manager invariants hold.
		c.logger.Errorf("Error assembling %s: %s", contentID, err)
		return
	}
	c.logger.Infof("Download of %s complete, %d bytes", contentID, len(data))
	c.sink.OnModelReceived(s.Info(), data)
	c.announce(s)
}

func (c *Coordinator) sendFrame(peerID core.PeerID, f wire.Frame) {
	b, err := wire.Marshal(f)
	if err != nil {
		c.logger.Errorf("Error marshaling %s frame: %s", f.FrameType(), err)
		return
	}
	if err := c.transport.Send(peerID, b); err != nil {
		c.logger.Debugf("Error sending %s frame to %s: %s", f.FrameType(), peerID, err)
	}
}

func (c *Coordinator) getPeer(peerID core.PeerID) *peerState {
	ps, ok := c.peers[peerID]
	if !ok {
		ps = &peerState{
			bitfields:  make(map[core.ContentID]*bitset.BitSet),
			introduced: make(map[core.ContentID]struct{}),
		}
		c.peers[peerID] = ps
	}
	return ps
}

// bitfieldsFor snapshots the known peer bitfields for one content id. Only
// peers with an open channel are eligible request targets.
func (c *Coordinator) bitfieldsFor(contentID core.ContentID) swarm.Bitfields {
	bitfields := make(swarm.Bitfields)
	for peerID, ps := range c.peers {
		if !ps.channelOpen {
			continue
		}
		if bf, ok := ps.bitfields[contentID]; ok {
			bitfields[peerID] = bf
		}
	}
	return bitfields
}

// transportEvents posts transport callbacks onto the event loop. Callbacks
// fire from channel goroutines and must not block.
type transportEvents struct {
	c *Coordinator
}

func (t *transportEvents) PeerConnected(peerID core.PeerID) {
	t.c.post(peerConnectedEvent{peerID})
}

func (t *transportEvents) PeerDisconnected(peerID core.PeerID) {
	t.c.post(peerDisconnectedEvent{peerID})
}

func (t *transportEvents) ChannelOpen(peerID core.PeerID) {
	t.c.post(channelOpenEvent{peerID})
}

func (t *transportEvents) Frame(peerID core.PeerID, b []byte) {
	t.c.post(frameEvent{peerID, b})
}

// trackerSignaler relays transport negotiation payloads through the tracker
// session.
type trackerSignaler struct {
	c *Coordinator
}

func (s *trackerSignaler) SendOffer(to core.PeerID, payload json.RawMessage) error {
	return s.c.tracker.Send(signal.Offer{From: s.c.PeerID(), To: to, Payload: payload})
}

func (s *trackerSignaler) SendAnswer(to core.PeerID, payload json.RawMessage) error {
	return s.c.tracker.Send(signal.Answer{From: s.c.PeerID(), To: to, Payload: payload})
}

func (s *trackerSignaler) SendCandidate(to core.PeerID, payload json.RawMessage) error {
	return s.c.tracker.Send(signal.ICECandidate{From: s.c.PeerID(), To: to, Payload: payload})
}
