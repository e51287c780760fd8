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

// Package trackerserver is the rendezvous point of the swarm. It assigns
// participant ids, maintains per-content rooms, relays session negotiation
// envelopes between participants, and sweeps out members whose records have
// gone stale. It holds no state that survives a restart.
package trackerserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/lib/signal"
)

// client is one connected participant. Implementations must allow concurrent
// sends.
type client interface {
	id() core.PeerID
	send(e signal.Envelope) error
}

// Server tracks swarm membership and relays negotiation envelopes.
type Server struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	logger *zap.SugaredLogger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	rooms   *roomStore
	clients map[core.PeerID]client

	done chan struct{}
}

// New creates a new Server and starts its stale sweep.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger) *Server {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "trackerserver",
	})
	s := &Server{
		config: config,
		stats:  stats,
		clk:    clk,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Participants connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms:   newRoomStore(clk),
		clients: make(map[core.PeerID]client),
		done:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the stale sweep.
func (s *Server) Close() {
	close(s.done)
}

// Handler returns an http.Handler for Server endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Get("/connect", s.connectHandler)
	r.Get("/peers", s.peersHandler)
	return r
}

// connectHandler upgrades the request to a websocket session and serves it
// until the socket closes.
func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Error upgrading connection: %s", err)
		return
	}
	defer ws.Close()

	c := &wsClient{peerID: core.RandomPeerID(), ws: ws}
	if err := s.register(c); err != nil {
		s.logger.Errorf("Error registering client: %s", err)
		return
	}
	s.stats.Counter("connections_opened").Inc(1)
	defer s.stats.Counter("connections_closed").Inc(1)
	defer s.disconnect(c)

	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf("Socket %s read error: %s", c.peerID, err)
			}
			return
		}
		e, err := signal.Unmarshal(b)
		if err != nil {
			// Drop, don't disconnect. Misbehaving senders only hurt
			// themselves.
			s.stats.Counter("unknown_envelopes").Inc(1)
			s.logger.Warnf("Dropping envelope from %s: %s", c.peerID, err)
			continue
		}
		s.handleEnvelope(c, e)
	}
}

// peersHandler exposes room membership for debugging. The infoHash query
// parameter selects the room.
func (s *Server) peersHandler(w http.ResponseWriter, r *http.Request) {
	contentID := core.ContentID(r.URL.Query().Get("infoHash"))
	if contentID == "" {
		http.Error(w, "infoHash required", http.StatusBadRequest)
		return
	}

	type peerStatus struct {
		PeerID   core.PeerID `json:"peerId"`
		Complete bool        `json:"complete"`
		LastSeen string      `json:"lastSeen"`
	}
	resp := struct {
		InfoHash core.ContentID `json:"infoHash"`
		Peers    []peerStatus   `json:"peers"`
	}{InfoHash: contentID}

	s.mu.Lock()
	for _, entry := range s.rooms.members(contentID, "") {
		t, _ := s.rooms.lastSeen(contentID, entry.PeerID)
		resp.Peers = append(resp.Peers, peerStatus{
			PeerID:   entry.PeerID,
			Complete: entry.Complete,
			LastSeen: t.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Errorf("Error encoding peers response: %s", err)
	}
}

// register adds c to the connected set and welcomes it with its assigned id.
func (s *Server) register(c client) error {
	s.mu.Lock()
	s.clients[c.id()] = c
	s.mu.Unlock()
	return c.send(signal.Welcome{PeerID: c.id()})
}

// disconnect removes c from the connected set and from every room it
// belongs to, broadcasting departures to the remaining members.
func (s *Server) disconnect(c client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c.id())
	for _, contentID := range s.rooms.removeAll(c.id()) {
		s.broadcast(contentID, signal.PeerLeftSwarm{
			ContentID: contentID,
			PeerID:    c.id(),
		}, c.id())
	}
}

func (s *Server) handleEnvelope(c client, e signal.Envelope) {
	switch v := e.(type) {
	case signal.Announce:
		s.handleAnnounce(c, v)
	case signal.Leave:
		s.handleLeave(c, v)
	case signal.RequestConnection:
		s.handleRequestConnection(c)
	case signal.Offer:
		s.forward(c, v.To, signal.Offer{From: c.id(), To: v.To, Payload: v.Payload})
	case signal.Answer:
		s.forward(c, v.To, signal.Answer{From: c.id(), To: v.To, Payload: v.Payload})
	case signal.ICECandidate:
		s.forward(c, v.To, signal.ICECandidate{From: c.id(), To: v.To, Payload: v.Payload})
	default:
		s.stats.Counter("unhandled_envelopes").Inc(1)
		s.logger.Warnf("Ignoring %s envelope from %s", e.EnvelopeType(), c.id())
	}
}

func (s *Server) handleAnnounce(c client, a signal.Announce) {
	s.mu.Lock()
	refresh := s.rooms.upsert(a.ContentID, c.id(), a.Complete)
	peers := s.rooms.members(a.ContentID, c.id())
	if !refresh {
		s.stats.Counter("joins").Inc(1)
		s.broadcast(a.ContentID, signal.PeerJoinedSwarm{
			ContentID: a.ContentID,
			PeerID:    c.id(),
			Complete:  a.Complete,
			Peers:     peers,
		}, c.id())
	}
	s.mu.Unlock()

	s.stats.Counter("announces").Inc(1)
	if err := c.send(signal.AnnounceResponse{ContentID: a.ContentID, Peers: peers}); err != nil {
		s.logger.Debugf("Error sending announce response to %s: %s", c.id(), err)
	}
}

func (s *Server) handleLeave(c client, l signal.Leave) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rooms.remove(l.ContentID, c.id()) {
		return
	}
	s.stats.Counter("leaves").Inc(1)
	s.broadcast(l.ContentID, signal.PeerLeftSwarm{
		ContentID: l.ContentID,
		PeerID:    c.id(),
	}, c.id())
}

// handleRequestConnection prompts every other connected participant to
// initiate a transport toward the requester. The requester stays passive so
// each pair has exactly one initiator.
func (s *Server) handleRequestConnection(c client) {
	s.mu.Lock()
	targets := make([]client, 0, len(s.clients))
	for id, target := range s.clients {
		if id == c.id() {
			continue
		}
		targets = append(targets, target)
	}
	s.mu.Unlock()

	req := signal.RequestConnection{From: c.id()}
	for _, target := range targets {
		if err := target.send(req); err != nil {
			s.logger.Debugf("Error sending connection request to %s: %s", target.id(), err)
		}
	}
}

// forward relays e to its addressee. From is overwritten with the actual
// sender before relaying, so participants cannot impersonate each other.
func (s *Server) forward(c client, to core.PeerID, e signal.Envelope) {
	s.mu.Lock()
	target, ok := s.clients[to]
	s.mu.Unlock()
	if !ok {
		s.stats.Counter("forward_missing_target").Inc(1)
		s.logger.Debugf("Dropping %s envelope from %s: no such participant %s",
			e.EnvelopeType(), c.id(), to)
		return
	}
	s.stats.Counter("forwards").Inc(1)
	if err := target.send(e); err != nil {
		s.logger.Debugf("Error forwarding %s envelope to %s: %s", e.EnvelopeType(), to, err)
	}
}

// broadcast sends e to every member of the room for contentID except skip.
// Caller holds s.mu.
func (s *Server) broadcast(contentID core.ContentID, e signal.Envelope, skip core.PeerID) {
	for _, id := range s.rooms.memberIDs(contentID) {
		if id == skip {
			continue
		}
		target, ok := s.clients[id]
		if !ok {
			continue
		}
		if err := target.send(e); err != nil {
			s.logger.Debugf("Error broadcasting %s envelope to %s: %s", e.EnvelopeType(), id, err)
		}
	}
}

func (s *Server) sweepLoop() {
	ticker := s.clk.Ticker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepStale()
		case <-s.done:
			return
		}
	}
}

// sweepStale evicts members whose records were not refreshed within the
// stale threshold and notifies the survivors.
func (s *Server) sweepStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.rooms.evictStale(s.config.StaleThreshold) {
		s.stats.Counter("stale_evictions").Inc(1)
		s.logger.Infof("Swept stale participant %s from %s", ev.peerID, ev.contentID)
		s.broadcast(ev.contentID, signal.PeerLeftSwarm{
			ContentID: ev.contentID,
			PeerID:    ev.peerID,
		}, ev.peerID)
	}
}

// wsClient adapts a websocket connection to the client interface. Writes are
// serialized; gorilla sockets do not allow concurrent writers.
type wsClient struct {
	peerID core.PeerID

	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsClient) id() core.PeerID { return c.peerID }

func (c *wsClient) send(e signal.Envelope) error {
	b, err := signal.Marshal(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}
