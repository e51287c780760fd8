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

// Package swarm holds per-content transfer state and implements piece
// selection: bitfield accounting, rarest-first ordering, duplicate and
// timeout suppression, and request pipelining across peers. The Manager is
// a pure state machine; it returns Actions and never touches the network.
package swarm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/core"
)

var (
	// ErrSwarmExists returns when a swarm is created for a content id that
	// is already registered.
	ErrSwarmExists = errors.New("swarm already exists for content id")

	// ErrSwarmNotFound returns when an operation references an unknown
	// content id.
	ErrSwarmNotFound = errors.New("no swarm for content id")
)

// Bitfields maps peers to their owned-piece bitmaps for one content id. The
// coordinator owns peer records and passes a snapshot per operation.
type Bitfields map[core.PeerID]*bitset.BitSet

// Manager tracks all local swarms.
type Manager struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	logger *zap.SugaredLogger

	swarms map[core.ContentID]*Swarm
}

// NewManager creates a new Manager.
func NewManager(
	config Config, stats tally.Scope, clk clock.Clock, logger *zap.SugaredLogger) *Manager {

	stats = stats.Tagged(map[string]string{
		"module": "swarm",
	})
	return &Manager{
		config: config.applyDefaults(),
		stats:  stats,
		clk:    clk,
		logger: logger,
		swarms: make(map[core.ContentID]*Swarm),
	}
}

// CreateSwarm registers transfer state for info. If pieces is non-empty the
// swarm starts as a seeder owning every piece; otherwise it starts as a
// leecher waiting on info.NumPieces() pieces.
func (m *Manager) CreateSwarm(info *core.ModelInfo, pieces []*core.Piece) (*Swarm, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %s", err)
	}
	if _, ok := m.swarms[info.ContentID]; ok {
		return nil, ErrSwarmExists
	}

	total := info.NumPieces()
	s := &Swarm{
		contentID: info.ContentID,
		info:      info,
		total:     total,
		owned:     bitset.New(uint(total)),
		requested: make(map[int]pendingRequest),
		received:  make(map[int]*core.Piece),
	}
	if len(pieces) > 0 {
		if len(pieces) != total {
			return nil, fmt.Errorf("seeder swarm requires %d pieces, got %d", total, len(pieces))
		}
		for _, p := range pieces {
			s.owned.Set(uint(p.Index))
			s.received[p.Index] = p
		}
	} else {
		s.startedAt = m.clk.Now()
	}
	m.swarms[info.ContentID] = s

	m.stats.Counter("swarms_created").Inc(1)
	return s, nil
}

// Swarm returns the swarm for c, if registered.
func (m *Manager) Swarm(c core.ContentID) (*Swarm, bool) {
	s, ok := m.swarms[c]
	return s, ok
}

// Swarms returns every registered swarm.
func (m *Manager) Swarms() []*Swarm {
	swarms := make([]*Swarm, 0, len(m.swarms))
	for _, s := range m.swarms {
		swarms = append(swarms, s)
	}
	sort.Slice(swarms, func(i, j int) bool {
		return swarms[i].contentID < swarms[j].contentID
	})
	return swarms
}

// RemoveSwarm drops all transfer state for c.
func (m *Manager) RemoveSwarm(c core.ContentID) {
	delete(m.swarms, c)
}

// HandlePiece processes one arrived piece. A checksum failure or a payload
// of the wrong length for its index releases the request slot and emits no
// progress; rarest-first re-requests the index on a later pass. A verified
// piece is stored, announced, and followed by the next round of requests
// (or completion).
func (m *Manager) HandlePiece(
	peerID core.PeerID, p *core.Piece, bitfields Bitfields) []Action {

	s, ok := m.swarms[p.ContentID]
	if !ok {
		m.logger.Warnf("Piece %d from %s for unknown content %s", p.Index, peerID, p.ContentID)
		return nil
	}
	if p.Index < 0 || p.Index >= s.total {
		m.logger.Warnf("Piece index %d out of bounds for %s", p.Index, p.ContentID)
		return nil
	}
	if s.owned.Test(uint(p.Index)) {
		// Duplicate, likely a late answer to a timed-out request.
		m.stats.Counter("duplicate_pieces").Inc(1)
		delete(s.requested, p.Index)
		return nil
	}
	if expected := m.expectedLength(s, p.Index); p.Length() != expected {
		m.stats.Counter("length_mismatches").Inc(1)
		m.logger.Warnf("Piece %d of %s from %s has length %d, expected %d",
			p.Index, p.ContentID, peerID, p.Length(), expected)
		delete(s.requested, p.Index)
		return nil
	}
	if !p.Verify() {
		m.stats.Counter("checksum_failures").Inc(1)
		m.logger.Warnf("Checksum failure on piece %d of %s from %s", p.Index, p.ContentID, peerID)
		delete(s.requested, p.Index)
		return nil
	}

	s.received[p.Index] = p
	s.owned.Set(uint(p.Index))
	delete(s.requested, p.Index)
	m.stats.Counter("pieces_received").Inc(1)

	actions := []Action{
		BroadcastHave{ContentID: s.contentID, Index: p.Index},
		DownloadProgress{ContentID: s.contentID, Percent: s.percentOwned()},
	}
	if s.Complete() {
		m.stats.Counter("downloads_completed").Inc(1)
		return append(actions, DownloadComplete{ContentID: s.contentID})
	}
	return append(actions, m.requestMore(s, bitfields)...)
}

// RequestMoreChunks fills every peer's request pipeline with the rarest
// still-needed pieces.
func (m *Manager) RequestMoreChunks(c core.ContentID, bitfields Bitfields) []Action {
	s, ok := m.swarms[c]
	if !ok {
		return nil
	}
	return m.requestMore(s, bitfields)
}

// RequestChunksFromPeer emits a single request for the first piece the peer
// has that is neither owned nor in flight. Used to bootstrap a transfer
// when a peer's bitfield is first learned.
func (m *Manager) RequestChunksFromPeer(
	peerID core.PeerID, c core.ContentID, peerBitfield *bitset.BitSet) []Action {

	s, ok := m.swarms[c]
	if !ok || s.Complete() || peerBitfield == nil {
		return nil
	}
	m.expireRequests(s, nil)
	if m.inFlight(s, peerID) >= m.config.PipelineLimit {
		return nil
	}
	for i := 0; i < s.total; i++ {
		if s.owned.Test(uint(i)) || !peerBitfield.Test(uint(i)) {
			continue
		}
		if _, ok := s.requested[i]; ok {
			continue
		}
		s.requested[i] = pendingRequest{peerID, m.clk.Now()}
		m.stats.Counter("requests_sent").Inc(1)
		return []Action{RequestChunk{PeerID: peerID, ContentID: c, Index: i}}
	}
	return nil
}

// HandleRequest serves a piece request if the piece is owned; otherwise it
// logs and emits nothing.
func (m *Manager) HandleRequest(peerID core.PeerID, c core.ContentID, index int) []Action {
	s, ok := m.swarms[c]
	if !ok {
		m.logger.Warnf("Request from %s for unknown content %s", peerID, c)
		return nil
	}
	p, ok := s.received[index]
	if !ok {
		m.logger.Warnf("Request from %s for unowned piece %d of %s", peerID, index, c)
		return nil
	}
	m.stats.Counter("pieces_served").Inc(1)
	return []Action{SendPiece{PeerID: peerID, Piece: p}}
}

// requestMore computes needed = [0, total) \ (owned ∪ requested), orders it
// rarest first (ties broken by ascending index), and greedily assigns
// requests to peers scanned in ascending id order, respecting the per-peer
// pipeline limit. Timed-out requests and requests against peers absent from
// bitfields are released first.
func (m *Manager) requestMore(s *Swarm, bitfields Bitfields) []Action {
	m.expireRequests(s, bitfields)

	needed := m.neededPieces(s)
	if len(needed) == 0 {
		return nil
	}

	rarity := make(map[int]int, len(needed))
	for _, i := range needed {
		for _, bf := range bitfields {
			if bf.Test(uint(i)) {
				rarity[i]++
			}
		}
	}
	sort.Slice(needed, func(a, b int) bool {
		if rarity[needed[a]] != rarity[needed[b]] {
			return rarity[needed[a]] < rarity[needed[b]]
		}
		return needed[a] < needed[b]
	})

	var actions []Action
	for _, peerID := range sortedPeers(bitfields) {
		bf := bitfields[peerID]
		if bf == nil || bf.Count() == 0 {
			continue
		}
		inFlight := m.inFlight(s, peerID)
		for _, i := range needed {
			if inFlight >= m.config.PipelineLimit {
				break
			}
			if _, ok := s.requested[i]; ok {
				continue
			}
			if !bf.Test(uint(i)) {
				continue
			}
			s.requested[i] = pendingRequest{peerID, m.clk.Now()}
			actions = append(actions, RequestChunk{
				PeerID:    peerID,
				ContentID: s.contentID,
				Index:     i,
			})
			inFlight++
			m.stats.Counter("requests_sent").Inc(1)
		}
	}
	return actions
}

// expireRequests releases requests which have timed out, and requests
// pointed at peers no longer present in bitfields (nil bitfields skips the
// membership check).
func (m *Manager) expireRequests(s *Swarm, bitfields Bitfields) {
	now := m.clk.Now()
	for i, r := range s.requested {
		if now.Sub(r.sentAt) >= m.config.RequestTimeout {
			m.stats.Counter("requests_expired").Inc(1)
			delete(s.requested, i)
			continue
		}
		if bitfields != nil {
			if _, ok := bitfields[r.peerID]; !ok {
				m.stats.Counter("requests_orphaned").Inc(1)
				delete(s.requested, i)
			}
		}
	}
}

// expectedLength returns the payload length piece index must have: the
// configured piece size, or the artifact remainder for the last piece.
func (m *Manager) expectedLength(s *Swarm, index int) int {
	if index == s.total-1 {
		return int(s.info.Provenance.Size) - (s.total-1)*m.config.PieceSize
	}
	return m.config.PieceSize
}

func (m *Manager) neededPieces(s *Swarm) []int {
	var needed []int
	for i := 0; i < s.total; i++ {
		if s.owned.Test(uint(i)) {
			continue
		}
		if _, ok := s.requested[i]; ok {
			continue
		}
		needed = append(needed, i)
	}
	return needed
}

func (m *Manager) inFlight(s *Swarm, peerID core.PeerID) int {
	var n int
	for _, r := range s.requested {
		if r.peerID == peerID {
			n++
		}
	}
	return n
}

func sortedPeers(bitfields Bitfields) []core.PeerID {
	peers := make([]core.PeerID, 0, len(bitfields))
	for id := range bitfields {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].LessThan(peers[j]) })
	return peers
}
