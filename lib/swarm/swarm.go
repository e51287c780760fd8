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
package swarm

import (
	"sort"
	"time"

	"github.com/willf/bitset"

	"github.com/meshswarm/meshswarm/core"
)

// pendingRequest records an in-flight piece request. Timestamps are stored
// per request, not approximated from the swarm start time.
type pendingRequest struct {
	peerID core.PeerID
	sentAt time.Time
}

// Swarm is the per-content transfer state. Invariants maintained by the
// Manager:
//
//	owned ⊆ [0, total)
//	owned ∩ keys(requested) = ∅
//	every index in received is in owned
//	|owned| = total ⇔ the swarm is a seeder
type Swarm struct {
	contentID core.ContentID
	info      *core.ModelInfo
	total     int
	owned     *bitset.BitSet
	requested map[int]pendingRequest
	received  map[int]*core.Piece
	startedAt time.Time // Zero for swarms created as seeders.
}

// ContentID returns the content id keying s.
func (s *Swarm) ContentID() core.ContentID {
	return s.contentID
}

// Info returns the artifact metadata.
func (s *Swarm) Info() *core.ModelInfo {
	return s.info
}

// NumPieces returns the total piece count.
func (s *Swarm) NumPieces() int {
	return s.total
}

// Complete returns whether s owns every piece, i.e. is a seeder.
func (s *Swarm) Complete() bool {
	return int(s.owned.Count()) == s.total
}

// Owned returns a copy of the owned piece bitfield.
func (s *Swarm) Owned() *bitset.BitSet {
	return s.owned.Clone()
}

// Pieces returns the received pieces sorted by index. Only meaningful once
// the swarm is complete.
func (s *Swarm) Pieces() []*core.Piece {
	pieces := make([]*core.Piece, 0, len(s.received))
	for _, p := range s.received {
		pieces = append(pieces, p)
	}
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].Index < pieces[j].Index })
	return pieces
}

func (s *Swarm) percentOwned() float64 {
	return 100 * float64(s.owned.Count()) / float64(s.total)
}
