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
package trackerserver

import (
	"sort"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/lib/signal"
)

// memberEntry is one swarm-membership record. Lifecycle:
// joined -> (refresh)* -> left.
type memberEntry struct {
	complete bool
	lastSeen time.Time
}

// roomStore maintains rooms as content id -> participant id -> record.
// State is memory-only; restarting the tracker empties it. All methods are
// called with the server mutex held; mutation rate is low enough that one
// coarse lock suffices.
type roomStore struct {
	clk   clock.Clock
	rooms map[core.ContentID]map[core.PeerID]*memberEntry
}

func newRoomStore(clk clock.Clock) *roomStore {
	return &roomStore{
		clk:   clk,
		rooms: make(map[core.ContentID]map[core.PeerID]*memberEntry),
	}
}

// upsert inserts or refreshes a membership record. Returns whether the
// participant was already a member (i.e. the announce was a refresh).
func (s *roomStore) upsert(c core.ContentID, p core.PeerID, complete bool) bool {
	room, ok := s.rooms[c]
	if !ok {
		room = make(map[core.PeerID]*memberEntry)
		s.rooms[c] = room
	}
	_, refresh := room[p]
	room[p] = &memberEntry{complete: complete, lastSeen: s.clk.Now()}
	return refresh
}

// remove deletes p from the room for c, dropping the room if it empties.
// Returns whether p was a member.
func (s *roomStore) remove(c core.ContentID, p core.PeerID) bool {
	room, ok := s.rooms[c]
	if !ok {
		return false
	}
	if _, ok := room[p]; !ok {
		return false
	}
	delete(room, p)
	if len(room) == 0 {
		delete(s.rooms, c)
	}
	return true
}

// removeAll deletes p from every room it belongs to and returns the content
// ids it was removed from.
func (s *roomStore) removeAll(p core.PeerID) []core.ContentID {
	var removed []core.ContentID
	for c := range s.rooms {
		if s.remove(c, p) {
			removed = append(removed, c)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// members returns the room membership snapshot for c, excluding skip,
// sorted by peer id.
func (s *roomStore) members(c core.ContentID, skip core.PeerID) []signal.PeerEntry {
	var entries []signal.PeerEntry
	for p, e := range s.rooms[c] {
		if p == skip {
			continue
		}
		entries = append(entries, signal.PeerEntry{PeerID: p, Complete: e.complete})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PeerID.LessThan(entries[j].PeerID)
	})
	return entries
}

// memberIDs returns the ids of every member of the room for c.
func (s *roomStore) memberIDs(c core.ContentID) []core.PeerID {
	ids := make([]core.PeerID, 0, len(s.rooms[c]))
	for p := range s.rooms[c] {
		ids = append(ids, p)
	}
	return ids
}

// lastSeen returns the lastSeen timestamp of p in the room for c.
func (s *roomStore) lastSeen(c core.ContentID, p core.PeerID) (time.Time, bool) {
	e, ok := s.rooms[c][p]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// evictStale removes records not refreshed within threshold. Returns the
// evicted (content, peer) pairs.
type eviction struct {
	contentID core.ContentID
	peerID    core.PeerID
}

func (s *roomStore) evictStale(threshold time.Duration) []eviction {
	cutoff := s.clk.Now().Add(-threshold)
	var evicted []eviction
	for c, room := range s.rooms {
		for p, e := range room {
			if e.lastSeen.Before(cutoff) {
				delete(room, p)
				evicted = append(evicted, eviction{c, p})
			}
		}
		if len(room) == 0 {
			delete(s.rooms, c)
		}
	}
	return evicted
}
