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
package coordinator

import (
	"github.com/meshswarm/meshswarm/core"
)

// event is an external stimulus applied to the Coordinator by its event
// loop. All state mutation happens through events on the loop goroutine, so
// coordinator state needs no locking.
type event interface {
	apply(c *Coordinator)
}

type peerConnectedEvent struct {
	peerID core.PeerID
}

func (e peerConnectedEvent) apply(c *Coordinator) {
	c.getPeer(e.peerID)
	c.sink.OnPeerConnected(e.peerID)
}

type peerDisconnectedEvent struct {
	peerID core.PeerID
}

func (e peerDisconnectedEvent) apply(c *Coordinator) {
	delete(c.peers, e.peerID)
	c.sink.OnPeerDisconnected(e.peerID)

	// Requests in flight against the departed peer are orphaned. Refilling
	// pipelines against a snapshot which no longer contains the peer
	// releases them for re-request.
	for _, s := range c.manager.Swarms() {
		if !s.Complete() {
			c.dispatch(c.manager.RequestMoreChunks(s.ContentID(), c.bitfieldsFor(s.ContentID())))
		}
	}
}

type channelOpenEvent struct {
	peerID core.PeerID
}

func (e channelOpenEvent) apply(c *Coordinator) {
	c.getPeer(e.peerID).channelOpen = true
	c.introduceContent(e.peerID)
}

type frameEvent struct {
	peerID core.PeerID
	b      []byte
}

func (e frameEvent) apply(c *Coordinator) {
	c.handleFrame(e.peerID, e.b)
}

type shareResult struct {
	contentID core.ContentID
	err       error
}

type shareModelEvent struct {
	data      []byte
	transform core.Transform
	prov      core.Provenance
	result    chan shareResult
}

func (e shareModelEvent) apply(c *Coordinator) {
	contentID, err := c.shareModel(e.data, e.transform, e.prov)
	e.result <- shareResult{contentID, err}
}
