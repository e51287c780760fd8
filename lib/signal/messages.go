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
package signal

import (
	"encoding/json"

	"github.com/meshswarm/meshswarm/core"
)

// PeerEntry describes one swarm member in announce responses and join
// broadcasts.
type PeerEntry struct {
	PeerID   core.PeerID `json:"peerId"`
	Complete bool        `json:"complete"`
}

// Welcome is sent by the tracker immediately after connection establishment
// and carries the participant's assigned id. It precedes all other envelopes
// by protocol.
type Welcome struct {
	PeerID core.PeerID `json:"peerId"`
}

// EnvelopeType implements Envelope.
func (Welcome) EnvelopeType() Type { return TypeWelcome }

// Announce registers (or refreshes) the sender's membership in the swarm for
// ContentID. Repeated announces are refreshes, not duplicate joins.
type Announce struct {
	ContentID core.ContentID `json:"contentId"`
	Complete  bool           `json:"complete"`
}

// EnvelopeType implements Envelope.
func (Announce) EnvelopeType() Type { return TypeAnnounce }

// AnnounceResponse is the tracker's reply to an Announce, carrying a
// snapshot of the other members of the swarm.
type AnnounceResponse struct {
	ContentID core.ContentID `json:"contentId"`
	Peers     []PeerEntry    `json:"peers"`
}

// EnvelopeType implements Envelope.
func (AnnounceResponse) EnvelopeType() Type { return TypeAnnounceResponse }

// PeerJoinedSwarm is broadcast to a room when a new member announces.
type PeerJoinedSwarm struct {
	ContentID core.ContentID `json:"contentId"`
	PeerID    core.PeerID    `json:"peerId"`
	Complete  bool           `json:"complete"`
	Peers     []PeerEntry    `json:"peers"`
}

// EnvelopeType implements Envelope.
func (PeerJoinedSwarm) EnvelopeType() Type { return TypePeerJoinedSwarm }

// PeerLeftSwarm is broadcast to a room when a member leaves, disconnects,
// or is swept as stale.
type PeerLeftSwarm struct {
	ContentID core.ContentID `json:"contentId"`
	PeerID    core.PeerID    `json:"peerId"`
}

// EnvelopeType implements Envelope.
func (PeerLeftSwarm) EnvelopeType() Type { return TypePeerLeftSwarm }

// Leave removes the sender from the swarm for ContentID.
type Leave struct {
	ContentID core.ContentID `json:"contentId"`
}

// EnvelopeType implements Envelope.
func (Leave) EnvelopeType() Type { return TypeLeave }

// RequestConnection asks the tracker to prompt every other participant to
// initiate a transport toward From. Designating the joiner as responder
// avoids simultaneous-initiation races.
type RequestConnection struct {
	From core.PeerID `json:"from"`
}

// EnvelopeType implements Envelope.
func (RequestConnection) EnvelopeType() Type { return TypeRequestConnection }

// Offer relays a session description from one participant to another. The
// tracker forwards it verbatim without inspecting Payload.
type Offer struct {
	From    core.PeerID     `json:"from"`
	To      core.PeerID     `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// EnvelopeType implements Envelope.
func (Offer) EnvelopeType() Type { return TypeOffer }

// Answer relays a session description answering an Offer.
type Answer struct {
	From    core.PeerID     `json:"from"`
	To      core.PeerID     `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// EnvelopeType implements Envelope.
func (Answer) EnvelopeType() Type { return TypeAnswer }

// ICECandidate relays one ICE candidate between two participants.
type ICECandidate struct {
	From    core.PeerID     `json:"from"`
	To      core.PeerID     `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// EnvelopeType implements Envelope.
func (ICECandidate) EnvelopeType() Type { return TypeICECandidate }
