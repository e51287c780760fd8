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

// Package signal defines the envelopes exchanged between participants and
// the tracker. Every envelope travels as a UTF-8 JSON object with a string
// "type" field. Envelope payloads carrying session descriptions and ICE
// candidates are opaque to the tracker.
package signal

// Type tags an Envelope on the wire.
type Type string

// The canonical envelope types. Legacy variants ("ice", "leave" broadcasts,
// "peer-joined") are not part of this protocol and are rejected by Unmarshal.
const (
	TypeWelcome           Type = "welcome"
	TypeAnnounce          Type = "announce"
	TypeAnnounceResponse  Type = "announce-response"
	TypePeerJoinedSwarm   Type = "peer-joined-swarm"
	TypePeerLeftSwarm     Type = "peer-left-swarm"
	TypeLeave             Type = "leave"
	TypeRequestConnection Type = "request-connection"
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice-candidate"
)

// Envelope is one signaling message. Concrete envelope types are the only
// implementations; consumers switch over them exhaustively and treat any
// unknown value as a protocol error.
type Envelope interface {
	EnvelopeType() Type
}
