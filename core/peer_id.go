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
package core

import (
	"errors"

	"github.com/satori/go.uuid"
)

// PeerID identifies a single participant. It is an opaque string assigned
// by the tracker when the participant connects, and is only meaningful for
// the lifetime of that tracker session.
type PeerID string

// ErrEmptyPeerID returns when a peer id is expected but missing.
var ErrEmptyPeerID = errors.New("empty peer id")

// RandomPeerID generates a fresh PeerID. Collision resistance within a
// session is all that is required.
func RandomPeerID() PeerID {
	return PeerID(uuid.NewV4().String())
}

func (p PeerID) String() string {
	return string(p)
}

// LessThan returns whether p orders before o. Used wherever peers must be
// scanned in a deterministic order.
func (p PeerID) LessThan(o PeerID) bool {
	return p < o
}
