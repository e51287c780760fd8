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

import "github.com/meshswarm/meshswarm/core"

// Action is an intent emitted by the Manager for the coordinator to
// dispatch. The Manager itself performs no I/O, which keeps piece selection
// deterministic and unit testable.
type Action interface {
	isAction()
}

// RequestChunk asks the coordinator to request a piece from a peer.
type RequestChunk struct {
	PeerID    core.PeerID
	ContentID core.ContentID
	Index     int
}

// SendPiece asks the coordinator to serve a piece to a peer.
type SendPiece struct {
	PeerID core.PeerID
	Piece  *core.Piece
}

// BroadcastHave asks the coordinator to announce a newly owned piece to all
// open peers.
type BroadcastHave struct {
	ContentID core.ContentID
	Index     int
}

// DownloadProgress reports transfer progress, 0-100, monotonic within one
// transfer.
type DownloadProgress struct {
	ContentID core.ContentID
	Percent   float64
}

// DownloadComplete reports that every piece of a content has been received
// and verified.
type DownloadComplete struct {
	ContentID core.ContentID
}

func (RequestChunk) isAction()     {}
func (SendPiece) isAction()        {}
func (BroadcastHave) isAction()    {}
func (DownloadProgress) isAction() {}
func (DownloadComplete) isAction() {}
