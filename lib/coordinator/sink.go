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

import "github.com/meshswarm/meshswarm/core"

// SceneSink receives lifecycle events from the Coordinator. Implementations
// are called from the coordinator's event loop and must not block.
type SceneSink interface {
	OnPeerConnected(peerID core.PeerID)
	OnPeerDisconnected(peerID core.PeerID)
	OnDownloadProgress(contentID core.ContentID, percent float64)
	OnModelReceived(info *core.ModelInfo, data []byte)
}

// NopSceneSink is a SceneSink which ignores every event.
type NopSceneSink struct{}

// OnPeerConnected noops.
func (NopSceneSink) OnPeerConnected(core.PeerID) {}

// OnPeerDisconnected noops.
func (NopSceneSink) OnPeerDisconnected(core.PeerID) {}

// OnDownloadProgress noops.
func (NopSceneSink) OnDownloadProgress(core.ContentID, float64) {}

// OnModelReceived noops.
func (NopSceneSink) OnModelReceived(*core.ModelInfo, []byte) {}
