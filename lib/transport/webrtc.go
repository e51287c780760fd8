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
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// channelLabel names the single data channel carrying all frames between a
// peer pair.
const channelLabel = "meshswarm"

// maxRetransmits bounds the retransmit budget of the data channel.
const maxRetransmits uint16 = 3

// ICEServerConfig defines one STUN/TURN endpoint.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// WebRTCConfig defines WebRTC dialer configuration. STUN/TURN endpoints and
// credentials are deployment-specific and sourced from configuration.
type WebRTCConfig struct {
	ICEServers []ICEServerConfig `yaml:"ice_servers"`
}

func (c WebRTCConfig) applyDefaults() WebRTCConfig {
	if len(c.ICEServers) == 0 {
		c.ICEServers = []ICEServerConfig{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return c
}

type webrtcDialer struct {
	config webrtc.Configuration
}

// NewWebRTCDialer creates a Dialer backed by WebRTC peer connections. Each
// dialed Channel carries one ordered data channel with a bounded retransmit
// budget.
func NewWebRTCDialer(config WebRTCConfig) Dialer {
	config = config.applyDefaults()
	var servers []webrtc.ICEServer
	for _, s := range config.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return &webrtcDialer{webrtc.Configuration{ICEServers: servers}}
}

func (d *webrtcDialer) Dial(events ChannelEvents) (Channel, error) {
	pc, err := webrtc.NewPeerConnection(d.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %s", err)
	}
	c := &webrtcChannel{pc: pc, events: events}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// End of gathering.
			return
		}
		b, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		events.OnCandidate(b)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		events.OnStateChange(connState(s))
	})
	// Responder side: the initiator created the channel.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			return
		}
		c.bind(dc)
	})
	return c, nil
}

func connState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed
	}
	return ConnConnecting
}

type webrtcChannel struct {
	pc     *webrtc.PeerConnection
	events ChannelEvents

	mu sync.Mutex
	dc *webrtc.DataChannel
}

func (c *webrtcChannel) CreateOffer(iceRestart bool) (json.RawMessage, error) {
	c.mu.Lock()
	if c.dc == nil {
		ordered := true
		retransmits := maxRetransmits
		dc, err := c.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &retransmits,
		})
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("create data channel: %s", err)
		}
		c.bindLocked(dc)
	}
	c.mu.Unlock()

	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return nil, fmt.Errorf("create offer: %s", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %s", err)
	}
	// Candidates trickle through OnCandidate as they are gathered.
	return json.Marshal(c.pc.LocalDescription())
}

func (c *webrtcChannel) HandleOffer(offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal offer: %s", err)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote description: %s", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %s", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %s", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *webrtcChannel) HandleAnswer(answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("unmarshal answer: %s", err)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %s", err)
	}
	return nil
}

func (c *webrtcChannel) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("unmarshal candidate: %s", err)
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %s", err)
	}
	return nil
}

func (c *webrtcChannel) Send(b []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return errors.New("data channel not established")
	}
	return dc.Send(b)
}

func (c *webrtcChannel) Close() error {
	return c.pc.Close()
}

func (c *webrtcChannel) bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindLocked(dc)
}

// bindLocked installs dc as the frame channel. Caller holds c.mu.
func (c *webrtcChannel) bindLocked(dc *webrtc.DataChannel) {
	c.dc = dc
	dc.OnOpen(func() {
		c.events.OnOpen()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.events.OnMessage(msg.Data)
	})
}
