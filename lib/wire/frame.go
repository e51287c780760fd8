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

// Package wire defines the frames carried over a peer-to-peer stream. One
// frame is one UTF-8 JSON object with a string "type" field; piece payload
// bytes travel base64-encoded in the "data" field.
package wire

import (
	"github.com/meshswarm/meshswarm/core"
)

// Type tags a Frame on the wire.
type Type string

// The frame types.
const (
	TypeMetadata Type = "metadata"
	TypeBitfield Type = "bitfield"
	TypeHave     Type = "have"
	TypeRequest  Type = "request"
	TypePiece    Type = "piece"
)

// Frame is one peer-to-peer message. Concrete frame types are the only
// implementations; unknown type tags are logged and dropped by receivers.
type Frame interface {
	FrameType() Type
}

// Metadata announces an artifact to a peer. It must be sent before the
// corresponding Bitfield on the same channel.
type Metadata struct {
	Info *core.ModelInfo `json:"info"`
}

// FrameType implements Frame.
func (Metadata) FrameType() Type { return TypeMetadata }

// Bitfield carries the sender's owned pieces for one content id as a
// compact bitmap, one bit per index, big-endian within each byte.
type Bitfield struct {
	ContentID core.ContentID `json:"contentId"`
	Bits      []byte         `json:"bits"`
}

// FrameType implements Frame.
func (Bitfield) FrameType() Type { return TypeBitfield }

// Have announces that the sender owns one verified piece.
type Have struct {
	ContentID core.ContentID `json:"contentId"`
	Index     int            `json:"index"`
}

// FrameType implements Frame.
func (Have) FrameType() Type { return TypeHave }

// Request asks the receiver to send one piece.
type Request struct {
	ContentID core.ContentID `json:"contentId"`
	Index     int            `json:"index"`
}

// FrameType implements Frame.
func (Request) FrameType() Type { return TypeRequest }

// Piece carries one piece payload with its checksum.
type Piece struct {
	core.Piece
}

// FrameType implements Frame.
func (Piece) FrameType() Type { return TypePiece }
