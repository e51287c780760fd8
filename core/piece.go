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

// Piece is one byte range of an artifact, addressed by zero-based index.
// All pieces have the configured piece size except possibly the last.
// Data is base64-encoded automatically when the piece travels as JSON.
type Piece struct {
	ContentID ContentID `json:"contentId"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Data      []byte    `json:"data"`
	Checksum  uint32    `json:"checksum"`
}

// NewPiece creates a checksummed Piece over data.
func NewPiece(c ContentID, index, total int, data []byte) *Piece {
	return &Piece{
		ContentID: c,
		Index:     index,
		Total:     total,
		Data:      data,
		Checksum:  Checksum(data),
	}
}

// Verify recomputes the checksum over the piece bytes and compares it to the
// stored checksum.
func (p *Piece) Verify() bool {
	return Checksum(p.Data) == p.Checksum
}

// Length returns the piece payload length in bytes.
func (p *Piece) Length() int {
	return len(p.Data)
}
