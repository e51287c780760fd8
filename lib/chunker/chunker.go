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

// Package chunker splits artifacts into fixed-size checksummed pieces and
// reassembles them.
package chunker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/andres-erbsen/clock"

	"github.com/meshswarm/meshswarm/core"
)

// ErrEmptyArtifact returns when an empty byte string is prepared.
var ErrEmptyArtifact = errors.New("empty artifact")

// Chunker prepares artifacts for distribution and reassembles received
// pieces. Piece size is a configuration constant, never transmitted per
// message.
type Chunker struct {
	config Config
	clk    clock.Clock
}

// New creates a new Chunker.
func New(config Config, clk clock.Clock) *Chunker {
	return &Chunker{config.applyDefaults(), clk}
}

// Prepare deterministically partitions data into ceil(len/P) pieces of the
// configured size P (the last piece may be shorter), assigns a fresh content
// id, and stamps prov with creation time and totals. The remaining prov
// fields (producer, prompt) are the caller's.
func (c *Chunker) Prepare(
	data []byte, transform core.Transform, prov core.Provenance) (*core.ModelInfo, []*core.Piece, error) {

	if len(data) == 0 {
		return nil, nil, ErrEmptyArtifact
	}
	if !transform.Valid() {
		return nil, nil, errors.New("transform has non-finite components")
	}

	size := c.config.PieceSize
	total := (len(data) + size - 1) / size

	contentID := core.NewContentID()
	pieces := make([]*core.Piece, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		pieces = append(pieces, core.NewPiece(contentID, i, total, data[start:end]))
	}

	prov.CreatedAt = c.clk.Now().UnixMilli()
	prov.Size = int64(len(data))
	prov.NumPieces = total

	info := &core.ModelInfo{
		ContentID:  contentID,
		Transform:  transform,
		Provenance: prov,
	}
	return info, pieces, nil
}

// Verify recomputes the checksum over the piece bytes and compares.
func (c *Chunker) Verify(p *core.Piece) bool {
	return p.Verify()
}

// Assemble sorts pieces by index ascending and concatenates their payloads.
// It fails if any index is missing, duplicated, or if any piece has the
// wrong length for its position.
func (c *Chunker) Assemble(pieces []*core.Piece) ([]byte, error) {
	if len(pieces) == 0 {
		return nil, errors.New("no pieces")
	}

	sorted := make([]*core.Piece, len(pieces))
	copy(sorted, pieces)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	total := sorted[0].Total
	if len(sorted) != total {
		return nil, fmt.Errorf("expected %d pieces, got %d", total, len(sorted))
	}

	var data []byte
	for i, p := range sorted {
		if p.Index != i {
			return nil, fmt.Errorf("missing piece %d", i)
		}
		if err := c.checkLength(p, total); err != nil {
			return nil, err
		}
		data = append(data, p.Data...)
	}
	return data, nil
}

func (c *Chunker) checkLength(p *core.Piece, total int) error {
	last := p.Index == total-1
	if !last && p.Length() != c.config.PieceSize {
		return fmt.Errorf(
			"piece %d has length %d, expected %d", p.Index, p.Length(), c.config.PieceSize)
	}
	if last && (p.Length() == 0 || p.Length() > c.config.PieceSize) {
		return fmt.Errorf("last piece has invalid length %d", p.Length())
	}
	return nil
}
