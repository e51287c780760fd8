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
	"fmt"
	"math"
)

// Vec3 is a triple of finite floats.
type Vec3 [3]float64

func (v Vec3) valid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Transform describes where a model is placed in the scene.
type Transform struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
	Scale    Vec3 `json:"scale"`
}

// IdentityTransform returns a transform which places a model at the origin
// with no rotation and unit scale.
func IdentityTransform() Transform {
	return Transform{Scale: Vec3{1, 1, 1}}
}

// Valid returns whether every component of t is finite.
func (t Transform) Valid() bool {
	return t.Position.valid() && t.Rotation.valid() && t.Scale.valid()
}

// Provenance records who produced an artifact and how large it is.
type Provenance struct {
	Producer  PeerID `json:"producer"`
	Prompt    string `json:"prompt,omitempty"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds.
	Size      int64  `json:"size"`
	NumPieces int    `json:"numPieces"`
}

// ModelInfo is the immutable metadata describing a single artifact: the
// content id keying its swarm, the placement transform the scene applies
// after reassembly, and provenance.
type ModelInfo struct {
	ContentID  ContentID  `json:"contentId"`
	Transform  Transform  `json:"transform"`
	Provenance Provenance `json:"provenance"`
}

// NumPieces returns the total piece count of the artifact.
func (m *ModelInfo) NumPieces() int {
	return m.Provenance.NumPieces
}

// Validate checks that m is self-consistent.
func (m *ModelInfo) Validate() error {
	if m.ContentID == "" {
		return errors.New("empty content id")
	}
	if !m.Transform.Valid() {
		return errors.New("transform has non-finite components")
	}
	if m.Provenance.NumPieces <= 0 {
		return fmt.Errorf("invalid piece count %d", m.Provenance.NumPieces)
	}
	if m.Provenance.Size <= 0 {
		return fmt.Errorf("invalid size %d", m.Provenance.Size)
	}
	return nil
}
