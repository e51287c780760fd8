package core

import (
	"math/rand"
	"time"
)

// PeerIDFixture returns a randomly generated PeerID for testing purposes.
func PeerIDFixture() PeerID {
	return RandomPeerID()
}

// ContentIDFixture returns a randomly generated ContentID for testing
// purposes.
func ContentIDFixture() ContentID {
	return NewContentID()
}

// TransformFixture returns a valid Transform with random components.
func TransformFixture() Transform {
	random := func() Vec3 {
		return Vec3{rand.Float64(), rand.Float64(), rand.Float64()}
	}
	return Transform{Position: random(), Rotation: random(), Scale: random()}
}

// ModelInfoFixture returns a ModelInfo with the given piece count.
func ModelInfoFixture(numPieces int, size int64) *ModelInfo {
	return &ModelInfo{
		ContentID: ContentIDFixture(),
		Transform: TransformFixture(),
		Provenance: Provenance{
			Producer:  PeerIDFixture(),
			CreatedAt: time.Now().UnixMilli(),
			Size:      size,
			NumPieces: numPieces,
		},
	}
}

// PieceFixture returns a verified Piece with random payload of length n.
func PieceFixture(c ContentID, index, total, n int) *Piece {
	data := make([]byte, n)
	rand.Read(data)
	return NewPiece(c, index, total, data)
}
