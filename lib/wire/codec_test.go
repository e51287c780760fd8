package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/utils/bitsetutil"
)

func TestFrameRoundTrip(t *testing.T) {
	info := core.ModelInfoFixture(3, 100)
	piece := core.PieceFixture(info.ContentID, 1, 3, 32)

	tests := []struct {
		desc  string
		frame Frame
	}{
		{"metadata", Metadata{Info: info}},
		{"bitfield", Bitfield{
			ContentID: info.ContentID,
			Bits:      bitsetutil.ToBytes(bitsetutil.FromBools(true, false, true), 3),
		}},
		{"have", Have{ContentID: info.ContentID, Index: 2}},
		{"request", Request{ContentID: info.ContentID, Index: 0}},
		{"piece", Piece{*piece}},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			require := require.New(t)

			b, err := Marshal(test.frame)
			require.NoError(err)

			result, err := Unmarshal(b)
			require.NoError(err)
			require.Equal(test.frame, result)
		})
	}
}

func TestPieceDataBase64(t *testing.T) {
	require := require.New(t)

	p := core.PieceFixture("c1", 0, 1, 16)
	b, err := Marshal(Piece{*p})
	require.NoError(err)

	var raw map[string]interface{}
	require.NoError(json.Unmarshal(b, &raw))
	require.Equal("piece", raw["type"])
	// encoding/json base64-encodes []byte fields.
	require.IsType("", raw["data"])

	f, err := Unmarshal(b)
	require.NoError(err)
	result := f.(Piece)
	require.True(result.Verify())
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"choke"}`))
	require.IsType(t, UnknownTypeError{}, err)
}
