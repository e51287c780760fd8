package swarm

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/utils/bitsetutil"
)

func newTestManager(config Config, clk clock.Clock) *Manager {
	return NewManager(config, tally.NoopScope, clk, zap.NewNop().Sugar())
}

func piecesFixture(info *core.ModelInfo, size int) []*core.Piece {
	pieces := make([]*core.Piece, info.NumPieces())
	for i := range pieces {
		pieces[i] = core.PieceFixture(info.ContentID, i, info.NumPieces(), size)
	}
	return pieces
}

func fullBitfield(n int) *bitset.BitSet {
	s := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		s.Set(uint(i))
	}
	return s
}

func requestedIndices(actions []Action) map[core.PeerID][]int {
	result := make(map[core.PeerID][]int)
	for _, a := range actions {
		if r, ok := a.(RequestChunk); ok {
			result[r.PeerID] = append(result[r.PeerID], r.Index)
		}
	}
	return result
}

// checkInvariants asserts owned ∩ requested = ∅ and received ⊆ owned.
func checkInvariants(t *testing.T, s *Swarm) {
	t.Helper()
	for i := range s.requested {
		require.False(t, s.owned.Test(uint(i)), "piece %d both owned and requested", i)
	}
	for i := range s.received {
		require.True(t, s.owned.Test(uint(i)), "piece %d received but not owned", i)
	}
}

func TestCreateSeederSwarm(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(4, 64)

	s, err := m.CreateSwarm(info, piecesFixture(info, 16))
	require.NoError(err)
	require.True(s.Complete())
	require.Equal(uint(4), s.Owned().Count())
	require.Len(s.Pieces(), 4)
	checkInvariants(t, s)
}

func TestCreateLeecherSwarm(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(4, 64)

	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)
	require.False(s.Complete())
	require.Equal(uint(0), s.Owned().Count())
}

func TestCreateSwarmDuplicate(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(4, 64)

	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)
	_, err = m.CreateSwarm(info, nil)
	require.Equal(ErrSwarmExists, err)
}

func TestRequestChunksFromPeerBootstrap(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(3, 48)
	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	actions := m.RequestChunksFromPeer("a", info.ContentID, fullBitfield(3))
	require.Equal([]Action{RequestChunk{PeerID: "a", ContentID: info.ContentID, Index: 0}}, actions)

	// Index 0 is now in flight; the next bootstrap skips it.
	actions = m.RequestChunksFromPeer("b", info.ContentID, fullBitfield(3))
	require.Equal([]Action{RequestChunk{PeerID: "b", ContentID: info.ContentID, Index: 1}}, actions)
}

func TestRequestChunksFromPeerEmptyBitfield(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(3, 48)
	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	require.Empty(m.RequestChunksFromPeer("a", info.ContentID, bitset.New(3)))
}

func TestRequestMoreChunksRarestFirst(t *testing.T) {
	require := require.New(t)

	// A has pieces {0,1,2,3,4}, B has {0,1}: indices 2,3,4 have rarity 1,
	// indices 0,1 rarity 2. With a pipeline limit of 2, A is asked for the
	// two rarest and B for the two it can serve.
	m := newTestManager(Config{PipelineLimit: 2}, clock.NewMock())
	info := core.ModelInfoFixture(5, 80)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{
		"a": fullBitfield(5),
		"b": bitsetutil.FromBools(true, true, false, false, false),
	}
	actions := m.RequestMoreChunks(info.ContentID, bitfields)
	byPeer := requestedIndices(actions)
	require.Equal([]int{2, 3}, byPeer["a"])
	require.Equal([]int{0, 1}, byPeer["b"])
	checkInvariants(t, s)
}

func TestRequestMoreChunksRespectsPipelineLimit(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{PipelineLimit: 3}, clock.NewMock())
	info := core.ModelInfoFixture(10, 160)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	actions := m.RequestMoreChunks(info.ContentID, Bitfields{"a": fullBitfield(10)})
	require.Len(requestedIndices(actions)["a"], 3)
	require.Equal(3, m.inFlight(s, "a"))
}

func TestRequestMoreChunksTieBreakByIndex(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(3, 48)
	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	actions := m.RequestMoreChunks(info.ContentID, Bitfields{"a": fullBitfield(3)})
	require.Equal([]int{0, 1, 2}, requestedIndices(actions)["a"])
}

func TestRequestMoreChunksNoDuplicateRequests(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(3, 48)
	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(3)}
	first := m.RequestMoreChunks(info.ContentID, bitfields)
	require.Len(first, 3)

	// Everything is in flight; a second pass emits nothing.
	require.Empty(m.RequestMoreChunks(info.ContentID, bitfields))
}

func TestHandlePieceVerifiedEmitsHaveProgressAndMoreRequests(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := newTestManager(Config{PipelineLimit: 1, PieceSize: 16}, clk)
	info := core.ModelInfoFixture(4, 64)
	pieces := piecesFixture(info, 16)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(4)}
	m.RequestMoreChunks(info.ContentID, bitfields)

	actions := m.HandlePiece("a", pieces[0], bitfields)
	require.Equal(BroadcastHave{ContentID: info.ContentID, Index: 0}, actions[0])
	require.Equal(DownloadProgress{ContentID: info.ContentID, Percent: 25}, actions[1])
	require.Equal([]int{1}, requestedIndices(actions)["a"])
	checkInvariants(t, s)
}

func TestHandlePieceChecksumFailureReleasesRequest(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{PipelineLimit: 1, PieceSize: 16}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	pieces := piecesFixture(info, 16)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(2)}
	m.RequestMoreChunks(info.ContentID, bitfields)
	require.Equal(1, m.inFlight(s, "a"))

	corrupted := *pieces[0]
	corrupted.Checksum++
	require.Empty(m.HandlePiece("a", &corrupted, bitfields))
	require.False(s.owned.Test(0))
	require.Equal(0, m.inFlight(s, "a"))

	// The index is re-schedulable, possibly from the same peer.
	actions := m.RequestMoreChunks(info.ContentID, bitfields)
	require.Equal([]int{0}, requestedIndices(actions)["a"])
}

func TestHandlePieceWrongLengthReleasesRequest(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{PipelineLimit: 1, PieceSize: 16}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(2)}
	m.RequestMoreChunks(info.ContentID, bitfields)
	require.Equal(1, m.inFlight(s, "a"))

	// Valid checksum over a truncated payload.
	short := core.NewPiece(info.ContentID, 0, 2, make([]byte, 8))
	require.True(short.Verify())
	require.Empty(m.HandlePiece("a", short, bitfields))
	require.False(s.owned.Test(0))
	require.Equal(0, m.inFlight(s, "a"))

	// The index is re-schedulable.
	actions := m.RequestMoreChunks(info.ContentID, bitfields)
	require.Equal([]int{0}, requestedIndices(actions)["a"])
}

func TestHandlePieceDuplicateIsNoOp(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{PieceSize: 16}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	pieces := piecesFixture(info, 16)
	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(2)}
	require.NotEmpty(m.HandlePiece("a", pieces[0], bitfields))
	require.Empty(m.HandlePiece("a", pieces[0], bitfields))
}

func TestHandlePieceCompletion(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{PieceSize: 16}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	pieces := piecesFixture(info, 16)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(2)}
	m.HandlePiece("a", pieces[0], bitfields)
	actions := m.HandlePiece("a", pieces[1], bitfields)

	require.Equal(BroadcastHave{ContentID: info.ContentID, Index: 1}, actions[0])
	require.Equal(DownloadProgress{ContentID: info.ContentID, Percent: 100}, actions[1])
	require.Equal(DownloadComplete{ContentID: info.ContentID}, actions[2])
	require.True(s.Complete())
	checkInvariants(t, s)
}

func TestRequestTimeoutReleasesSlot(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := newTestManager(Config{PipelineLimit: 1, RequestTimeout: 30 * time.Second}, clk)
	info := core.ModelInfoFixture(2, 32)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	bitfields := Bitfields{"a": fullBitfield(2)}
	m.RequestMoreChunks(info.ContentID, bitfields)
	require.Equal(1, m.inFlight(s, "a"))

	// Not yet timed out.
	clk.Add(29 * time.Second)
	require.Empty(m.RequestMoreChunks(info.ContentID, bitfields))

	// Timed out; the same index is re-requested.
	clk.Add(time.Second)
	actions := m.RequestMoreChunks(info.ContentID, bitfields)
	require.Equal([]int{0}, requestedIndices(actions)["a"])
}

func TestDisconnectedPeerRequestsReassigned(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{PipelineLimit: 2}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	s, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	m.RequestMoreChunks(info.ContentID, Bitfields{"a": fullBitfield(2)})
	require.Equal(2, m.inFlight(s, "a"))

	// Peer "a" dropped out; its requests are released and reassigned to "b"
	// on the next pass.
	actions := m.RequestMoreChunks(info.ContentID, Bitfields{"b": fullBitfield(2)})
	require.Equal([]int{0, 1}, requestedIndices(actions)["b"])
	require.Equal(0, m.inFlight(s, "a"))
}

func TestHandleRequestServesOwnedPiece(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	pieces := piecesFixture(info, 16)
	_, err := m.CreateSwarm(info, pieces)
	require.NoError(err)

	actions := m.HandleRequest("a", info.ContentID, 1)
	require.Equal([]Action{SendPiece{PeerID: "a", Piece: pieces[1]}}, actions)
}

func TestHandleRequestUnownedPiece(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(2, 32)
	_, err := m.CreateSwarm(info, nil)
	require.NoError(err)

	require.Empty(m.HandleRequest("a", info.ContentID, 1))
}

func TestHandlePieceUnknownContent(t *testing.T) {
	m := newTestManager(Config{}, clock.NewMock())
	p := core.PieceFixture("nope", 0, 1, 16)
	require.Empty(t, m.HandlePiece("a", p, nil))
}

func TestSeederNeverRequests(t *testing.T) {
	require := require.New(t)

	m := newTestManager(Config{}, clock.NewMock())
	info := core.ModelInfoFixture(3, 48)
	_, err := m.CreateSwarm(info, piecesFixture(info, 16))
	require.NoError(err)

	require.Empty(m.RequestMoreChunks(info.ContentID, Bitfields{"a": fullBitfield(3)}))
	require.Empty(m.RequestChunksFromPeer("a", info.ContentID, fullBitfield(3)))
}
