package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/lib/chunker"
	"github.com/meshswarm/meshswarm/lib/transport"
	"github.com/meshswarm/meshswarm/tracker/trackerclient"
	"github.com/meshswarm/meshswarm/tracker/trackerserver"
	"github.com/meshswarm/meshswarm/utils/testutil"
)

// meshNetwork is an in-memory transport fabric. Offers and answers carry
// channel ids; handling an offer pairs the two channels and opens both ends.
type meshNetwork struct {
	mu    sync.Mutex
	chans map[string]*meshChannel
	next  int

	metadata int64
}

func newMeshNetwork() *meshNetwork {
	return &meshNetwork{chans: make(map[string]*meshChannel)}
}

func (n *meshNetwork) dialer() transport.Dialer {
	return &meshDialer{n}
}

func (n *meshNetwork) metadataFrames() int64 {
	return atomic.LoadInt64(&n.metadata)
}

// reopenAll re-fires the open callback on every channel, as a data channel
// renegotiation on a live connection would.
func (n *meshNetwork) reopenAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.chans {
		c.events.OnOpen()
	}
}

type meshDialer struct {
	net *meshNetwork
}

func (d *meshDialer) Dial(events transport.ChannelEvents) (transport.Channel, error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	d.net.next++
	c := &meshChannel{
		net:    d.net,
		id:     fmt.Sprintf("ch%d", d.net.next),
		events: events,
	}
	d.net.chans[c.id] = c
	return c, nil
}

type meshChannel struct {
	net    *meshNetwork
	id     string
	events transport.ChannelEvents

	mu     sync.Mutex
	peer   *meshChannel
	closed bool
}

type meshPayload struct {
	Channel string `json:"channel"`
}

func (c *meshChannel) CreateOffer(iceRestart bool) (json.RawMessage, error) {
	return json.Marshal(meshPayload{c.id})
}

func (c *meshChannel) HandleOffer(offer json.RawMessage) (json.RawMessage, error) {
	var p meshPayload
	if err := json.Unmarshal(offer, &p); err != nil {
		return nil, err
	}
	c.net.mu.Lock()
	remote := c.net.chans[p.Channel]
	c.net.mu.Unlock()
	if remote == nil {
		return nil, fmt.Errorf("no such channel %s", p.Channel)
	}

	c.mu.Lock()
	c.peer = remote
	c.mu.Unlock()
	remote.mu.Lock()
	remote.peer = c
	remote.mu.Unlock()

	go c.open()
	go remote.open()

	return json.Marshal(meshPayload{c.id})
}

func (c *meshChannel) open() {
	c.events.OnStateChange(transport.ConnConnected)
	c.events.OnOpen()
}

func (c *meshChannel) HandleAnswer(json.RawMessage) error { return nil }

func (c *meshChannel) AddCandidate(json.RawMessage) error { return nil }

func (c *meshChannel) Send(b []byte) error {
	c.mu.Lock()
	peer := c.peer
	closed := c.closed
	c.mu.Unlock()
	if closed || peer == nil {
		return errors.New("channel not connected")
	}
	var frame struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(b, &frame) == nil && frame.Type == "metadata" {
		atomic.AddInt64(&c.net.metadata, 1)
	}
	peer.events.OnMessage(b)
	return nil
}

func (c *meshChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	connected []core.PeerID
	models    map[core.ContentID][]byte
	infos     map[core.ContentID]*core.ModelInfo
	progress  map[core.ContentID][]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		models:   make(map[core.ContentID][]byte),
		infos:    make(map[core.ContentID]*core.ModelInfo),
		progress: make(map[core.ContentID][]float64),
	}
}

func (s *recordingSink) OnPeerConnected(peerID core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, peerID)
}

func (s *recordingSink) OnPeerDisconnected(core.PeerID) {}

func (s *recordingSink) OnDownloadProgress(contentID core.ContentID, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[contentID] = append(s.progress[contentID], percent)
}

func (s *recordingSink) OnModelReceived(info *core.ModelInfo, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[info.ContentID] = info
	s.models[info.ContentID] = data
}

func (s *recordingSink) model(contentID core.ContentID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.models[contentID]
	return b, ok
}

func (s *recordingSink) numConnected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

func (s *recordingSink) progressFor(contentID core.ContentID) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64{}, s.progress[contentID]...)
}

type testPeer struct {
	coordinator *Coordinator
	sink        *recordingSink
}

type coordinatorFixture struct {
	trackerAddr string
	net         *meshNetwork
	cleanup     *testutil.Cleanup
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	var cleanup testutil.Cleanup
	server := trackerserver.New(
		trackerserver.Config{}, tally.NoopScope, clock.New(), zap.NewNop().Sugar())
	ts := httptest.NewServer(server.Handler())
	cleanup.Add(server.Close, ts.Close)
	t.Cleanup(cleanup.Run)
	return &coordinatorFixture{
		trackerAddr: strings.TrimPrefix(ts.URL, "http://"),
		net:         newMeshNetwork(),
		cleanup:     &cleanup,
	}
}

func (f *coordinatorFixture) newPeer() *testPeer {
	sink := newRecordingSink()
	tc := trackerclient.New(trackerclient.Config{
		Addr:              f.trackerAddr,
		ReconnectInterval: 100 * time.Millisecond,
	}, zap.NewNop().Sugar())
	c := New(Config{
		Chunker:      chunker.Config{PieceSize: 1024},
		PumpInterval: 50 * time.Millisecond,
	}, tally.NoopScope, clock.New(), tc, f.net.dialer(), sink, zap.NewNop().Sugar())
	f.cleanup.Add(c.Stop)
	return &testPeer{c, sink}
}

// restartableTracker runs a tracker on a fixed address so a test can kill it
// and bring up a fresh, empty one in its place.
type restartableTracker struct {
	addr   string
	server *trackerserver.Server
	http   *http.Server
	once   sync.Once
}

func startRestartableTracker(t *testing.T, addr string) *restartableTracker {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	server := trackerserver.New(
		trackerserver.Config{}, tally.NoopScope, clock.New(), zap.NewNop().Sugar())
	srv := &http.Server{Handler: server.Handler()}
	go srv.Serve(ln)

	rt := &restartableTracker{
		addr:   ln.Addr().String(),
		server: server,
		http:   srv,
	}
	t.Cleanup(rt.stop)
	return rt
}

func (rt *restartableTracker) stop() {
	rt.once.Do(func() {
		rt.server.Close()
		rt.http.Close()
	})
}

type trackerMember struct {
	PeerID   core.PeerID `json:"peerId"`
	Complete bool        `json:"complete"`
}

func trackerMembers(addr string, contentID core.ContentID) ([]trackerMember, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/peers?infoHash=%s", addr, contentID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var r struct {
		Peers []trackerMember `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	return r.Peers, nil
}

func artifact(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestTwoPeerTransfer(t *testing.T) {
	require := require.New(t)

	f := newCoordinatorFixture(t)
	a := f.newPeer()
	b := f.newPeer()

	data := artifact(2500)
	contentID, err := a.coordinator.ShareModel(
		data, core.IdentityTransform(), core.Provenance{Producer: "alice", Prompt: "toy robot"})
	require.NoError(err)

	require.NoError(testutil.PollUntilTrue(15*time.Second, func() bool {
		_, ok := b.sink.model(contentID)
		return ok
	}))

	got, _ := b.sink.model(contentID)
	require.Equal(data, got)
	require.True(b.sink.numConnected() >= 1)
	require.True(a.sink.numConnected() >= 1)

	// Progress is monotonic and ends at 100.
	progress := b.sink.progressFor(contentID)
	require.NotEmpty(progress)
	for i := 1; i < len(progress); i++ {
		require.True(progress[i] >= progress[i-1])
	}
	require.Equal(float64(100), progress[len(progress)-1])

	// The producer never re-downloads its own artifact.
	_, ok := a.sink.model(contentID)
	require.False(ok)
}

func TestLateJoinerDownloadsFromSeederAndLeecher(t *testing.T) {
	require := require.New(t)

	f := newCoordinatorFixture(t)
	a := f.newPeer()
	b := f.newPeer()

	data := artifact(5000)
	contentID, err := a.coordinator.ShareModel(
		data, core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.NoError(err)

	require.NoError(testutil.PollUntilTrue(15*time.Second, func() bool {
		_, ok := b.sink.model(contentID)
		return ok
	}))

	// A third participant joins after the transfer finished and downloads
	// from the two seeders.
	c := f.newPeer()
	require.NoError(testutil.PollUntilTrue(15*time.Second, func() bool {
		_, ok := c.sink.model(contentID)
		return ok
	}))
	got, _ := c.sink.model(contentID)
	require.Equal(data, got)
}

func TestTrackerRestartReannouncesSwarms(t *testing.T) {
	require := require.New(t)

	rt := startRestartableTracker(t, "")
	mesh := newMeshNetwork()
	sink := newRecordingSink()
	tc := trackerclient.New(trackerclient.Config{
		Addr:              rt.addr,
		ReconnectInterval: 100 * time.Millisecond,
	}, zap.NewNop().Sugar())
	c := New(Config{
		Chunker:      chunker.Config{PieceSize: 1024},
		PumpInterval: 50 * time.Millisecond,
	}, tally.NoopScope, clock.New(), tc, mesh.dialer(), sink, zap.NewNop().Sugar())
	defer c.Stop()

	id1, err := c.ShareModel(
		artifact(100), core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.NoError(err)
	id2, err := c.ShareModel(
		artifact(200), core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.NoError(err)

	seeding := func(contentID core.ContentID) func() bool {
		return func() bool {
			members, err := trackerMembers(rt.addr, contentID)
			return err == nil && len(members) == 1 && members[0].Complete
		}
	}
	require.NoError(testutil.PollUntilTrue(10*time.Second, seeding(id1)))
	require.NoError(testutil.PollUntilTrue(10*time.Second, seeding(id2)))

	// The replacement tracker starts with empty rooms. The participant must
	// re-announce every swarm on the fresh session's welcome.
	rt.stop()
	rt = startRestartableTracker(t, rt.addr)
	require.NoError(testutil.PollUntilTrue(10*time.Second, seeding(id1)))
	require.NoError(testutil.PollUntilTrue(10*time.Second, seeding(id2)))
}

func TestRepeatedChannelOpenDoesNotReintroduce(t *testing.T) {
	require := require.New(t)

	f := newCoordinatorFixture(t)
	a := f.newPeer()
	b := f.newPeer()

	data := artifact(2500)
	contentID, err := a.coordinator.ShareModel(
		data, core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.NoError(err)
	require.NoError(testutil.PollUntilTrue(15*time.Second, func() bool {
		_, ok := b.sink.model(contentID)
		return ok
	}))

	// A data channel re-opening on a live connection must not re-send
	// introductions in either direction.
	before := f.net.metadataFrames()
	f.net.reopenAll()
	time.Sleep(500 * time.Millisecond)
	require.Equal(before, f.net.metadataFrames())
}

func TestShareModelRejectsEmptyArtifact(t *testing.T) {
	f := newCoordinatorFixture(t)
	a := f.newPeer()

	_, err := a.coordinator.ShareModel(
		nil, core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.Error(t, err)
}

func TestShareModelAssignsFreshContentIDs(t *testing.T) {
	require := require.New(t)

	f := newCoordinatorFixture(t)
	a := f.newPeer()

	id1, err := a.coordinator.ShareModel(
		artifact(100), core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.NoError(err)
	id2, err := a.coordinator.ShareModel(
		artifact(100), core.IdentityTransform(), core.Provenance{Producer: "alice"})
	require.NoError(err)
	require.NotEqual(id1, id2)
}
