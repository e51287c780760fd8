package trackerclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/lib/signal"
	"github.com/meshswarm/meshswarm/tracker/trackerserver"
	"github.com/meshswarm/meshswarm/utils/testutil"
)

func startTracker(t *testing.T) (addr string, stop func()) {
	server := trackerserver.New(
		trackerserver.Config{}, tally.NoopScope, clock.New(), zap.NewNop().Sugar())
	ts := httptest.NewServer(server.Handler())
	return strings.TrimPrefix(ts.URL, "http://"), func() {
		ts.Close()
		server.Close()
	}
}

func TestClientSessionAgainstTracker(t *testing.T) {
	require := require.New(t)

	addr, stop := startTracker(t)
	defer stop()

	c := New(Config{Addr: addr}, zap.NewNop().Sugar())
	defer c.Close()

	var welcome signal.Welcome
	select {
	case e := <-c.Envelopes():
		var ok bool
		welcome, ok = e.(signal.Welcome)
		require.True(ok)
		require.NotEmpty(welcome.PeerID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for welcome")
	}

	require.NoError(c.Send(signal.Announce{ContentID: "m1", Complete: true}))
	select {
	case e := <-c.Envelopes():
		resp, ok := e.(signal.AnnounceResponse)
		require.True(ok)
		require.Equal(signal.AnnounceResponse{ContentID: "m1"}, resp)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for announce response")
	}
}

func TestClientReconnects(t *testing.T) {
	require := require.New(t)

	// A tracker which drops every session right after the welcome.
	var connects int64
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt64(&connects, 1)
		b, _ := signal.Marshal(signal.Welcome{PeerID: "p"})
		ws.WriteMessage(websocket.TextMessage, b)
		ws.Close()
	}))
	defer ts.Close()

	c := New(Config{
		Addr:              strings.TrimPrefix(ts.URL, "http://"),
		ReconnectInterval: 10 * time.Millisecond,
	}, zap.NewNop().Sugar())
	defer c.Close()

	// Drain so reads never block on a full envelope buffer.
	go func() {
		for range c.Envelopes() {
		}
	}()

	require.NoError(testutil.PollUntilTrue(5*time.Second, func() bool {
		return atomic.LoadInt64(&connects) >= 2
	}))
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Config{Addr: "localhost:0", ReconnectInterval: time.Minute},
		zap.NewNop().Sugar())
	defer c.Close()

	require.Equal(t, ErrNotConnected, c.Send(signal.Announce{ContentID: "m1"}))
}
