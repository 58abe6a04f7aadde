package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func connectLocal(t *testing.T, s *Server, room, nickname string) *Conn {
	t.Helper()
	c, err := NewLocalConn(s, room, session.Member{Nickname: nickname}, session.NewReplica(nil), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// participantCount reads the server's authoritative view of a room
func participantCount(s *Server, room string) int {
	snap, err := s.RoomSnapshot(room)
	if err != nil {
		return 0
	}
	return len(snap.Participants)
}

func waitParticipants(t *testing.T, c *Conn, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.Replica().Participants()) == n
	}, waitFor, tick)
}

func nextSignal(t *testing.T, c *Conn) media.Signal {
	t.Helper()
	select {
	case sig := <-c.Signals():
		return sig
	case <-time.After(waitFor):
		t.Fatal("no signal received")
	}
	return media.Signal{}
}

func noSignal(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case sig := <-c.Signals():
		t.Fatalf("unexpected signal %s", sig.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServer_Scenario(t *testing.T) {
	t.Parallel()
	s := NewServer(zap.NewNop())
	ctx := context.Background()

	a := connectLocal(t, s, "standup", "alice")
	assert.Equal(t, "STANDUP", a.Room())
	waitParticipants(t, a, 1)
	assert.True(t, a.Replica().IsAlone())

	// alone: share is rejected
	require.NoError(t, a.Request(ctx, session.EventShareRequested))

	b := connectLocal(t, s, "STANDUP", "bob")
	waitParticipants(t, a, 2)
	waitParticipants(t, b, 2)
	assert.Equal(t, "", string(a.Replica().Sharer()))

	require.NoError(t, a.Request(ctx, session.EventShareRequested))
	for _, c := range []*Conn{a, b} {
		require.Eventually(t, func() bool {
			return c.Replica().IsSharing(a.ParticipantID())
		}, waitFor, tick)
	}

	// bob cannot take over, nor stop alice
	require.NoError(t, b.Request(ctx, session.EventShareRequested))
	require.NoError(t, b.Request(ctx, session.EventStopRequested))
	require.Eventually(t, func() bool {
		return b.Replica().Seq() == a.Replica().Seq() && a.Replica().Seq() == 6
	}, waitFor, tick)
	assert.Equal(t, a.ParticipantID(), b.Replica().Sharer())

	member, ok := b.Replica().Member(a.ParticipantID())
	require.True(t, ok)
	assert.Equal(t, "alice", member.Nickname)

	// the sharer leaving ends sharing
	require.NoError(t, a.Close())
	require.Eventually(t, func() bool {
		return b.Replica().IsAlone() && !b.Replica().IsSomeoneSharing()
	}, waitFor, tick)
	assert.Equal(t, 1, participantCount(s, "standup"))

	snap, err := s.RoomSnapshot("standup")
	require.NoError(t, err)
	assert.Equal(t, b.Replica().Snapshot(), snap)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, participantCount(s, "standup"))
	_, err = s.RoomSnapshot("standup")
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestServer_LateJoiner(t *testing.T) {
	t.Parallel()
	s := NewServer(zap.NewNop())

	a := connectLocal(t, s, "ROOM", "alice")
	b := connectLocal(t, s, "ROOM", "bob")
	waitParticipants(t, a, 2)
	require.NoError(t, a.Request(context.Background(), session.EventShareRequested))
	require.Eventually(t, func() bool { return b.Replica().IsSomeoneSharing() }, waitFor, tick)

	c := connectLocal(t, s, "ROOM", "carol")
	// the welcome snapshot already carries the sharer
	assert.Equal(t, a.ParticipantID(), c.Replica().Sharer())
	waitParticipants(t, c, 3)
	waitParticipants(t, a, 3)
	assert.Equal(t, a.Replica().Snapshot(), c.Replica().Snapshot())
}

func TestServer_Relay(t *testing.T) {
	t.Parallel()
	s := NewServer(zap.NewNop())

	a := connectLocal(t, s, "ROOM", "alice")
	b := connectLocal(t, s, "ROOM", "bob")
	c := connectLocal(t, s, "ROOM", "carol")
	waitParticipants(t, a, 3)

	t.Run("addressed", func(t *testing.T) {
		require.NoError(t, a.SendSignal(media.Signal{
			Type: media.SignalOffer,
			From: "spoofed",
			To:   b.ParticipantID(),
			Kind: media.KindVideo,
			SDP:  "v=0",
		}))
		sig := nextSignal(t, b)
		assert.Equal(t, media.SignalOffer, sig.Type)
		assert.Equal(t, a.ParticipantID(), sig.From)
		assert.Equal(t, "v=0", sig.SDP)
		noSignal(t, c)
		noSignal(t, a)
	})

	t.Run("broadcast", func(t *testing.T) {
		require.NoError(t, a.SendSignal(media.Signal{Type: media.SignalPublish, Kind: media.KindVideo}))
		for _, other := range []*Conn{b, c} {
			sig := nextSignal(t, other)
			assert.Equal(t, media.SignalPublish, sig.Type)
			assert.Equal(t, a.ParticipantID(), sig.From)
		}
		noSignal(t, a)
	})

	t.Run("unknown target", func(t *testing.T) {
		require.NoError(t, a.SendSignal(media.Signal{Type: media.SignalHello, To: "nobody"}))
		noSignal(t, b)
		noSignal(t, c)
	})
}

func TestServer_DropsSlowClient(t *testing.T) {
	t.Parallel()
	s := NewServer(zap.NewNop())

	kicked := make(chan struct{})
	slow := &Client{send: make(chan []byte, 1), server: s}
	slow.kick = func() { close(kicked) }

	// the welcome fills the buffer, the join event overflows it
	s.join("ROOM", slow, session.Member{})
	select {
	case <-kicked:
	case <-time.After(waitFor):
		t.Fatal("slow client was not dropped")
	}

	s.leave(slow)
	s.leave(slow)
	assert.Equal(t, 0, participantCount(s, "ROOM"))
}

func TestConn_Closed(t *testing.T) {
	t.Parallel()
	s := NewServer(zap.NewNop())

	c := connectLocal(t, s, "ROOM", "alice")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Request(context.Background(), session.EventShareRequested), ErrClosed)
	assert.ErrorIs(t, c.SendSignal(media.Signal{Type: media.SignalHello}), ErrClosed)
	assert.ErrorIs(t, c.Err(), ErrClosed)
	_, open := <-c.Signals()
	assert.False(t, open)

	assert.Error(t, c.Request(context.Background(), session.EventParticipantJoined))
}

func TestNewLocalConn_InvalidRoom(t *testing.T) {
	t.Parallel()
	s := NewServer(zap.NewNop())

	_, err := NewLocalConn(s, "bad room", session.Member{}, session.NewReplica(nil), zap.NewNop())
	assert.ErrorIs(t, err, ErrHandshake)
}

func newHTTPServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(zap.NewNop())
	e := echo.New()
	s.Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return s, srv
}

func TestDial(t *testing.T) {
	t.Parallel()
	s, srv := newHTTPServer(t)
	ctx := context.Background()

	a, err := Dial(ctx, srv.URL, "remote", session.Member{Nickname: "alice"}, session.NewReplica(nil), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(ctx, srv.URL, "REMOTE", session.Member{Nickname: "bob"}, session.NewReplica(nil), zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	waitParticipants(t, a, 2)
	require.NoError(t, b.Request(ctx, session.EventShareRequested))
	require.Eventually(t, func() bool {
		return a.Replica().IsSharing(b.ParticipantID())
	}, waitFor, tick)

	require.NoError(t, b.SendSignal(media.Signal{Type: media.SignalPublish, Kind: media.KindVideo}))
	sig := nextSignal(t, a)
	assert.Equal(t, b.ParticipantID(), sig.From)

	res, err := http.Get(srv.URL + "/rooms/remote")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	assert.Equal(t, b.ParticipantID(), snap.Sharer)
	assert.Len(t, snap.Participants, 2)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool {
		return a.Replica().IsAlone() && !a.Replica().IsSomeoneSharing()
	}, waitFor, tick)
	assert.Equal(t, 1, participantCount(s, "remote"))
}

func TestDial_Rejected(t *testing.T) {
	t.Parallel()
	_, srv := newHTTPServer(t)
	ctx := context.Background()

	t.Run("invalid room", func(t *testing.T) {
		t.Parallel()
		_, err := Dial(ctx, srv.URL, "no/rooms", session.Member{}, session.NewReplica(nil), zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()
		_, err := Dial(ctx, "ftp://example.org", "ROOM", session.Member{}, session.NewReplica(nil), zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("first frame must be join", func(t *testing.T) {
		t.Parallel()
		u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ROOM"
		ws, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(Message{Type: TypeShare}))
		var reply Message
		require.NoError(t, ws.ReadJSON(&reply))
		assert.Equal(t, TypeError, reply.Type)
	})
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	_, srv := newHTTPServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/rooms/NOWHERE")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
