package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxReadMessageSize = 64 << 10 // SDP blobs are a few KB
	sendBufferSize     = 256

	// HandshakeTimeout bounds the wait for a client's join frame
	HandshakeTimeout = 10 * time.Second
)

// ErrUnknownRoom is returned when a room lookup finds nothing.
var ErrUnknownRoom = errors.New("unknown room")

// Client represents one connected participant
type Client struct {
	conn   *websocket.Conn // nil for in-process clients
	id     session.ParticipantID
	room   string
	send   chan []byte
	server *Server

	// kick tears the client's transport down so it leaves the room
	kick     func()
	kickOnce sync.Once
}

func (c *Client) drop() {
	c.kickOnce.Do(c.kick)
}

// Room sequences every event of one session. Holding mu while applying and
// broadcasting gives all replicas the same total order.
type Room struct {
	code    string
	seq     uint64
	state   *session.State
	clients map[session.ParticipantID]*Client
	mu      sync.Mutex
}

// Server manages WebSocket connections and room routing
type Server struct {
	rooms    map[string]*Room
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new session server
func NewServer(logger *zap.Logger) *Server {
	return &Server{
		rooms:  make(map[string]*Room),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// join registers c in the room, replies with a welcome snapshot and sequences
// the participant-joined event to everyone, c included.
func (s *Server) join(code string, c *Client, member session.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[code]
	if !exists {
		room = &Room{
			code:    code,
			state:   session.NewState(),
			clients: make(map[session.ParticipantID]*Client),
		}
		s.rooms[code] = room
		roomsGauge.Inc()
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	c.id = session.ParticipantID(uuid.Must(uuid.NewV4()).String())
	c.room = code

	snap := room.state.Snapshot(room.seq)
	welcome, _ := encode(Message{Type: TypeWelcome, Room: code, Participant: c.id, Snapshot: &snap})
	c.send <- welcome

	room.clients[c.id] = c
	room.sequence(session.EventParticipantJoined, c.id, &member)

	s.logger.Info("participant joined",
		zap.String("room", code),
		zap.String("participant", string(c.id)),
		zap.Int("participants", room.state.Len()))
}

// leave removes c from its room and sequences participant-left. Calling it for
// a client that already left is a no-op.
func (s *Server) leave(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[c.room]
	if !exists {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.clients[c.id] != c {
		return
	}
	delete(room.clients, c.id)
	close(c.send)
	room.sequence(session.EventParticipantLeft, c.id, nil)

	s.logger.Info("participant left",
		zap.String("room", room.code),
		zap.String("participant", string(c.id)),
		zap.Int("participants", room.state.Len()))

	// Clean up empty rooms
	if len(room.clients) == 0 {
		delete(s.rooms, room.code)
		roomsGauge.Dec()
	}
}

func (s *Server) lookup(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

// request sequences a share or stop request on behalf of c. The event always
// carries c's own id.
func (s *Server) request(c *Client, kind session.EventKind) {
	room, ok := s.lookup(c.room)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.clients[c.id] != c {
		return
	}
	ns := room.sequence(kind, c.id, nil)
	if kind == session.EventShareRequested && len(ns) == 0 {
		rejectedSharesCounter.Inc()
		s.logger.Debug("share request rejected",
			zap.String("room", room.code),
			zap.String("participant", string(c.id)))
	}
}

// relay forwards a media signal from c. An empty To reaches every other
// participant; an unknown To is dropped.
func (s *Server) relay(c *Client, sig media.Signal) {
	room, ok := s.lookup(c.room)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.clients[c.id] != c {
		return
	}

	sig.From = c.id
	data, err := encode(Message{Type: TypeMedia, Media: &sig})
	if err != nil {
		return
	}
	relayedSignalsCounter.WithLabelValues(string(sig.Type)).Inc()

	if sig.To != "" {
		if target, ok := room.clients[sig.To]; ok {
			room.deliver(target, data)
		}
		return
	}
	for id, target := range room.clients {
		if id == c.id {
			continue
		}
		room.deliver(target, data)
	}
}

// sequence stamps, applies and broadcasts one event. Callers hold r.mu.
func (r *Room) sequence(kind session.EventKind, id session.ParticipantID, member *session.Member) []session.Notification {
	wasSharing := r.state.IsSomeoneSharing()
	before := r.state.Len()

	r.seq++
	ev := session.Event{Seq: r.seq, Kind: kind, Participant: id, Member: member}
	ns := r.state.Apply(ev)

	eventsCounter.WithLabelValues(string(kind)).Inc()
	participantsGauge.Add(float64(r.state.Len() - before))
	switch isSharing := r.state.IsSomeoneSharing(); {
	case isSharing && !wasSharing:
		sharersGauge.Inc()
	case !isSharing && wasSharing:
		sharersGauge.Dec()
	}

	data, err := encode(Message{Type: TypeEvent, Event: &ev})
	if err != nil {
		return ns
	}
	for _, c := range r.clients {
		r.deliver(c, data)
	}
	return ns
}

// deliver queues data for c. A client that cannot keep up is disconnected
// rather than allowed to miss an event.
func (r *Room) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		droppedClientsCounter.Inc()
		c.drop()
	}
}

// HandleWebSocket handles WebSocket connections for signaling
func (s *Server) HandleWebSocket(c echo.Context) error {
	// Extract room code from URL path: /ws/{room-code}
	roomCode := NormalizeRoomCode(c.Param("room"))
	if !ValidateRoomCode(roomCode) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid room code")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		server: s,
	}
	client.kick = func() { _ = conn.Close() }

	go client.serve(roomCode)
	return nil
}

// HandleRoom reports the sequenced state of a room
func (s *Server) HandleRoom(c echo.Context) error {
	snap, err := s.RoomSnapshot(c.Param("room"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

// Register mounts the server's routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws/:room", s.HandleWebSocket)
	e.GET("/rooms/:room", s.HandleRoom)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s.Register(e)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("session server starting", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// RoomSnapshot returns the authoritative state of a room
func (s *Server) RoomSnapshot(roomCode string) (session.Snapshot, error) {
	room, ok := s.lookup(NormalizeRoomCode(roomCode))
	if !ok {
		return session.Snapshot{}, ErrUnknownRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	return room.state.Snapshot(room.seq), nil
}
