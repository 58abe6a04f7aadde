package signal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
)

var (
	// ErrClosed is returned when using a connection after it ended
	ErrClosed = errors.New("session connection closed")
	// ErrHandshake is returned when the server refuses or garbles the join
	ErrHandshake = errors.New("session handshake failed")
)

const signalBufferSize = 64

// link moves frames between a Conn and the server, over a websocket or
// in-process.
type link interface {
	read() ([]byte, error)
	write(msg Message) error
	close() error
}

// Conn is a participant's connection to a room. It keeps the local replica
// in step with the sequencer and carries media signals.
type Conn struct {
	link    link
	replica *session.Replica
	logger  *zap.Logger

	id   session.ParticipantID
	room string

	signals chan media.Signal
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial joins room on the session server at serverURL (http, https, ws or wss).
// The replica is reset from the welcome snapshot before Dial returns.
func Dial(ctx context.Context, serverURL, room string, member session.Member, replica *session.Replica, logger *zap.Logger) (*Conn, error) {
	u, err := websocketURL(serverURL, room)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	ws.SetReadLimit(maxReadMessageSize)

	l := &wsLink{conn: ws}
	_ = ws.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	welcome, err := handshake(l, member)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	return newConn(l, welcome, replica, logger), nil
}

// NewLocalConn joins room on an in-process server. Used when this process
// hosts the session itself.
func NewLocalConn(server *Server, room string, member session.Member, replica *session.Replica, logger *zap.Logger) (*Conn, error) {
	room = NormalizeRoomCode(room)
	if !ValidateRoomCode(room) {
		return nil, fmt.Errorf("%w: invalid room code %q", ErrHandshake, room)
	}

	client := &Client{
		send:   make(chan []byte, sendBufferSize),
		server: server,
	}
	// kick runs with the room locked, so leaving must happen elsewhere
	client.kick = func() { go server.leave(client) }

	l := &localLink{server: server, client: client, room: room}
	welcome, err := handshake(l, member)
	if err != nil {
		_ = l.close()
		return nil, err
	}
	return newConn(l, welcome, replica, logger), nil
}

func websocketURL(serverURL, room string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(NormalizeRoomCode(room))
	return u.String(), nil
}

func handshake(l link, member session.Member) (Message, error) {
	if err := l.write(Message{Type: TypeJoin, Member: &member}); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	data, err := l.read()
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	msg, err := decode(data)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	switch {
	case msg.Type == TypeError:
		return Message{}, fmt.Errorf("%w: %s", ErrHandshake, msg.Error)
	case msg.Type != TypeWelcome || msg.Snapshot == nil || msg.Participant == "":
		return Message{}, fmt.Errorf("%w: unexpected %q frame", ErrHandshake, msg.Type)
	}
	return msg, nil
}

func newConn(l link, welcome Message, replica *session.Replica, logger *zap.Logger) *Conn {
	replica.Reset(*welcome.Snapshot)
	c := &Conn{
		link:    l,
		replica: replica,
		logger:  logger.With(zap.String("room", welcome.Room), zap.String("participant", string(welcome.Participant))),
		id:      welcome.Participant,
		room:    welcome.Room,
		signals: make(chan media.Signal, signalBufferSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.signals)
		close(c.done)
	}()

	for {
		data, err := c.link.read()
		if err != nil {
			select {
			case <-c.closing:
				c.setErr(ErrClosed)
			default:
				c.logger.Warn("session connection lost", zap.Error(err))
				c.setErr(fmt.Errorf("%w: %w", ErrClosed, err))
			}
			return
		}

		msg, err := decode(data)
		if err != nil {
			c.logger.Debug("invalid message format", zap.Error(err))
			continue
		}

		switch msg.Type {
		case TypeEvent:
			if msg.Event == nil {
				continue
			}
			if _, err := c.replica.Apply(*msg.Event); err != nil {
				// A replica with a hole in its log cannot be repaired in place
				c.logger.Error("replica out of sync", zap.Error(err))
				c.setErr(err)
				_ = c.link.close()
				c.drain()
				return
			}
		case TypeMedia:
			if msg.Media == nil {
				continue
			}
			select {
			case c.signals <- *msg.Media:
			case <-c.closing:
			}
		case TypeError:
			c.logger.Warn("server error", zap.String("error", msg.Error))
		}
	}
}

// drain consumes what is left on the link so the server side can finish.
func (c *Conn) drain() {
	for {
		if _, err := c.link.read(); err != nil {
			return
		}
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// ParticipantID returns the id the sequencer assigned to this connection.
func (c *Conn) ParticipantID() session.ParticipantID { return c.id }

// Room returns the normalized room code.
func (c *Conn) Room() string { return c.room }

// Replica returns the replica fed by this connection.
func (c *Conn) Replica() *session.Replica { return c.replica }

// Request submits a share-requested or stop-requested event for sequencing.
// The outcome arrives as notifications on the replica.
func (c *Conn) Request(ctx context.Context, kind session.EventKind) error {
	var t MessageType
	switch kind {
	case session.EventShareRequested:
		t = TypeShare
	case session.EventStopRequested:
		t = TypeStop
	default:
		return fmt.Errorf("cannot request %q", kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(Message{Type: t})
}

// SendSignal relays a media signal. An empty To reaches every other participant.
func (c *Conn) SendSignal(sig media.Signal) error {
	return c.send(Message{Type: TypeMedia, Media: &sig})
}

// Signals delivers media signals addressed to this participant. It is closed
// when the connection ends.
func (c *Conn) Signals() <-chan media.Signal { return c.signals }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, nil while it is alive.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}
	return c.link.write(msg)
}

// Close leaves the room and waits for the read loop to stop.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.link.close()
	})
	<-c.done
	return err
}

// wsLink talks to a remote server
type wsLink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (l *wsLink) read() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	return data, err
}

func (l *wsLink) write(msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) close() error {
	l.mu.Lock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.mu.Unlock()
	return l.conn.Close()
}

// localLink talks to a server in the same process
type localLink struct {
	server *Server
	client *Client
	room   string
}

func (l *localLink) read() ([]byte, error) {
	data, ok := <-l.client.send
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (l *localLink) write(msg Message) error {
	if msg.Type == TypeJoin {
		var member session.Member
		if msg.Member != nil {
			member = *msg.Member
		}
		l.server.join(l.room, l.client, member)
		return nil
	}
	l.server.dispatch(l.client, msg)
	return nil
}

func (l *localLink) close() error {
	l.server.leave(l.client)
	return nil
}
