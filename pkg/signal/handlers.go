package signal

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/session"
)

// serve runs a websocket client: handshake, then the read and write pumps
// until the connection drops.
func (c *Client) serve(roomCode string) {
	logger := c.server.logger.With(zap.String("room", roomCode))

	c.conn.SetReadLimit(maxReadMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		logger.Debug("handshake read failed", zap.Error(err))
		_ = c.conn.Close()
		return
	}
	msg, err := decode(data)
	if err != nil || msg.Type != TypeJoin {
		logger.Info("rejecting client without join frame", zap.String("type", string(msg.Type)))
		reply, _ := encode(Message{Type: TypeError, Error: "expected join"})
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.TextMessage, reply)
		_ = c.conn.Close()
		return
	}

	var member session.Member
	if msg.Member != nil {
		member = *msg.Member
	}
	c.server.join(roomCode, c, member)

	go c.writePump()
	c.readPump()
}

// readPump reads messages from the WebSocket
func (c *Client) readPump() {
	defer func() {
		c.server.leave(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket read error",
					zap.String("participant", string(c.id)),
					zap.Error(err))
			}
			return
		}

		msg, err := decode(data)
		if err != nil {
			c.server.logger.Debug("invalid message format",
				zap.String("participant", string(c.id)),
				zap.Error(err))
			continue
		}
		c.server.dispatch(c, msg)
	}
}

// writePump sends messages to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Debug("websocket write error",
					zap.String("participant", string(c.id)),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch processes one message from a joined client
func (s *Server) dispatch(c *Client, msg Message) {
	switch msg.Type {
	case TypeShare:
		s.request(c, session.EventShareRequested)
	case TypeStop:
		s.request(c, session.EventStopRequested)
	case TypeMedia:
		if msg.Media != nil {
			s.relay(c, *msg.Media)
		}
	default:
		s.logger.Debug("unexpected message type",
			zap.String("participant", string(c.id)),
			zap.String("type", string(msg.Type)))
	}
}
