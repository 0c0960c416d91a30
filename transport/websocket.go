package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/session"
)

const (
	socketMaxPayloadBytes = 1 << 20
	socketPongWait        = 45 * time.Second
	socketWriteWait       = 10 * time.Second
	socketPingInterval    = 15 * time.Second
	socketSendBuffer      = 64
)

// socketConn is a single websocket client. The read loop stays responsive
// while a turn streams, so approval and tool_result frames can land mid-turn.
type socketConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id   string
	sess *session.Session

	turnActive atomic.Bool
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}

	subject := r.URL.Query().Get("subject")
	if subject == "" {
		subject = DefaultSubject
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &socketConn{
		server: s,
		conn:   conn,
		send:   make(chan []byte, socketSendBuffer),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.Must(uuid.NewV7()).String(),
	}

	// Each socket gets its own session keyed by the connection id, so one
	// subject can hold independent conversations on parallel connections.
	sess, _, err := s.relay.Store().GetOrCreate(ctx, subject, c.id)
	if err != nil {
		cancel()
		conn.Close()
		return
	}
	c.sess = sess

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventConnected,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.socket",
		Session:   sess.ID(),
		Data:      map[string]any{"connection_id": c.id, "subject": subject},
	})

	c.run()

	s.observer.OnEvent(context.Background(), observability.Event{
		Type:      EventDisconnected,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.socket",
		Session:   sess.ID(),
		Data:      map[string]any{"connection_id": c.id},
	})
}

func (c *socketConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

// close tears the connection down. The send channel is never closed; the
// write loop exits through the context instead, so a late enqueue from a
// finishing turn cannot panic.
func (c *socketConn) close() {
	c.cancel()
	c.conn.Close()
}

func (c *socketConn) readLoop() {
	c.conn.SetReadLimit(socketMaxPayloadBytes)
	c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.sendError(err.Error())
			c.server.observer.OnEvent(c.ctx, observability.Event{
				Type:      EventFrameRejected,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "transport.socket",
				Session:   c.sess.ID(),
				Data:      map[string]any{"connection_id": c.id, "error": err.Error()},
			})
			continue
		}

		switch frame.Type {
		case FrameMessage:
			c.handleMessage(frame)
		case FrameApproval:
			c.handleApproval(frame)
		case FrameToolResult:
			c.handleToolResult(frame)
		}
	}
}

func (c *socketConn) writeLoop() {
	ticker := time.NewTicker(socketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue blocks rather than dropping when the send buffer fills: a slow
// reader must not lose chunks mid-turn. The write deadline bounds how long
// a stuck peer can hold things up before the connection is torn down.
func (c *socketConn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *socketConn) sendError(message string) {
	data, err := json.Marshal(protocol.NewError(message))
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *socketConn) handleMessage(frame *Frame) {
	if !c.turnActive.CompareAndSwap(false, true) {
		c.sendError("turn already in progress")
		return
	}

	go func() {
		defer c.turnActive.Store(false)

		stream, err := c.server.relay.HandleTurn(c.ctx, c.sess, frame.Content, frame.History)
		if err != nil {
			c.sendError(err.Error())
			return
		}

		count := 0
		for chunk := range stream.Chunks() {
			if chunk.Terminal() {
				c.enqueue([]byte(protocol.TerminalMarker))
				continue
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if !c.enqueue(data) {
				return
			}
			count++
		}

		c.server.observer.OnEvent(c.ctx, observability.Event{
			Type:      EventTurnStreamed,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "transport.socket",
			Session:   c.sess.ID(),
			Data:      map[string]any{"connection_id": c.id, "chunks": count},
		})
	}()
}

func (c *socketConn) handleApproval(frame *Frame) {
	if !c.server.relay.Approvals().Resolve(c.ctx, frame.RequestID, *frame.Approved) {
		c.sendError("unknown approval id: " + frame.RequestID)
		return
	}
	c.server.observer.OnEvent(c.ctx, observability.Event{
		Type:      EventApprovalResolved,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.socket",
		Session:   c.sess.ID(),
		Data: map[string]any{
			"request_id": frame.RequestID,
			"approved":   *frame.Approved,
			"reason":     frame.Reason,
		},
	})
}

func (c *socketConn) handleToolResult(frame *Frame) {
	if err := c.server.relay.Resume(c.ctx, frame.ToolCallID, frame.Result); err != nil {
		c.sendError(err.Error())
		return
	}
	c.server.observer.OnEvent(c.ctx, observability.Event{
		Type:      EventToolResumed,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "transport.socket",
		Session:   c.sess.ID(),
		Data:      map[string]any{"tool_call_id": frame.ToolCallID},
	})
}
