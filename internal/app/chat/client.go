/*
Package chat contains the core message distribution engine.

This file defines the Client, the WebSocket-backed implementation of Conn. It
owns the two connection pumps: ReadPump feeds inbound frames to the session and
WritePump drains the bounded outbound queue, sends heartbeats, and is the only
goroutine writing to the socket.
*/
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
)

const (
	// writeWait is the timeout for a single write to the WebSocket connection.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a Pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod is the heartbeat interval; it must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds the size (in bytes) of one inbound frame.
	maxMessageSize = 8192

	// MaxContentBytes bounds the size (in bytes) of chat message content.
	MaxContentBytes = 5000

	// sendQueueSize is the capacity of the outbound queue. A connection whose
	// queue fills up is treated as dead and reaped by the Registry; this is
	// the bound that keeps one slow peer from stalling a room.
	sendQueueSize = 256
)

// ErrSendQueueFull is returned by Enqueue when the outbound queue is saturated.
var ErrSendQueueFull = errors.New("client send queue full")

// ErrConnClosed is returned by Enqueue after the connection has been closed.
var ErrConnClosed = errors.New("client connection closed")

// Client wraps one live WebSocket connection and the identity bound to it.
type Client struct {
	id       string
	roomID   int64
	identity user.Identity

	conn *websocket.Conn

	// send is the bounded outbound queue drained by WritePump.
	send chan []byte

	// closed is closed exactly once to stop both pumps.
	closed    chan struct{}
	closeOnce sync.Once

	// closeFrame, when set before Close, is written as the closing handshake.
	frameMu    sync.Mutex
	closeFrame []byte

	logger zerolog.Logger
}

// NewClient wraps an upgraded WebSocket connection for the given room and identity.
func NewClient(conn *websocket.Conn, roomID int64, identity user.Identity) *Client {
	id := uuid.NewString()

	clientLogger := logx.Logger().With().
		Str("conn_id", id).
		Int64("room_id", roomID).
		Int64("user_id", identity.ID).
		Logger()

	return &Client{
		id:       id,
		roomID:   roomID,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		closed:   make(chan struct{}),
		logger:   clientLogger,
	}
}

// ID returns the unique connection id.
func (c *Client) ID() string { return c.id }

// Identity returns the identity bound to the connection.
func (c *Client) Identity() user.Identity { return c.identity }

// RoomID returns the room this connection is bound to.
func (c *Client) RoomID() int64 { return c.roomID }

// Enqueue queues a payload for delivery without blocking. It fails when the
// connection is closed or the queue is full; the caller decides whether that
// makes the connection dead.
func (c *Client) Enqueue(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Send queue full, dropping payload")
		return ErrSendQueueFull
	}
}

// Close stops both pumps. WritePump flushes what it can, writes the closing
// handshake, and tears down the socket. Safe to call any number of times and
// from any goroutine.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// CloseWithPolicyViolation performs the closing handshake with close code 1008
// (policy violation), used after an authorization denial.
func (c *Client) CloseWithPolicyViolation(reason string) {
	c.frameMu.Lock()
	c.closeFrame = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	c.frameMu.Unlock()

	c.Close()
}

// SendEvent encodes the event and queues it for delivery.
func (c *Client) SendEvent(event Event) error {
	data, err := event.Encode()
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode event")
		return err
	}
	return c.Enqueue(data)
}

// SendError queues an error event describing err. Non-CustomError values are
// reported as an internal error without leaking details to the client.
func (c *Client) SendError(err error) {
	payload := ErrorPayload{}

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		payload.Code = customErr.Code
		payload.Message = customErr.Message
	} else {
		unknown := errs.NewError(errs.ErrUnknown)
		payload.Code = unknown.Code
		payload.Message = unknown.Message
	}

	if sendErr := c.SendEvent(NewEvent(EventError, c.roomID, payload)); sendErr != nil {
		c.logger.Warn().Err(sendErr).Msg("Failed to queue error event")
	}
}

// ReadPump reads inbound frames and hands each one to handle. It returns when
// the connection dies or Close is called. The caller owns cleanup.
func (c *Client) ReadPump(handle func(payload []byte)) {
	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Read loop ended abnormally")
			}
			return
		}

		handle(payload)
	}
}

// WritePump drains the outbound queue to the socket and keeps the heartbeat
// alive. It is the only goroutine writing to the connection, and it closes the
// underlying socket on exit, which in turn unblocks ReadPump.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case payload := <-c.send:
			if !c.writePayload(payload) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}

		case <-c.closed:
			c.flushAndCloseHandshake()
			return
		}
	}
}

// writePayload writes one queued payload. Returns false when the pump should stop.
func (c *Client) writePayload(payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Info().Err(err).Msg("Error writing payload")
		return false
	}

	return true
}

// writePing sends the heartbeat ping. Returns false when the pump should stop.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Info().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// flushAndCloseHandshake drains whatever is already queued, then writes the
// closing handshake (a specific frame set by CloseWithPolicyViolation, or a
// normal closure otherwise).
func (c *Client) flushAndCloseHandshake() {
	for {
		select {
		case payload := <-c.send:
			if !c.writePayload(payload) {
				return
			}
		default:
			c.frameMu.Lock()
			frame := c.closeFrame
			c.frameMu.Unlock()

			if frame == nil {
				frame = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing close frame")
			}
			return
		}
	}
}
