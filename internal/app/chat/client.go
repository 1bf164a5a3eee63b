/*
Package chat contains the real-time presence and session engine.

This file defines the Client struct, representing an active WebSocket connection. It manages the
connection lifecycle, the message pumps (ReadPump and WritePump), and dispatches inbound events
to the Coordinator one at a time.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lfchat/internal/pkg/errs"
	"lfchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// capacity of the outbound queue of one connection.
	sendBufferSize = 256

	// WsCloseCodeSessionKicked is a custom WebSocket Close Code (4000-4999 range)
	// used to signal the client that the connection was closed by the server.
	WsCloseCodeSessionKicked = 4001
)

// ErrSendQueueFull is returned by Send when the client cannot keep up.
var ErrSendQueueFull = errors.New("client send queue full")

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("client closed")

// Client struct represents an active WebSocket connection. It implements Conn.
type Client struct {
	id string

	// underlying WebSocket connection object.
	conn *websocket.Conn

	coordinator *Coordinator
	session     *Session

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// closed by Close; stops WritePump after it wrote the close frame.
	done        chan struct{}
	closeOnce   sync.Once
	closeReason string

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient wraps an upgraded connection. It is not registered until Attach.
func NewClient(wsConn *websocket.Conn, coordinator *Coordinator) *Client {
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        wsConn,
		coordinator: coordinator,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		logger:      logx.Logger().With().Str("conn_id", id).Logger(),
	}
}

// ID implements Conn.
func (c *Client) ID() string {
	return c.id
}

// Attach connects the client's identity through the coordinator.
func (c *Client) Attach(ctx context.Context, claims *Claims) error {
	session, err := c.coordinator.Connect(ctx, claims, c)
	if err != nil {
		return err
	}

	c.session = session
	c.logger = c.logger.With().
		Str("user_id", session.Identity.ID).
		Str("nickname", session.Identity.Nickname).
		Logger()
	return nil
}

// Send implements Conn. It marshals the envelope and enqueues it without blocking.
func (c *Client) Send(event EventType, payload any) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	messageBytes, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(event)).Msg("Error marshaling event for client")
		return err
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return ErrSendQueueFull
	}
}

// Close implements Conn. WritePump sends a 4001 close frame carrying reason
// and shuts the socket down, which also ends ReadPump.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
	})
}

// ReadPump handles reading messages from the WebSocket connection.
// It handles heartbeats (Pong), event dispatch, and performs cleanup upon connection closure.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.cleanupOnDisconnect(ctx)

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, WsCloseCodeSessionKicked) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(ctx, messageBytes)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect(ctx context.Context) {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.Close("")

	if c.session != nil {
		if err := c.coordinator.Disconnect(ctx, c.session); err != nil {
			c.logger.Error().Err(err).Msg("Disconnect teardown failed")
		}
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundMessage decodes one envelope and dispatches it. Errors are
// reported to this client only.
func (c *Client) processInboundMessage(ctx context.Context, messageBytes []byte) {
	var inbound inboundEnvelope
	if err := json.Unmarshal(messageBytes, &inbound); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if err := c.dispatch(ctx, inbound); err != nil {
		c.SendError(err)
	}
}

func (c *Client) dispatch(ctx context.Context, in inboundEnvelope) error {
	switch in.Event {
	case EventJoinRoom, EventLeaveRoom, EventJoinPrivateChat, EventLeavePrivateChat:
		target, err := decodeTarget(in.Data)
		if err != nil {
			return errs.NewError(errs.ErrInvalidParams)
		}
		return c.dispatchTarget(ctx, in.Event, target)

	case EventSendMessage:
		var req SendRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return errs.NewError(errs.ErrMalformedMessage, "invalid payload")
		}
		_, err := c.coordinator.SendMessage(ctx, c.session, req)
		return err

	case EventTyping, EventStopTyping:
		var req TypingRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return errs.NewError(errs.ErrInvalidParams)
		}
		return c.coordinator.Typing(c.session, req, in.Event == EventStopTyping)

	default:
		c.logger.Warn().Str("event", string(in.Event)).Msg("Client sent unsupported event")
		return errs.NewError(errs.ErrUnsupportedEvent, string(in.Event))
	}
}

func (c *Client) dispatchTarget(ctx context.Context, event EventType, target string) error {
	switch event {
	case EventJoinRoom:
		return c.coordinator.JoinRoom(c.session, target)
	case EventLeaveRoom:
		return c.coordinator.LeaveRoom(c.session, target)
	case EventJoinPrivateChat:
		return c.coordinator.JoinPrivate(ctx, c.session, target)
	default:
		return c.coordinator.LeavePrivate(ctx, c.session, target)
	}
}

// decodeTarget accepts a bare JSON string id.
func decodeTarget(data json.RawMessage) (string, error) {
	var target string
	if err := json.Unmarshal(data, &target); err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("empty target")
	}
	return target, nil
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

		case <-c.done:
			c.flushAndClose()
			return
		}
	}
}

// writeQueuedMessage writes one queued frame.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// flushAndClose writes whatever is still queued, then the close frame.
// A server-initiated close carries code 4001 and the reason.
func (c *Client) flushAndClose() {
	for len(c.send) > 0 {
		if !c.writeQueuedMessage(<-c.send) {
			return
		}
	}

	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if c.closeReason != "" {
		c.logger.Warn().
			Int("close_code", WsCloseCodeSessionKicked).
			Str("reason", c.closeReason).
			Msg("Sending WS Kick message and closing connection.")
		closeMessage = websocket.FormatCloseMessage(WsCloseCodeSessionKicked, c.closeReason)
	}

	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send WS close message.")
	}
}

// SendError constructs and sends an error event to the client.
func (c *Client) SendError(err error) {
	customErr := errs.From(err)

	payload := ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	}

	if sendErr := c.Send(EventError, payload); sendErr != nil {
		c.logger.Error().Err(sendErr).Msg("Failed to queue error message")
	}
}

// Reject sends err and closes the connection before it was ever attached.
func (c *Client) Reject(err error) {
	c.SendError(err)
	c.Close(errs.From(err).Message)
}
