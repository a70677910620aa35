/*
This file defines the Client struct, representing an active WebSocket connection. It manages the
client's lifecycle, the message communication loops (ReadPump and WritePump), and the bridge
between the room's event stream and the wire.
*/
package handler

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"textroom/internal/app/collab"
	"textroom/internal/app/protocol"
	"textroom/internal/app/user"
	"textroom/internal/pkg/errs"
	"textroom/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 65536
)

// Client represents an active WebSocket connection and its associated user.
type Client struct {
	deps *AppDeps

	// roomID identifies the room this connection is bound to.
	roomID string

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// associated client user.
	user user.User

	// a buffered channel used to queue envelopes waiting to be sent to the client.
	send chan []byte

	// unsubscribe detaches this connection from the room's event stream.
	unsubscribe func()

	// mu guards closed: events already queued on the subscriber goroutine can
	// still arrive briefly after unsubscribe.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	// structured logger with client and room context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(deps *AppDeps, roomID string, wsConn *websocket.Conn, u user.User) *Client {
	clientLogger := logx.Logger().With().
		Str("client_id", u.ID).
		Str("room_code", roomID).
		Logger()

	return &Client{
		deps:   deps,
		roomID: roomID,
		conn:   wsConn,
		user:   u,
		send:   make(chan []byte, 256),
		logger: clientLogger,
	}
}

// Register subscribes the connection to the room's event stream and joins the
// user. Subscribing first guarantees the client observes every event accepted
// after its own join.
func (c *Client) Register() *errs.CustomError {
	unsubscribe, subErr := c.deps.Coordinator.Subscribe(c.roomID, c.forwardEvent)
	if subErr != nil {
		return subErr
	}
	c.unsubscribe = unsubscribe

	if joinErr := c.deps.Coordinator.JoinRoom(c.roomID, c.user); joinErr != nil {
		unsubscribe()
		c.unsubscribe = nil
		return joinErr
	}

	return nil
}

// forwardEvent bridges one room event onto this connection's send queue.
// Accepted operations are not echoed to their own author; the author already
// received an ack envelope carrying the transformed operation.
func (c *Client) forwardEvent(ev collab.Event) {
	if ev.Type == collab.EventOperation && ev.UserID == c.user.ID {
		return
	}

	env, err := protocol.FromEvent(ev)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to convert room event to envelope")
		return
	}

	c.enqueue(env)
}

// enqueue marshals the envelope onto the send channel without blocking; a
// client that cannot drain its queue loses envelopes rather than stalling
// the room's event stream.
func (c *Client) enqueue(env protocol.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Error().Err(err).Str("envelope_type", env.Type).Msg("Failed to marshal outbound envelope")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- payload:
	default:
		c.logger.Warn().Str("envelope_type", env.Type).Msg("Client send queue full. Dropping envelope.")
	}
}

// ReadPump handles reading envelopes from the WebSocket connection.
// It handles heartbeats (Pong), envelope dispatch through the protocol
// adapter, and performs cleanup upon connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

// processInboundMessage decodes one raw frame into an envelope and dispatches
// it. The connection's identity overrides whatever the payload claims.
func (c *Client) processInboundMessage(messageBytes []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(messageBytes, &env); err != nil {
		c.logger.Warn().Err(err).
			Bytes("message_bytes", messageBytes).
			Msg("Client sent invalid JSON")
		return
	}

	env.RoomID = c.roomID
	env.UserID = c.user.ID

	for _, reply := range c.deps.Adapter.HandleMessage(env) {
		c.enqueue(reply)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	if leaveErr := c.deps.Coordinator.LeaveRoom(c.roomID, c.user.ID); leaveErr != nil {
		c.logger.Warn().Int("error_code", leaveErr.Code).Msg("Leave on disconnect failed")
	}

	c.Close()
}

// Close terminates the connection and the WritePump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// WritePump handles writing envelopes from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage handles envelopes pulled from the send channel, writing them to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a heartbeat frame. Returns false when the connection is gone.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline for ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping message")
		return false
	}

	return true
}
