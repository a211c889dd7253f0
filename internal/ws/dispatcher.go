package ws

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client event.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientEvent (e.g., protocol.JoinSessionMsg).
type EventHandler func(conn *Connection, msg interface{})

// EventDispatcher routes incoming WebSocket events to registered handlers
// based on the event type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or
// unsupported events.
type EventDispatcher struct {
	handlers map[string]EventHandler
	logger   zerolog.Logger
}

// NewEventDispatcher creates an empty EventDispatcher.
func NewEventDispatcher(logger zerolog.Logger) *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string]EventHandler),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register associates an EventHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *EventDispatcher) Register(eventType string, handler EventHandler) {
	d.handlers[eventType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed event, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error event sent back to the client.
func (d *EventDispatcher) Dispatch(conn *Connection, data []byte) {
	eventType, msg, err := protocol.ParseClientEvent(data)
	if err != nil {
		d.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("parse error")
		d.sendError(conn, "parse_error", "invalid event format")
		return
	}

	// Built-in ping handler — respond immediately without requiring registration.
	if eventType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[eventType]
	if !ok {
		d.logger.Warn().Str("event", eventType).Str("connection_id", conn.ID).Msg("unsupported event type")
		d.sendError(conn, "unsupported_type", "unsupported event type")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error event back to the client. Errors during
// event construction or transmission are logged but not propagated.
func (d *EventDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to build error event")
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		d.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to send error event")
	}
}

// sendPong responds to a client ping with a pong event and updates the
// connection's LastPing timestamp to reflect the most recent keepalive.
func (d *EventDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerEvent(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to build pong")
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		d.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to send pong")
	}
}
