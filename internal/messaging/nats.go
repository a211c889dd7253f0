// Package messaging provides a NATS client wrapper for pub/sub fan-out of
// room events across relay instances. It handles connection lifecycle,
// per-room subscriptions, and reconnect logging.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectSession is the subject prefix for room event fan-out. The full
// subject is session.<room_id>.
const SubjectSession = "session"

// RoomEvent is the payload published on session.<room_id> subjects. Origin
// identifies the publishing relay instance so subscribers can skip events
// they already delivered locally; SenderConnectionID is excluded from
// delivery on every instance.
type RoomEvent struct {
	Origin             string `json:"origin"`
	RoomID             string `json:"room_id"`
	SenderConnectionID string `json:"sender_connection_id"`
	Data               []byte `json:"data"` // encoded server event, relayed verbatim
}

// NATSClient wraps the NATS connection with helper methods for room pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger zerolog.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription // roomID -> subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "mira-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger zerolog.Logger) (*NATSClient, error) {
	logger = logger.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected")
			} else {
				logger.Warn().Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// PublishRoomEvent publishes data to the session.<roomID> subject.
func (c *NATSClient) PublishRoomEvent(roomID string, data []byte) error {
	return c.conn.Publish(SubjectSession+"."+roomID, data)
}

// SubscribeToRoom subscribes this instance to the session.<roomID> subject.
// Only one subscription per room is kept per instance; a second call for the
// same room is a no-op. The lock is held across the subscribe so that
// concurrent joins to the same room cannot create duplicate subscriptions.
func (c *NATSClient) SubscribeToRoom(roomID string, handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[roomID]; ok {
		return nil
	}

	subject := SubjectSession + "." + roomID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.subs[roomID] = sub
	return nil
}

// UnsubscribeFromRoom drops this instance's subscription for a room. Called
// when the last local participant leaves the room.
func (c *NATSClient) UnsubscribeFromRoom(roomID string) error {
	c.mu.Lock()
	sub, ok := c.subs[roomID]
	if ok {
		delete(c.subs, roomID)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no subscription for room %s", roomID)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe room %s: %w", roomID, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Str("room_id", roomID).Msg("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn().Err(err).Msg("connection drain failed")
	}

	c.logger.Info().Msg("client closed")
}
