// Package presence tracks connected participants in Redis so that presence
// is visible across relay instances and dead entries expire on their own.
// Each connection has a hash with a TTL, and each room has a set of member
// connection IDs.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for per-connection hashes.
	ConnPrefix = "presence:"

	// RoomPrefix is the Redis key prefix for per-room member sets.
	RoomPrefix = "room:"

	// ConnTTL is the time-to-live for connection keys. The relay refreshes
	// it on activity; a crashed instance's entries expire on their own.
	ConnTTL = 1 * time.Hour
)

// Entry is one connection's presence record.
type Entry struct {
	ConnectionID string `redis:"connection_id"`
	UserID       string `redis:"user_id"`
	DisplayName  string `redis:"display_name"`
	RoomID       string `redis:"room_id"`
	Server       string `redis:"server"` // which relay instance owns the connection
	JoinedAt     int64  `redis:"joined_at"`
}

// Store manages presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and returns a presence store. serverName
// identifies this relay instance in presence entries.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create records a new connection with no room membership.
func (s *Store) Create(ctx context.Context, connectionID string) error {
	key := ConnPrefix + connectionID

	entry := map[string]interface{}{
		"connection_id": connectionID,
		"user_id":       "",
		"display_name":  "",
		"room_id":       "",
		"server":        s.serverName,
		"joined_at":     int64(0),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a connection's presence entry. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connectionID string) (*Entry, error) {
	key := ConnPrefix + connectionID
	var entry Entry
	err := s.client.HGetAll(ctx, key).Scan(&entry)
	if err != nil {
		return nil, err
	}
	if entry.ConnectionID == "" {
		return nil, nil // not found
	}
	return &entry, nil
}

// SetRoom marks a connection as a member of a room and adds it to the room's
// member set.
func (s *Store) SetRoom(ctx context.Context, connectionID, roomID, userID, displayName string) error {
	key := ConnPrefix + connectionID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"room_id", roomID,
		"user_id", userID,
		"display_name", displayName,
		"joined_at", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, ConnTTL)
	pipe.SAdd(ctx, RoomPrefix+roomID+":members", connectionID)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearRoom removes a connection's room membership.
func (s *Store) ClearRoom(ctx context.Context, connectionID, roomID string) error {
	key := ConnPrefix + connectionID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "room_id", "", "joined_at", int64(0))
	pipe.SRem(ctx, RoomPrefix+roomID+":members", connectionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Members returns the connection IDs currently recorded in a room's member
// set, across all relay instances.
func (s *Store) Members(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, RoomPrefix+roomID+":members").Result()
}

// RefreshTTL extends a connection's presence entry.
func (s *Store) RefreshTTL(ctx context.Context, connectionID string) error {
	return s.client.Expire(ctx, ConnPrefix+connectionID, ConnTTL).Err()
}

// Delete removes a connection's presence entry, including its room
// membership if any.
func (s *Store) Delete(ctx context.Context, connectionID string) error {
	entry, err := s.Get(ctx, connectionID)
	if err == nil && entry != nil && entry.RoomID != "" {
		s.client.SRem(ctx, RoomPrefix+entry.RoomID+":members", connectionID)
	}
	return s.client.Del(ctx, ConnPrefix+connectionID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
