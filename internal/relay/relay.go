// Package relay implements the room-scoped event relay: join/leave with
// presence notification and best-effort fan-out of typed events to the other
// participants of a room. The relay is transport-agnostic; it talks to
// connections only through the room.Sender interface and is driven through
// the Handler interface, one method per event tag.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/messaging"
	"github.com/mira/avatar-relay/internal/metrics"
	"github.com/mira/avatar-relay/internal/presence"
	"github.com/mira/avatar-relay/internal/protocol"
	"github.com/mira/avatar-relay/internal/ratelimit"
	"github.com/mira/avatar-relay/internal/room"
)

// Handler is the message-handler interface the transport dispatches into,
// one method per client event tag. Implementations must tolerate concurrent
// calls for different connections.
type Handler interface {
	HandleJoin(ctx context.Context, connID string, msg protocol.JoinSessionMsg)
	HandleLeave(ctx context.Context, connID string, msg protocol.LeaveSessionMsg)
	HandleSessionMessage(ctx context.Context, connID string, msg protocol.SessionMessageMsg)
	HandleBiometricUpdate(ctx context.Context, connID string, msg protocol.BiometricUpdateMsg)
	HandlePoseUpdate(ctx context.Context, connID string, msg protocol.PoseUpdateMsg)
	HandleReaction(ctx context.Context, connID string, msg protocol.SendReactionMsg)
	HandleDisconnect(connID string)
}

// Relay routes room events between participants. It owns its room registry;
// multiple isolated relays can run side by side under test. Presence, NATS
// and the rate limiter are optional: a nil value disables that concern.
type Relay struct {
	name     string // instance name, used as NATS origin tag
	registry *room.Registry
	sender   room.Sender
	presence *presence.Store
	nats     *messaging.NATSClient
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
}

// Options carries the optional collaborators for a Relay.
type Options struct {
	Presence *presence.Store
	NATS     *messaging.NATSClient
	Limiter  *ratelimit.Limiter
}

// New creates a Relay delivering through sender. name identifies this
// instance in cross-instance fan-out.
func New(name string, sender room.Sender, opts Options, logger zerolog.Logger) *Relay {
	return &Relay{
		name:     name,
		registry: room.NewRegistry(sender),
		sender:   sender,
		presence: opts.Presence,
		nats:     opts.NATS,
		limiter:  opts.Limiter,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Registry exposes the relay's room registry (for metrics and shutdown).
func (r *Relay) Registry() *room.Registry {
	return r.registry
}

// HandleJoin adds the participant to the room, notifies existing members,
// and sends the joiner a membership snapshot.
func (r *Relay) HandleJoin(ctx context.Context, connID string, msg protocol.JoinSessionMsg) {
	p := room.Participant{
		ConnectionID: connID,
		UserID:       msg.UserID,
		DisplayName:  msg.DisplayName,
	}

	existing, leftRoom := r.registry.Join(msg.RoomID, p)
	if leftRoom != "" {
		// Joining a new room implicitly leaves the old one.
		r.notifyLeft(leftRoom, connID)
	}

	// Notify existing members.
	joined, err := protocol.NewServerEvent(protocol.TypeParticipantJoined, protocol.ParticipantJoinedMsg{
		RoomID:      msg.RoomID,
		Participant: participantInfo(p),
	})
	if err == nil {
		r.broadcast(msg.RoomID, connID, joined)
	}

	// Send the joiner a snapshot of who was already there.
	snapshot := make([]protocol.ParticipantInfo, 0, len(existing))
	for _, m := range existing {
		snapshot = append(snapshot, participantInfo(m))
	}
	state, err := protocol.NewServerEvent(protocol.TypeSessionState, protocol.SessionStateMsg{
		RoomID:       msg.RoomID,
		Participants: snapshot,
	})
	if err == nil {
		_ = r.sender.Send(connID, state)
	}

	if r.presence != nil {
		if err := r.presence.SetRoom(ctx, connID, msg.RoomID, msg.UserID, msg.DisplayName); err != nil {
			r.logger.Warn().Err(err).Str("connection_id", connID).Msg("presence update failed")
		}
	}
	if r.nats != nil {
		if err := r.nats.SubscribeToRoom(msg.RoomID, r.onRemoteEvent); err != nil {
			r.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("room subscribe failed")
		}
	}

	metrics.RoomsActive.Set(float64(r.registry.RoomCount()))
	r.logger.Info().
		Str("connection_id", connID).
		Str("room_id", msg.RoomID).
		Str("user_id", msg.UserID).
		Msg("participant joined")
}

// HandleLeave removes the participant from the room and notifies the rest.
func (r *Relay) HandleLeave(ctx context.Context, connID string, msg protocol.LeaveSessionMsg) {
	if _, ok := r.registry.Leave(msg.RoomID, connID); !ok {
		return
	}
	r.notifyLeft(msg.RoomID, connID)

	if r.presence != nil {
		if err := r.presence.ClearRoom(ctx, connID, msg.RoomID); err != nil {
			r.logger.Warn().Err(err).Str("connection_id", connID).Msg("presence clear failed")
		}
	}
	r.maybeUnsubscribe(msg.RoomID)

	metrics.RoomsActive.Set(float64(r.registry.RoomCount()))
	r.logger.Info().
		Str("connection_id", connID).
		Str("room_id", msg.RoomID).
		Msg("participant left")
}

// HandleSessionMessage fans out a chat message to the other participants.
func (r *Relay) HandleSessionMessage(ctx context.Context, connID string, msg protocol.SessionMessageMsg) {
	r.relayEvent(ctx, connID, protocol.TypeSessionMessage, msg.RoomID, msg.Payload)
}

// HandleBiometricUpdate fans out a biometric sample to the other participants.
func (r *Relay) HandleBiometricUpdate(ctx context.Context, connID string, msg protocol.BiometricUpdateMsg) {
	r.relayEvent(ctx, connID, protocol.TypeBiometricUpdate, msg.RoomID, msg.Payload)
}

// HandlePoseUpdate fans out a pose sample to the other participants.
func (r *Relay) HandlePoseUpdate(ctx context.Context, connID string, msg protocol.PoseUpdateMsg) {
	r.relayEvent(ctx, connID, protocol.TypePoseUpdate, msg.RoomID, msg.Payload)
}

// HandleReaction fans out a reaction to the other participants. The relayed
// server event uses the "reaction" tag.
func (r *Relay) HandleReaction(ctx context.Context, connID string, msg protocol.SendReactionMsg) {
	r.relayEvent(ctx, connID, protocol.TypeReaction, msg.RoomID, msg.Payload)
}

// HandleDisconnect performs an implicit leave for a dropped connection.
func (r *Relay) HandleDisconnect(connID string) {
	roomID := r.registry.RoomOf(connID)
	if roomID != "" {
		if _, ok := r.registry.Leave(roomID, connID); ok {
			r.notifyLeft(roomID, connID)
			r.maybeUnsubscribe(roomID)
		}
	}

	if r.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.presence.Delete(ctx, connID); err != nil {
			r.logger.Warn().Err(err).Str("connection_id", connID).Msg("presence delete failed")
		}
	}

	metrics.RoomsActive.Set(float64(r.registry.RoomCount()))
	r.logger.Info().Str("connection_id", connID).Str("room_id", roomID).Msg("disconnect cleanup")
}

// relayEvent validates membership, applies rate limiting, and fans the event
// out to every other participant of the room, locally and across instances.
func (r *Relay) relayEvent(ctx context.Context, connID, eventType, roomID string, payload json.RawMessage) {
	if r.registry.RoomOf(connID) != roomID {
		r.sendError(connID, "not_in_room", "not a participant of this room")
		return
	}

	if r.limiter != nil {
		allowed, _ := r.limiter.Allow(ctx, connID, ratelimit.RuleEvent)
		if !allowed {
			r.sendError(connID, "rate_limited", "too many events")
			return
		}
	}

	data, err := protocol.NewServerEvent(eventType, protocol.RelayedEventMsg{
		RoomID:  roomID,
		From:    connID,
		Payload: payload,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event", eventType).Msg("encode relayed event failed")
		return
	}

	start := time.Now()
	delivered := r.broadcast(roomID, connID, data)
	metrics.RelayLatency.Observe(time.Since(start).Seconds())
	metrics.EventsRelayed.WithLabelValues(eventType).Inc()

	r.logger.Debug().
		Str("event", eventType).
		Str("room_id", roomID).
		Str("from", connID).
		Int("delivered", delivered).
		Msg("event relayed")
}

// broadcast delivers data to the other local members of a room and, when
// NATS is configured, publishes it for remote instances.
func (r *Relay) broadcast(roomID, senderConnID string, data []byte) int {
	delivered := r.registry.Broadcast(roomID, senderConnID, data)

	if r.nats != nil {
		ev, err := json.Marshal(messaging.RoomEvent{
			Origin:             r.name,
			RoomID:             roomID,
			SenderConnectionID: senderConnID,
			Data:               data,
		})
		if err == nil {
			if err := r.nats.PublishRoomEvent(roomID, ev); err != nil {
				r.logger.Warn().Err(err).Str("room_id", roomID).Msg("cross-instance publish failed")
			}
		}
	}
	return delivered
}

// onRemoteEvent delivers an event published by another relay instance to the
// local members of the room. Events this instance published are skipped: its
// local members were already served by the direct broadcast.
func (r *Relay) onRemoteEvent(data []byte) {
	var ev messaging.RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Warn().Err(err).Msg("bad cross-instance event")
		return
	}
	if ev.Origin == r.name {
		return
	}
	r.registry.Broadcast(ev.RoomID, ev.SenderConnectionID, ev.Data)
}

// notifyLeft broadcasts a participant-left event to the remaining members.
func (r *Relay) notifyLeft(roomID, connID string) {
	data, err := protocol.NewServerEvent(protocol.TypeParticipantLeft, protocol.ParticipantLeftMsg{
		RoomID:       roomID,
		ConnectionID: connID,
	})
	if err != nil {
		return
	}
	r.broadcast(roomID, connID, data)
}

// maybeUnsubscribe drops the NATS room subscription once no local
// participant remains in the room.
func (r *Relay) maybeUnsubscribe(roomID string) {
	if r.nats == nil {
		return
	}
	if len(r.registry.Members(roomID)) == 0 {
		_ = r.nats.UnsubscribeFromRoom(roomID)
	}
}

func (r *Relay) sendError(connID, code, message string) {
	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	_ = r.sender.Send(connID, data)
}

func participantInfo(p room.Participant) protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
	}
}
