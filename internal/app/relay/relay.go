/*
Package relay republishes room broadcast events on Redis pub/sub so sharded
instances or sidecar consumers can observe them. Events for room <id> go out
on channel "room:<id>" in the same envelope format the websocket transport
uses.
*/
package relay

import (
	"context"
	"encoding/json"
	"time"

	"textroom/internal/app/collab"
	"textroom/internal/app/protocol"
	"textroom/internal/pkg/logx"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// publishTimeout bounds each Redis publish. The relay runs on a subscriber
// goroutine, so a slow broker delays only the relay's own queue.
const publishTimeout = 5 * time.Second

// Relay forwards room events to Redis.
type Relay struct {
	client *redis.Client
	logger zerolog.Logger
}

// New connects the relay to an initialized Redis client.
func New(client *redis.Client) *Relay {
	return &Relay{
		client: client,
		logger: logx.Logger().With().Str("component", "RedisRelay").Logger(),
	}
}

// Channel returns the pub/sub channel name for a room.
func Channel(roomID string) string {
	return "room:" + roomID
}

// Tap returns the event handler to register with the Coordinator
// (via SetEventTap or Subscribe).
func (r *Relay) Tap() collab.Handler {
	return func(ev collab.Event) {
		env, err := protocol.FromEvent(ev)
		if err != nil {
			logx.Error(err, "Failed to convert event for relay", "room_id", ev.RoomID)
			return
		}

		payload, err := json.Marshal(env)
		if err != nil {
			logx.Error(err, "Failed to marshal relay envelope", "room_id", ev.RoomID)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := r.client.Publish(ctx, Channel(ev.RoomID), payload).Err(); err != nil {
			logx.Error(err, "Failed to publish event to Redis", "room_id", ev.RoomID)
		}
	}
}

// Listen subscribes to a room's relay channel and returns the decoded
// envelope stream. Intended for sidecar consumers; the returned stop function
// closes the subscription and the channel.
func (r *Relay) Listen(ctx context.Context, roomID string) (<-chan protocol.Envelope, func()) {
	pubsub := r.client.Subscribe(ctx, Channel(roomID))
	out := make(chan protocol.Envelope)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var env protocol.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn().
					Err(err).
					Str("room_id", roomID).
					Msg("Dropping undecodable relay message.")
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
