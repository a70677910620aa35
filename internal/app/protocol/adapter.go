package protocol

import (
	"textroom/internal/app/collab"
	"textroom/internal/app/ot"
	"textroom/internal/app/user"
	"textroom/internal/pkg/errs"
	"textroom/internal/pkg/logx"

	"github.com/rs/zerolog"
)

// Adapter is the stateless translator between envelopes and the Coordinator.
// It holds no per-connection state: room membership, not connection identity,
// decides whether a user belongs to a room.
type Adapter struct {
	coordinator *collab.Coordinator
	logger      zerolog.Logger
}

// NewAdapter wires an Adapter to the given Coordinator.
func NewAdapter(c *collab.Coordinator) *Adapter {
	return &Adapter{
		coordinator: c,
		logger:      logx.Logger().With().Str("component", "ProtocolAdapter").Logger(),
	}
}

// HandleMessage dispatches one inbound envelope to the Coordinator and
// returns the envelopes to send back to the sender. Broadcast traffic to the
// rest of the room flows through the Coordinator's subscriptions, not through
// the return value. Unknown or malformed envelopes are logged and dropped.
func (a *Adapter) HandleMessage(env Envelope) []Envelope {
	switch env.Type {
	case TypeJoin:
		return a.handleJoin(env)
	case TypeLeave:
		return a.handleLeave(env)
	case TypeOperation:
		return a.handleOperation(env)
	case TypePresence:
		return a.handlePresence(env)
	default:
		a.logger.Warn().
			Str("type", env.Type).
			Str("room_id", env.RoomID).
			Str("user_id", env.UserID).
			Msg("Dropping envelope with unknown type.")
		return nil
	}
}

func (a *Adapter) handleJoin(env Envelope) []Envelope {
	var u user.User
	if err := decodeStrict(env.Data, &u); err != nil {
		return a.malformed(env, err)
	}

	if u.ID == "" {
		u.ID = env.UserID
	}
	if u.ID == "" {
		return a.errorReply(env, errs.NewError(errs.ErrInvalidParams))
	}

	if cerr := a.coordinator.JoinRoom(env.RoomID, u); cerr != nil {
		return a.errorReply(env, cerr)
	}

	return nil
}

func (a *Adapter) handleLeave(env Envelope) []Envelope {
	if cerr := a.coordinator.LeaveRoom(env.RoomID, env.UserID); cerr != nil {
		return a.errorReply(env, cerr)
	}
	return nil
}

func (a *Adapter) handleOperation(env Envelope) []Envelope {
	var op ot.Operation
	if err := decodeStrict(env.Data, &op); err != nil {
		return a.malformed(env, err)
	}

	// The sender's identity comes from the envelope, never the payload.
	op.AuthorID = env.UserID
	op.Sequence = 0

	accepted, cerr := a.coordinator.ApplyOperation(env.RoomID, op)
	if cerr != nil {
		return a.errorReply(env, cerr)
	}

	// The author is excluded from the room broadcast, so the transformed
	// operation with its assigned sequence goes back as an ack.
	ack, err := BuildMessage(TypeAck, env.RoomID, env.UserID, accepted)
	if err != nil {
		logx.Error(err, "Failed to build operation ack", "room_id", env.RoomID)
		return nil
	}

	return []Envelope{ack}
}

func (a *Adapter) handlePresence(env Envelope) []Envelope {
	var p collab.Presence
	if err := decodeStrict(env.Data, &p); err != nil {
		return a.malformed(env, err)
	}

	p.UserID = env.UserID
	a.coordinator.UpdatePresence(env.RoomID, p)

	return nil
}

// malformed logs a payload that failed strict decoding and answers with an
// invalid-JSON error envelope.
func (a *Adapter) malformed(env Envelope, err error) []Envelope {
	a.logger.Warn().
		Err(err).
		Str("type", env.Type).
		Str("room_id", env.RoomID).
		Str("user_id", env.UserID).
		Msg("Dropping envelope with malformed payload.")

	return a.errorReply(env, errs.NewError(errs.ErrInvalidJSONFormat))
}

func (a *Adapter) errorReply(env Envelope, cerr *errs.CustomError) []Envelope {
	reply, err := BuildMessage(TypeError, env.RoomID, env.UserID, errorPayload{
		Code:    cerr.Code,
		Message: cerr.Message,
	})
	if err != nil {
		logx.Error(err, "Failed to build error envelope", "room_id", env.RoomID)
		return nil
	}

	return []Envelope{reply}
}
