// Package service holds the per-connection message handling: shape
// validation, access gating, registry mutation and broadcast dispatch.
// Malformed or stale input degrades to a logged no-op; nothing on this
// path is fatal to the connection.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edverse/presence/access"
	"github.com/edverse/presence/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type (
	Registry interface {
		CreateRoom(roomID string)
		JoinRoom(roomID string, p *model.Participant) ([]model.Participant, bool)
		LeaveRoom(roomID, userID string) []model.Participant
		UpdatePosition(roomID, userID string, pos model.Position)
		GetParticipant(roomID, userID string) (model.Participant, bool)
		RemoveParticipantEverywhere(userID string)
	}

	Broadcaster interface {
		Subscribe(roomID, connID string, wire model.Wire)
		Unsubscribe(roomID, connID string)
		UnsubscribeAll(connID string)
		Publish(ctx context.Context, roomID string, msg model.Message)
		SendDirect(ctx context.Context, wire model.Wire, msg model.Message)
	}

	Service struct {
		registry Registry
		gate     access.Gate
		bcast    Broadcaster
		attrs    model.AttributeSource
		logger   zerolog.Logger

		cleanupOnDisconnect bool
	}

	Config struct {
		Registry    Registry
		Gate        access.Gate
		Broadcaster Broadcaster
		Attrs       model.AttributeSource
		Logger      *zerolog.Logger

		// CleanupOnDisconnect routes abnormal disconnects through
		// RemoveParticipantEverywhere. Off by default: explicit leave
		// messages are then the only membership cleanup, and a dropped
		// connection leaves a ghost in broadcast rosters.
		CleanupOnDisconnect bool
	}
)

func NewService(cfg Config) *Service {
	attrs := cfg.Attrs
	if attrs == nil {
		attrs = model.NewRandomAttrs()
	}
	return &Service{
		registry:            cfg.Registry,
		gate:                cfg.Gate,
		bcast:               cfg.Broadcaster,
		attrs:               attrs,
		logger:              cfg.Logger.With().Str("component", "session-handler").Logger(),
		cleanupOnDisconnect: cfg.CleanupOnDisconnect,
	}
}

// Session is one connection's handler state. Its fields are only
// touched by HandleMessage and CloseSession, which the transport calls
// one at a time per connection.
type Session struct {
	ConnID string
	Wire   model.Wire

	userID string
	roomID string
}

func (svc *Service) NewSession(wire model.Wire) *Session {
	return &Session{
		ConnID: uuid.NewString(),
		Wire:   wire,
	}
}

// CreateRoom pre-provisions a room, typically one per course. The
// out-of-band administrative entry point; idempotent.
func (svc *Service) CreateRoom(roomID string) {
	svc.registry.CreateRoom(roomID)
	svc.logger.Debug().
		Str("roomID", roomID).
		Msg("room created")
}

// HandleMessage runs one inbound frame through the state machine:
// shape check, access gate, then per-action dispatch. Every action is
// re-authorized so revocation and session expiry take effect on the
// next message without any kick mechanism.
func (svc *Service) HandleMessage(ctx context.Context, sess *Session, raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		svc.logger.Error().Err(err).
			Str("connID", sess.ConnID).
			Msg("failed to unmarshal incoming message")
		return
	}

	d := env.Data
	if d == nil || d.UserID == "" || d.RoomID == "" {
		svc.logger.Error().
			Str("connID", sess.ConnID).
			Str("action", env.Action).
			Msg("invalid message data")
		return
	}

	logger := svc.logger.With().
		Str("connID", sess.ConnID).
		Str("userID", d.UserID).
		Str("roomID", d.RoomID).Logger()

	if !svc.gate.Authorize(ctx, d.UserID, d.RoomID) {
		logger.Debug().Str("action", env.Action).Msg("access denied")
		svc.bcast.SendDirect(ctx, sess.Wire, model.Message{
			Action:  model.ActionError,
			Message: "Access denied",
			UserID:  d.UserID,
			RoomID:  d.RoomID,
		})
		return
	}

	switch env.Action {
	case model.ActionJoin:
		svc.handleJoin(ctx, sess, d, &logger)
	case model.ActionMove:
		svc.handleMove(ctx, d, &logger)
	case model.ActionChat:
		svc.handleChat(ctx, d, &logger)
	case model.ActionLeave:
		svc.handleLeave(ctx, sess, d, &logger)
	default:
		// Unknown actions are ignored on purpose.
		logger.Warn().Str("action", env.Action).Msg("unknown action")
	}
}

func (svc *Service) handleJoin(ctx context.Context, sess *Session, d *model.Payload, logger *zerolog.Logger) {
	p := &model.Participant{
		UserID: d.UserID,
		RoomID: d.RoomID,
	}
	if d.Position != nil {
		p.Position = *d.Position
	} else {
		p.Position = svc.attrs.Position()
	}
	if d.Color != "" {
		p.Color = d.Color
	} else {
		p.Color = svc.attrs.Color()
	}

	// The registry owns p once joined; broadcast value copies taken
	// before the hand-off so sender pumps never read racing state.
	pos, color := p.Position, p.Color

	users, ok := svc.registry.JoinRoom(d.RoomID, p)
	if !ok {
		// Join never creates rooms; against a missing room it is a
		// silent no-op for the client.
		logger.Debug().Msg("join against nonexistent room")
		return
	}

	// Subscribe before publishing so the joiner sees its own join.
	svc.bcast.Subscribe(d.RoomID, sess.ConnID, sess.Wire)
	sess.userID = d.UserID
	sess.roomID = d.RoomID

	logger.Debug().Msg("participant joined")
	svc.bcast.Publish(ctx, d.RoomID, model.Message{
		Action:   model.ActionJoin,
		UserID:   d.UserID,
		RoomID:   d.RoomID,
		Color:    color,
		Position: &pos,
		Message:  fmt.Sprintf("User %s joined", d.UserID),
		Users:    users,
	})
}

func (svc *Service) handleMove(ctx context.Context, d *model.Payload, logger *zerolog.Logger) {
	if d.Position == nil {
		logger.Debug().Msg("move without position")
		return
	}
	svc.registry.UpdatePosition(d.RoomID, d.UserID, *d.Position)

	var color string
	if p, ok := svc.registry.GetParticipant(d.RoomID, d.UserID); ok {
		color = p.Color
	}
	svc.bcast.Publish(ctx, d.RoomID, model.Message{
		Action:   model.ActionMove,
		UserID:   d.UserID,
		RoomID:   d.RoomID,
		Position: d.Position,
		Color:    color,
	})
}

func (svc *Service) handleChat(ctx context.Context, d *model.Payload, logger *zerolog.Logger) {
	if d.Message == "" {
		logger.Debug().Msg("chat without message")
		return
	}

	var color string
	if p, ok := svc.registry.GetParticipant(d.RoomID, d.UserID); ok {
		color = p.Color
	}
	svc.bcast.Publish(ctx, d.RoomID, model.Message{
		Action:  model.ActionChat,
		UserID:  d.UserID,
		RoomID:  d.RoomID,
		Message: d.Message,
		Color:   color,
	})
}

func (svc *Service) handleLeave(ctx context.Context, sess *Session, d *model.Payload, logger *zerolog.Logger) {
	users := svc.registry.LeaveRoom(d.RoomID, d.UserID)

	// Unsubscribe first: the leaver does not receive its own leave.
	svc.bcast.Unsubscribe(d.RoomID, sess.ConnID)
	if sess.roomID == d.RoomID {
		sess.roomID = ""
	}

	logger.Debug().Msg("participant left")
	svc.bcast.Publish(ctx, d.RoomID, model.Message{
		Action:  model.ActionLeave,
		UserID:  d.UserID,
		RoomID:  d.RoomID,
		Message: fmt.Sprintf("User %s left", d.UserID),
		Users:   users,
	})
}

// CloseSession tears down a connection's broadcast subscriptions. With
// CleanupOnDisconnect set it also drops the participant from every
// room, so ungraceful disconnects do not leak ghosts into rosters.
func (svc *Service) CloseSession(sess *Session) {
	svc.bcast.UnsubscribeAll(sess.ConnID)
	if svc.cleanupOnDisconnect && sess.userID != "" {
		svc.registry.RemoveParticipantEverywhere(sess.userID)
	}
	svc.logger.Debug().
		Str("connID", sess.ConnID).
		Str("userID", sess.userID).
		Msg("session closed")
}
