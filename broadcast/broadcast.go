// Package broadcast is the room fan-out plane. Connections subscribe
// their outbound wires to rooms; publishing to a room delivers the
// message to every current subscriber, the triggering party included,
// since it is itself subscribed.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/edverse/presence/model"
	"github.com/rs/zerolog"
)

const defaultSendTimeout = time.Second

type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	rooms  map[string]map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "broadcast").Logger(),
		mx:     &sync.RWMutex{},
		rooms:  make(map[string]map[string]model.Wire),
	}
}

// Subscribe attaches a connection's wire to a room's broadcast group.
// Keyed by connection id, not user id, so two connections claiming the
// same identity cannot clobber each other's wires.
func (sw *Switch) Subscribe(roomID, connID string, wire model.Wire) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("connID", connID).
			Msg("subscribed")
	}()

	subs, ok := sw.rooms[roomID]
	if !ok {
		subs = make(map[string]model.Wire)
		sw.rooms[roomID] = subs
	}
	subs[connID] = wire
}

func (sw *Switch) Unsubscribe(roomID, connID string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("connID", connID).
			Msg("unsubscribed")
	}()

	subs, ok := sw.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(sw.rooms, roomID)
	}
}

// UnsubscribeAll detaches a connection from every broadcast group it is
// in. Used on disconnect, when the rooms it joined are no longer known.
func (sw *Switch) UnsubscribeAll(connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	for roomID, subs := range sw.rooms {
		if _, ok := subs[connID]; ok {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(sw.rooms, roomID)
			}
		}
	}
}

// Publish fans the message out to every subscriber of the room. Each
// delivery is bounded by the send timeout; a dead endpoint is skipped,
// never allowed to stall the room.
func (sw *Switch) Publish(ctx context.Context, roomID string, msg model.Message) {
	sw.mx.RLock()
	subs := sw.rooms[roomID]
	wires := make([]model.Wire, 0, len(subs))
	for _, wire := range subs {
		wires = append(wires, wire)
	}
	sw.mx.RUnlock()

	if len(wires) == 0 {
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("action", msg.Action).
			Msg("broadcast did not reach anyone")
		return
	}

	logger := sw.logger.With().
		Str("roomID", roomID).
		Str("action", msg.Action).
		Str("src", msg.UserID).Logger()

	for _, wire := range wires {
		if canceled := send(ctx, msg, wire.TX, &logger); canceled {
			break
		}
	}
}

// SendDirect delivers a message to a single connection, bypassing room
// membership. Used for targeted error replies.
func (sw *Switch) SendDirect(ctx context.Context, wire model.Wire, msg model.Message) {
	logger := sw.logger.With().
		Str("action", msg.Action).
		Str("dst", msg.UserID).Logger()
	send(ctx, msg, wire.TX, &logger)
}

func send(ctx context.Context, msg model.Message, tx chan<- model.Message, logger *zerolog.Logger) bool {
	// Bail out before offering the message: once the context is gone
	// no further subscriber may receive it.
	select {
	case <-ctx.Done():
		return true
	default:
	}

	var canceled bool
	tCh := time.NewTimer(defaultSendTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead endpoint")
	case tx <- msg:
		logger.Trace().Msg("message forwarded")
	}
	tCh.Stop()
	return canceled
}
