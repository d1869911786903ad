package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/edverse/presence/model"
	store "github.com/edverse/presence/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFunc func(userID, roomID string) bool

func (f gateFunc) Authorize(_ context.Context, userID, roomID string) bool {
	return f(userID, roomID)
}

func allowAll(string, string) bool { return true }

// recordingBroadcaster captures the broadcast plane interactions so
// tests can assert what was published where.
type recordingBroadcaster struct {
	mu        sync.Mutex
	published []model.Message
	direct    []model.Message
	subs      map[string]map[string]struct{} // roomID -> connID
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{subs: make(map[string]map[string]struct{})}
}

func (rb *recordingBroadcaster) Subscribe(roomID, connID string, _ model.Wire) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.subs[roomID] == nil {
		rb.subs[roomID] = make(map[string]struct{})
	}
	rb.subs[roomID][connID] = struct{}{}
}

func (rb *recordingBroadcaster) Unsubscribe(roomID, connID string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	delete(rb.subs[roomID], connID)
}

func (rb *recordingBroadcaster) UnsubscribeAll(connID string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, conns := range rb.subs {
		delete(conns, connID)
	}
}

func (rb *recordingBroadcaster) Publish(_ context.Context, _ string, msg model.Message) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.published = append(rb.published, msg)
}

func (rb *recordingBroadcaster) SendDirect(_ context.Context, _ model.Wire, msg model.Message) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.direct = append(rb.direct, msg)
}

func (rb *recordingBroadcaster) subscribed(roomID, connID string) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	_, ok := rb.subs[roomID][connID]
	return ok
}

type fixedAttrs struct{}

func (fixedAttrs) Position() model.Position { return model.Position{X: 42, Y: 24} }
func (fixedAttrs) Color() string            { return "#c0ffee" }

func newTestService(gate gateFunc, bcast Broadcaster) (*Service, *store.MemStore) {
	logger := zerolog.Nop()
	registry := store.NewMemStore()
	svc := NewService(Config{
		Registry:    registry,
		Gate:        gate,
		Broadcaster: bcast,
		Attrs:       fixedAttrs{},
		Logger:      &logger,
	})
	return svc, registry
}

func frame(action, userID, roomID, extra string) []byte {
	data := fmt.Sprintf(`{"userId":%q,"roomId":%q`, userID, roomID)
	if extra != "" {
		data += "," + extra
	}
	data += "}"
	return []byte(fmt.Sprintf(`{"action":%q,"data":%s}`, action, data))
}

func TestMalformedFramesAreDropped(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, _ := newTestService(allowAll, bcast)
	sess := svc.NewSession(model.NewWire())

	frames := [][]byte{
		[]byte("not json"),
		[]byte(`{"action":"join"}`),
		frame("join", "", "7", ""),
		frame("join", "userA", "", ""),
	}
	for _, raw := range frames {
		svc.HandleMessage(context.Background(), sess, raw)
	}

	assert.Empty(t, bcast.published)
	assert.Empty(t, bcast.direct)
}

func TestDeniedChatSendsSingleErrorReply(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(func(string, string) bool { return false }, bcast)
	registry.CreateRoom("7")
	sess := svc.NewSession(model.NewWire())

	svc.HandleMessage(context.Background(), sess, frame("chat", "userA", "7", `"message":"hi"`))

	assert.Empty(t, bcast.published, "denied actions must not broadcast")
	require.Len(t, bcast.direct, 1)
	assert.Equal(t, model.Message{
		Action:  model.ActionError,
		Message: "Access denied",
		UserID:  "userA",
		RoomID:  "7",
	}, bcast.direct[0])
}

func TestDeniedMoveDoesNotMutatePosition(t *testing.T) {
	bcast := newRecordingBroadcaster()
	denied := false
	svc, registry := newTestService(func(string, string) bool { return !denied }, bcast)
	registry.CreateRoom("7")
	sess := svc.NewSession(model.NewWire())

	svc.HandleMessage(context.Background(), sess, frame("join", "userA", "7", ""))

	denied = true
	svc.HandleMessage(context.Background(), sess, frame("move", "userA", "7", `"position":{"x":10,"y":20}`))

	p, ok := registry.GetParticipant("7", "userA")
	require.True(t, ok)
	assert.Equal(t, model.Position{X: 42, Y: 24}, p.Position)
}

func TestJoinNonexistentRoomIsSilent(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	sess := svc.NewSession(model.NewWire())

	svc.HandleMessage(context.Background(), sess, frame("join", "userA", "7", ""))

	assert.Empty(t, bcast.published)
	assert.Empty(t, bcast.direct)
	assert.False(t, registry.RoomExists("7"))
	assert.False(t, bcast.subscribed("7", sess.ConnID))
}

func TestUnknownActionIsIgnored(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	registry.CreateRoom("7")
	sess := svc.NewSession(model.NewWire())

	svc.HandleMessage(context.Background(), sess, frame("teleport", "userA", "7", ""))

	assert.Empty(t, bcast.published)
	assert.Empty(t, bcast.direct)
}

func TestMoveWithoutPositionIsDropped(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	registry.CreateRoom("7")
	sess := svc.NewSession(model.NewWire())

	svc.HandleMessage(context.Background(), sess, frame("move", "userA", "7", ""))
	svc.HandleMessage(context.Background(), sess, frame("chat", "userA", "7", ""))

	assert.Empty(t, bcast.published)
	assert.Empty(t, bcast.direct)
}

func TestJoinBroadcastDoesNotAliasRegistryState(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	registry.CreateRoom("7")
	sess := svc.NewSession(model.NewWire())
	ctx := context.Background()

	svc.HandleMessage(ctx, sess, frame("join", "userA", "7", ""))
	require.Len(t, bcast.published, 1)
	join := bcast.published[0]
	require.NotNil(t, join.Position)

	// A published message may still sit in wire buffers while later
	// frames mutate the registry; it must carry its own copy.
	svc.HandleMessage(ctx, sess, frame("move", "userA", "7", `"position":{"x":10,"y":20}`))

	p, ok := registry.GetParticipant("7", "userA")
	require.True(t, ok)
	assert.Equal(t, model.Position{X: 10, Y: 20}, p.Position)
	assert.Equal(t, model.Position{X: 42, Y: 24}, *join.Position,
		"join broadcast must not see positions written after it was published")
}

func TestJoinUsesSuppliedAttributes(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	registry.CreateRoom("7")
	sess := svc.NewSession(model.NewWire())

	svc.HandleMessage(context.Background(), sess,
		frame("join", "userA", "7", `"position":{"x":5,"y":6},"color":"#112233"`))

	p, ok := registry.GetParticipant("7", "userA")
	require.True(t, ok)
	assert.Equal(t, model.Position{X: 5, Y: 6}, p.Position)
	assert.Equal(t, "#112233", p.Color)
}

func TestPresenceFlow(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	svc.CreateRoom("7")

	sessA := svc.NewSession(model.NewWire())
	sessB := svc.NewSession(model.NewWire())
	ctx := context.Background()

	svc.HandleMessage(ctx, sessA, frame("join", "userA", "7", ""))
	require.Len(t, bcast.published, 1)
	join := bcast.published[0]
	assert.Equal(t, model.ActionJoin, join.Action)
	assert.Equal(t, "userA", join.UserID)
	assert.Equal(t, "#c0ffee", join.Color)
	require.NotNil(t, join.Position)
	assert.Equal(t, model.Position{X: 42, Y: 24}, *join.Position)
	assert.Equal(t, "User userA joined", join.Message)
	require.Len(t, join.Users, 1)
	assert.True(t, bcast.subscribed("7", sessA.ConnID))

	svc.HandleMessage(ctx, sessB, frame("join", "userB", "7", ""))
	require.Len(t, bcast.published, 2)
	assert.Len(t, bcast.published[1].Users, 2)

	svc.HandleMessage(ctx, sessA, frame("move", "userA", "7", `"position":{"x":10,"y":20}`))
	require.Len(t, bcast.published, 3)
	move := bcast.published[2]
	assert.Equal(t, model.ActionMove, move.Action)
	require.NotNil(t, move.Position)
	assert.Equal(t, model.Position{X: 10, Y: 20}, *move.Position)
	assert.Equal(t, "#c0ffee", move.Color)
	p, ok := registry.GetParticipant("7", "userA")
	require.True(t, ok)
	assert.Equal(t, model.Position{X: 10, Y: 20}, p.Position)

	svc.HandleMessage(ctx, sessA, frame("chat", "userA", "7", `"message":"hello"`))
	require.Len(t, bcast.published, 4)
	chat := bcast.published[3]
	assert.Equal(t, model.ActionChat, chat.Action)
	assert.Equal(t, "hello", chat.Message)

	svc.HandleMessage(ctx, sessA, frame("leave", "userA", "7", ""))
	require.Len(t, bcast.published, 5)
	leave := bcast.published[4]
	assert.Equal(t, model.ActionLeave, leave.Action)
	assert.Equal(t, "User userA left", leave.Message)
	require.Len(t, leave.Users, 1)
	assert.Equal(t, "userB", leave.Users[0].UserID)
	assert.False(t, bcast.subscribed("7", sessA.ConnID))

	svc.HandleMessage(ctx, sessB, frame("leave", "userB", "7", ""))
	require.Len(t, bcast.published, 6)
	assert.Empty(t, bcast.published[5].Users)
	assert.False(t, registry.RoomExists("7"))
}

func TestCloseSessionWithCleanup(t *testing.T) {
	logger := zerolog.Nop()
	bcast := newRecordingBroadcaster()
	registry := store.NewMemStore()
	svc := NewService(Config{
		Registry:            registry,
		Gate:                gateFunc(allowAll),
		Broadcaster:         bcast,
		Attrs:               fixedAttrs{},
		Logger:              &logger,
		CleanupOnDisconnect: true,
	})
	registry.CreateRoom("7")

	sess := svc.NewSession(model.NewWire())
	svc.HandleMessage(context.Background(), sess, frame("join", "userA", "7", ""))
	require.True(t, registry.RoomExists("7"))

	svc.CloseSession(sess)

	assert.False(t, bcast.subscribed("7", sess.ConnID))
	assert.False(t, registry.RoomExists("7"), "cleanup removes the ghost and the emptied room")
}

func TestCloseSessionWithoutCleanupLeavesGhost(t *testing.T) {
	bcast := newRecordingBroadcaster()
	svc, registry := newTestService(allowAll, bcast)
	registry.CreateRoom("7")

	sess := svc.NewSession(model.NewWire())
	svc.HandleMessage(context.Background(), sess, frame("join", "userA", "7", ""))

	svc.CloseSession(sess)

	// Reference behavior: membership only changes on explicit leave.
	_, ok := registry.GetParticipant("7", "userA")
	assert.True(t, ok)
}
