package memory

import (
	"sync"

	"github.com/edverse/presence/model"
)

// MemStore is the process-wide room registry: room id -> user id ->
// participant. It is the only shared mutable state in the service, so
// every operation runs behind a single mutex; room counts and message
// rates in this domain are modest enough that finer-grained locking
// buys nothing.
type MemStore struct {
	mx    *sync.Mutex
	rooms map[string]map[string]*model.Participant
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:    &sync.Mutex{},
		rooms: make(map[string]map[string]*model.Participant),
	}
}

// CreateRoom pre-provisions an empty room. Idempotent: an existing room
// is left untouched, members included.
func (ms *MemStore) CreateRoom(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.rooms[roomID]; ok {
		return
	}
	ms.rooms[roomID] = make(map[string]*model.Participant)
}

func (ms *MemStore) RoomExists(roomID string) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	_, ok := ms.rooms[roomID]
	return ok
}

// JoinRoom inserts the participant into an existing room, overwriting
// any prior entry under the same user id, and returns the roster
// snapshot taken inside the same critical section. Joining a room that
// does not exist returns ok == false and creates nothing.
func (ms *MemStore) JoinRoom(roomID string, p *model.Participant) ([]model.Participant, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return nil, false
	}
	p.RoomID = roomID
	room[p.UserID] = p
	return snapshot(room), true
}

// LeaveRoom removes the participant if present and returns the roster
// after removal. A room emptied by the removal is deleted; a room that
// was already empty (explicitly pre-created) stays.
func (ms *MemStore) LeaveRoom(roomID, userID string) []model.Participant {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return nil
	}
	if _, ok = room[userID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(ms.rooms, roomID)
			return nil
		}
	}
	return snapshot(room)
}

// UpdatePosition overwrites the participant's position in place. Absent
// rooms or participants make this a no-op, which absorbs the
// move-after-leave race instead of surfacing it.
func (ms *MemStore) UpdatePosition(roomID, userID string, pos model.Position) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if p, ok := ms.rooms[roomID][userID]; ok {
		p.Position = pos
	}
}

func (ms *MemStore) GetParticipant(roomID, userID string) (model.Participant, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	p, ok := ms.rooms[roomID][userID]
	if !ok {
		return model.Participant{}, false
	}
	return *p, true
}

func (ms *MemStore) ListParticipants(roomID string) []model.Participant {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	return snapshot(ms.rooms[roomID])
}

// RemoveParticipantEverywhere scans all rooms and removes the user from
// any of them, deleting rooms left empty as a result. Disconnect
// cleanup utility; the message-driven paths never call it.
func (ms *MemStore) RemoveParticipantEverywhere(userID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	for roomID, room := range ms.rooms {
		if _, ok := room[userID]; ok {
			delete(room, userID)
			if len(room) == 0 {
				delete(ms.rooms, roomID)
			}
		}
	}
}

func snapshot(room map[string]*model.Participant) []model.Participant {
	if len(room) == 0 {
		return nil
	}
	out := make([]model.Participant, 0, len(room))
	for _, p := range room {
		out = append(out, *p)
	}
	return out
}
