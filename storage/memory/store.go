package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/imr4n4lif/clipboard-fly-server/session"
	"github.com/rs/zerolog"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room is not found")
)

// MemStore is the process-wide room registry: an exclusive mapping from
// session identifier to live room. Rooms remove themselves on
// destruction, so an id becomes reusable the moment its room dies.
type MemStore struct {
	mx      *sync.Mutex
	db      map[string]*session.Room
	timeout time.Duration
	logger  zerolog.Logger
}

func NewMemStore(timeout time.Duration, logger *zerolog.Logger) *MemStore {
	return &MemStore{
		mx:      &sync.Mutex{},
		db:      make(map[string]*session.Room),
		timeout: timeout,
		logger:  logger.With().Str("component", "store").Logger(),
	}
}

// Create atomically inserts a new empty room under roomID. Fails with
// ErrRoomExists while a live room holds the id.
func (ms *MemStore) Create(roomID string) (*session.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[roomID]; ok {
		return nil, ErrRoomExists
	}
	var room *session.Room
	room = session.NewRoom(roomID, ms.timeout, func() {
		ms.evict(roomID, room)
	}, &ms.logger)
	ms.db[roomID] = room
	return room, nil
}

// Get returns the live room for roomID, or ErrRoomNotFound.
func (ms *MemStore) Get(roomID string) (*session.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Remove drops the mapping for roomID. No-op when absent.
func (ms *MemStore) Remove(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	delete(ms.db, roomID)
}

// evict removes the mapping only if it still points at the destroyed
// room, so a stale timer firing can never unmap a reused id.
func (ms *MemStore) evict(roomID string, room *session.Room) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	if cur, ok := ms.db[roomID]; ok && cur == room {
		delete(ms.db, roomID)
	}
}

// Len returns the number of live rooms.
func (ms *MemStore) Len() int {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	return len(ms.db)
}

// Rooms returns a snapshot of the live rooms.
func (ms *MemStore) Rooms() []*session.Room {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rooms := make([]*session.Room, 0, len(ms.db))
	for _, room := range ms.db {
		rooms = append(rooms, room)
	}
	return rooms
}

// Drain destroys every live room. Called on shutdown so that no room
// survives a clean process exit.
func (ms *MemStore) Drain() {
	rooms := ms.Rooms()
	for _, room := range rooms {
		room.Destroy()
	}
	ms.logger.Info().Int("rooms", len(rooms)).Msg("registry drained")
}
