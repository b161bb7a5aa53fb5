package chat

import (
	"multiroom/internal/content"
	"multiroom/internal/models"
	"slices"
	"sort"
	"sync"
)

// Lifecycle is a state transition reported by a room connection.
type Lifecycle int

const (
	LifecycleOpened Lifecycle = iota + 1
	LifecycleClosed
	LifecycleFailed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleOpened:
		return "opened"
	case LifecycleClosed:
		return "closed"
	case LifecycleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Room is the client side state of one joined room.
type Room struct {
	Code               string
	Messages           []models.Event
	Status             models.RoomStatus
	UnreadCount        int
	LastMessagePreview string
}

func (r *Room) clone() Room {
	c := *r
	c.Messages = slices.Clone(r.Messages)
	return c
}

// Summary is the room list view of a room, without its history.
type Summary struct {
	Code               string
	Status             models.RoomStatus
	UnreadCount        int
	LastMessagePreview string
	Current            bool
}

// Store is the authoritative map of room code to room state together with the
// current room pointer. It holds no connections, only derived state.
type Store struct {
	rooms   map[string]*Room
	current string

	mux sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
	}
}

// Track registers a room that is about to connect. Any previous state kept
// for the code (a closed room being rejoined) is replaced and returned so a
// failed join can Restore it.
func (s *Store) Track(code string) (Room, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	prev, ok := s.rooms[code]
	s.rooms[code] = &Room{
		Code:   code,
		Status: models.RoomConnecting,
	}
	if !ok {
		return Room{}, false
	}
	return *prev, true
}

// Restore puts back a room returned by Track. The current room is left as is.
func (s *Store) Restore(room Room) {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.rooms[room.Code] = &room
}

// ApplyLifecycle folds a connection state change into the room:
// - Opened creates the room if needed and marks it open
// - Closed and Failed mark it closed and keep its history
func (s *Store) ApplyLifecycle(code string, l Lifecycle) {
	s.mux.Lock()
	defer s.mux.Unlock()

	room, ok := s.rooms[code]
	switch l {
	case LifecycleOpened:
		if !ok {
			room = &Room{Code: code}
			s.rooms[code] = room
		}
		room.Status = models.RoomOpen
	case LifecycleClosed, LifecycleFailed:
		if ok {
			room.Status = models.RoomClosed
		}
	}
}

// ApplyMessage appends an inbound event to the room history, refreshes the
// preview and counts it as unread unless the room is current.
// Events for unknown rooms are dropped and false is returned.
func (s *Store) ApplyMessage(code string, ev models.Event) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return false
	}

	room.Messages = append(room.Messages, ev)
	room.LastMessagePreview = content.Preview(ev, room.LastMessagePreview)
	if code != s.current {
		room.UnreadCount++
	}
	return true
}

// Get returns a copy of the room state.
func (s *Store) Get(code string) (Room, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	room, ok := s.rooms[code]
	if !ok {
		return Room{}, false
	}
	return room.clone(), true
}

// SelectRoom makes code the current room and clears its unread counter in
// the same critical section.
func (s *Store) SelectRoom(code string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return models.ErrNotFound
	}
	s.current = code
	room.UnreadCount = 0
	return nil
}

// ClearSelection leaves the store with no current room.
func (s *Store) ClearSelection() {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.current = ""
}

// RemoveRoom deletes the room. If it was the current room the pointer is
// cleared and true is returned; picking a successor is up to the caller.
func (s *Store) RemoveRoom(code string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	delete(s.rooms, code)
	if s.current == code && code != "" {
		s.current = ""
		return true
	}
	return false
}

// Current returns the code of the current room, empty when none is selected.
func (s *Store) Current() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.current
}

// Rooms lists all rooms sorted by code.
func (s *Store) Rooms() []Summary {
	s.mux.RLock()
	defer s.mux.RUnlock()

	result := make([]Summary, 0, len(s.rooms))
	for code, room := range s.rooms {
		result = append(result, Summary{
			Code:               code,
			Status:             room.Status,
			UnreadCount:        room.UnreadCount,
			LastMessagePreview: room.LastMessagePreview,
			Current:            code == s.current,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Code < result[j].Code
	})

	return result
}

// OpenRooms returns the codes of open rooms, sorted.
func (s *Store) OpenRooms() []string {
	var codes []string
	for _, r := range s.Rooms() {
		if r.Status == models.RoomOpen {
			codes = append(codes, r.Code)
		}
	}
	return codes
}

// TotalUnread sums the unread counters of all rooms.
func (s *Store) TotalUnread() int {
	s.mux.RLock()
	defer s.mux.RUnlock()

	total := 0
	for _, room := range s.rooms {
		total += room.UnreadCount
	}
	return total
}
