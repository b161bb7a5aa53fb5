package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// EventType is the "type" discriminator of a frame received from a room.
type EventType string

const (
	EventTypeMessage    EventType = "message"
	EventTypeUserJoined EventType = "user_joined"
	EventTypeUserLeft   EventType = "user_left"
	EventTypeSystem     EventType = "system"
	EventTypeError      EventType = "error"
)

// NoticeKind classifies non-chat events.
type NoticeKind string

const (
	NoticeJoined NoticeKind = "joined"
	NoticeLeft   NoticeKind = "left"
	NoticeSystem NoticeKind = "system"
)

// Event is a single inbound frame of a room, as sent by the server.
// Chat messages carry Username and Content, notices and errors carry Message.
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// IsChat reports whether the event is a user chat message.
func (e Event) IsChat() bool {
	return e.Type == EventTypeMessage
}

// IsError reports whether the event is an error notice addressed to this client.
func (e Event) IsError() bool {
	return e.Type == EventTypeError
}

// Notice returns the notice kind of a non-chat, non-error event.
func (e Event) Notice() (NoticeKind, bool) {
	switch e.Type {
	case EventTypeUserJoined:
		return NoticeJoined, true
	case EventTypeUserLeft:
		return NoticeLeft, true
	case EventTypeSystem:
		return NoticeSystem, true
	}
	return "", false
}

// Text returns the human readable body of the event.
func (e Event) Text() string {
	if e.IsChat() {
		return e.Content
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Content
}

// Timestamp accepts both RFC 3339 and the zone-less ISO-8601 form the chat
// server emits. Zone-less values are read in local time, anything else is
// treated as missing so one bad field does not drop the whole frame.
type Timestamp struct {
	time.Time
}

const naiveISOLayout = "2006-01-02T15:04:05.999999999"

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	if parsed, err := time.ParseInLocation(naiveISOLayout, s, time.Local); err == nil {
		t.Time = parsed
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}

// OutboundMessage is the only frame a client writes to a room.
type OutboundMessage struct {
	Content string `json:"content"`
}

// RoomStatus mirrors the lifecycle of the connection backing a room.
type RoomStatus int

const (
	RoomConnecting RoomStatus = iota
	RoomOpen
	RoomClosed
)

func (s RoomStatus) String() string {
	switch s {
	case RoomConnecting:
		return "connecting"
	case RoomOpen:
		return "open"
	case RoomClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ValidationResponse is returned by the room validation endpoint.
type ValidationResponse struct {
	Valid    bool   `json:"valid"`
	RoomCode string `json:"room_code"`
	Active   bool   `json:"active,omitempty"`
}

// Member is a single entry of a membership snapshot.
type Member struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// MembershipSnapshot is a full replacement of the known members of a room.
type MembershipSnapshot struct {
	RoomCode string   `json:"room_code"`
	Members  []Member `json:"members"`
	Total    int      `json:"total"`
}
