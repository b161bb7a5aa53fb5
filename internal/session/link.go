package session

import (
	"fmt"
	"net/url"
	"strings"
)

const roomParam = "room"

// RoomLink returns a shareable reference to roomCode: base with the room
// query parameter set.
func RoomLink(base, roomCode string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid link base %q: %w", base, err)
	}
	q := u.Query()
	q.Set(roomParam, roomCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseRoomLink extracts the room code from a reference built by RoomLink.
func ParseRoomLink(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid room link: %w", err)
	}
	code := strings.TrimSpace(u.Query().Get(roomParam))
	if code == "" {
		return "", ErrEmptyRoomCode
	}
	return code, nil
}

// LinkJoinRequest builds the join for a room link. The code skips the
// validation lookup only when links are trusted.
func LinkJoinRequest(raw, username string, trusted bool) (JoinRequest, error) {
	code, err := ParseRoomLink(raw)
	if err != nil {
		return JoinRequest{}, err
	}
	return JoinRequest{
		RoomCode:     code,
		Username:     username,
		PreValidated: trusted,
	}, nil
}
