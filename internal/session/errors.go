package session

import (
	"errors"
	"fmt"
)

var (
	ErrInputInvalid  = errors.New("invalid input")
	ErrEmptyUsername = fmt.Errorf("%w: username is empty", ErrInputInvalid)
	ErrEmptyRoomCode = fmt.Errorf("%w: room code is empty", ErrInputInvalid)

	ErrValidationRejected    = errors.New("room code rejected")
	ErrValidationUnreachable = errors.New("room validation unavailable")
	ErrConnectFailed         = errors.New("failed to connect to room")
	ErrConnectionLost        = errors.New("connection to room lost")

	ErrJoinInProgress = errors.New("join already in progress")
	ErrSessionClosed  = errors.New("session closed")
)

// UserMessage turns a join or connection error into a sentence fit for
// showing to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyUsername):
		return "Please enter your username."
	case errors.Is(err, ErrEmptyRoomCode):
		return "Please enter a room code."
	case errors.Is(err, ErrValidationRejected):
		return "Invalid room code. Please check and try again."
	case errors.Is(err, ErrValidationUnreachable):
		return "Failed to validate room code. Please try again."
	case errors.Is(err, ErrConnectFailed):
		return "Failed to connect to chat room. Please check if the server is running."
	case errors.Is(err, ErrConnectionLost):
		return "Disconnected from the room. Join it again to reconnect."
	case errors.Is(err, ErrJoinInProgress):
		return "Already connecting to this room, please wait."
	case errors.Is(err, ErrSessionClosed):
		return "The session has ended."
	default:
		return err.Error()
	}
}
