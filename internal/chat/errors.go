package chat

import "errors"

var (
	// ErrRoomNotFound is returned for operations on a room that is not open.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAlreadyMember is returned when a client is added to a second room.
	ErrAlreadyMember = errors.New("client already belongs to a room")
	// ErrNotMember is returned when a client is not in the given room.
	ErrNotMember = errors.New("client is not a member of the room")
	// ErrEmptyUsername is returned when a handshake carries no username.
	ErrEmptyUsername = errors.New("empty username")
	// ErrRoomExpired is returned when a handshake arrives after the room's admission deadline.
	ErrRoomExpired = errors.New("room has expired")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client closed")
	// ErrSendQueueFull is returned when a client's outbound queue has no room.
	ErrSendQueueFull = errors.New("send queue full")
)
