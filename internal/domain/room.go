package domain

const MaxRoomNameLen = 64

// RoomName is the broadcast-group key. Rooms are created lazily on first
// join and never torn down; an empty room is a valid steady state.
type RoomName string

func (n RoomName) Truncated() RoomName {
	if len(n) > MaxRoomNameLen {
		return n[:MaxRoomNameLen]
	}
	return n
}
