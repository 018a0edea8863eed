package broker

import (
	"github.com/dkeye/CodeRoom/internal/core"
	"github.com/dkeye/CodeRoom/internal/domain"
)

// command is the closed set of messages the broker loop consumes.
type command interface{ isCommand() }

// connect registers a send handle in a room. The broker answers with
// the assigned session id on Reply; a session is not joined until that
// answer arrives.
type connect struct {
	Room   domain.RoomName
	User   domain.UserID
	Client core.Client
	Reply  chan core.SessionID
}

// disconnect removes a member, best-effort. The session tracks its own
// room, so the broker never has to resolve which room an id was in.
type disconnect struct {
	Room domain.RoomName
	ID   core.SessionID
}

// editUpdate appends a delta batch to the log and rebroadcasts it to
// every room member except the author.
type editUpdate struct {
	Room   domain.RoomName
	ID     core.SessionID
	User   string
	Deltas []domain.Delta
}

// compileRequest hands source to the execution service; the response
// fans out to everyone in the room, the requester included.
type compileRequest struct {
	Room     domain.RoomName
	ID       core.SessionID
	Language domain.Language
	Source   string
}

// chat rebroadcasts a plain text message to room peers.
type chat struct {
	Room domain.RoomName
	ID   core.SessionID
	User string
	Text string
}

// listRooms is a read-only query used by the REST surface; routing it
// through the loop keeps the registry single-writer, single-reader.
type listRooms struct {
	Reply chan []core.RoomInfo
}

func (connect) isCommand()        {}
func (disconnect) isCommand()     {}
func (editUpdate) isCommand()     {}
func (compileRequest) isCommand() {}
func (chat) isCommand()           {}
func (listRooms) isCommand()      {}
