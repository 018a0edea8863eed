// Package protocol defines the server→client JSON messages. Every
// message carries a "type" tag so clients can switch without probing
// fields.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/CodeRoom/internal/domain"
)

const (
	TypeCodeUpdate       = "code_update"
	TypeCompilationEvent = "compilation_event"
	TypeChatMessage      = "message"
)

type CompilationState string

const (
	CompilationStart CompilationState = "START"
	CompilationEnd   CompilationState = "END"
)

// CodeUpdate carries a batch of deltas from one author. It doubles as
// the catch-up message: a freshly joined session receives the room's
// whole history as a single CodeUpdate.
type CodeUpdate struct {
	Type    string         `json:"type"`
	User    string         `json:"user"`
	Content []domain.Delta `json:"content"`
}

func NewCodeUpdate(user string, deltas []domain.Delta) CodeUpdate {
	return CodeUpdate{Type: TypeCodeUpdate, User: user, Content: deltas}
}

// CompilationEvent brackets a remote execution. START goes out when the
// broker hands the request to the execution service, END when the
// response (or failure, with Stdout left null) comes back, so clients
// are never left waiting on a silent error.
type CompilationEvent struct {
	Type   string           `json:"type"`
	State  CompilationState `json:"state"`
	Stdout *string          `json:"stdout"`
}

func NewCompilationStart() CompilationEvent {
	return CompilationEvent{Type: TypeCompilationEvent, State: CompilationStart}
}

func NewCompilationEnd(stdout *string) CompilationEvent {
	return CompilationEvent{Type: TypeCompilationEvent, State: CompilationEnd, Stdout: stdout}
}

// ChatMessage is plain room chat, for text frames that are not commands.
type ChatMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
	RoomID  string `json:"room_id"`
}

func NewChatMessage(userID, content string, room domain.RoomName) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, UserID: userID, Content: content, RoomID: string(room)}
}

// Encode marshals a message for the wire. Message structs contain
// nothing unmarshalable, so a failure here is a programming error and
// callers treat it as such.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
