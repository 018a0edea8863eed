package core

import (
	"context"
	"time"

	"github.com/dkeye/CodeRoom/internal/domain"
)

// SessionID identifies one connection inside its room's member map.
// Ids are random and collision-checked per room only, never process-wide.
type SessionID uint64

// Client is the outbound side of one connection, the only thing a room
// stores. Owned by the ws adapter; the adapter must Close() it.
type Client interface {
	// TrySend enqueues without waiting for delivery. Delivery failures
	// are the caller's to ignore: broadcast is at-most-once, best-effort.
	TrySend(data []byte) error
	Close()
}

// DeltaLog is the external ordered-log store holding per-room edit
// history. Appends are monotonic; Range returns the full accumulated
// history in append order.
type DeltaLog interface {
	Append(ctx context.Context, room domain.RoomName, deltas []domain.Delta) error
	Range(ctx context.Context, room domain.RoomName) ([]domain.Delta, error)
}

// Executor is the external code-execution service: source in, stdout out.
// No retries here; bounding and retrying belong to the caller's config.
type Executor interface {
	Run(ctx context.Context, language domain.Language, source string) (string, error)
}

const (
	EventDeltasApplied     = "DELTAS_APPLIED"
	EventExecutionFinished = "EXECUTION_FINISHED"
)

// RoomEvent mirrors room activity to an external event pipeline.
type RoomEvent struct {
	Type      string         `json:"eventType"`
	Room      string         `json:"room"`
	SessionID uint64         `json:"sessionId"`
	User      string         `json:"user,omitempty"`
	Deltas    []domain.Delta `json:"deltas,omitempty"`
	Language  string         `json:"language,omitempty"`
	Stdout    string         `json:"stdout,omitempty"`
	At        time.Time      `json:"at"`
}

// EventPublisher fans room events out to an external broker, best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, evt RoomEvent) error
}

// ProgramStore persists execution history.
type ProgramStore interface {
	Save(ctx context.Context, p *domain.Program) error
	ByRoom(ctx context.Context, room domain.RoomName, limit int) ([]domain.Program, error)
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}
