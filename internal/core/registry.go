package core

import (
	"github.com/dkeye/CodeRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

// MemberMap is one room's membership: assigned session id to send handle.
type MemberMap map[SessionID]Client

// Registry owns the room-name to member-map mapping. It is not
// goroutine-safe on purpose: every mutation goes through the broker's
// single command loop, which converts "many writers to a shared map"
// into "one writer processing a queue".
//
// Iteration over a room never happens inside the registry. Callers check
// the member map out with EnsureAndTake, iterate it while the registry
// holds no reference, and give it back with Restore. Forgetting to
// restore silently loses membership, so take/restore pairs sit in the
// same function on every exit path.
type Registry struct {
	rooms map[domain.RoomName]MemberMap
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomName]MemberMap)}
}

// EnsureAndTake returns the member map for the room, creating an empty
// one if absent, and removes it from the registry until Restore.
func (r *Registry) EnsureAndTake(name domain.RoomName) MemberMap {
	m, ok := r.rooms[name]
	if !ok {
		m = make(MemberMap)
	}
	delete(r.rooms, name)
	return m
}

// Restore puts a checked-out member map back. The map may have been
// mutated while it was out.
func (r *Registry) Restore(name domain.RoomName, m MemberMap) {
	r.rooms[name] = m
}

// InsertMember is take → insert → restore.
func (r *Registry) InsertMember(name domain.RoomName, id SessionID, c Client) {
	m := r.EnsureAndTake(name)
	m[id] = c
	r.Restore(name, m)
	log.Info().Str("module", "core.registry").Uint64("sid", uint64(id)).Str("room", string(name)).Msg("member added")
}

// RemoveMember is best-effort: removing from an absent room or an id
// that already left is a no-op. The room itself stays registered; an
// empty room is a harmless steady state.
func (r *Registry) RemoveMember(name domain.RoomName, id SessionID) {
	m := r.EnsureAndTake(name)
	delete(m, id)
	r.Restore(name, m)
	log.Info().Str("module", "core.registry").Uint64("sid", uint64(id)).Str("room", string(name)).Msg("member removed")
}

func (r *Registry) MemberCount(name domain.RoomName) int {
	return len(r.rooms[name])
}

func (r *Registry) List() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for name, m := range r.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: len(m)})
	}
	return out
}
