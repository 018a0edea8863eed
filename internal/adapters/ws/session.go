// Package ws is the connection adapter: one Session per websocket,
// heartbeat-supervised, feeding parsed commands into the room broker.
package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/CodeRoom/internal/core"
	"github.com/dkeye/CodeRoom/internal/domain"
	"github.com/dkeye/CodeRoom/internal/protocol"
)

// commandBus is what a session needs from the broker.
type commandBus interface {
	Disconnect(room domain.RoomName, id core.SessionID)
	EditUpdate(room domain.RoomName, id core.SessionID, user string, deltas []domain.Delta)
	CompileRequest(room domain.RoomName, id core.SessionID, language domain.Language, source string)
	Chat(room domain.RoomName, id core.SessionID, user, text string)
}

// Session is one connection's server-side state. It moves through
// Connecting (broker handshake) → Active (pumps running) → Closing
// (any of: close frame, transport error, heartbeat timeout) → Closed,
// and emits exactly one Disconnect no matter which path closed it.
type Session struct {
	id   core.SessionID
	room domain.RoomName
	user *domain.User

	out     core.Client
	bus     commandBus
	deltas  core.DeltaLog
	limiter *CompileLimiter

	hbInterval time.Duration
	hbTimeout  time.Duration

	lastSeen  atomic.Int64
	closeOnce sync.Once
}

func newSession(
	id core.SessionID,
	room domain.RoomName,
	user *domain.User,
	out core.Client,
	bus commandBus,
	deltas core.DeltaLog,
	limiter *CompileLimiter,
	hbInterval, hbTimeout time.Duration,
) *Session {
	s := &Session{
		id:         id,
		room:       room,
		user:       user,
		out:        out,
		bus:        bus,
		deltas:     deltas,
		limiter:    limiter,
		hbInterval: hbInterval,
		hbTimeout:  hbTimeout,
	}
	s.touch()
	return s
}

// touch refreshes the liveness marker. Called on every inbound ping or
// pong control frame.
func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) alive(now time.Time) bool {
	return now.Sub(time.Unix(0, s.lastSeen.Load())) <= s.hbTimeout
}

// sendCatchUp replays the room's accumulated history as one code_update.
// Not atomic with live broadcasts: in a narrow window a delta can arrive
// both live and in the replay, or in neither. Accepted race.
func (s *Session) sendCatchUp(ctx context.Context) {
	history, err := s.deltas.Range(ctx, s.room)
	if err != nil {
		// A broken log store downgrades the join to an empty history,
		// it never fails the join.
		log.Warn().Err(err).Str("module", "ws").Str("room", string(s.room)).Msg("catch-up read failed")
		history = nil
	}
	if history == nil {
		history = []domain.Delta{}
	}
	payload, err := protocol.Encode(protocol.NewCodeUpdate(string(s.user.ID), history))
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("encode catch-up")
		return
	}
	_ = s.out.TrySend(payload)
}

// heartbeat pings the peer every interval and closes the session once
// the liveness marker is older than the timeout window. This is the
// only server-initiated termination path.
func (s *Session) heartbeat(ctx context.Context, conn *wsConn, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.hbInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.alive(time.Now()) {
				log.Info().Str("module", "ws").Uint64("sid", uint64(s.id)).Str("room", string(s.room)).Msg("heartbeat timeout, disconnecting")
				s.finish()
				cancel()
				return
			}
			if err := conn.ping(); err != nil {
				log.Debug().Err(err).Str("module", "ws").Msg("ping failed")
			}
		}
	}
}

// finish sends the one and only Disconnect and releases the transport.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.bus.Disconnect(s.room, s.id)
		s.out.Close()
		log.Info().Str("module", "ws").Uint64("sid", uint64(s.id)).Str("room", string(s.room)).Msg("session closed")
	})
}
