package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CodeRoom/internal/broker"
	"github.com/dkeye/CodeRoom/internal/core"
	"github.com/dkeye/CodeRoom/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Broker  *broker.Broker
	Deltas  core.DeltaLog
	Limiter *CompileLimiter

	SendBuffer        int
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
}

// HandleWS runs one connection end to end: upgrade, broker handshake,
// catch-up, then the read loop until the peer goes away.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	user := domain.NewUser(c.Param("user_id"))
	room := domain.RoomName(c.Param("room_id")).Truncated()
	log.Info().Str("module", "ws").Str("user", string(user.ID)).Str("room", string(room)).Msg("new WS connection")

	wsocket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	conn := newWsConn(wsocket, ctl.SendBuffer)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Connecting: the session is not joined until the broker answered.
	id, err := ctl.Broker.Connect(ctx, room, user.ID, conn)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("broker handshake failed")
		conn.Close()
		return
	}

	sess := newSession(id, room, user, conn, ctl.Broker, ctl.Deltas, ctl.Limiter, ctl.HeartbeatInterval, ctl.ClientTimeout)

	wsocket.SetPongHandler(func(string) error {
		sess.touch()
		return nil
	})
	wsocket.SetPingHandler(func(appData string) error {
		sess.touch()
		return wsocket.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	go conn.writePump(ctx)
	go sess.heartbeat(ctx, conn, cancel)

	sess.sendCatchUp(ctx)
	ctl.readLoop(ctx, sess, wsocket)
	sess.finish()
}

func (ctl *Controller) readLoop(ctx context.Context, sess *Session, wsocket *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := wsocket.ReadMessage()
			if err != nil {
				// Close frame, transport error and our own heartbeat
				// shutdown all land here.
				log.Debug().Err(err).Str("module", "ws").Uint64("sid", uint64(sess.id)).Msg("read loop done")
				return
			}
			sess.handleText(data)
		}
	}
}
