// Package broker is the serialized command processor owning all room
// state. Arbitrarily many sessions feed a bounded channel; one consumer
// goroutine applies the commands, so room mutations have a global total
// order and the member maps need no locks at all.
package broker

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CodeRoom/internal/core"
	"github.com/dkeye/CodeRoom/internal/domain"
	"github.com/dkeye/CodeRoom/internal/protocol"
)

const commandQueueSize = 256

type Broker struct {
	cmds     chan command
	registry *core.Registry
	deltas   core.DeltaLog
	exec     core.Executor
	events   core.EventPublisher
	programs core.ProgramStore
}

func New(deltas core.DeltaLog, exec core.Executor, events core.EventPublisher, programs core.ProgramStore) *Broker {
	return &Broker{
		cmds:     make(chan command, commandQueueSize),
		registry: core.NewRegistry(),
		deltas:   deltas,
		exec:     exec,
		events:   events,
		programs: programs,
	}
}

// Run consumes commands until ctx is cancelled. It is the only
// goroutine that touches the registry.
func (b *Broker) Run(ctx context.Context) {
	log.Info().Str("module", "broker").Msg("command loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "broker").Msg("command loop stopped")
			return
		case cmd := <-b.cmds:
			b.apply(ctx, cmd)
		}
	}
}

// apply isolates one command: a panic in a handler is logged and the
// loop moves on, so one corrupted batch cannot halt broadcast for
// everyone else.
func (b *Broker) apply(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "broker").Any("panic", r).Msg("command handler panicked")
		}
	}()

	switch c := cmd.(type) {
	case connect:
		b.handleConnect(c)
	case disconnect:
		b.registry.RemoveMember(c.Room, c.ID)
	case editUpdate:
		b.handleEditUpdate(ctx, c)
	case compileRequest:
		b.handleCompile(ctx, c)
	case chat:
		b.handleChat(c)
	case listRooms:
		c.Reply <- b.registry.List()
	}
}

// Connect blocks until the broker assigned a session id or ctx ended.
func (b *Broker) Connect(ctx context.Context, room domain.RoomName, user domain.UserID, client core.Client) (core.SessionID, error) {
	reply := make(chan core.SessionID, 1)
	if err := b.send(ctx, connect{Room: room, User: user, Client: client, Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *Broker) Disconnect(room domain.RoomName, id core.SessionID) {
	_ = b.send(context.Background(), disconnect{Room: room, ID: id})
}

func (b *Broker) EditUpdate(room domain.RoomName, id core.SessionID, user string, deltas []domain.Delta) {
	_ = b.send(context.Background(), editUpdate{Room: room, ID: id, User: user, Deltas: deltas})
}

func (b *Broker) CompileRequest(room domain.RoomName, id core.SessionID, language domain.Language, source string) {
	_ = b.send(context.Background(), compileRequest{Room: room, ID: id, Language: language, Source: source})
}

func (b *Broker) Chat(room domain.RoomName, id core.SessionID, user, text string) {
	_ = b.send(context.Background(), chat{Room: room, ID: id, User: user, Text: text})
}

// Rooms reports current rooms and member counts for the REST surface.
func (b *Broker) Rooms(ctx context.Context) ([]core.RoomInfo, error) {
	reply := make(chan []core.RoomInfo, 1)
	if err := b.send(ctx, listRooms{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Broker) send(ctx context.Context, cmd command) error {
	select {
	case b.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnect assigns a fresh random id, re-rolling on collision
// against the target room only, and inserts the handle.
func (b *Broker) handleConnect(c connect) {
	room := b.registry.EnsureAndTake(c.Room)
	id := core.SessionID(rand.Uint64())
	for {
		if _, taken := room[id]; !taken {
			break
		}
		id = core.SessionID(rand.Uint64())
	}
	room[id] = c.Client
	b.registry.Restore(c.Room, room)
	log.Info().Str("module", "broker").Uint64("sid", uint64(id)).Str("room", string(c.Room)).Str("user", string(c.User)).Msg("client connected")
	c.Reply <- id
}

func (b *Broker) handleEditUpdate(ctx context.Context, c editUpdate) {
	// Log append is best-effort: a store failure must not hold back the
	// live broadcast, only catch-up completeness suffers.
	if err := b.deltas.Append(ctx, c.Room, c.Deltas); err != nil {
		log.Warn().Err(err).Str("module", "broker").Str("room", string(c.Room)).Msg("delta append failed")
	}

	payload, err := protocol.Encode(protocol.NewCodeUpdate(c.User, c.Deltas))
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Msg("encode code update")
		return
	}
	b.broadcast(c.Room, payload, &c.ID)

	b.publish(ctx, core.RoomEvent{
		Type:      core.EventDeltasApplied,
		Room:      string(c.Room),
		SessionID: uint64(c.ID),
		User:      c.User,
		Deltas:    c.Deltas,
		At:        time.Now(),
	})
}

// handleCompile snapshots the membership at dispatch time and runs the
// external call on its own goroutine: a hung compiler must never stall
// other rooms' edits. Late joiners miss the result, members who left
// get a dead send attempt, silently dropped. Both are accepted races.
func (b *Broker) handleCompile(ctx context.Context, c compileRequest) {
	room := b.registry.EnsureAndTake(c.Room)
	snapshot := make([]core.Client, 0, len(room))
	for _, client := range room {
		snapshot = append(snapshot, client)
	}
	b.registry.Restore(c.Room, room)

	if start, err := protocol.Encode(protocol.NewCompilationStart()); err == nil {
		for _, client := range snapshot {
			_ = client.TrySend(start)
		}
	}

	log.Info().Str("module", "broker").Str("room", string(c.Room)).Str("language", string(c.Language)).Int("members", len(snapshot)).Msg("dispatching execution")
	go b.runExecution(ctx, c, snapshot)
}

func (b *Broker) runExecution(ctx context.Context, c compileRequest, members []core.Client) {
	stdout, err := b.exec.Run(ctx, c.Language, c.Source)

	var out *string
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Str("room", string(c.Room)).Msg("execution failed")
	} else {
		out = &stdout
	}

	// END goes out either way so no client is left waiting forever.
	payload, encErr := protocol.Encode(protocol.NewCompilationEnd(out))
	if encErr != nil {
		log.Error().Err(encErr).Str("module", "broker").Msg("encode compilation event")
		return
	}
	for _, client := range members {
		_ = client.TrySend(payload)
	}

	if err != nil {
		return
	}
	if saveErr := b.programs.Save(ctx, &domain.Program{
		ID:       uuid.NewString(),
		Room:     string(c.Room),
		Language: string(c.Language),
		Stdin:    c.Source,
		Stdout:   stdout,
	}); saveErr != nil {
		log.Warn().Err(saveErr).Str("module", "broker").Msg("program save failed")
	}
	b.publish(ctx, core.RoomEvent{
		Type:      core.EventExecutionFinished,
		Room:      string(c.Room),
		SessionID: uint64(c.ID),
		Language:  string(c.Language),
		Stdout:    stdout,
		At:        time.Now(),
	})
}

func (b *Broker) handleChat(c chat) {
	payload, err := protocol.Encode(protocol.NewChatMessage(c.User, c.Text, c.Room))
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Msg("encode chat message")
		return
	}
	b.broadcast(c.Room, payload, &c.ID)
}

// broadcast checks the room out, fans the payload out skipping skip if
// set, and restores. TrySend never waits for delivery; failures only
// show up in the dropped counter.
func (b *Broker) broadcast(name domain.RoomName, payload []byte, skip *core.SessionID) {
	room := b.registry.EnsureAndTake(name)
	defer b.registry.Restore(name, room)

	sent, dropped := 0, 0
	for id, client := range room {
		if skip != nil && id == *skip {
			continue
		}
		if err := client.TrySend(payload); err != nil {
			dropped++
			continue
		}
		sent++
	}
	log.Debug().Str("module", "broker").Str("room", string(name)).Int("sent_to", sent).Int("dropped", dropped).Msg("broadcast result")
}

func (b *Broker) publish(ctx context.Context, evt core.RoomEvent) {
	if err := b.events.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Str("module", "broker").Str("event", evt.Type).Msg("event publish failed")
	}
}
