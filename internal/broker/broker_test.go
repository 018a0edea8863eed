package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/CodeRoom/internal/core"
	"github.com/dkeye/CodeRoom/internal/domain"
	"github.com/dkeye/CodeRoom/internal/protocol"
)

type fakeClient struct {
	mu   sync.Mutex
	msgs [][]byte
	fail bool
}

func (f *fakeClient) TrySend(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backpressure")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.msgs = append(f.msgs, buf)
	return nil
}

func (f *fakeClient) Close() {}

// received decodes every message of the given envelope type.
func (f *fakeClient) received(t *testing.T, msgType string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, raw := range f.msgs {
		var env map[string]any
		require.NoError(t, json.Unmarshal(raw, &env))
		if env["type"] == msgType {
			out = append(out, env)
		}
	}
	return out
}

type fakeLog struct {
	mu         sync.Mutex
	appended   map[domain.RoomName][]domain.Delta
	failAppend bool
}

func newFakeLog() *fakeLog {
	return &fakeLog{appended: make(map[domain.RoomName][]domain.Delta)}
}

func (f *fakeLog) Append(_ context.Context, room domain.RoomName, deltas []domain.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return errors.New("log store down")
	}
	f.appended[room] = append(f.appended[room], deltas...)
	return nil
}

func (f *fakeLog) Range(_ context.Context, room domain.RoomName) ([]domain.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Delta(nil), f.appended[room]...), nil
}

type fakeExec struct {
	stdout string
	err    error
}

func (f *fakeExec) Run(context.Context, domain.Language, string) (string, error) {
	return f.stdout, f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []core.RoomEvent
}

func (f *fakeEvents) Publish(_ context.Context, evt core.RoomEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

type fakePrograms struct {
	mu    sync.Mutex
	saved []domain.Program
}

func (f *fakePrograms) Save(_ context.Context, p *domain.Program) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *p)
	return nil
}

func (f *fakePrograms) ByRoom(context.Context, domain.RoomName, int) ([]domain.Program, error) {
	return nil, nil
}

func startBroker(t *testing.T, deltas core.DeltaLog, exec core.Executor) (*Broker, *fakeEvents, *fakePrograms) {
	t.Helper()
	events := &fakeEvents{}
	programs := &fakePrograms{}
	b := New(deltas, exec, events, programs)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b, events, programs
}

// drain waits until every previously queued command was applied: the
// queue is FIFO, so a completed Rooms round trip is a barrier.
func drain(t *testing.T, b *Broker) {
	t.Helper()
	_, err := b.Rooms(context.Background())
	require.NoError(t, err)
}

func sampleDeltas() []domain.Delta {
	return []domain.Delta{{
		Start:     domain.Point{Row: 0, Column: 0},
		End:       domain.Point{Row: 0, Column: 5},
		Action:    domain.ActionInsert,
		Lines:     []string{"hello"},
		Timestamp: 1.0,
	}}
}

func TestConnect_AssignsDistinctIDsWithinRoom(t *testing.T) {
	req := require.New(t)
	b, _, _ := startBroker(t, newFakeLog(), &fakeExec{})

	seen := make(map[core.SessionID]bool)
	for i := 0; i < 50; i++ {
		id, err := b.Connect(context.Background(), "demo", "u", &fakeClient{})
		req.NoError(err)
		req.False(seen[id], "session id reused within room")
		seen[id] = true
	}

	rooms, err := b.Rooms(context.Background())
	req.NoError(err)
	req.Len(rooms, 1)
	req.Equal(50, rooms[0].MemberCount)
}

func TestEditUpdate_ExcludesSender(t *testing.T) {
	req := require.New(t)
	deltas := newFakeLog()
	b, _, _ := startBroker(t, deltas, &fakeExec{})

	a, bc, c := &fakeClient{}, &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "a", a)
	_, err := b.Connect(context.Background(), "demo", "b", bc)
	req.NoError(err)
	_, err = b.Connect(context.Background(), "demo", "c", c)
	req.NoError(err)

	b.EditUpdate("demo", idA, "a", sampleDeltas())
	drain(t, b)

	// Every peer got exactly one copy, the author got none.
	req.Len(bc.received(t, protocol.TypeCodeUpdate), 1)
	req.Len(c.received(t, protocol.TypeCodeUpdate), 1)
	req.Empty(a.received(t, protocol.TypeCodeUpdate))

	// And the batch landed in the log.
	got, err := deltas.Range(context.Background(), "demo")
	req.NoError(err)
	req.Equal(sampleDeltas(), got)
}

func TestEditUpdate_RoomIsolation(t *testing.T) {
	req := require.New(t)
	b, _, _ := startBroker(t, newFakeLog(), &fakeExec{})

	inA, inB := &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "room-a", "a", inA)
	_, err := b.Connect(context.Background(), "room-b", "b", inB)
	req.NoError(err)

	b.EditUpdate("room-a", idA, "a", sampleDeltas())
	drain(t, b)

	req.Empty(inB.received(t, protocol.TypeCodeUpdate))
}

func TestEditUpdate_OrderPreservedPerRoom(t *testing.T) {
	req := require.New(t)
	b, _, _ := startBroker(t, newFakeLog(), &fakeExec{})

	a, peer := &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "a", a)
	_, err := b.Connect(context.Background(), "demo", "b", peer)
	req.NoError(err)

	for i := 0; i < 20; i++ {
		batch := sampleDeltas()
		batch[0].Timestamp = float64(i)
		b.EditUpdate("demo", idA, "a", batch)
	}
	drain(t, b)

	got := peer.received(t, protocol.TypeCodeUpdate)
	req.Len(got, 20)
	for i, env := range got {
		content := env["content"].([]any)
		first := content[0].(map[string]any)
		req.Equal(float64(i), first["timestamp"], "broadcasts observed out of order")
	}
}

func TestEditUpdate_LogFailureDoesNotBlockBroadcast(t *testing.T) {
	req := require.New(t)
	deltas := newFakeLog()
	deltas.failAppend = true
	b, _, _ := startBroker(t, deltas, &fakeExec{})

	a, peer := &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "a", a)
	_, err := b.Connect(context.Background(), "demo", "b", peer)
	req.NoError(err)

	b.EditUpdate("demo", idA, "a", sampleDeltas())
	drain(t, b)

	req.Len(peer.received(t, protocol.TypeCodeUpdate), 1)
}

func TestDisconnect_StopsDelivery(t *testing.T) {
	req := require.New(t)
	b, _, _ := startBroker(t, newFakeLog(), &fakeExec{})

	a, peer := &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "a", a)
	idPeer, err := b.Connect(context.Background(), "demo", "b", peer)
	req.NoError(err)

	b.Disconnect("demo", idPeer)
	b.EditUpdate("demo", idA, "a", sampleDeltas())
	drain(t, b)

	req.Empty(peer.received(t, protocol.TypeCodeUpdate))
}

func TestCompile_FanOutIncludesRequester(t *testing.T) {
	req := require.New(t)
	b, events, programs := startBroker(t, newFakeLog(), &fakeExec{stdout: "1\n"})

	a, bc := &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "a", a)
	idB, err := b.Connect(context.Background(), "demo", "b", bc)
	req.NoError(err)

	// Spec scenario: A leaves, B compiles, B is the only recipient.
	b.Disconnect("demo", idA)
	b.CompileRequest("demo", idB, domain.LanguagePython, "print(1)")

	req.Eventually(func() bool {
		return len(bc.received(t, protocol.TypeCompilationEvent)) == 2
	}, time.Second, 10*time.Millisecond)

	got := bc.received(t, protocol.TypeCompilationEvent)
	req.Equal("START", got[0]["state"])
	req.Equal("END", got[1]["state"])
	req.Equal("1\n", got[1]["stdout"])
	req.Empty(a.received(t, protocol.TypeCompilationEvent))

	// Execution history and event pipeline both observed the run.
	req.Eventually(func() bool {
		programs.mu.Lock()
		defer programs.mu.Unlock()
		return len(programs.saved) == 1
	}, time.Second, 10*time.Millisecond)
	programs.mu.Lock()
	req.Equal("print(1)", programs.saved[0].Stdin)
	req.Equal("1\n", programs.saved[0].Stdout)
	programs.mu.Unlock()

	events.mu.Lock()
	defer events.mu.Unlock()
	var kinds []string
	for _, evt := range events.events {
		kinds = append(kinds, evt.Type)
	}
	req.Contains(kinds, core.EventExecutionFinished)
}

func TestCompile_FailureEmitsTerminalEnd(t *testing.T) {
	req := require.New(t)
	b, _, programs := startBroker(t, newFakeLog(), &fakeExec{err: errors.New("compiler unreachable")})

	c := &fakeClient{}
	id, err := b.Connect(context.Background(), "demo", "a", c)
	req.NoError(err)

	b.CompileRequest("demo", id, domain.LanguageC, "int main() {}")

	req.Eventually(func() bool {
		return len(c.received(t, protocol.TypeCompilationEvent)) == 2
	}, time.Second, 10*time.Millisecond)

	end := c.received(t, protocol.TypeCompilationEvent)[1]
	req.Equal("END", end["state"])
	req.Nil(end["stdout"])

	// Failed runs are not recorded.
	programs.mu.Lock()
	defer programs.mu.Unlock()
	req.Empty(programs.saved)
}

func TestChat_BroadcastSkipsSender(t *testing.T) {
	req := require.New(t)
	b, _, _ := startBroker(t, newFakeLog(), &fakeExec{})

	a, peer := &fakeClient{}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "alice", a)
	_, err := b.Connect(context.Background(), "demo", "bob", peer)
	req.NoError(err)

	b.Chat("demo", idA, "alice", "hi there")
	drain(t, b)

	got := peer.received(t, protocol.TypeChatMessage)
	req.Len(got, 1)
	req.Equal("alice", got[0]["user_id"])
	req.Equal("hi there", got[0]["content"])
	req.Equal("demo", got[0]["room_id"])
	req.Empty(a.received(t, protocol.TypeChatMessage))
}

func TestBroadcast_DeliveryFailureIsSilent(t *testing.T) {
	req := require.New(t)
	b, _, _ := startBroker(t, newFakeLog(), &fakeExec{})

	a, dead, alive := &fakeClient{}, &fakeClient{fail: true}, &fakeClient{}
	idA, _ := b.Connect(context.Background(), "demo", "a", a)
	_, err := b.Connect(context.Background(), "demo", "dead", dead)
	req.NoError(err)
	_, err = b.Connect(context.Background(), "demo", "alive", alive)
	req.NoError(err)

	b.EditUpdate("demo", idA, "a", sampleDeltas())
	drain(t, b)

	// The healthy peer still got its copy.
	req.Len(alive.received(t, protocol.TypeCodeUpdate), 1)
}
