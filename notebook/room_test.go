package notebook

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// recording gateway. Tests assert on the fan-out calls the coordinator
// makes, which is the gateway contract.
type gatewayEvent struct {
	kind    string // one, except, all
	target  Id
	roomId  string
	event   string
	payload any
}

type testGateway struct {
	mutex  sync.Mutex
	events []gatewayEvent
}

func newTestGateway() *testGateway {
	return &testGateway{}
}

func (self *testGateway) ToOne(connectionId Id, event string, payload any) {
	self.record(gatewayEvent{kind: "one", target: connectionId, event: event, payload: payload})
}

func (self *testGateway) ToRoomExcept(roomId string, excludedConnectionId Id, event string, payload any) {
	self.record(gatewayEvent{kind: "except", target: excludedConnectionId, roomId: roomId, event: event, payload: payload})
}

func (self *testGateway) ToRoomAll(roomId string, event string, payload any) {
	self.record(gatewayEvent{kind: "all", roomId: roomId, event: event, payload: payload})
}

func (self *testGateway) record(event gatewayEvent) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.events = append(self.events, event)
}

func (self *testGateway) all() []gatewayEvent {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	events := make([]gatewayEvent, len(self.events))
	copy(events, self.events)
	return events
}

func (self *testGateway) filter(eventName string) []gatewayEvent {
	filtered := []gatewayEvent{}
	for _, event := range self.all() {
		if event.event == eventName {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// poll until at least count events with the given name were recorded
func (self *testGateway) await(t *testing.T, eventName string, count int) []gatewayEvent {
	t.Helper()
	end := time.Now().Add(5 * time.Second)
	for {
		filtered := self.filter(eventName)
		if count <= len(filtered) {
			return filtered
		}
		if end.Before(time.Now()) {
			t.Fatalf("timeout waiting for %d %s events, have %d", count, eventName, len(filtered))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (self *testGateway) clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.events = nil
}

func newTestManager(ctx context.Context, runner ExecutionService) (*RoomManager, *testGateway, *SessionRegistry) {
	registry := NewSessionRegistry()
	gateway := newTestGateway()
	settings := DefaultRoomManagerSettings()
	settings.ExecuteTimeout = 5 * time.Second
	manager := NewRoomManager(ctx, registry, gateway, runner, settings)
	return manager, gateway, registry
}

func TestJoinSeedAndSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)

	// the joiner gets a private snapshot of the seeded notebook
	states := gateway.filter(EventNotebookState)
	assert.Equal(t, 1, len(states))
	assert.Equal(t, "one", states[0].kind)
	assert.Equal(t, alice.ConnectionId, states[0].target)
	snapshot := states[0].payload.(*NotebookStatePayload).Notebook
	assert.Equal(t, 1, len(snapshot.Cells))
	assert.Equal(t, WelcomeContent, snapshot.Cells[0].Content)

	// the membership broadcast reaches every member, the joiner included
	joins := gateway.filter(EventJoined)
	assert.Equal(t, 1, len(joins))
	assert.Equal(t, "all", joins[0].kind)
	joined := joins[0].payload.(*JoinedPayload)
	assert.Equal(t, "alice", joined.DisplayName)
	assert.Equal(t, alice.ConnectionId, joined.ConnectionId)
	assert.Equal(t, 1, len(joined.Members))

	// a second joiner sees both members and the same single seed
	bob := &Client{ConnectionId: NewId(), DisplayName: "bob", RoomId: "r1"}
	manager.Join(bob)

	joins = gateway.filter(EventJoined)
	assert.Equal(t, 2, len(joins))
	joined = joins[1].payload.(*JoinedPayload)
	assert.Equal(t, 2, len(joined.Members))

	states = gateway.filter(EventNotebookState)
	assert.Equal(t, 2, len(states))
	snapshot = states[1].payload.(*NotebookStatePayload).Notebook
	assert.Equal(t, 1, len(snapshot.Cells))
}

// a late joiner learns the existing membership from its own joined
// event, not only from events the earlier members received
func TestJoinerReceivesMemberList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	gateway.clear()

	bob := &Client{ConnectionId: NewId(), DisplayName: "bob", RoomId: "r1"}
	manager.Join(bob)

	joins := gateway.filter(EventJoined)
	assert.Equal(t, 1, len(joins))
	// room-wide fan-out, so the event is deliverable to bob himself
	assert.Equal(t, "all", joins[0].kind)

	joined := joins[0].payload.(*JoinedPayload)
	assert.Equal(t, "bob", joined.DisplayName)
	assert.Equal(t, 2, len(joined.Members))
	names := map[string]bool{}
	for _, member := range joined.Members {
		names[member.DisplayName] = true
	}
	assert.Equal(t, true, names["alice"])
	assert.Equal(t, true, names["bob"])
}

func TestConcurrentFirstJoinSingleSeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	n := 32
	var wg sync.WaitGroup
	for i := 0; i < n; i += 1 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			manager.Join(&Client{
				ConnectionId: NewId(),
				DisplayName:  fmt.Sprintf("user%d", i),
				RoomId:       "race",
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, manager.RoomCount())

	// every snapshot saw exactly the one seed cell
	for _, state := range gateway.filter(EventNotebookState) {
		snapshot := state.payload.(*NotebookStatePayload).Notebook
		assert.Equal(t, 1, len(snapshot.Cells))
	}
}

func TestLeaveDisconnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, registry := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	bob := &Client{ConnectionId: NewId(), DisplayName: "bob", RoomId: "r1"}
	manager.Join(alice)
	manager.Join(bob)
	gateway.clear()

	// leave resolves the display name before session teardown
	manager.Leave(bob)
	registry.Unregister(bob.ConnectionId)

	disconnects := gateway.filter(EventDisconnected)
	assert.Equal(t, 1, len(disconnects))
	assert.Equal(t, "except", disconnects[0].kind)
	assert.Equal(t, bob.ConnectionId, disconnects[0].target)
	payload := disconnects[0].payload.(*DisconnectedPayload)
	assert.Equal(t, "bob", payload.DisplayName)
	assert.Equal(t, bob.ConnectionId, payload.ConnectionId)

	// leaving twice is a no-op
	gateway.clear()
	manager.Leave(bob)
	assert.Equal(t, 0, len(gateway.all()))
}

func TestRoomReap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewSessionRegistry()
	gateway := newTestGateway()
	settings := DefaultRoomManagerSettings()
	settings.ReapGracePeriod = 50 * time.Millisecond
	manager := NewRoomManager(ctx, registry, gateway, NewEchoRunner(), settings)
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	manager.Leave(alice)
	assert.Equal(t, 1, manager.RoomCount())

	end := time.Now().Add(5 * time.Second)
	for manager.RoomCount() != 0 {
		if end.Before(time.Now()) {
			t.Fatal("empty room was not reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// a rejoin after the reap gets a fresh seeded room
	manager.Join(alice)
	assert.Equal(t, 1, manager.RoomCount())
}

func TestRejoinCancelsReap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewSessionRegistry()
	gateway := newTestGateway()
	settings := DefaultRoomManagerSettings()
	settings.ReapGracePeriod = 200 * time.Millisecond
	manager := NewRoomManager(ctx, registry, gateway, NewEchoRunner(), settings)
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	manager.InsertCell("r1", alice.ConnectionId, &Cell{Id: "x", Type: CellTypeCode}, nil)
	manager.Leave(alice)

	// rejoin inside the grace period keeps the room and its state
	time.Sleep(50 * time.Millisecond)
	manager.Join(alice)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, manager.RoomCount())

	gateway.clear()
	manager.SyncNotebook("r1", alice.ConnectionId)
	states := gateway.filter(EventNotebookState)
	assert.Equal(t, 1, len(states))
	// seed plus the inserted cell survived
	assert.Equal(t, 2, len(states[0].payload.(*NotebookStatePayload).Notebook.Cells))
}

func TestMutationsBroadcastExceptSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	gateway.clear()

	index := 0
	manager.InsertCell("r1", alice.ConnectionId, &Cell{Id: "m", Type: CellTypeMarkdown, Content: "# hi"}, &index)

	adds := gateway.filter(EventAddCell)
	assert.Equal(t, 1, len(adds))
	assert.Equal(t, "except", adds[0].kind)
	assert.Equal(t, alice.ConnectionId, adds[0].target)
	payload := adds[0].payload.(*AddCellPayload)
	assert.Equal(t, "m", payload.Cell.Id)
	assert.Equal(t, 0, *payload.Index)

	manager.UpdateCell("r1", alice.ConnectionId, "m", "# hello", "", "")
	updates := gateway.filter(EventUpdateCell)
	assert.Equal(t, 1, len(updates))
	assert.Equal(t, "# hello", updates[0].payload.(*UpdateCellPayload).Content)

	manager.DeleteCell("r1", alice.ConnectionId, "m")
	deletes := gateway.filter(EventDeleteCell)
	assert.Equal(t, 1, len(deletes))
	assert.Equal(t, "m", deletes[0].payload.(*DeleteCellPayload).CellId)
}

func TestAbsentRoomAndCellNoOps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	// all of these race a just-closed room and must not crash or emit
	manager.InsertCell("ghost", NewId(), &Cell{Id: "a", Type: CellTypeCode}, nil)
	manager.DeleteCell("ghost", NewId(), "a")
	manager.UpdateCell("ghost", NewId(), "a", "x", "", "")
	manager.ReorderCells("ghost", NewId(), []string{"a"})
	manager.ExecuteCell("ghost", "a")
	manager.SyncNotebook("ghost", NewId())
	assert.Equal(t, 0, len(gateway.all()))

	// absent cell in a live room
	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	gateway.clear()
	manager.DeleteCell("r1", alice.ConnectionId, "missing")
	manager.UpdateCell("r1", alice.ConnectionId, "missing", "x", "", "")
	assert.Equal(t, 0, len(gateway.all()))
}

func TestMalformedPayloadRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	gateway.clear()

	// unknown cell type: ignored, no broadcast
	manager.InsertCell("r1", alice.ConnectionId, &Cell{Id: "g", Type: CellType("graph")}, nil)
	manager.UpdateCell("r1", alice.ConnectionId, "g", "x", CellType("graph"), "")
	manager.InsertCell("r1", alice.ConnectionId, nil, nil)
	manager.InsertCell("r1", alice.ConnectionId, &Cell{Type: CellTypeCode}, nil)
	assert.Equal(t, 0, len(gateway.all()))
}

// the resulting order and content are independent of which client
// issued each operation: identical to a single-threaded replay
func TestReceiptOrderDeterminism(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	bob := &Client{ConnectionId: NewId(), DisplayName: "bob", RoomId: "r1"}
	manager.Join(alice)
	manager.Join(bob)
	gateway.clear()

	zero := 0
	manager.InsertCell("r1", alice.ConnectionId, &Cell{Id: "a", Type: CellTypeCode, Content: "1"}, &zero)
	manager.InsertCell("r1", bob.ConnectionId, &Cell{Id: "b", Type: CellTypeMarkdown, Content: "2"}, &zero)
	manager.UpdateCell("r1", alice.ConnectionId, "b", "2b", "", "")
	manager.ReorderCells("r1", bob.ConnectionId, []string{"a", "b"})
	manager.DeleteCell("r1", alice.ConnectionId, "a")

	manager.SyncNotebook("r1", alice.ConnectionId)
	states := gateway.filter(EventNotebookState)
	assert.Equal(t, 1, len(states))
	result := states[0].payload.(*NotebookStatePayload).Notebook
	assert.Equal(t, []string{"b"}, cellIds(result))
	assert.Equal(t, "2b", result.Cells[0].Content)
}

func TestDuplicateInsertIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, gateway, _ := newTestManager(ctx, NewEchoRunner())
	defer manager.Close()

	alice := &Client{ConnectionId: NewId(), DisplayName: "alice", RoomId: "r1"}
	manager.Join(alice)
	gateway.clear()

	cell := &Cell{Id: "a", Type: CellTypeCode}
	manager.InsertCell("r1", alice.ConnectionId, cell, nil)
	manager.InsertCell("r1", alice.ConnectionId, cell, nil)

	assert.Equal(t, 1, len(gateway.filter(EventAddCell)))
}
