package notebook

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/exp/maps"
)

// Client is owned by the session layer and referenced, never owned,
// by room coordinators.
type Client struct {
	ConnectionId Id
	DisplayName  string
	RoomId       string
}

// Room is the unit of collaboration: one notebook, one member set,
// one serialization point. The state lock is the room's single-writer
// discipline: every notebook mutation and its broadcast happen under it,
// so events leave in the order mutations were applied.
type Room struct {
	roomId string

	stateLock sync.Mutex
	notebook  *Notebook
	// connection id -> client
	members map[Id]*Client
	// set once when the manager drops the room. A join that observes
	// the flag re-creates the room rather than resurrecting this one.
	reaped bool
}

func newRoom(roomId string) *Room {
	return &Room{
		roomId:   roomId,
		notebook: NewSeededNotebook(),
		members:  map[Id]*Client{},
	}
}

// membership snapshot in no particular order
func (self *Room) memberList() []Member {
	members := []Member{}
	for _, client := range maps.Values(self.members) {
		members = append(members, Member{
			ConnectionId: client.ConnectionId,
			DisplayName:  client.DisplayName,
		})
	}
	return members
}

type RoomManagerSettings struct {
	// zero-member rooms are reaped after this grace period.
	// a rejoin inside the period cancels the reap.
	ReapGracePeriod time.Duration
	// wall-clock bound on a single cell execution
	ExecuteTimeout time.Duration
}

func DefaultRoomManagerSettings() *RoomManagerSettings {
	return &RoomManagerSettings{
		ReapGracePeriod: 15 * time.Minute,
		ExecuteTimeout:  30 * time.Second,
	}
}

// RoomManager owns every live room and is the only component that may
// reach notebook state. Cross-room operations are fully independent.
type RoomManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry *SessionRegistry
	gateway  Gateway
	runner   ExecutionService

	settings *RoomManagerSettings

	mutex sync.Mutex
	// room id -> room
	rooms map[string]*Room

	reap *ttlcache.Cache[string, *Room]
}

func NewRoomManagerWithDefaults(
	ctx context.Context,
	registry *SessionRegistry,
	gateway Gateway,
	runner ExecutionService,
) *RoomManager {
	return NewRoomManager(ctx, registry, gateway, runner, DefaultRoomManagerSettings())
}

func NewRoomManager(
	ctx context.Context,
	registry *SessionRegistry,
	gateway Gateway,
	runner ExecutionService,
	settings *RoomManagerSettings,
) *RoomManager {
	cancelCtx, cancel := context.WithCancel(ctx)

	reap := ttlcache.New[string, *Room](
		ttlcache.WithTTL[string, *Room](settings.ReapGracePeriod),
		ttlcache.WithDisableTouchOnHit[string, *Room](),
	)

	manager := &RoomManager{
		ctx:      cancelCtx,
		cancel:   cancel,
		registry: registry,
		gateway:  gateway,
		runner:   runner,
		settings: settings,
		rooms:    map[string]*Room{},
		reap:     reap,
	}

	reap.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Room]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		manager.reapRoom(item.Key(), item.Value())
	})

	go reap.Start()
	go func() {
		<-cancelCtx.Done()
		reap.Stop()
	}()

	return manager
}

// EnsureRoom creates-if-absent with a seeded notebook.
// Compare-and-create under the manager lock: concurrent first joins
// observe exactly one seed.
func (self *RoomManager) EnsureRoom(roomId string) *Room {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	room, ok := self.rooms[roomId]
	if !ok {
		room = newRoom(roomId)
		self.rooms[roomId] = room
		glog.V(1).Infof("[room]create %s\n", roomId)
	}
	return room
}

func (self *RoomManager) room(roomId string) *Room {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.rooms[roomId]
}

func (self *RoomManager) RoomCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.rooms)
}

// Join adds the client to the room and, in one sequenced step:
// announces the new membership to every member, the joiner included,
// then delivers the notebook snapshot privately to the joiner. The
// joiner's own joined event is how it learns who is already in the
// room. The snapshot reflects the notebook exactly as of the join, so
// a racing insert is either in the snapshot or arrives later as its
// own add-cell, never both.
func (self *RoomManager) Join(client *Client) {
	self.registry.Register(client.ConnectionId, client.DisplayName)
	self.reap.Delete(client.RoomId)

	var room *Room
	for {
		room = self.EnsureRoom(client.RoomId)
		room.stateLock.Lock()
		if !room.reaped {
			break
		}
		// lost a race with the reaper. EnsureRoom again for a fresh room.
		room.stateLock.Unlock()
	}
	defer room.stateLock.Unlock()

	room.members[client.ConnectionId] = client

	self.gateway.ToRoomAll(room.roomId, EventJoined, &JoinedPayload{
		Members:      room.memberList(),
		DisplayName:  client.DisplayName,
		ConnectionId: client.ConnectionId,
	})
	self.gateway.ToOne(client.ConnectionId, EventNotebookState, &NotebookStatePayload{
		Notebook: room.notebook.Snapshot(),
	})

	glog.V(1).Infof("[room]join %s %s\n", room.roomId, client.ConnectionId)
}

// Leave removes membership and tells the remaining members.
// The display name is resolved before the session registry teardown,
// which the transport layer performs after this returns.
func (self *RoomManager) Leave(client *Client) {
	room := self.room(client.RoomId)
	if room == nil {
		return
	}

	displayName, _ := self.registry.ResolveDisplayName(client.ConnectionId)

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	if _, ok := room.members[client.ConnectionId]; !ok {
		return
	}
	delete(room.members, client.ConnectionId)

	self.gateway.ToRoomExcept(room.roomId, client.ConnectionId, EventDisconnected, &DisconnectedPayload{
		ConnectionId: client.ConnectionId,
		DisplayName:  displayName,
	})

	if len(room.members) == 0 {
		self.reap.Set(room.roomId, room, ttlcache.DefaultTTL)
	}

	glog.V(1).Infof("[room]leave %s %s\n", room.roomId, client.ConnectionId)
}

// drop an expired zero-member room. A join that raced the expiry wins:
// the room is kept if anyone is back inside.
func (self *RoomManager) reapRoom(roomId string, room *Room) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	current, ok := self.rooms[roomId]
	if !ok || current != room {
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	if 0 < len(room.members) {
		return
	}
	room.reaped = true
	delete(self.rooms, roomId)
	glog.V(1).Infof("[room]reap %s\n", roomId)
}

func (self *RoomManager) Close() {
	self.cancel()
}
