package server

import (
	"sync"

	"github.com/bytedance/sonic"
	"github.com/golang/glog"

	"github.com/collabai/notebook/notebook"
)

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ConnGateway fans events out over live websocket connections.
// Its room index mirrors the room coordinator's membership: the
// transport subscribes a connection before the join is sequenced and
// unsubscribes after the leave, so no sequenced broadcast is lost.
// Delivery is fire-and-forget: a full send buffer drops the frame.
type ConnGateway struct {
	mutex sync.Mutex
	// connection id -> conn
	conns map[notebook.Id]*conn
	// room id -> connection id -> conn
	rooms map[string]map[notebook.Id]*conn
}

func NewConnGateway() *ConnGateway {
	return &ConnGateway{
		conns: map[notebook.Id]*conn{},
		rooms: map[string]map[notebook.Id]*conn{},
	}
}

func (self *ConnGateway) add(c *conn) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.conns[c.connectionId] = c
}

func (self *ConnGateway) subscribe(c *conn, roomId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	members, ok := self.rooms[roomId]
	if !ok {
		members = map[notebook.Id]*conn{}
		self.rooms[roomId] = members
	}
	members[c.connectionId] = c
}

func (self *ConnGateway) unsubscribe(c *conn, roomId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if members, ok := self.rooms[roomId]; ok {
		delete(members, c.connectionId)
		if len(members) == 0 {
			delete(self.rooms, roomId)
		}
	}
}

func (self *ConnGateway) remove(c *conn) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.conns, c.connectionId)
	for roomId, members := range self.rooms {
		delete(members, c.connectionId)
		if len(members) == 0 {
			delete(self.rooms, roomId)
		}
	}
}

// notebook.Gateway implementation

func (self *ConnGateway) ToOne(connectionId notebook.Id, event string, payload any) {
	message, err := encodeEnvelope(event, payload)
	if err != nil {
		return
	}

	self.mutex.Lock()
	c, ok := self.conns[connectionId]
	self.mutex.Unlock()
	if !ok {
		return
	}
	c.deliver(message)
}

func (self *ConnGateway) ToRoomExcept(roomId string, excludedConnectionId notebook.Id, event string, payload any) {
	self.fanOut(roomId, &excludedConnectionId, event, payload)
}

func (self *ConnGateway) ToRoomAll(roomId string, event string, payload any) {
	self.fanOut(roomId, nil, event, payload)
}

func (self *ConnGateway) fanOut(roomId string, excluded *notebook.Id, event string, payload any) {
	message, err := encodeEnvelope(event, payload)
	if err != nil {
		return
	}

	self.mutex.Lock()
	targets := []*conn{}
	for connectionId, c := range self.rooms[roomId] {
		if excluded != nil && connectionId == *excluded {
			continue
		}
		targets = append(targets, c)
	}
	self.mutex.Unlock()

	for _, c := range targets {
		c.deliver(message)
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	message, err := sonic.Marshal(&envelope{
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		glog.Warningf("[gw]encode %s = %s\n", event, err)
		return nil, err
	}
	return message, nil
}
