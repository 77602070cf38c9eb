package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/collabai/notebook/notebook"
)

const SendBufferSize = 32

type ServerSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingTimeout        time.Duration
	MaxMessageSize     int64
	// HMAC secret for optional signed client tokens. Empty disables
	// token validation.
	TokenSecret string
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		WsHandshakeTimeout: 2 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
		PingTimeout:        15 * time.Second,
		MaxMessageSize:     4 * 1024 * 1024,
	}
}

// Server is the websocket edge of the sync core: it upgrades
// connections, decodes the event envelope, and forwards each event to
// the room coordinator. It owns nothing the coordinator owns; a
// connection's only state here is its identity and current room.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager  *notebook.RoomManager
	registry *notebook.SessionRegistry
	gateway  *ConnGateway

	upgrader websocket.Upgrader

	settings *ServerSettings
}

func NewServerWithDefaults(
	ctx context.Context,
	manager *notebook.RoomManager,
	registry *notebook.SessionRegistry,
	gateway *ConnGateway,
) *Server {
	return NewServer(ctx, manager, registry, gateway, DefaultServerSettings())
}

func NewServer(
	ctx context.Context,
	manager *notebook.RoomManager,
	registry *notebook.SessionRegistry,
	gateway *ConnGateway,
	settings *ServerSettings,
) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:      cancelCtx,
		cancel:   cancel,
		manager:  manager,
		registry: registry,
		gateway:  gateway,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.WsHandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				// the browser client is served from arbitrary hosts
				return true
			},
		},
		settings: settings,
	}
}

func (self *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", self.HandleWs)
	return mux
}

type conn struct {
	server *Server

	connectionId notebook.Id
	// display name from a validated client token, empty otherwise
	tokenDisplayName string

	ws     *websocket.Conn
	sendCh chan []byte

	// the joined client, nil before the first join event
	client *notebook.Client
}

// non-blocking. A slow consumer drops frames rather than stalling a
// room's fan-out.
func (self *conn) deliver(message []byte) {
	select {
	case self.sendCh <- message:
	default:
		glog.Infof("[ws]drop %s->\n", self.connectionId)
	}
}

func (self *Server) HandleWs(w http.ResponseWriter, r *http.Request) {
	tokenDisplayName := ""
	if token := r.URL.Query().Get("token"); token != "" {
		displayName, err := ParseClientToken(token, self.settings.TokenSecret)
		if err != nil {
			glog.Infof("[ws]token error = %s\n", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		tokenDisplayName = displayName
	}

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[ws]upgrade error = %s\n", err)
		return
	}

	c := &conn{
		server:           self,
		connectionId:     notebook.NewId(),
		tokenDisplayName: tokenDisplayName,
		ws:               ws,
		sendCh:           make(chan []byte, SendBufferSize),
	}

	self.gateway.add(c)
	glog.V(1).Infof("[ws]connect %s\n", c.connectionId)

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go c.writePump(handleCtx, handleCancel)
	c.readPump(handleCtx, handleCancel)

	// teardown order: leave first so the departure event can still
	// resolve the display name, then tear the session down
	if c.client != nil {
		self.manager.Leave(c.client)
	}
	self.gateway.remove(c)
	self.registry.Unregister(c.connectionId)
	glog.V(1).Infof("[ws]disconnect %s\n", c.connectionId)
}

func (self *conn) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	defer self.ws.Close()

	settings := self.server.settings
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-self.sendCh:
			if !ok {
				return
			}
			self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				// a websocket write deadline cannot be recovered
				glog.V(1).Infof("[ws]%s-> error = %s\n", self.connectionId, err)
				return
			}
			glog.V(2).Infof("[ws]%s->\n", self.connectionId)
		case <-time.After(settings.PingTimeout):
			self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (self *conn) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	settings := self.server.settings
	self.ws.SetReadLimit(settings.MaxMessageSize)
	self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[ws]%s<- error = %s\n", self.connectionId, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			self.dispatch(message)
		default:
			// the protocol is JSON text frames only
			glog.V(2).Infof("[ws]other=%d %s<-\n", messageType, self.connectionId)
		}
	}
}

// dispatch decodes one envelope and forwards it to the coordinator.
// A malformed payload drops the event; nothing a client sends can
// fault the connection loop or any room.
func (self *conn) dispatch(message []byte) {
	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := sonic.Unmarshal(message, &env); err != nil {
		glog.V(1).Infof("[ws]%s<- bad envelope = %s\n", self.connectionId, err)
		return
	}

	manager := self.server.manager

	switch env.Event {
	case notebook.EventJoin:
		var payload notebook.JoinPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		self.join(payload.RoomId, payload.DisplayName)
	case notebook.EventAddCell:
		var payload notebook.AddCellPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.InsertCell(payload.RoomId, self.connectionId, payload.Cell, payload.Index)
	case notebook.EventDeleteCell:
		var payload notebook.DeleteCellPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.DeleteCell(payload.RoomId, self.connectionId, payload.CellId)
	case notebook.EventUpdateCell:
		var payload notebook.UpdateCellPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.UpdateCell(payload.RoomId, self.connectionId, payload.CellId, payload.Content, payload.CellType, payload.Language)
	case notebook.EventReorderCells:
		var payload notebook.ReorderCellsPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.ReorderCells(payload.RoomId, self.connectionId, payload.CellIds)
	case notebook.EventExecuteCell:
		var payload notebook.ExecuteCellPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.ExecuteCell(payload.RoomId, payload.CellId)
	case notebook.EventSyncNotebook:
		var payload notebook.SyncNotebookPayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		// a zero connection id means the requester itself, which does
		// not know its server-assigned id
		if payload.ConnectionId == (notebook.Id{}) {
			payload.ConnectionId = self.connectionId
		}
		manager.SyncNotebook(payload.RoomId, payload.ConnectionId)
	case notebook.EventCodeChange:
		var payload notebook.CodeChangePayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.CodeChange(payload.RoomId, self.connectionId, payload.Code)
	case notebook.EventSyncCode:
		var payload notebook.SyncCodePayload
		if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		manager.SyncCode(payload.ConnectionId, payload.Code)
	default:
		glog.V(1).Infof("[ws]%s<- unknown event %q\n", self.connectionId, env.Event)
	}
}

func (self *conn) join(roomId string, displayName string) {
	if roomId == "" {
		return
	}
	if self.tokenDisplayName != "" {
		displayName = self.tokenDisplayName
	}

	if self.client != nil {
		if self.client.RoomId == roomId {
			return
		}
		self.server.manager.Leave(self.client)
		self.server.gateway.unsubscribe(self, self.client.RoomId)
	}

	client := &notebook.Client{
		ConnectionId: self.connectionId,
		DisplayName:  displayName,
		RoomId:       roomId,
	}
	// subscribe before the join is sequenced so every broadcast after
	// the join, including the join's own snapshot, can reach this conn
	self.server.gateway.subscribe(self, roomId)
	self.server.manager.Join(client)
	self.client = client
}

func (self *Server) Close() {
	self.cancel()
}
