package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"taskboard-sync/domain"
)

type member struct {
	conn domain.Connection
	room string
}

// Hub is the connection registry and room broadcaster. A single mutex guards
// both directions of the index (room -> connections, connection -> room) and
// serializes broadcasts, so events for one room reach every member in the
// order Broadcast was called.
type Hub struct {
	log   *slog.Logger
	mu    sync.Mutex
	conns map[string]*member
	rooms map[string]map[string]domain.Connection
}

func New(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[string]*member),
		rooms: make(map[string]map[string]domain.Connection),
	}
}

// Register adds a connection with no room. Registering twice keeps the
// existing room assignment.
func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID()]; ok {
		return
	}
	h.conns[conn.ID()] = &member{conn: conn}
	h.log.Debug("client connected", "connId", conn.ID(), "clients", len(h.conns))
}

// Join moves the connection into room, leaving its previous room first.
// Joining the current room is a no-op. Unregistered connections are ignored
// so a late frame can never resurrect a closed transport.
func (h *Hub) Join(conn domain.Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[conn.ID()]
	if !ok {
		h.log.Debug("join ignored for unregistered connection", "connId", conn.ID(), "room", room)
		return
	}
	if m.room == room {
		return
	}
	if m.room != "" {
		h.removeFromRoom(conn.ID(), m.room)
	}

	clients, exists := h.rooms[room]
	if !exists {
		clients = make(map[string]domain.Connection)
		h.rooms[room] = clients
	}
	clients[conn.ID()] = conn
	m.room = room

	h.log.Info("client joined", "room", room, "connId", conn.ID(), "clients", len(clients))
}

// Leave removes the connection from its room and from the registry. It is
// safe to call more than once and for connections that never joined.
func (h *Hub) Leave(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[conn.ID()]
	if !ok {
		return
	}
	if m.room != "" {
		h.removeFromRoom(conn.ID(), m.room)
	}
	delete(h.conns, conn.ID())

	h.log.Debug("client disconnected", "connId", conn.ID(), "room", m.room, "clients", len(h.conns))
}

// removeFromRoom must be called with h.mu held.
func (h *Hub) removeFromRoom(connID, room string) {
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, connID)
	if len(clients) == 0 {
		delete(h.rooms, room)
		h.log.Debug("room removed", "room", room)
	}
}

// Broadcast sends event to every ready member of room. Members that are not
// ready or whose send fails are skipped; nothing is retried or reported back.
func (h *Hub) Broadcast(room string, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event encoding failed", "room", room, "kind", event.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[room]
	if !ok {
		return
	}

	delivered := 0
	for _, conn := range lo.Values(clients) {
		if !conn.Ready() {
			h.log.Debug("skipping client not ready", "room", room, "connId", conn.ID())
			continue
		}
		if err := conn.Send(data); err != nil {
			h.log.Debug("send failed", "room", room, "connId", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	h.log.Debug("event broadcast", "room", room, "kind", event.Type, "delivered", delivered, "members", len(clients))
}

// RoomOf returns the room the connection currently belongs to.
func (h *Hub) RoomOf(conn domain.Connection) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[conn.ID()]
	if !ok || m.room == "" {
		return "", false
	}
	return m.room, true
}

func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Stats reports the number of live rooms and registered connections.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms), len(h.conns)
}

// CloseAll closes every registered transport. Each connection leaves the hub
// through its own teardown path.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := lo.MapToSlice(h.conns, func(_ string, m *member) domain.Connection { return m.conn })
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			h.log.Debug("close failed", "connId", conn.ID(), "error", err)
		}
	}
	h.log.Info("closed all clients", "clients", len(conns))
}
