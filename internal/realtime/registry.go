// Package realtime delivers fan-out events to live client connections.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"order-payment-service/internal/auth"
	"order-payment-service/internal/util"

	"go.uber.org/zap"
)

// Room names
const (
	RoomAdmin  = "admin"
	RoomPublic = "public"
)

// Event names pushed to clients
const (
	EventOrderNew           = "order:new"
	EventOrderStatusUpdated = "order:status:updated"
	EventUserDeactivated    = "user:deactivated"
	EventCategoryPrefix     = "category:"
)

// UserRoom is the private room of one user.
func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// RoomsFor lists the rooms a connection joins at handshake.
func RoomsFor(p auth.Principal) []string {
	switch p.Kind {
	case auth.KindAdmin:
		return []string{RoomPublic, UserRoom(p.UserID), RoomAdmin}
	case auth.KindUser:
		return []string{RoomPublic, UserRoom(p.UserID)}
	}
	return []string{RoomPublic}
}

// Message is one pushed event
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Conn is a live client connection handle
type Conn interface {
	ID() string
	Principal() auth.Principal
	Send(msg Message) error
}

// Publisher pushes an event to every connection in a room
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) (int, error)
}

// Registry maps rooms to live connections
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]Conn),
		logger: util.GetLogger(),
	}
}

// Join adds conn to room.
func (r *Registry) Join(room string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[conn.ID()] = conn
	util.RealtimeConnections.WithLabelValues(roomKind(room)).Inc()
}

// Leave removes conn from room.
func (r *Registry) Leave(room string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, conn.ID())
}

// LeaveAll removes conn from every room it joined.
func (r *Registry) LeaveAll(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.rooms {
		r.leaveLocked(room, conn.ID())
	}
}

func (r *Registry) leaveLocked(room, id string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[id]; !ok {
		return
	}
	delete(members, id)
	util.RealtimeConnections.WithLabelValues(roomKind(room)).Dec()
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns the number of connections in room.
func (r *Registry) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Publish sends the event to every connection currently in room and returns
// how many accepted it. A failing connection only loses its own delivery.
func (r *Registry) Publish(_ context.Context, room, event string, payload any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	return r.Deliver(room, Message{Event: event, Payload: raw}), nil
}

// Deliver sends an already encoded message to room.
func (r *Registry) Deliver(room string, msg Message) int {
	r.mu.RLock()
	members := make([]Conn, 0, len(r.rooms[room]))
	for _, c := range r.rooms[room] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if err := c.Send(msg); err != nil {
			r.logger.Debug("Push delivery failed",
				zap.String("room", room),
				zap.String("conn_id", c.ID()),
				zap.Error(err))
			util.NotificationPushes.WithLabelValues(msg.Event, "dropped").Inc()
			continue
		}
		delivered++
		util.NotificationPushes.WithLabelValues(msg.Event, "delivered").Inc()
	}
	return delivered
}

func roomKind(room string) string {
	switch room {
	case RoomAdmin, RoomPublic:
		return room
	}
	return "user"
}
