// Package realtime tracks live client connections and pushes delivered
// notifications to them.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
)

// Envelope types.
const (
	EnvelopeTypeNotification = "notification"
	EnvelopeTypeSystem       = "system"
)

// Conn is a live client connection. The registry only sends on it and never closes it.
type Conn interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// Envelope is the wire format pushed to clients.
type Envelope struct {
	Type string       `json:"type"`
	Data EnvelopeData `json:"data"`
}

// EnvelopeData carries the client-visible notification fields.
type EnvelopeData struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// NewEnvelope wraps n for clients.
func NewEnvelope(envelopeType string, n domain.Notification) Envelope {
	ts := n.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Envelope{
		Type: envelopeType,
		Data: EnvelopeData{
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			Type:      string(n.Type),
			Timestamp: ts,
			Status:    string(n.Status),
		},
	}
}

// userConns is the connection set of one user. A set marked closed has been
// emptied and is about to leave the registry; it must not receive new connections.
type userConns struct {
	mu     sync.Mutex
	conns  map[string]Conn
	closed atomic.Bool
}

func (u *userConns) snapshot() []Conn {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Conn, 0, len(u.conns))
	for _, c := range u.conns {
		out = append(out, c)
	}
	return out
}

// Registry maps user IDs to their live connections.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userConns
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*userConns)}
}

// Connect registers conn for userID.
func (r *Registry) Connect(conn Conn, userID string) {
	for {
		set := r.getOrCreate(userID)

		set.mu.Lock()
		if set.closed.Load() {
			set.mu.Unlock()
			continue
		}
		_, existed := set.conns[conn.ID()]
		set.conns[conn.ID()] = conn
		set.mu.Unlock()

		if !existed {
			connectionsActive.Inc()
		}
		slog.Debug("connection registered", "user_id", userID, "conn_id", conn.ID())
		return
	}
}

// Disconnect removes conn from userID's set and drops the set once it is empty.
func (r *Registry) Disconnect(conn Conn, userID string) {
	set := r.get(userID)
	if set == nil {
		return
	}
	r.remove(userID, set, []string{conn.ID()})
	slog.Debug("connection unregistered", "user_id", userID, "conn_id", conn.ID())
}

// Deliver pushes n to every connection of userID and returns how many sends succeeded.
// Connections that fail are pruned after the pass.
func (r *Registry) Deliver(ctx context.Context, userID string, n domain.Notification) int {
	set := r.get(userID)
	if set == nil {
		return 0
	}

	envelopeType := EnvelopeTypeNotification
	if n.Type == domain.NotificationTypeSystem {
		envelopeType = EnvelopeTypeSystem
	}

	data, err := json.Marshal(NewEnvelope(envelopeType, n))
	if err != nil {
		slog.Error("failed to encode envelope", "notification_id", n.ID, "error", err)
		return 0
	}

	return r.sendToSet(ctx, userID, set, envelopeType, data)
}

// Broadcast pushes n as a system message to every connection of every user.
func (r *Registry) Broadcast(ctx context.Context, n domain.Notification) int {
	data, err := json.Marshal(NewEnvelope(EnvelopeTypeSystem, n))
	if err != nil {
		slog.Error("failed to encode envelope", "notification_id", n.ID, "error", err)
		return 0
	}

	r.mu.RLock()
	sets := make(map[string]*userConns, len(r.users))
	for userID, set := range r.users {
		sets[userID] = set
	}
	r.mu.RUnlock()

	var delivered int
	for userID, set := range sets {
		delivered += r.sendToSet(ctx, userID, set, EnvelopeTypeSystem, data)
	}
	return delivered
}

// ConnectionCount returns the number of live connections of userID.
func (r *Registry) ConnectionCount(userID string) int {
	set := r.get(userID)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}

// Users returns the IDs of users with at least one connection, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for userID := range r.users {
		out = append(out, userID)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (r *Registry) sendToSet(ctx context.Context, userID string, set *userConns, envelopeType string, data []byte) int {
	var (
		delivered int
		dead      []string
	)
	for _, conn := range set.snapshot() {
		if err := conn.Send(ctx, data); err != nil {
			slog.Debug("connection send failed",
				"user_id", userID,
				"conn_id", conn.ID(),
				"error", err,
			)
			recordSend(envelopeType, false)
			dead = append(dead, conn.ID())
			continue
		}
		recordSend(envelopeType, true)
		delivered++
	}

	if len(dead) > 0 {
		r.remove(userID, set, dead)
	}
	return delivered
}

func (r *Registry) get(userID string) *userConns {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID]
}

func (r *Registry) getOrCreate(userID string) *userConns {
	r.mu.RLock()
	set := r.users[userID]
	r.mu.RUnlock()
	if set != nil && !set.closed.Load() {
		return set
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set = r.users[userID]
	if set == nil || set.closed.Load() {
		set = &userConns{conns: make(map[string]Conn)}
		r.users[userID] = set
	}
	return set
}

// remove deletes connIDs from set and drops the set from the registry once it is empty.
func (r *Registry) remove(userID string, set *userConns, connIDs []string) {
	set.mu.Lock()
	var removed int
	for _, id := range connIDs {
		if _, ok := set.conns[id]; ok {
			delete(set.conns, id)
			removed++
		}
	}
	empty := len(set.conns) == 0
	if empty {
		set.closed.Store(true)
	}
	set.mu.Unlock()

	connectionsActive.Sub(float64(removed))

	if !empty {
		return
	}

	r.mu.Lock()
	if r.users[userID] == set {
		delete(r.users, userID)
	}
	r.mu.Unlock()
}
