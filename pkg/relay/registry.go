package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"go.uber.org/zap"
)

var (
	ErrInvalidRoom   = errors.New("invalid room id")
	ErrConnNotActive = errors.New("connection is not active")
	ErrMissingSender = errors.New("participant id is required")
)

// Room is a set of connections keyed by connection ID. It exists only while
// it has members.
type Room struct {
	ID        string
	CreatedAt time.Time
	members   map[string]*Connection
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry maps room IDs to their member connections.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(log *zap.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
}

// Join puts conn in roomID under participantID, leaving any previous room
// first, and returns the members that were already present.
func (r *Registry) Join(roomID string, conn *Connection, participantID string) ([]*Connection, error) {
	return r.JoinWithGreeting(roomID, conn, participantID, nil)
}

// JoinWithGreeting is Join, and additionally queues greet(peers) for conn
// before the registry lock is released.
func (r *Registry) JoinWithGreeting(roomID string, conn *Connection, participantID string, greet func(peers []*Connection) *protocol.Message) ([]*Connection, error) {
	roomID = protocol.NormalizeRoomID(roomID)
	if !protocol.ValidRoomID(roomID) {
		return nil, ErrInvalidRoom
	}
	if participantID == "" {
		return nil, ErrMissingSender
	}
	if !conn.Writable() {
		return nil, ErrConnNotActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := conn.RoomID(); prev != "" {
		r.removeLocked(prev, conn)
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, CreatedAt: r.now(), members: make(map[string]*Connection)}
		r.rooms[roomID] = room
		r.metrics.setRooms(len(r.rooms))
		r.log.Info("room created", zap.String("room", roomID))
	}

	peers := make([]*Connection, 0, len(room.members))
	for _, m := range room.members {
		peers = append(peers, m)
	}

	conn.mu.Lock()
	conn.participantID = participantID
	conn.roomID = roomID
	conn.mu.Unlock()
	room.members[conn.ID] = conn
	if greet != nil {
		r.Send(conn, greet(peers))
	}

	r.log.Info("participant joined",
		zap.String("room", roomID),
		zap.String("participant", participantID),
		zap.Int("members", len(room.members)))
	return peers, nil
}

// Leave removes conn from its room. It returns the room and the members
// still in it; ok is false when conn was not in a room.
func (r *Registry) Leave(conn *Connection) (roomID string, remaining []*Connection, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID = conn.RoomID()
	if roomID == "" {
		return "", nil, false
	}
	remaining = r.removeLocked(roomID, conn)
	r.log.Info("participant left",
		zap.String("room", roomID),
		zap.String("participant", conn.ParticipantID()),
		zap.Int("members", len(remaining)))
	return roomID, remaining, true
}

func (r *Registry) removeLocked(roomID string, conn *Connection) []*Connection {
	conn.mu.Lock()
	conn.roomID = ""
	conn.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room.members, conn.ID)
	if len(room.members) == 0 {
		delete(r.rooms, roomID)
		r.metrics.setRooms(len(r.rooms))
		r.log.Info("room deleted", zap.String("room", roomID))
		return nil
	}
	remaining := make([]*Connection, 0, len(room.members))
	for _, m := range room.members {
		remaining = append(remaining, m)
	}
	return remaining
}

// Broadcast sends msg to every member of roomID except sender, stamping
// From with the sender's participant ID. It returns the number of members
// the frame was queued for.
func (r *Registry) Broadcast(roomID string, sender *Connection, msg *protocol.Message) int {
	return r.deliver(r.snapshot(protocol.NormalizeRoomID(roomID)), sender, msg)
}

// snapshot copies the member list so delivery happens without the lock.
func (r *Registry) snapshot(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(room.members))
	for _, m := range room.members {
		out = append(out, m)
	}
	return out
}

func (r *Registry) deliver(members []*Connection, sender *Connection, msg *protocol.Message) int {
	if len(members) == 0 {
		return 0
	}
	out := msg.Clone()
	if sender != nil {
		out.From = sender.ParticipantID()
	}
	frame, err := protocol.Encode(out)
	if err != nil {
		r.log.Error("encode broadcast", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, m := range members {
		if m == sender {
			continue
		}
		if !m.Enqueue(frame) {
			reason := "queue_full"
			if !m.Writable() {
				reason = "not_writable"
			}
			r.metrics.dropped(reason)
			r.log.Warn("dropped message for peer",
				zap.String("type", string(out.Type)),
				zap.String("peer", m.ParticipantID()),
				zap.String("reason", reason))
			continue
		}
		delivered++
	}
	r.metrics.relayed(out.Type, delivered)
	return delivered
}

// Send queues msg for a single connection.
func (r *Registry) Send(conn *Connection, msg *protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.log.Error("encode message", zap.Error(err))
		return false
	}
	if !conn.Enqueue(frame) {
		r.metrics.dropped("queue_full")
		return false
	}
	return true
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// HasRoom reports whether roomID currently exists.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[protocol.NormalizeRoomID(roomID)]
	return ok
}

// Members returns the participant IDs in roomID, sorted.
func (r *Registry) Members(roomID string) []string {
	conns := r.snapshot(protocol.NormalizeRoomID(roomID))
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ParticipantID())
	}
	sort.Strings(ids)
	return ids
}

// Rooms lists live rooms ordered by creation time.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, RoomInfo{ID: room.ID, Members: len(room.members), CreatedAt: room.CreatedAt})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
