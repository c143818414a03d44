package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"mentorhub/pkg/domain"
)

// Status tracks an outgoing message.
type Status int

const (
	// StatusSent marks messages confirmed by the server, including everything
	// received from other participants.
	StatusSent Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "sent"
	}
}

// Entry is one message in a room timeline.
type Entry struct {
	LocalID string
	Message domain.Message
	Status  Status
	seq     uint64
}

// Timeline is the per-room message state. Messages are ordered by server
// timestamp, with arrival order breaking ties, and deduplicated by id.
type Timeline struct {
	mu    sync.Mutex
	self  domain.ID
	seq   uint64
	rooms map[domain.ID][]*Entry
}

func NewTimeline() *Timeline {
	return &Timeline{rooms: make(map[domain.ID][]*Entry)}
}

// SetSelf records the local user so echoes of our own messages can be matched.
func (t *Timeline) SetSelf(id domain.ID) {
	t.mu.Lock()
	t.self = id
	t.mu.Unlock()
}

// AddLocal records an outgoing message as pending and returns its local id.
func (t *Timeline) AddLocal(room domain.ID, msg domain.Message) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	e := &Entry{LocalID: uuid.NewString(), Message: msg, Status: StatusPending, seq: t.seq}
	e.Message.RoomID = room
	t.rooms[room] = append(t.rooms[room], e)
	return e.LocalID
}

// MarkFailed flags a local message as failed.
func (t *Timeline) MarkFailed(localID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, list := range t.rooms {
		for _, e := range list {
			if e.LocalID == localID {
				e.Status = StatusFailed
				return true
			}
		}
	}
	return false
}

// Receive applies a server message. It reports false for duplicates. An echo
// of our own message confirms the oldest pending message with the same content.
func (t *Timeline) Receive(room domain.ID, msg domain.Message) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg.RoomID = room
	list := t.rooms[room]
	if !msg.ID.IsZero() {
		for _, e := range list {
			if e.Message.ID == msg.ID {
				return *e, false
			}
		}
	}
	if !t.self.IsZero() && msg.SenderID == t.self {
		for _, e := range list {
			if e.Status == StatusPending && e.Message.Content == msg.Content {
				local := e.Message.Timestamp
				e.Message = msg
				if e.Message.Timestamp.IsZero() {
					e.Message.Timestamp = local
				}
				e.Status = StatusSent
				return *e, true
			}
		}
	}
	t.seq++
	e := &Entry{Message: msg, Status: StatusSent, seq: t.seq}
	if e.Message.Timestamp.IsZero() {
		e.Message.Timestamp = time.Now().UTC()
	}
	t.rooms[room] = append(list, e)
	return *e, true
}

// Merge adds loaded history, skipping ids already present.
func (t *Timeline) Merge(room domain.ID, history []domain.Message) int {
	added := 0
	for _, msg := range history {
		if _, ok := t.Receive(room, msg); ok {
			added++
		}
	}
	return added
}

// Messages returns the room's timeline in display order.
func (t *Timeline) Messages(room domain.ID) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.rooms[room]
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = *e
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Message.Timestamp, out[j].Message.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Rooms lists the rooms that have messages.
func (t *Timeline) Rooms() []domain.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ID, 0, len(t.rooms))
	for id := range t.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
