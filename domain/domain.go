//go:generate go run go.uber.org/mock/mockgen -source=domain.go -destination=../mocks/mock_domain.go -package=mocks
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

type Kind string

const (
	KindJoinProject Kind = "JOIN_PROJECT"

	KindProjectCreated Kind = "PROJECT_CREATED"
	KindTaskCreated    Kind = "TASK_CREATED"
	KindTaskUpdated    Kind = "TASK_UPDATED"
	KindTaskDeleted    Kind = "TASK_DELETED"
	KindCommentAdded   Kind = "COMMENT_ADDED"
)

// EventKinds lists every kind the server emits, in a stable order.
var EventKinds = []Kind{
	KindProjectCreated,
	KindTaskCreated,
	KindTaskUpdated,
	KindTaskDeleted,
	KindCommentAdded,
}

func (k Kind) IsEvent() bool {
	return lo.Contains(EventKinds, k)
}

// Event is the server to client envelope. Data is encoded once at
// construction so every recipient sees identical bytes.
type Event struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(kind Kind, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Event{Type: kind, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// ClientMessage is the only frame a client sends.
type ClientMessage struct {
	Type      Kind   `json:"type"`
	ProjectID string `json:"projectId"`
}

type DeletedPayload struct {
	ID string `json:"id"`
}

type CommentPayload struct {
	TaskID  string  `json:"taskId"`
	Comment Comment `json:"comment"`
}

// Connection is one live bidirectional channel with a client.
type Connection interface {
	ID() string
	// UserID is the authenticated caller, empty when the transport was accepted anonymously.
	UserID() string
	// Ready reports whether the transport is open and accepting sends.
	Ready() bool
	Send(data []byte) error
	Close() error
}

// Registry owns the room/connection index.
type Registry interface {
	Register(conn Connection)
	Join(conn Connection, room string)
	Leave(conn Connection)
}

// Broadcaster fans an event out to every ready member of a room. It never fails
// from the caller's point of view.
type Broadcaster interface {
	Broadcast(room string, event Event)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
