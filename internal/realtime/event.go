// Package realtime carries best-effort change notifications between
// operators. Delivery is at-most-once; receivers treat every event as a hint
// to refresh, never as data.
package realtime

import "context"

// EventTaskChanged is the only event name on the channel.
const EventTaskChanged = "task_changed"

// Payload types.
const (
	TypeTransfer = "transfer"
	TypeUnassign = "unassign"
	TypeUpdate   = "update"
)

// Event is the wire shape of a notification.
type Event struct {
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

// Payload describes what changed.
type Payload struct {
	Type     string `json:"type"`
	TaskID   string `json:"taskId,omitempty"`
	ToUser   string `json:"toUser,omitempty"`
	FromUser string `json:"fromUser,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// NewEvent builds a task_changed event.
func NewEvent(typ, taskID, actor string) Event {
	return Event{
		Event:   EventTaskChanged,
		Payload: Payload{Type: typ, TaskID: taskID, Actor: actor},
	}
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber delivers events until ctx is done, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
