// Package realtime carries row-level change events between the process that
// writes to the store and the listeners that keep derived views fresh.
// Delivery order is not guaranteed by any backend.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the row operation that produced an event.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Tables with change streams.
const (
	TableAdherenceLogs = "adherence_logs"
	TableCareLinks     = "care_links"
)

// Event is one change to one row. Record is the post-image for insert and
// update, OldRecord the pre-image for delete.
type Event struct {
	Table     string         `json:"table"`
	Kind      Kind           `json:"kind"`
	Record    map[string]any `json:"record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
	At        time.Time      `json:"at"`
}

// Snapshot returns the row image that identifies the changed row.
func (e Event) Snapshot() map[string]any {
	if e.Kind == KindDelete {
		return e.OldRecord
	}
	return e.Record
}

// Key returns the snapshot value of field as a string, or "" when absent.
func (e Event) Key(field string) string {
	v, ok := e.Snapshot()[field]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// encodeEvent is the wire form shared by the networked feeds.
func encodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// decodeEvent keeps numbers as json.Number so large ids survive Key intact.
func decodeEvent(body []byte) (Event, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

// Handler receives events for one subscription.
type Handler func(Event)

// Publisher emits change events after a successful write.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed is a publish/subscribe transport for change events. Subscribe returns
// once the subscription is live; the handler stops being called when ctx ends.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, table string, h Handler) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func channelName(table string) string { return "realtime." + table }
