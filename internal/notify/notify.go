package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"checkin/internal/queue"
)

// MessageType tags queue messages carrying an Event.
const MessageType = "notification"

// Level mirrors the toast variants of the check-in screens.
type Level string

const (
	LevelInfo        Level = "info"
	LevelDestructive Level = "destructive"
)

// Event is a human-readable status update from a check-in session.
type Event struct {
	SessionID   string            `json:"session_id"`
	Flow        string            `json:"flow"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Level       Level             `json:"level"`
	At          time.Time         `json:"at"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// Notifier delivers events to the user.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) error { return nil }

// Log writes events through the standard logger.
type Log struct {
	Logger *log.Logger
}

func (l Log) Notify(_ context.Context, e Event) error {
	logf := log.Printf
	if l.Logger != nil {
		logf = l.Logger.Printf
	}
	logf("[%s] session %s (%s): %s: %s", e.Level, e.SessionID, e.Flow, e.Title, e.Description)
	return nil
}

// DefaultPublishTimeout bounds a Queue publish when Timeout is unset.
const DefaultPublishTimeout = 250 * time.Millisecond

// Queue publishes events for out-of-process consumers. A publish that cannot
// complete within Timeout is abandoned with an error.
type Queue struct {
	Q       queue.Queue
	Timeout time.Duration
}

func (n Queue) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return n.Q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Multi fans an event out to every notifier, joining failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode extracts an Event from a queue message.
func Decode(msg queue.Message) (Event, error) {
	if msg.Type != MessageType {
		return Event{}, errors.New("not a notification message")
	}
	var e Event
	err := json.Unmarshal(msg.Body, &e)
	return e, err
}

// Consume decodes notifications from q and hands each to fn until ctx ends
// or the queue closes. Messages of other types are skipped.
func Consume(ctx context.Context, q queue.Queue, fn func(Event)) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		evt, err := Decode(msg)
		if err != nil {
			log.Printf("skip message of type %q: %v", msg.Type, err)
			continue
		}
		fn(evt)
	}
	return ctx.Err()
}
