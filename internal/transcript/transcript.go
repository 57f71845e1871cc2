package transcript

import (
	"context"
	"log"
	"sync"
	"time"

	"protoloop/internal/database"
)

// Event is one state transition in a session's loop. Sequence
// numbers start at 0 and increase by one per event.
type Event struct {
	Seq       int       `json:"seq"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Iteration int       `json:"iteration"`
	Payload   string    `json:"payload,omitempty"`
	Time      time.Time `json:"time"`
}

// Log is a durable, replayable event stream for one session. The
// iteration controller is the sole writer; any number of consumers
// may subscribe, each receiving every event from sequence 0 and
// then live events as they are appended.
type Log struct {
	sessionID string
	db        *database.TranscriptDB

	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	closed bool
}

// NewLog creates an event log for sessionID. db may be nil; when
// set, every event is written through to the events table.
func NewLog(sessionID string, db *database.TranscriptDB) *Log {
	l := &Log{sessionID: sessionID, db: db}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Append appends one event and wakes all subscribers. Appending to
// a closed log is a programming error and panics.
func (l *Log) Append(state string, iteration int, payload string) Event {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		panic("transcript: append to closed log")
	}
	ev := Event{
		Seq:       len(l.events),
		SessionID: l.sessionID,
		State:     state,
		Iteration: iteration,
		Payload:   payload,
		Time:      time.Now(),
	}
	l.events = append(l.events, ev)
	l.cond.Broadcast()
	l.mu.Unlock()

	if l.db != nil {
		if err := l.db.AppendEvent(ev.SessionID, ev.Seq, ev.State, ev.Iteration, ev.Payload); err != nil {
			log.Printf("transcript: failed to persist event %d: %v", ev.Seq, err)
		}
	}
	return ev
}

// Close marks the log complete. Subscribers drain the remaining
// events and their channels are closed.
func (l *Log) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Events returns a copy of all events appended so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Subscribe returns a channel replaying the full history from
// sequence 0 and then delivering live events. The channel closes
// when the log closes or ctx is cancelled. Slow consumers never
// block the writer.
func (l *Log) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event)

	// Wake the reader loop when the context dies, since cond.Wait
	// cannot select on it.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.cond.Broadcast()
		case <-stop:
		}
	}()

	go func() {
		defer close(ch)
		defer close(stop)
		cursor := 0
		for {
			l.mu.Lock()
			for cursor == len(l.events) && !l.closed && ctx.Err() == nil {
				l.cond.Wait()
			}
			if ctx.Err() != nil || (l.closed && cursor == len(l.events)) {
				l.mu.Unlock()
				return
			}
			ev := l.events[cursor]
			cursor++
			l.mu.Unlock()

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
