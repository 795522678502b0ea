// Package eventlog implements the append-only, hash-chained event log
// (spec §4.3): the writer/reader contract, the on-disk "CATHLOG" format,
// and the stateless chain validator.
package eventlog

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Cursor identifies a position in the log by both byte offset and event
// index, per spec §4.3's "random access via cursor (byte offset + event
// index)".
type Cursor struct {
	ByteOffset int64
	EventIndex int
}

// Log is an in-memory, append-only sequence of Events for a single run.
// Writer operations validate chain continuity and monotonic logical time
// before accepting an event; reader operations never mutate state.
type Log struct {
	events    []Event
	idToIndex map[kernel.ID]int
	validator *ChainValidator
}

// New creates an empty Log.
func New() *Log {
	return &Log{idToIndex: make(map[kernel.ID]int), validator: NewChainValidator()}
}

// Append validates and appends event, per spec §4.3: it must chain off the
// last event's post_state_hash (or be absent for the run's first event)
// and its logical_time must strictly exceed the last event's.
func (l *Log) Append(e Event) error {
	if !e.Kind.Valid() {
		return kerr.New(kerr.InvalidEncoding, "unknown event kind").WithEvent(e.EventID.String())
	}
	if _, exists := l.idToIndex[e.EventID]; exists {
		return kerr.New(kerr.InvalidEncoding, "duplicate event_id").WithEvent(e.EventID.String())
	}
	if err := l.validator.Validate(e); err != nil {
		return err
	}
	l.idToIndex[e.EventID] = len(l.events)
	l.events = append(l.events, e)
	return nil
}

// Len returns the number of events appended.
func (l *Log) Len() int { return len(l.events) }

// At returns the event at index i.
func (l *Log) At(i int) (Event, bool) {
	if i < 0 || i >= len(l.events) {
		return Event{}, false
	}
	return l.events[i], true
}

// Last returns the most recently appended event, if any.
func (l *Log) Last() (Event, bool) {
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// Seek returns the Cursor for the event with the given id.
func (l *Log) Seek(id kernel.ID) (Cursor, bool) {
	idx, ok := l.idToIndex[id]
	if !ok {
		return Cursor{}, false
	}
	return Cursor{EventIndex: idx}, true
}

// Iterator supports sequential forward iteration from a Cursor, per spec
// §4.3's "sequential iteration (next)" and "streaming from a given
// cursor".
type Iterator struct {
	log *Log
	pos int
}

// From returns an Iterator starting at cur's EventIndex.
func (l *Log) From(cur Cursor) *Iterator {
	return &Iterator{log: l, pos: cur.EventIndex}
}

// All returns an Iterator over the whole log.
func (l *Log) All() *Iterator { return l.From(Cursor{}) }

// Next returns the next event and advances the iterator, or returns
// ok=false at the end of the log.
func (it *Iterator) Next() (Event, bool) {
	e, ok := it.log.At(it.pos)
	if !ok {
		return Event{}, false
	}
	it.pos++
	return e, true
}

// Cursor returns the iterator's current position.
func (it *Iterator) Cursor() Cursor { return Cursor{EventIndex: it.pos} }

// Validate re-walks the entire log from the start, applying the same
// chain rules Append applies incrementally. Used to verify a log loaded
// from disk or received from a peer (spec P3).
func (l *Log) Validate() error {
	v := NewChainValidator()
	for _, e := range l.events {
		if err := v.Validate(e); err != nil {
			return err
		}
	}
	return nil
}
