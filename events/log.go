// Package events keeps the append-only record of what the exchange emitted
// and the read models built from it.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vultisig/dca-exchange/internal/types"
)

type Record struct {
	ID    uuid.UUID   `json:"id"`
	Seq   uint64      `json:"seq"`
	Name  string      `json:"name"`
	Time  time.Time   `json:"time"`
	Event types.Event `json:"event"`
}

// Payload returns the JSON encoding of the event alone.
func (r Record) Payload() ([]byte, error) {
	return json.Marshal(r.Event)
}

// NewRecords wraps events into records numbered from next on.
func NewRecords(next uint64, at time.Time, evs ...types.Event) []Record {
	records := make([]Record, 0, len(evs))
	for i, ev := range evs {
		records = append(records, Record{
			ID:    uuid.New(),
			Seq:   next + uint64(i),
			Name:  ev.EventName(),
			Time:  at,
			Event: ev,
		})
	}
	return records
}

// Handler is fed every appended record, in order, while the log is locked.
type Handler interface {
	Apply(rec Record)
}

// Log is an in-memory append-only sequence of records. Subscribers receive
// records on buffered channels and miss them when they fall behind.
type Log struct {
	mu       sync.RWMutex
	records  []Record
	handlers []Handler
	subs     map[int]chan Record
	nextSub  int
}

func NewLog(handlers ...Handler) *Log {
	return &Log{
		handlers: handlers,
		subs:     make(map[int]chan Record),
	}
}

// LastSeq is the sequence number of the newest record, 0 when empty.
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq()
}

// Append adds records that must continue the sequence without gaps.
func (l *Log) Append(records ...Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.lastSeq()
	for i, rec := range records {
		if rec.Seq != last+uint64(i)+1 {
			return fmt.Errorf("record %d does not follow %d", rec.Seq, last+uint64(i))
		}
	}
	l.append(records)
	return nil
}

// Record numbers evs after the newest record and appends them in one step,
// so concurrent writers never reuse a sequence number.
func (l *Log) Record(at time.Time, evs ...types.Event) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := NewRecords(l.lastSeq()+1, at, evs...)
	l.append(records)
	return records
}

func (l *Log) lastSeq() uint64 {
	if len(l.records) == 0 {
		return 0
	}
	return l.records[len(l.records)-1].Seq
}

func (l *Log) append(records []Record) {
	for _, rec := range records {
		l.records = append(l.records, rec)
		for _, h := range l.handlers {
			h.Apply(rec)
		}
		for _, ch := range l.subs {
			select {
			case ch <- rec:
			default:
			}
		}
	}
}

// Since returns the records with a sequence number above seq.
func (l *Log) Since(seq uint64) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// records are dense from 1
	if seq >= uint64(len(l.records)) {
		return []Record{}
	}
	out := make([]Record, len(l.records)-int(seq))
	copy(out, l.records[seq:])
	return out
}

// Subscribe registers a channel receiving every record appended from now on.
// The returned func unsubscribes and closes the channel.
func (l *Log) Subscribe(buffer int) (<-chan Record, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan Record, buffer)
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs, id)
			close(ch)
		})
	}
}
