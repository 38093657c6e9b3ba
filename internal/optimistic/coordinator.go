// Package optimistic applies document transitions locally before the backing
// write is acknowledged. Each transition is a pending overlay on top of the
// last confirmed record: an acknowledgement folds it in, a failure drops it
// and the confirmed value shows again.
package optimistic

import (
	"context"
	"errors"
	"sync"

	"prearrival/api/internal/checklist"
)

// Transition computes the next record from the one currently shown.
type Transition func(checklist.Record) (checklist.Record, error)

// Write persists the optimistic record and returns what the server stored.
type Write func(ctx context.Context, optimistic checklist.Record) (checklist.Record, error)

// Notifier reports a failed write, typically as a toast in the caller's UI.
type Notifier func(docID string, err error)

// ErrSuperseded is reported for a queued transition that no longer applies
// once the writes ahead of it were resolved.
var ErrSuperseded = errors.New("optimistic: transition no longer applies to the confirmed record")

type Ticket struct {
	DocID string
	seq   uint64
}

type Outcome struct {
	Record checklist.Record
	Err    error
}

// overlay is one unacknowledged transition. record is transition replayed
// over the confirmed value and every older overlay of the same document.
type overlay struct {
	seq        uint64
	transition Transition
	record     checklist.Record
	done       chan struct{}
}

type Coordinator struct {
	mu        sync.Mutex
	confirmed checklist.Records
	pending   map[string][]*overlay
	seq       uint64
	notify    Notifier
}

func New(confirmed checklist.Records, notify Notifier) *Coordinator {
	c := &Coordinator{pending: map[string][]*overlay{}, notify: notify}
	c.Reset(confirmed)
	return c
}

// Reset replaces the confirmed state, e.g. after a fresh read from the
// server. Pending overlays are kept and replayed over the new values; their
// writes are still in flight.
func (c *Coordinator) Reset(confirmed checklist.Records) {
	copied := make(checklist.Records, len(confirmed))
	for id, rec := range confirmed {
		copied[id] = rec.Clone()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = copied
	for docID := range c.pending {
		c.replayLocked(docID)
	}
}

// View is what the user should see for docID right now.
func (c *Coordinator) View(docID string) checklist.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(docID)
}

func (c *Coordinator) viewLocked(docID string) checklist.Record {
	if stack := c.pending[docID]; len(stack) > 0 {
		return stack[len(stack)-1].record.Clone()
	}
	return c.confirmed.Get(docID).Clone()
}

// Confirmed is the last server-acknowledged record for docID.
func (c *Coordinator) Confirmed(docID string) checklist.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed.Get(docID).Clone()
}

func (c *Coordinator) Pending(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[docID]) > 0
}

// Snapshot merges every overlay over the confirmed records.
func (c *Coordinator) Snapshot() checklist.Records {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(checklist.Records, len(c.confirmed)+len(c.pending))
	for id, rec := range c.confirmed {
		out[id] = rec.Clone()
	}
	for id, stack := range c.pending {
		if len(stack) > 0 {
			out[id] = stack[len(stack)-1].record.Clone()
		}
	}
	return out
}

// Apply runs transition against the current view and installs the result as
// a pending overlay. A transition error leaves everything untouched.
func (c *Coordinator) Apply(docID string, transition Transition) (Ticket, checklist.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, next, _, err := c.applyLocked(docID, transition)
	return t, next, err
}

func (c *Coordinator) applyLocked(docID string, transition Transition) (Ticket, checklist.Record, <-chan struct{}, error) {
	next, err := transition(c.viewLocked(docID))
	if err != nil {
		return Ticket{}, checklist.Record{}, nil, err
	}
	var ahead <-chan struct{}
	if stack := c.pending[docID]; len(stack) > 0 {
		ahead = stack[len(stack)-1].done
	}
	c.seq++
	c.pending[docID] = append(c.pending[docID], &overlay{
		seq:        c.seq,
		transition: transition,
		record:     next.Clone(),
		done:       make(chan struct{}),
	})
	return Ticket{DocID: docID, seq: c.seq}, next, ahead, nil
}

// Commit stores the server's record as confirmed, drops the ticket's overlay
// and replays the newer ones over the stored value.
func (c *Coordinator) Commit(t Ticket, server checklist.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = c.confirmed.With(server.Clone())
	c.removeLocked(t)
	c.replayLocked(t.DocID)
}

// Discard drops the ticket's overlay, replays the newer overlays over the
// confirmed value so none of them keeps the failed change, and reports err
// to the notifier.
func (c *Coordinator) Discard(t Ticket, err error) {
	c.mu.Lock()
	c.removeLocked(t)
	c.replayLocked(t.DocID)
	notify := c.notify
	c.mu.Unlock()
	if notify != nil && err != nil {
		notify(t.DocID, err)
	}
}

func (c *Coordinator) removeLocked(t Ticket) {
	stack := c.pending[t.DocID]
	for i, o := range stack {
		if o.seq != t.seq {
			continue
		}
		close(o.done)
		stack = append(stack[:i:i], stack[i+1:]...)
		break
	}
	if len(stack) == 0 {
		delete(c.pending, t.DocID)
		return
	}
	c.pending[t.DocID] = stack
}

// replayLocked recomputes every overlay of docID from the confirmed record.
// An overlay whose transition no longer applies keeps no record of its own
// and is skipped; its write resolves it later.
func (c *Coordinator) replayLocked(docID string) {
	current := c.confirmed.Get(docID).Clone()
	for _, o := range c.pending[docID] {
		next, err := o.transition(current.Clone())
		if err != nil {
			o.record = current.Clone()
			continue
		}
		o.record = next.Clone()
		current = next
	}
}

// overlayRecord is the ticket's replayed record, or false once the
// transition stopped applying.
func (c *Coordinator) overlayRecord(t Ticket) (checklist.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := c.confirmed.Get(t.DocID).Clone()
	for _, o := range c.pending[t.DocID] {
		if o.seq == t.seq {
			next, err := o.transition(base)
			if err != nil {
				return checklist.Record{}, false
			}
			return next, true
		}
		base = o.record.Clone()
	}
	return checklist.Record{}, false
}

// Run applies transition synchronously and then performs write in the
// background. Writes for one document go out in Apply order: each waits for
// the one ahead of it and sends its transition replayed over what is then
// confirmed, so a failed earlier write is never resent. Once issued the write
// is not cancelled by ctx. A ticket taken with Apply holds back later writes
// until it is committed or discarded. The returned channel receives exactly
// one Outcome.
func (c *Coordinator) Run(ctx context.Context, docID string, transition Transition, write Write) (<-chan Outcome, error) {
	c.mu.Lock()
	ticket, _, ahead, err := c.applyLocked(docID, transition)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	done := make(chan Outcome, 1)
	writeCtx := context.WithoutCancel(ctx)
	go func() {
		if ahead != nil {
			<-ahead
		}
		optimistic, ok := c.overlayRecord(ticket)
		if !ok {
			c.Discard(ticket, ErrSuperseded)
			done <- Outcome{Record: c.View(docID), Err: ErrSuperseded}
			return
		}
		server, err := write(writeCtx, optimistic)
		if err != nil {
			c.Discard(ticket, err)
			done <- Outcome{Record: c.View(docID), Err: err}
			return
		}
		c.Commit(ticket, server)
		done <- Outcome{Record: server}
	}()
	return done, nil
}
