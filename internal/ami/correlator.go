package ami

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
)

// sender is the outbound half of the transport, satisfied by Session.
type sender interface {
	send(fields []Field) error
}

// DefaultActionTimeout applies when Submit is called with a zero timeout.
const DefaultActionTimeout = 5 * time.Second

type actionResult struct {
	msg *Message
	err error
}

// PendingAction is an in-flight request awaiting its response.
type PendingAction struct {
	id          string
	submittedAt time.Time
	ch          chan actionResult
}

// Correlator tags outbound actions with unique identifiers and resolves the
// matching responses observed by the session read loop. The pending table is
// safe under concurrent submission and concurrent resolution.
type Correlator struct {
	log    *logging.Logger
	out    sender
	prefix string
	seq    atomic.Uint64

	mu      sync.Mutex
	pending map[string]*PendingAction
}

// NewCorrelator creates a Correlator sending through out.
func NewCorrelator(out sender, log *logging.Logger) *Correlator {
	return &Correlator{
		log: log.Sub("correlator"),
		out: out,
		// A random prefix keeps IDs from one process lifetime from ever
		// matching a stale response addressed to a previous one.
		prefix:  uuid.New().String()[:8],
		pending: make(map[string]*PendingAction),
	}
}

func (c *Correlator) nextID() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.seq.Add(1))
}

// Submit sends an action and blocks until its response arrives, the timeout
// expires, the context is canceled, or the session disconnects. A zero
// timeout selects DefaultActionTimeout. Submit never blocks the read loop
// and may be called from any goroutine.
func (c *Correlator) Submit(ctx context.Context, fields []Field, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}

	pa := &PendingAction{
		id:          c.nextID(),
		submittedAt: time.Now(),
		ch:          make(chan actionResult, 1),
	}

	c.mu.Lock()
	c.pending[pa.id] = pa
	c.mu.Unlock()

	out := make([]Field, 0, len(fields)+1)
	out = append(out, fields...)
	out = append(out, Field{Name: "ActionID", Value: pa.id})

	if err := c.out.send(out); err != nil {
		c.remove(pa.id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pa.ch:
		return res.msg, res.err
	case <-timer.C:
		c.remove(pa.id)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.remove(pa.id)
		return nil, ctx.Err()
	}
}

// Resolve matches an inbound response against the pending table. It reports
// whether a waiter was found; unmatched responses (late arrivals after a
// timeout) are the caller's to discard.
func (c *Correlator) Resolve(msg *Message) bool {
	id := msg.ActionID()
	if id == "" {
		return false
	}

	c.mu.Lock()
	pa, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	pa.ch <- actionResult{msg: msg}
	return true
}

// FailAll fails every pending action with the given error. Called by the
// session when the connection drops.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*PendingAction)
	c.mu.Unlock()

	for _, pa := range pending {
		pa.ch <- actionResult{err: err}
	}
	if len(pending) > 0 {
		c.log.Debug().Int("count", len(pending)).Msg("failed pending actions")
	}
}

// PendingCount returns the number of in-flight actions.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
