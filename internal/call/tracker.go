package call

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/ami"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
)

// Handler receives a call snapshot on a lifecycle transition. Handlers run
// synchronously on the session read loop; long work must be handed off.
type Handler func(c Call)

// Options configures a Tracker.
type Options struct {
	// Monitor lists extension patterns to track; a trailing '*' matches a
	// prefix. An empty list tracks every extension, as does MonitorAll.
	Monitor    []string
	MonitorAll bool

	// GraceWindow keeps ended calls queryable before the sweep purges them,
	// absorbing late or duplicate terminal events.
	GraceWindow   time.Duration
	SweepInterval time.Duration

	// Causes overrides the default hangup cause table.
	Causes map[int]string
}

// tracked pairs a call snapshot with the state machine that guards its
// transitions.
type tracked struct {
	call    Call
	machine *fsm.FSM
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StateRinging),
		fsm.Events{
			{Name: "answer", Src: []string{string(StateRinging)}, Dst: string(StateAnswered)},
			{Name: "end", Src: []string{string(StateRinging), string(StateAnswered)}, Dst: string(StateEnded)},
		},
		fsm.Callbacks{},
	)
}

// Tracker folds the ordered manager event stream into per-call lifecycle
// transitions for monitored extensions. Events for unmonitored extensions
// are dropped here rather than upstream, since the monitored set can change
// at runtime.
type Tracker struct {
	log    *logging.Logger
	causes CauseTable

	grace      time.Duration
	sweepEvery time.Duration

	mu         sync.RWMutex
	monitor    []string
	monitorAll bool
	calls      map[string]*tracked

	handlerMu sync.RWMutex
	started   map[string]Handler
	answered  map[string]Handler
	ended     map[string]Handler

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTracker creates a Tracker; call Start to begin the purge sweep.
func NewTracker(opts Options, log *logging.Logger) *Tracker {
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = 5 * time.Second
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Second
	}
	return &Tracker{
		log:        log.Sub("tracker"),
		causes:     NewCauseTable(opts.Causes),
		grace:      grace,
		sweepEvery: sweep,
		monitor:    normalizePatterns(opts.Monitor),
		monitorAll: opts.MonitorAll,
		calls:      make(map[string]*tracked),
		started:    make(map[string]Handler),
		answered:   make(map[string]Handler),
		ended:      make(map[string]Handler),
		stopCh:     make(chan struct{}),
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Start launches the periodic sweep that purges ended calls after the grace
// window.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.sweepLoop()
}

// Stop terminates the sweep. Safe to call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// SetMonitored replaces the monitored extension set at runtime.
func (t *Tracker) SetMonitored(patterns []string, all bool) {
	t.mu.Lock()
	t.monitor = normalizePatterns(patterns)
	t.monitorAll = all
	t.mu.Unlock()
}

// OnStarted registers a handler for new ringing calls.
func (t *Tracker) OnStarted(h Handler) string { return t.subscribe(t.started, h) }

// OnAnswered registers a handler for answered calls.
func (t *Tracker) OnAnswered(h Handler) string { return t.subscribe(t.answered, h) }

// OnEnded registers a handler for ended calls.
func (t *Tracker) OnEnded(h Handler) string { return t.subscribe(t.ended, h) }

func (t *Tracker) subscribe(m map[string]Handler, h Handler) string {
	id := uuid.New().String()
	t.handlerMu.Lock()
	m[id] = h
	t.handlerMu.Unlock()
	return id
}

// Unsubscribe removes a handler registered by any of the On* methods.
func (t *Tracker) Unsubscribe(id string) {
	t.handlerMu.Lock()
	delete(t.started, id)
	delete(t.answered, id)
	delete(t.ended, id)
	t.handlerMu.Unlock()
}

// Active returns snapshots of all calls that have not ended, in no
// particular order.
func (t *Tracker) Active() []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Call, 0, len(t.calls))
	for _, tc := range t.calls {
		if tc.call.Active() {
			out = append(out, tc.call)
		}
	}
	return out
}

// Get returns a snapshot of the call with the given identifier. Ended calls
// remain visible until the grace window expires.
func (t *Tracker) Get(id string) (Call, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tc, ok := t.calls[id]; ok {
		return tc.call, true
	}
	return Call{}, false
}

// HandleEvent consumes one manager event. It is wired to the session's
// event router and runs on the read loop, which makes it the single writer
// of call state.
func (t *Tracker) HandleEvent(msg *ami.Message) {
	switch msg.EventName() {
	case "Newstate":
		t.handleNewstate(msg)
	case "Newchannel":
		t.handleNewchannel(msg)
	case "NewCallerid", "NewCallerID":
		t.handleCallerID(msg)
	case "Hangup":
		t.handleHangup(msg)
	}
}

// EndAll force-ends every live call with the given cause. The session's
// disconnect hook uses it so no call is left dangling when the link drops.
func (t *Tracker) EndAll(cause Cause) {
	now := time.Now()

	t.mu.Lock()
	var snapshots []Call
	for _, tc := range t.calls {
		if !tc.call.Active() {
			continue
		}
		_ = tc.machine.Event(context.Background(), "end")
		tc.call.State = StateEnded
		tc.call.EndedAt = clamp(now, tc.call.StartedAt)
		tc.call.Cause = cause
		snapshots = append(snapshots, tc.call)
	}
	t.mu.Unlock()

	for _, c := range snapshots {
		t.emit(t.ended, c)
	}
}

// callID extracts the stable call identifier from an event. Uniqueid spans
// the life of the call; older servers may only supply the channel name.
func callID(msg *ami.Message) string {
	if id := msg.Get("Uniqueid"); id != "" {
		return id
	}
	if id := msg.Get("Linkedid"); id != "" {
		return id
	}
	return msg.Get("Channel")
}

func (t *Tracker) handleNewstate(msg *ami.Message) {
	switch msg.Get("ChannelStateDesc") {
	case "Ringing":
		// Callee leg ringing: the monitored extension is the connected
		// line, the far end is the caller ID.
		t.handleRinging(msg, msg.Get("ConnectedLineNum"), DirectionInbound)
	case "Ring":
		// Originating leg: a monitored extension placing a call.
		t.handleRinging(msg, msg.Get("CallerIDNum"), DirectionOutbound)
	case "Up":
		t.handleAnswer(msg)
	}
}

func (t *Tracker) handleRinging(msg *ami.Message, extension string, dir Direction) {
	id := callID(msg)
	if id == "" {
		return
	}

	t.mu.Lock()
	if tc, ok := t.calls[id]; ok {
		// Duplicate ring for a known call: refresh volatile fields only.
		updateChannel(tc, msg)
		updateCallerID(tc, msg)
		t.mu.Unlock()
		return
	}

	caller := msg.Get("CallerIDNum")
	connected := msg.Get("ConnectedLineNum")
	if extension == "" || !t.matchesLocked(extension) {
		t.mu.Unlock()
		return
	}
	if caller != "" && connected != "" && t.matchesLocked(caller) && t.matchesLocked(connected) {
		dir = DirectionInternal
	}

	tc := &tracked{
		machine: newMachine(),
		call: Call{
			ID:           id,
			Channel:      msg.Get("Channel"),
			Extension:    extension,
			CallerIDName: msg.Get("CallerIDName"),
			CallerIDNum:  caller,
			Direction:    dir,
			State:        StateRinging,
			StartedAt:    time.Now(),
		},
	}
	if tc.call.CallerIDName == "<unknown>" {
		tc.call.CallerIDName = ""
	}
	t.calls[id] = tc
	snapshot := tc.call
	t.mu.Unlock()

	t.log.Info().
		Str("callId", id).
		Str("extension", snapshot.Extension).
		Str("from", snapshot.CallerIDNum).
		Str("direction", string(snapshot.Direction)).
		Msg("call started")
	t.emit(t.started, snapshot)
}

func (t *Tracker) handleAnswer(msg *ami.Message) {
	id := callID(msg)

	t.mu.Lock()
	tc, ok := t.calls[id]
	if !ok {
		// Answer for an untracked call: late, duplicate, or not monitored.
		t.mu.Unlock()
		return
	}
	if err := tc.machine.Event(context.Background(), "answer"); err != nil {
		t.mu.Unlock()
		return
	}
	tc.call.State = StateAnswered
	tc.call.AnsweredAt = clamp(time.Now(), tc.call.StartedAt)
	updateChannel(tc, msg)
	updateCallerID(tc, msg)
	snapshot := tc.call
	t.mu.Unlock()

	t.log.Info().Str("callId", id).Str("extension", snapshot.Extension).Msg("call answered")
	t.emit(t.answered, snapshot)
}

func (t *Tracker) handleHangup(msg *ami.Message) {
	id := callID(msg)

	t.mu.Lock()
	tc, ok := t.calls[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	if err := tc.machine.Event(context.Background(), "end"); err != nil {
		// Duplicate terminal event for an already ended call.
		t.mu.Unlock()
		return
	}
	tc.call.State = StateEnded
	now := time.Now()
	if !tc.call.AnsweredAt.IsZero() {
		tc.call.EndedAt = clamp(now, tc.call.AnsweredAt)
	} else {
		tc.call.EndedAt = clamp(now, tc.call.StartedAt)
	}
	if code, err := strconv.Atoi(msg.Get("Cause")); err == nil {
		tc.call.CauseCode = code
		tc.call.Cause = t.causes.Lookup(code)
	} else {
		tc.call.Cause = CauseUnknown
	}
	tc.call.CauseText = msg.Get("Cause-txt")
	snapshot := tc.call
	t.mu.Unlock()

	t.log.Info().
		Str("callId", id).
		Str("extension", snapshot.Extension).
		Str("cause", string(snapshot.Cause)).
		Dur("duration", snapshot.Duration()).
		Msg("call ended")
	t.emit(t.ended, snapshot)
}

func (t *Tracker) handleNewchannel(msg *ami.Message) {
	id := callID(msg)

	t.mu.Lock()
	if tc, ok := t.calls[id]; ok {
		updateChannel(tc, msg)
		updateCallerID(tc, msg)
	}
	t.mu.Unlock()
}

func (t *Tracker) handleCallerID(msg *ami.Message) {
	id := callID(msg)

	t.mu.Lock()
	tc, ok := t.calls[id]
	if ok {
		updateCallerID(tc, msg)
	}
	t.mu.Unlock()
}

// updateChannel tracks the latest known channel for a call; it may change
// during transfer-like events.
func updateChannel(tc *tracked, msg *ami.Message) {
	if ch := msg.Get("Channel"); ch != "" {
		tc.call.Channel = ch
	}
}

// updateCallerID applies caller identity fields stickily: a later event can
// set or replace them, but never revert a set field to empty.
func updateCallerID(tc *tracked, msg *ami.Message) {
	if num := msg.Get("CallerIDNum"); num != "" && tc.call.Direction != DirectionOutbound {
		tc.call.CallerIDNum = num
	}
	if name := msg.Get("CallerIDName"); name != "" && name != "<unknown>" {
		tc.call.CallerIDName = name
	}
}

func (t *Tracker) matchesLocked(extension string) bool {
	if t.monitorAll || len(t.monitor) == 0 {
		return true
	}
	for _, p := range t.monitor {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(extension, prefix) {
				return true
			}
		} else if p == extension {
			return true
		}
	}
	return false
}

func (t *Tracker) emit(m map[string]Handler, c Call) {
	t.handlerMu.RLock()
	handlers := make([]Handler, 0, len(m))
	for _, h := range m {
		handlers = append(handlers, h)
	}
	t.handlerMu.RUnlock()
	for _, h := range handlers {
		h(c)
	}
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

// sweep purges calls that ended before the grace window.
func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tc := range t.calls {
		if !tc.call.Active() && now.Sub(tc.call.EndedAt) >= t.grace {
			delete(t.calls, id)
		}
	}
}

// clamp keeps per-call timestamps monotonic.
func clamp(ts, floor time.Time) time.Time {
	if ts.Before(floor) {
		return floor
	}
	return ts
}
