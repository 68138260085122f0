package guestaccess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aetherhome/aether/pkg/logger"
)

const (
	DefaultCountdown    = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second
	DefaultTickInterval = time.Second

	unwatchedDeleteTimeout = 5 * time.Second
)

var ErrClosed = errors.New("guest access controller is closed")

// Phase is where the controller is in a draft's life.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingVerification
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingVerification:
		return "awaiting_verification"
	case PhaseResolved:
		return "resolved"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Outcome is how a draft left AwaitingVerification.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeVerified
	OutcomeExpired
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeVerified:
		return "verified"
	case OutcomeExpired:
		return "expired"
	case OutcomeSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// State is a snapshot of the controller. Draft is set only while awaiting
// verification; LastGuestID names the draft that was resolved last.
type State struct {
	Phase       Phase
	Draft       *Draft
	Deadline    time.Time
	Outcome     Outcome
	LastGuestID ID
	Generation  uint64
}

// CurrentGuestID is empty unless a draft is awaiting verification.
func (s State) CurrentGuestID() ID {
	if s.Draft == nil {
		return ""
	}
	return s.Draft.GuestID
}

type TimerPhase int

const (
	TimerIdle TimerPhase = iota
	TimerRunning
	TimerExpired
)

func (t TimerPhase) String() string {
	switch t {
	case TimerIdle:
		return "idle"
	case TimerRunning:
		return "running"
	case TimerExpired:
		return "expired"
	}
	return fmt.Sprintf("timer(%d)", int(t))
}

// TimerState is the countdown as the owner sees it.
type TimerState struct {
	Phase     TimerPhase
	Remaining int // whole seconds, rounded up
}

type EventKind int

const (
	EventIssued EventKind = iota
	EventTick
	EventVerified
	EventExpired
	EventSuperseded
)

func (k EventKind) String() string {
	switch k {
	case EventIssued:
		return "issued"
	case EventTick:
		return "tick"
	case EventVerified:
		return "verified"
	case EventExpired:
		return "expired"
	case EventSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered to the observer. DeleteStatus is set on EventExpired
// when the backend answered the delete.
type Event struct {
	Kind         EventKind
	GuestID      ID
	Draft        *Draft
	Remaining    int
	DeleteStatus string
}

type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithCountdown(d time.Duration) Option {
	return func(c *Controller) { c.countdown = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) { c.tickInterval = d }
}

// WithStore persists the pending draft so Resume can restore it.
func WithStore(s DraftStore) Option {
	return func(c *Controller) { c.drafts = s }
}

// WithRoster shares a roster with the caller. By default the controller
// builds its own over the API.
func WithRoster(r *Roster) Option {
	return func(c *Controller) { c.roster = r }
}

// WithObserver receives every Event. It runs on the scheduler's goroutines
// and must not block.
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) { c.observe = fn }
}

// Controller owns the single outstanding draft. The countdown and the
// verification poll are two tasks on the Schedule under one tag; whichever
// resolves the draft first wins and the other becomes a no-op.
type Controller struct {
	api      API
	schedule Schedule
	roster   *Roster
	drafts   DraftStore
	now      func() time.Time
	observe  func(Event)

	countdown    time.Duration
	pollInterval time.Duration
	tickInterval time.Duration

	// ctx bounds every request the controller makes on its own behalf.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	gen    uint64
	closed bool
}

func NewController(ctx context.Context, api API, schedule Schedule, opts ...Option) *Controller {
	c := &Controller{
		api:          api,
		schedule:     schedule,
		drafts:       nopDrafts{},
		now:          time.Now,
		observe:      func(Event) {},
		countdown:    DefaultCountdown,
		pollInterval: DefaultPollInterval,
		tickInterval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.roster == nil {
		c.roster = NewRoster(api)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	return c
}

func (c *Controller) Roster() *Roster { return c.roster }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Draft != nil {
		d := *s.Draft
		s.Draft = &d
	}
	return s
}

// Timer derives the countdown from the current state.
func (c *Controller) Timer() TimerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Phase == PhaseAwaitingVerification:
		return TimerState{Phase: TimerRunning, Remaining: secondsLeft(c.state.Deadline.Sub(c.now()))}
	case c.state.Phase == PhaseResolved && c.state.Outcome == OutcomeExpired:
		return TimerState{Phase: TimerExpired}
	default:
		return TimerState{Phase: TimerIdle}
	}
}

// Issue creates a draft on the backend and starts watching it. A failed
// request leaves the state untouched. Issuing while another draft is
// outstanding supersedes it: its tasks stop and the backend is asked to drop
// it. The same holds for a draft persisted by an earlier run that was never
// resumed.
func (c *Controller) Issue(ctx context.Context, g NewGuest) (*Draft, error) {
	g.Normalize()
	if err := g.Validate(c.now()); err != nil {
		return nil, err
	}

	ctx, stop := c.bind(ctx)
	defer stop()
	if c.isClosed() {
		return nil, ErrClosed
	}

	draft, err := c.api.CreateDraft(ctx, g)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to generate guest code", "error", err)
		return nil, fmt.Errorf("create guest draft: %w", err)
	}
	draft.IssuedAt = c.now()
	ctx = logger.WithGuest(ctx, draft.GuestID.String())

	c.roster.AddPending(*draft)

	pending := PendingDraft{Draft: *draft, Deadline: draft.IssuedAt.Add(c.countdown)}
	if _, err := c.watch(ctx, pending); err != nil {
		if errors.Is(err, ErrClosed) {
			c.dropUnwatched(ctx, draft.GuestID)
		}
		return nil, err
	}

	logger.InfoContext(ctx, "Guest code issued",
		"house_id", draft.HouseID.String(),
		"deadline", pending.Deadline)
	c.observe(Event{Kind: EventIssued, GuestID: draft.GuestID, Draft: draft, Remaining: secondsLeft(c.countdown)})
	return draft, nil
}

// Resume restores a draft persisted by an earlier run. It reports whether
// one was found. A draft whose deadline has already passed is expired
// immediately.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	ctx, stop := c.bind(ctx)
	defer stop()
	if c.isClosed() {
		return false, ErrClosed
	}

	pending, err := c.drafts.LoadPending(ctx)
	if err != nil {
		return false, fmt.Errorf("load pending draft: %w", err)
	}
	if pending == nil {
		return false, nil
	}
	ctx = logger.WithGuest(ctx, pending.Draft.GuestID.String())

	c.mu.Lock()
	watching := c.state.Phase == PhaseAwaitingVerification && c.state.Draft.GuestID == pending.Draft.GuestID
	c.mu.Unlock()
	if watching {
		return true, nil
	}

	c.roster.AddPending(pending.Draft)
	gen, err := c.watch(ctx, *pending)
	if err != nil {
		return false, err
	}
	logger.InfoContext(ctx, "Resumed pending guest code", "deadline", pending.Deadline)

	if !pending.Deadline.After(c.now()) {
		c.tick(gen)
	}
	return true, nil
}

// Close stops both tasks and aborts in-flight requests. A persisted draft
// stays persisted for the next Resume.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	awaiting := c.state.Phase == PhaseAwaitingVerification
	gen := c.state.Generation
	c.mu.Unlock()

	if awaiting {
		c.schedule.Cancel(jobTag(gen))
	}
	c.cancel()
}

// watch makes p the current draft and schedules its two tasks.
func (c *Controller) watch(ctx context.Context, p PendingDraft) (uint64, error) {
	draft := p.Draft

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.roster.Remove(draft.GuestID)
		return 0, ErrClosed
	}
	prev := c.state
	c.gen++
	gen := c.gen
	c.state = State{
		Phase:      PhaseAwaitingVerification,
		Draft:      &draft,
		Deadline:   p.Deadline,
		Generation: gen,
	}
	c.mu.Unlock()

	switch {
	case prev.Phase != PhaseAwaitingVerification:
		c.discardOrphan(ctx, draft.GuestID)
	case prev.Draft.GuestID == draft.GuestID:
		c.schedule.Cancel(jobTag(prev.Generation))
	default:
		c.supersede(ctx, prev)
	}

	if err := c.drafts.SavePending(ctx, p); err != nil {
		logger.WarnContext(ctx, "Failed to persist pending guest code", "error", err)
	}

	tag := jobTag(gen)
	err := c.schedule.Every(tag, c.tickInterval, func() { c.tick(gen) })
	if err == nil {
		err = c.schedule.Every(tag, c.pollInterval, func() { c.poll(gen) })
	}
	if err != nil {
		c.schedule.Cancel(tag)
		c.mu.Lock()
		if c.state.Generation == gen {
			c.state = State{Phase: PhaseIdle, Generation: gen}
		}
		c.mu.Unlock()
		c.roster.Remove(draft.GuestID)
		logger.ErrorContext(ctx, "Failed to schedule guest code watch", "error", err)
		return 0, fmt.Errorf("watch guest draft: %w", err)
	}
	return gen, nil
}

// supersede stops prev's tasks and discards its draft.
func (c *Controller) supersede(ctx context.Context, prev State) {
	c.schedule.Cancel(jobTag(prev.Generation))
	c.discard(ctx, prev.Draft.GuestID)
}

// discardOrphan discards a draft persisted by an earlier run unless it is
// the one about to be watched.
func (c *Controller) discardOrphan(ctx context.Context, keep ID) {
	old, err := c.drafts.LoadPending(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load pending guest code", "error", err)
		return
	}
	if old == nil || old.Draft.GuestID == keep {
		return
	}
	c.discard(ctx, old.Draft.GuestID)
}

// dropUnwatched deletes a draft created while Close was running. The
// controller context is already cancelled, so the request gets its own.
func (c *Controller) dropUnwatched(ctx context.Context, id ID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unwatchedDeleteTimeout)
	defer cancel()
	ctx = logger.WithGuest(ctx, id.String())
	if _, err := c.api.DeleteUnverified(ctx, id); err != nil {
		logger.WarnContext(ctx, "Failed to discard guest code issued during close", "error", err)
	}
}

func (c *Controller) discard(ctx context.Context, id ID) {
	ctx = logger.WithGuest(ctx, id.String())
	c.roster.Remove(id)

	status, err := c.api.DeleteUnverified(ctx, id)
	if err != nil {
		logger.WarnContext(ctx, "Failed to discard superseded guest code", "error", err)
	} else {
		logger.InfoContext(ctx, "Superseded guest code discarded", "status", status)
	}
	c.observe(Event{Kind: EventSuperseded, GuestID: id, DeleteStatus: status})
}

// tick is the countdown task for generation gen.
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if c.state.Phase != PhaseAwaitingVerification || c.state.Generation != gen {
		c.mu.Unlock()
		return
	}
	id := c.state.Draft.GuestID
	left := c.state.Deadline.Sub(c.now())
	c.mu.Unlock()

	if left > 0 {
		c.observe(Event{Kind: EventTick, GuestID: id, Remaining: secondsLeft(left)})
		return
	}
	c.expire(gen, id)
}

// poll is the verification task for generation gen. Errors and pending
// answers wait for the next run.
func (c *Controller) poll(gen uint64) {
	c.mu.Lock()
	if c.state.Phase != PhaseAwaitingVerification || c.state.Generation != gen {
		c.mu.Unlock()
		return
	}
	id := c.state.Draft.GuestID
	c.mu.Unlock()

	ctx := logger.WithGuest(c.ctx, id.String())
	v, err := c.api.CheckVerification(ctx, id)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			logger.DebugContext(ctx, "Verification check failed", "error", err)
		}
	case v.IsVerified():
		c.verify(ctx, gen, id)
	case v.IsPending():
	default:
		logger.WarnContext(ctx, "Unrecognized verification flag", "verified", int(v))
	}
}

func (c *Controller) verify(ctx context.Context, gen uint64, id ID) {
	if !c.resolve(gen, OutcomeVerified) {
		return
	}
	logger.InfoContext(ctx, "Guest verified")
	c.settle(ctx)
	c.observe(Event{Kind: EventVerified, GuestID: id})
}

func (c *Controller) expire(gen uint64, id ID) {
	if !c.resolve(gen, OutcomeExpired) {
		return
	}
	ctx := logger.WithGuest(c.ctx, id.String())

	status, err := c.api.DeleteUnverified(ctx, id)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "Failed to delete expired guest code", "error", err)
	case status == "verified":
		// The guest redeemed the code between the last poll and the deadline;
		// the backend kept them.
		c.mu.Lock()
		if c.state.Generation == gen {
			c.state.Outcome = OutcomeVerified
		}
		c.mu.Unlock()
		logger.InfoContext(ctx, "Guest verified before the expired code was deleted")
	default:
		logger.InfoContext(ctx, "Expired guest code deleted", "status", status)
	}
	c.settle(ctx)
	c.observe(Event{Kind: EventExpired, GuestID: id, DeleteStatus: status})
}

// resolve moves generation gen out of AwaitingVerification. Only the first
// caller for a generation gets true.
func (c *Controller) resolve(gen uint64, outcome Outcome) bool {
	c.mu.Lock()
	if c.state.Phase != PhaseAwaitingVerification || c.state.Generation != gen {
		c.mu.Unlock()
		return false
	}
	c.state = State{
		Phase:       PhaseResolved,
		Outcome:     outcome,
		LastGuestID: c.state.Draft.GuestID,
		Generation:  gen,
	}
	c.mu.Unlock()

	c.schedule.Cancel(jobTag(gen))
	return true
}

// settle forgets the persisted draft and reloads the guest list.
func (c *Controller) settle(ctx context.Context) {
	if err := c.drafts.ClearPending(ctx); err != nil {
		logger.WarnContext(ctx, "Failed to clear pending guest code", "error", err)
	}
	if err := c.roster.Refresh(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "Failed to refresh guest list", "error", err)
	}
}

// bind derives a request context that also ends when the controller closes.
func (c *Controller) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func jobTag(gen uint64) string {
	return fmt.Sprintf("guest-draft-%d", gen)
}

func secondsLeft(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
