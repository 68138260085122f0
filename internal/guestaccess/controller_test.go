package guestaccess

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherhome/aether/internal/session"
)

// ---------- Mocks ----------

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type job struct {
	tag      string
	interval time.Duration
	task     func()
}

// manualSchedule runs tasks only when the test fires them.
type manualSchedule struct {
	mu   sync.Mutex
	jobs []job

	// everyErr fails every registration.
	everyErr error
}

func (s *manualSchedule) Every(tag string, interval time.Duration, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.everyErr != nil {
		return s.everyErr
	}
	s.jobs = append(s.jobs, job{tag: tag, interval: interval, task: task})
	return nil
}

func (s *manualSchedule) Cancel(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.jobs[:0]
	for _, j := range s.jobs {
		if j.tag != tag {
			kept = append(kept, j)
		}
	}
	s.jobs = kept
}

func (s *manualSchedule) Jobs() []job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job(nil), s.jobs...)
}

func (s *manualSchedule) Fire(interval time.Duration) {
	for _, j := range s.Jobs() {
		if j.interval == interval {
			j.task()
		}
	}
}

type mockAPI struct {
	mu sync.Mutex

	nextID    int
	createErr error
	creates   int
	// onCreate runs before CreateDraft answers.
	onCreate func()

	// verified decides every poll answer; nil means pending.
	verified func(id ID) (Verification, error)
	checks   int

	deleteStatus string
	deleteErr    error
	deletes      []ID

	// guests is the backend's verified list.
	guests    []Guest
	listCalls int
}

func (m *mockAPI) CreateDraft(_ context.Context, g NewGuest) (*Draft, error) {
	if m.onCreate != nil {
		m.onCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	n := strconv.Itoa(m.nextID)
	return &Draft{
		GuestID:       ID("g" + n),
		AccessCode:    ID("1234567" + n),
		HouseID:       "55555555",
		Name:          g.Name,
		DepartureDate: g.DepartureDate.Format(DateLayout),
		AllowedRooms:  g.AllowedRooms,
	}, nil
}

func (m *mockAPI) CheckVerification(_ context.Context, id ID) (Verification, error) {
	m.mu.Lock()
	m.checks++
	fn := m.verified
	m.mu.Unlock()
	if fn == nil {
		return VerificationPending, nil
	}
	return fn(id)
}

func (m *mockAPI) DeleteUnverified(_ context.Context, id ID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, id)
	if m.deleteErr != nil {
		return "", m.deleteErr
	}
	if m.deleteStatus != "" {
		return m.deleteStatus, nil
	}
	return "deleted", nil
}

func (m *mockAPI) ListGuests(context.Context, ListOptions) ([]Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]Guest(nil), m.guests...), nil
}

func (m *mockAPI) verify(id ID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guests = append(m.guests, Guest{ID: id, FullName: name})
}

func (m *mockAPI) Deletes() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ID(nil), m.deletes...)
}

// ---------- Helpers ----------

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	api   *mockAPI
	sched *manualSchedule
	clock *manualClock
	ctrl  *Controller
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		api:   &mockAPI{},
		sched: &manualSchedule{},
		clock: &manualClock{now: start},
	}
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	h.ctrl = NewController(context.Background(), h.api, h.sched, opts...)
	t.Cleanup(h.ctrl.Close)
	return h
}

// run advances the clock one second at a time, firing the countdown every
// second and the poll every fifth.
func (h *harness) run(seconds int) {
	for i := 1; i <= seconds; i++ {
		h.clock.Advance(time.Second)
		h.sched.Fire(DefaultTickInterval)
		if h.clock.Now().Sub(start)%DefaultPollInterval == 0 {
			h.sched.Fire(DefaultPollInterval)
		}
	}
}

func ana() NewGuest {
	return NewGuest{
		Name:          "Ana",
		DepartureDate: start.AddDate(0, 0, 1),
		AllowedRooms:  []string{"r1"},
	}
}

// ---------- Tests ----------

func TestIssue_StartsOneCountdownAndOnePoll(t *testing.T) {
	h := newHarness(t)

	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	jobs := h.sched.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, jobs[0].tag, jobs[1].tag)
	assert.ElementsMatch(t, []time.Duration{time.Second, 5 * time.Second},
		[]time.Duration{jobs[0].interval, jobs[1].interval})

	st := h.ctrl.State()
	assert.Equal(t, PhaseAwaitingVerification, st.Phase)
	assert.Equal(t, draft.GuestID, st.CurrentGuestID())
	assert.Equal(t, start.Add(5*time.Minute), st.Deadline)
	assert.Equal(t, TimerState{Phase: TimerRunning, Remaining: 300}, h.ctrl.Timer())

	h.run(1)
	assert.Equal(t, 299, h.ctrl.Timer().Remaining)
}

func TestIssue_AddsOptimisticPendingEntry(t *testing.T) {
	h := newHarness(t)

	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	g, ok := h.ctrl.Roster().Find(draft.GuestID)
	require.True(t, ok)
	assert.Equal(t, "Ana", g.FullName)
	assert.Equal(t, StatusPending, g.Status)
	assert.Equal(t, draft.AccessCode, g.AccessCode)
}

func TestVerifiedBeforeDeadline_StopsCountdownWithoutDelete(t *testing.T) {
	h := newHarness(t)
	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	h.api.verified = func(id ID) (Verification, error) {
		if h.clock.Now().Sub(start) < 12*time.Second {
			return VerificationPending, nil
		}
		h.api.verify(id, "Ana")
		return VerificationVerified, nil
	}

	h.run(15)

	st := h.ctrl.State()
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.Equal(t, OutcomeVerified, st.Outcome)
	assert.Empty(t, st.CurrentGuestID())
	assert.Equal(t, draft.GuestID, st.LastGuestID)
	assert.Equal(t, TimerState{Phase: TimerIdle}, h.ctrl.Timer())
	assert.Empty(t, h.sched.Jobs())

	g, ok := h.ctrl.Roster().Find(draft.GuestID)
	require.True(t, ok)
	assert.Equal(t, StatusActive, g.Status)

	h.run(400)
	assert.Empty(t, h.api.Deletes())
}

func TestNeverVerified_DeletesExactlyOnceAtDeadline(t *testing.T) {
	h := newHarness(t)
	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	h.run(299)
	assert.Empty(t, h.api.Deletes())
	assert.Equal(t, TimerState{Phase: TimerRunning, Remaining: 1}, h.ctrl.Timer())

	h.run(1)
	assert.Equal(t, []ID{draft.GuestID}, h.api.Deletes())

	st := h.ctrl.State()
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.Equal(t, OutcomeExpired, st.Outcome)
	assert.Empty(t, st.CurrentGuestID())
	assert.Nil(t, st.Draft)
	assert.Equal(t, TimerExpired, h.ctrl.Timer().Phase)

	_, ok := h.ctrl.Roster().Find(draft.GuestID)
	assert.False(t, ok)

	h.run(60)
	assert.Len(t, h.api.Deletes(), 1)
}

func TestPendingPolls_DoNotChangeState(t *testing.T) {
	h := newHarness(t)
	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)
	before := h.ctrl.State()

	for i := 0; i < 50; i++ {
		h.sched.Fire(DefaultPollInterval)
	}

	assert.Equal(t, before, h.ctrl.State())
	assert.Equal(t, draft.GuestID, h.ctrl.State().CurrentGuestID())
	assert.Len(t, h.sched.Jobs(), 2)
	assert.Equal(t, 50, h.api.checks)
}

func TestPollErrors_KeepWaiting(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	h.api.verified = func(ID) (Verification, error) { return VerificationUnknown, errors.New("connection reset") }
	h.run(30)

	assert.Equal(t, PhaseAwaitingVerification, h.ctrl.State().Phase)
	assert.Len(t, h.sched.Jobs(), 2)
}

func TestUnrecognizedFlag_KeepsWaiting(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	h.api.verified = func(ID) (Verification, error) { return Verification(2), nil }
	h.run(30)

	assert.Equal(t, PhaseAwaitingVerification, h.ctrl.State().Phase)
	assert.Empty(t, h.api.Deletes())
}

func TestIssue_InvalidInputSkipsBackend(t *testing.T) {
	h := newHarness(t)

	_, err := h.ctrl.Issue(context.Background(), NewGuest{Name: "  ", AllowedRooms: nil})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "departure_date")
	assert.Contains(t, verr.Fields, "allowed_rooms")
	assert.Zero(t, h.api.creates)
	assert.Empty(t, h.sched.Jobs())
}

func TestIssue_BackendFailureLeavesIdle(t *testing.T) {
	h := newHarness(t)
	h.api.createErr = errors.New("boom")

	_, err := h.ctrl.Issue(context.Background(), ana())
	require.Error(t, err)

	assert.Equal(t, PhaseIdle, h.ctrl.State().Phase)
	assert.Equal(t, TimerState{Phase: TimerIdle}, h.ctrl.Timer())
	assert.Empty(t, h.sched.Jobs())
	assert.Empty(t, h.ctrl.Roster().Guests())
}

func TestIssue_SupersedesOutstandingDraft(t *testing.T) {
	h := newHarness(t)
	first, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)
	firstTag := h.sched.Jobs()[0].tag

	h.run(10)
	second, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	assert.Equal(t, []ID{first.GuestID}, h.api.Deletes())
	jobs := h.sched.Jobs()
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.NotEqual(t, firstTag, j.tag)
	}
	assert.Equal(t, second.GuestID, h.ctrl.State().CurrentGuestID())
	assert.Equal(t, 300, h.ctrl.Timer().Remaining)

	rows := h.ctrl.Roster().Guests()
	require.Len(t, rows, 1)
	assert.Equal(t, second.GuestID, rows[0].ID)
}

func TestIssue_ScheduleFailureLeavesNoPendingRow(t *testing.T) {
	h := newHarness(t)
	h.sched.everyErr = errors.New("scheduler stopped")

	_, err := h.ctrl.Issue(context.Background(), ana())
	require.Error(t, err)

	assert.Equal(t, PhaseIdle, h.ctrl.State().Phase)
	assert.Empty(t, h.ctrl.Roster().Guests())
	assert.Empty(t, h.sched.Jobs())
}

func TestIssue_CloseDuringCreateDiscardsDraft(t *testing.T) {
	h := newHarness(t)
	h.api.onCreate = h.ctrl.Close

	_, err := h.ctrl.Issue(context.Background(), ana())
	assert.ErrorIs(t, err, ErrClosed)

	assert.Empty(t, h.sched.Jobs())
	assert.Empty(t, h.ctrl.Roster().Guests())
	assert.Equal(t, []ID{"g1"}, h.api.Deletes())
	assert.Equal(t, PhaseIdle, h.ctrl.State().Phase)
}

func TestResolve_FirstWriterWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		draft, err := h.ctrl.Issue(context.Background(), ana())
		require.NoError(t, err)
		gen := h.ctrl.State().Generation
		h.api.verified = func(ID) (Verification, error) { return VerificationVerified, nil }
		h.clock.Advance(5 * time.Minute)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); h.ctrl.poll(gen) }()
		go func() { defer wg.Done(); h.ctrl.tick(gen) }()
		go func() { defer wg.Done(); h.ctrl.expire(gen, draft.GuestID) }()
		wg.Wait()

		st := h.ctrl.State()
		require.Equal(t, PhaseResolved, st.Phase)
		switch st.Outcome {
		case OutcomeExpired:
			assert.Len(t, h.api.Deletes(), 1)
		case OutcomeVerified:
			assert.Empty(t, h.api.Deletes())
		default:
			t.Fatalf("unexpected outcome %s", st.Outcome)
		}
	}
}

func TestExpire_BackendReportsVerified(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)
	h.api.deleteStatus = "verified"

	var events []Event
	h.ctrl.observe = func(e Event) { events = append(events, e) }
	h.run(300)

	assert.Equal(t, OutcomeVerified, h.ctrl.State().Outcome)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventExpired, last.Kind)
	assert.Equal(t, "verified", last.DeleteStatus)
}

func TestExpire_DeleteFailureStillClears(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)
	h.api.deleteErr = errors.New("503")

	h.run(300)

	st := h.ctrl.State()
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.Empty(t, st.CurrentGuestID())
	assert.Equal(t, 1, h.api.listCalls)
}

func TestObserver_SeesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	h := newHarness(t, WithObserver(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	}))

	_, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)
	h.run(2)
	h.api.verified = func(ID) (Verification, error) { return VerificationVerified, nil }
	h.run(3)

	assert.Equal(t, []EventKind{EventIssued, EventTick, EventTick, EventTick, EventTick, EventTick, EventVerified}, kinds)
}

func boltDrafts(t *testing.T) *SessionDrafts {
	t.Helper()
	store, err := session.NewBoltStore(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewSessionDrafts(store)
}

func TestIssue_PersistsAndResolutionClears(t *testing.T) {
	drafts := boltDrafts(t)
	h := newHarness(t, WithStore(drafts))

	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	p, err := drafts.LoadPending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, draft.GuestID, p.Draft.GuestID)
	assert.True(t, p.Deadline.Equal(start.Add(5*time.Minute)))

	h.run(300)

	p, err = drafts.LoadPending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestResume_ContinuesCountdown(t *testing.T) {
	drafts := boltDrafts(t)
	require.NoError(t, drafts.SavePending(context.Background(), PendingDraft{
		Draft:    Draft{GuestID: "g7", AccessCode: "12345678", HouseID: "55555555", Name: "Ana"},
		Deadline: start.Add(90 * time.Second),
	}))
	h := newHarness(t, WithStore(drafts))

	found, err := h.ctrl.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, ID("g7"), h.ctrl.State().CurrentGuestID())
	assert.Equal(t, 90, h.ctrl.Timer().Remaining)
	assert.Len(t, h.sched.Jobs(), 2)

	h.run(90)
	assert.Equal(t, []ID{"g7"}, h.api.Deletes())
}

func TestResume_WhileWatchingSameDraftIsNoop(t *testing.T) {
	drafts := boltDrafts(t)
	h := newHarness(t, WithStore(drafts))
	draft, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)
	h.run(10)

	found, err := h.ctrl.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, found)

	assert.Empty(t, h.api.Deletes())
	assert.Equal(t, draft.GuestID, h.ctrl.State().CurrentGuestID())
	assert.Len(t, h.sched.Jobs(), 2)
	assert.Len(t, h.ctrl.Roster().Guests(), 1)
	assert.Equal(t, 290, h.ctrl.Timer().Remaining)

	h.run(290)
	assert.Equal(t, []ID{draft.GuestID}, h.api.Deletes())
}

func TestIssue_DiscardsDraftLeftByEarlierRun(t *testing.T) {
	drafts := boltDrafts(t)
	api := &mockAPI{}
	clock := &manualClock{now: start}

	earlier := NewController(context.Background(), api, &manualSchedule{}, WithClock(clock.Now), WithStore(drafts))
	first, err := earlier.Issue(context.Background(), ana())
	require.NoError(t, err)
	earlier.Close()

	var superseded []ID
	sched := &manualSchedule{}
	ctrl := NewController(context.Background(), api, sched, WithClock(clock.Now), WithStore(drafts),
		WithObserver(func(e Event) {
			if e.Kind == EventSuperseded {
				superseded = append(superseded, e.GuestID)
			}
		}))
	t.Cleanup(ctrl.Close)
	h := &harness{api: api, sched: sched, clock: clock, ctrl: ctrl}

	second, err := ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	assert.Equal(t, []ID{first.GuestID}, api.Deletes())
	assert.Equal(t, []ID{first.GuestID}, superseded)
	p, err := drafts.LoadPending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, second.GuestID, p.Draft.GuestID)

	h.run(300)
	assert.Equal(t, []ID{first.GuestID, second.GuestID}, api.Deletes())
}

func TestResume_PastDeadlineExpiresImmediately(t *testing.T) {
	drafts := boltDrafts(t)
	require.NoError(t, drafts.SavePending(context.Background(), PendingDraft{
		Draft:    Draft{GuestID: "g7", AccessCode: "12345678", HouseID: "55555555"},
		Deadline: start.Add(-time.Minute),
	}))
	h := newHarness(t, WithStore(drafts))

	found, err := h.ctrl.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, []ID{"g7"}, h.api.Deletes())
	assert.Equal(t, OutcomeExpired, h.ctrl.State().Outcome)
	assert.Empty(t, h.sched.Jobs())
}

func TestResume_NothingPending(t *testing.T) {
	h := newHarness(t, WithStore(boltDrafts(t)))

	found, err := h.ctrl.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, PhaseIdle, h.ctrl.State().Phase)
}

func TestClose_StopsTasksAndKeepsPersistedDraft(t *testing.T) {
	drafts := boltDrafts(t)
	h := newHarness(t, WithStore(drafts))
	_, err := h.ctrl.Issue(context.Background(), ana())
	require.NoError(t, err)

	h.ctrl.Close()

	assert.Empty(t, h.sched.Jobs())
	_, err = h.ctrl.Issue(context.Background(), ana())
	assert.ErrorIs(t, err, ErrClosed)

	p, err := drafts.LoadPending(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestSecondsLeft_RoundsUp(t *testing.T) {
	assert.Equal(t, 0, secondsLeft(0))
	assert.Equal(t, 0, secondsLeft(-time.Second))
	assert.Equal(t, 1, secondsLeft(time.Millisecond))
	assert.Equal(t, 300, secondsLeft(5*time.Minute))
}
