package watch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type testEntry struct {
	ID     string
	Label  string
	Last   string
	RoleID string
}

func (e testEntry) Key() string   { return e.ID }
func (e testEntry) Title() string { return e.Label }
func (e testEntry) Status() State { return Scalar(e.Last) }
func (e testEntry) WithStatus(s State) testEntry {
	e.Last = s.Value()
	return e
}

type seats struct {
	Current, Max int
	Name         string
}

func classifySeats(s seats) State {
	if s.Current < s.Max {
		return StateOf("AVAILABLE")
	}
	return StateOf("FULL")
}

// memStore counts persisted writes.
type memStore struct {
	mu      sync.Mutex
	items   []testEntry
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Load() ([]testEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return slices.Clone(m.items), nil
}

func (m *memStore) Update(fn func([]testEntry) ([]testEntry, bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, dirty, err := fn(slices.Clone(m.items))
	if err != nil || !dirty {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items = next
	m.saves++
	return nil
}

type harness struct {
	store   *memStore
	results map[string]seats
	fails   map[string]bool
	sent    []Change[testEntry, seats]
	notErr  error
}

func newHarness(items ...testEntry) *harness {
	return &harness{
		store:   &memStore{items: items},
		results: map[string]seats{},
		fails:   map[string]bool{},
	}
}

func (h *harness) engine(opts Options) *Engine[testEntry, seats] {
	return New("test", h.store, Funcs[testEntry, seats]{
		Fetch: func(_ context.Context, t testEntry) (seats, error) {
			if h.fails[t.ID] {
				return seats{}, errors.New("upstream down")
			}
			return h.results[t.ID], nil
		},
		Classify: classifySeats,
		Notify: func(_ context.Context, c Change[testEntry, seats]) error {
			h.sent = append(h.sent, c)
			return h.notErr
		},
	}, opts)
}

func TestCycleFullToAvailable(t *testing.T) {
	h := newHarness(testEntry{ID: "5512", Last: "FULL"})
	h.results["5512"] = seats{Current: 3, Max: 80}

	rep, err := h.engine(Options{}).RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.sent))
	}
	c := h.sent[0]
	if c.Old.Value() != "FULL" || c.New.Value() != "AVAILABLE" {
		t.Fatalf("change = %s -> %s", c.Old, c.New)
	}
	if c.Snapshot.Current != 3 || c.Snapshot.Max != 80 {
		t.Fatalf("snapshot = %+v", c.Snapshot)
	}
	if h.store.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.store.saves)
	}
	if h.store.items[0].Last != "AVAILABLE" {
		t.Fatalf("persisted = %q", h.store.items[0].Last)
	}
	if !rep.Saved || rep.Changed != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestNoDuplicateNotify(t *testing.T) {
	h := newHarness(testEntry{ID: "5512"})
	h.results["5512"] = seats{Current: 80, Max: 80}
	e := h.engine(Options{})

	for i := 0; i < 3; i++ {
		if _, err := e.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(h.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.sent))
	}
	if h.store.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.store.saves)
	}
}

func TestFirstPollAlwaysNotifies(t *testing.T) {
	h := newHarness(testEntry{ID: "a"})
	h.results["a"] = seats{Current: 1, Max: 2}

	if _, err := h.engine(Options{}).RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.sent))
	}
	if h.sent[0].Old.IsSet() {
		t.Fatalf("old state = %s, want unset", h.sent[0].Old)
	}
}

func TestFetchFailureIsInert(t *testing.T) {
	h := newHarness(testEntry{ID: "1.2.3.4", Last: "OK"})
	h.fails["1.2.3.4"] = true

	rep, err := h.engine(Options{}).RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 0 || h.store.saves != 0 {
		t.Fatalf("sent=%d saves=%d, want 0/0", len(h.sent), h.store.saves)
	}
	if h.store.items[0].Last != "OK" {
		t.Fatalf("status mutated to %q", h.store.items[0].Last)
	}
	if rep.FetchErrors != 1 {
		t.Fatalf("fetch errors = %d", rep.FetchErrors)
	}
}

func TestOneSaveForManyTargets(t *testing.T) {
	h := newHarness(
		testEntry{ID: "a", Last: "FULL"},
		testEntry{ID: "b", Last: "FULL"},
		testEntry{ID: "c", Last: "AVAILABLE"},
	)
	h.results["a"] = seats{Current: 1, Max: 5}
	h.results["b"] = seats{Current: 5, Max: 5}
	h.results["c"] = seats{Current: 9, Max: 5}

	if _, err := h.engine(Options{}).RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.store.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.store.saves)
	}
	if len(h.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(h.sent))
	}
	if h.sent[0].Target.ID != "a" || h.sent[1].Target.ID != "c" {
		t.Fatalf("dispatch order = %s,%s", h.sent[0].Target.ID, h.sent[1].Target.ID)
	}
}

func TestRestartSafeDiffing(t *testing.T) {
	h := newHarness(testEntry{ID: "x", Last: "AVAILABLE"})
	h.results["x"] = seats{Current: 10, Max: 10}

	// A fresh engine stands in for a restarted process.
	if _, err := h.engine(Options{}).RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine(Options{}).RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.sent))
	}
}

func TestNotifyFailureKeepsPersistence(t *testing.T) {
	h := newHarness(testEntry{ID: "a", Last: "FULL"})
	h.results["a"] = seats{Current: 0, Max: 5}
	h.notErr = errors.New("channel deleted")
	e := h.engine(Options{})

	rep, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.NotifyErrors != 1 {
		t.Fatalf("notify errors = %d", rep.NotifyErrors)
	}
	if h.store.items[0].Last != "AVAILABLE" {
		t.Fatalf("persisted = %q, want AVAILABLE", h.store.items[0].Last)
	}

	// The next cycle must not resurrect the missed notification.
	h.notErr = nil
	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.sent))
	}
	if got := e.Stats().NotifyErrors; got != 1 {
		t.Fatalf("stats notify errors = %d", got)
	}
}

func TestSaveFailureWithholdsNotifications(t *testing.T) {
	h := newHarness(testEntry{ID: "a", Last: "FULL"})
	h.results["a"] = seats{Current: 0, Max: 5}
	h.store.saveErr = errors.New("disk full")

	if _, err := h.engine(Options{}).RunCycle(context.Background()); err == nil {
		t.Fatal("expected persist error")
	}
	if len(h.sent) != 0 {
		t.Fatalf("notifications = %d, want 0", len(h.sent))
	}
}

func TestCorruptRegistrySkipsCycle(t *testing.T) {
	h := newHarness()
	h.store.loadErr = errors.New("bad json")
	e := h.engine(Options{})

	rep, err := e.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !rep.Aborted {
		t.Fatal("report not marked aborted")
	}
	if e.Stats().Aborted != 1 {
		t.Fatalf("aborted = %d", e.Stats().Aborted)
	}
}

func TestValidateSkipsTarget(t *testing.T) {
	h := newHarness(testEntry{ID: "a"}, testEntry{ID: "b", RoleID: "r1"})
	h.results["a"] = seats{Current: 1, Max: 2}
	h.results["b"] = seats{Current: 1, Max: 2}
	fetched := map[string]bool{}

	e := New("test", h.store, Funcs[testEntry, seats]{
		Fetch: func(_ context.Context, t testEntry) (seats, error) {
			fetched[t.ID] = true
			return h.results[t.ID], nil
		},
		Classify: classifySeats,
		Notify: func(_ context.Context, c Change[testEntry, seats]) error {
			h.sent = append(h.sent, c)
			return nil
		},
		Validate: func(t testEntry) error {
			if t.RoleID == "" {
				return errors.New("no role")
			}
			return nil
		},
	}, Options{})

	rep, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fetched["a"] || !fetched["b"] {
		t.Fatalf("fetched = %v", fetched)
	}
	if rep.Skipped != 1 || len(h.sent) != 1 {
		t.Fatalf("skipped=%d sent=%d", rep.Skipped, len(h.sent))
	}
	if len(h.store.items) != 2 {
		t.Fatal("skipped target was removed")
	}
}

func TestRefreshPersistsLabelWithoutNotify(t *testing.T) {
	h := newHarness(testEntry{ID: "a", Last: "AVAILABLE"})
	h.results["a"] = seats{Current: 1, Max: 2, Name: "Calculus"}

	e := New("test", h.store, Funcs[testEntry, seats]{
		Fetch:    func(_ context.Context, t testEntry) (seats, error) { return h.results[t.ID], nil },
		Classify: classifySeats,
		Notify: func(_ context.Context, c Change[testEntry, seats]) error {
			h.sent = append(h.sent, c)
			return nil
		},
		Refresh: func(t testEntry, s seats) testEntry {
			t.Label = s.Name
			return t
		},
	}, Options{})

	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 0 {
		t.Fatalf("notifications = %d, want 0", len(h.sent))
	}
	if h.store.items[0].Label != "Calculus" || h.store.saves != 1 {
		t.Fatalf("label=%q saves=%d", h.store.items[0].Label, h.store.saves)
	}
}

func TestDelayPerTarget(t *testing.T) {
	h := newHarness(testEntry{ID: "a"}, testEntry{ID: "b"}, testEntry{ID: "c"})
	h.fails["b"] = true
	delay := 20 * time.Millisecond

	start := time.Now()
	if _, err := h.engine(Options{Delay: delay}).RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 3*delay {
		t.Fatalf("cycle took %v, want >= %v", elapsed, 3*delay)
	}
}

func TestCancelDuringDelay(t *testing.T) {
	h := newHarness(testEntry{ID: "a"}, testEntry{ID: "b"})
	ctx, cancel := context.WithCancel(context.Background())
	e := New("test", h.store, Funcs[testEntry, seats]{
		Fetch: func(_ context.Context, t testEntry) (seats, error) {
			cancel()
			return seats{Current: 1, Max: 2}, nil
		},
		Classify: classifySeats,
		Notify:   func(context.Context, Change[testEntry, seats]) error { return nil },
	}, Options{Delay: time.Hour})

	if _, err := e.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if h.store.saves != 0 {
		t.Fatalf("saves = %d, want 0", h.store.saves)
	}
}

func TestCycleDoesNotOverlap(t *testing.T) {
	h := newHarness(testEntry{ID: "a"})
	release := make(chan struct{})
	entered := make(chan struct{})
	e := New("test", h.store, Funcs[testEntry, seats]{
		Fetch: func(_ context.Context, t testEntry) (seats, error) {
			close(entered)
			<-release
			return seats{Current: 1, Max: 2}, nil
		},
		Classify: classifySeats,
		Notify:   func(context.Context, Change[testEntry, seats]) error { return nil },
	}, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.RunCycle(context.Background())
	}()
	<-entered
	if _, err := e.RunCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("err = %v, want ErrCycleRunning", err)
	}
	close(release)
	<-done
}

func TestCheckOne(t *testing.T) {
	h := newHarness(testEntry{ID: "a", Last: "FULL"})
	h.results["a"] = seats{Current: 1, Max: 2}
	e := h.engine(Options{})

	res, err := e.CheckOne(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed || res.New.Value() != "AVAILABLE" {
		t.Fatalf("result = %+v", res)
	}
	if len(h.sent) != 1 || h.store.items[0].Last != "AVAILABLE" {
		t.Fatalf("sent=%d persisted=%q", len(h.sent), h.store.items[0].Last)
	}

	// A following cycle sees the persisted state and stays quiet.
	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.sent))
	}

	if _, err := e.CheckOne(context.Background(), "missing"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("err = %v, want ErrUnknownTarget", err)
	}
}

func TestTargetsAndCheckSummary(t *testing.T) {
	h := newHarness(testEntry{ID: "a", Label: "Algebra"}, testEntry{ID: "b", Last: "FULL"})
	h.results["a"] = seats{Current: 2, Max: 2}
	e := h.engine(Options{})

	list, err := e.Targets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Status != "unset" || list[1].Status != "FULL" {
		t.Fatalf("targets = %+v", list)
	}

	out, err := e.Check(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if out.Old != "unset" || out.New != "FULL" || !out.Changed || out.Target.Label != "Algebra" {
		t.Fatalf("outcome = %+v", out)
	}
}

type recorder struct {
	cycles []Report
	notes  []Notification
}

func (r *recorder) RecordCycle(_ context.Context, rep Report)        { r.cycles = append(r.cycles, rep) }
func (r *recorder) RecordNotification(_ context.Context, n Notification) { r.notes = append(r.notes, n) }

func TestRecorder(t *testing.T) {
	h := newHarness(testEntry{ID: "a"})
	h.results["a"] = seats{Current: 1, Max: 2}
	rec := &recorder{}

	if _, err := h.engine(Options{Recorder: rec}).RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.cycles) != 1 || len(rec.notes) != 1 {
		t.Fatalf("cycles=%d notes=%d", len(rec.cycles), len(rec.notes))
	}
	if rec.notes[0].Domain != "test" || rec.notes[0].New.Value() != "AVAILABLE" {
		t.Fatalf("note = %+v", rec.notes[0])
	}
}
