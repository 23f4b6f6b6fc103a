// Package watch provides the generic "load, fetch, classify, diff, persist,
// notify" poll cycle shared by every monitor domain.
//
// A domain plugs in a Store (its registry file) and four small functions:
//
//	e := watch.New("enrollment", reg, watch.Funcs[enrollment.Entry, enrollment.Snapshot]{
//		Fetch:    fetcher.Fetch,
//		Classify: enrollment.Classify,
//		Notify:   notifier.Notify,
//	}, watch.Options{Delay: time.Second, Logger: logger})
//	report, err := e.RunCycle(ctx)
//
// The diff is always taken against the persisted registry, never against an
// in-memory copy, so a state change is announced exactly once across
// restarts. Persistence happens at most once per cycle and always before any
// notification is dispatched.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a watched target as a domain persists it. WithStatus returns a
// copy carrying the new state; the receiver is never mutated.
type Entry[T any] interface {
	Key() string
	Title() string
	Status() State
	WithStatus(State) T
}

// Store is the durable backing of a domain's targets.
// Update runs fn under the store's lock and persists the result only when fn
// reports dirty.
type Store[T any] interface {
	Load() ([]T, error)
	Update(fn func([]T) ([]T, bool, error)) error
}

// Change is a notification intent produced by a cycle.
type Change[T any, S any] struct {
	Target   T
	Old      State
	New      State
	Snapshot S
}

// Funcs are the domain-specific pieces of a cycle. Fetch, Classify and
// Notify are required.
type Funcs[T Entry[T], S any] struct {
	// Fetch performs one upstream read for target. Any error is treated
	// the same way: logged, counted, no mutation.
	Fetch func(ctx context.Context, target T) (S, error)
	// Classify maps a snapshot to a state. It must be pure.
	Classify func(S) State
	// Notify delivers one change. Failures are logged and never retried.
	Notify func(ctx context.Context, c Change[T, S]) error
	// Validate rejects targets missing required side-channel state.
	// Rejected targets are skipped with a warning and stay in the registry.
	Validate func(T) error
	// Refresh updates display fields (label) from a fetched snapshot.
	Refresh func(T, S) T
}

// Options tunes the engine.
type Options struct {
	// Delay is the politeness pause after every fetched target. Default: 0.
	Delay time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Recorder receives cycle and notification records. Optional.
	Recorder Recorder
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Recorder persists cycle outcomes for later inspection.
type Recorder interface {
	RecordCycle(ctx context.Context, r Report)
	RecordNotification(ctx context.Context, n Notification)
}

// Notification is the record of one dispatched change.
type Notification struct {
	Domain string
	Target string
	Old    State
	New    State
	Err    error
	At     time.Time
}

// Report summarises one cycle.
type Report struct {
	Domain       string        `json:"domain"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Targets      int           `json:"targets"`
	Checked      int           `json:"checked"`
	Skipped      int           `json:"skipped"`
	FetchErrors  int           `json:"fetch_errors"`
	Changed      int           `json:"changed"`
	NotifyErrors int           `json:"notify_errors"`
	Saved        bool          `json:"saved"`
	Aborted      bool          `json:"aborted"`
}

// Summary is a read-only, domain-agnostic view of one target.
type Summary struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

// Outcome is the domain-agnostic result of a one-target check.
type Outcome struct {
	Target  Summary `json:"target"`
	Old     string  `json:"old"`
	New     string  `json:"new"`
	Changed bool    `json:"changed"`
}

// Result is the typed result of CheckOne.
type Result[T any, S any] struct {
	Target   T
	Snapshot S
	Old      State
	New      State
	Changed  bool
}

// Runner is the non-generic face of an Engine, used by the scheduler and
// the admin surfaces.
type Runner interface {
	Name() string
	RunCycle(ctx context.Context) (Report, error)
	Check(ctx context.Context, id string) (Outcome, error)
	Targets(ctx context.Context) ([]Summary, error)
	Stats() Stats
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles          int64         `json:"cycles"`
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	FetchErrors     int64         `json:"fetch_errors"`
	NotifyErrors    int64         `json:"notify_errors"`
	Aborted         int64         `json:"aborted"`
	LastCycle       time.Time     `json:"last_cycle"`
	AvgCycleTime    time.Duration `json:"avg_cycle_time"`
}

// Engine runs poll cycles for one domain. It is safe for concurrent use;
// cycles of the same engine never overlap.
type Engine[T Entry[T], S any] struct {
	name  string
	store Store[T]
	fn    Funcs[T, S]
	opts  Options

	cycleMu sync.Mutex

	cycles       atomic.Int64
	checks       atomic.Int64
	changes      atomic.Int64
	fetchErrors  atomic.Int64
	notifyErrors atomic.Int64
	aborted      atomic.Int64
	lastCycle    atomic.Int64
	cycleNs      atomic.Int64
}

// New creates an Engine for domain name.
func New[T Entry[T], S any](name string, store Store[T], fn Funcs[T, S], opts Options) *Engine[T, S] {
	opts.defaults()
	return &Engine[T, S]{
		name:  name,
		store: store,
		fn:    fn,
		opts:  opts,
	}
}

// Name returns the domain name.
func (e *Engine[T, S]) Name() string { return e.name }

// Stats returns the current counters.
func (e *Engine[T, S]) Stats() Stats {
	s := Stats{
		Cycles:          e.cycles.Load(),
		Checks:          e.checks.Load(),
		ChangesDetected: e.changes.Load(),
		FetchErrors:     e.fetchErrors.Load(),
		NotifyErrors:    e.notifyErrors.Load(),
		Aborted:         e.aborted.Load(),
	}
	if ns := e.lastCycle.Load(); ns > 0 {
		s.LastCycle = time.Unix(0, ns)
	}
	if s.Cycles > 0 {
		s.AvgCycleTime = time.Duration(e.cycleNs.Load() / s.Cycles)
	}
	return s
}

type pending[S any] struct {
	snap  S
	state State
}

// RunCycle performs one full poll cycle. It returns ErrCycleRunning when a
// cycle of this engine is already in progress.
func (e *Engine[T, S]) RunCycle(ctx context.Context) (Report, error) {
	if !e.cycleMu.TryLock() {
		return Report{Domain: e.name}, ErrCycleRunning
	}
	defer e.cycleMu.Unlock()

	log := e.opts.Logger.With("domain", e.name)
	rep := Report{Domain: e.name, Started: time.Now()}
	defer func() {
		rep.Duration = time.Since(rep.Started)
		e.cycles.Add(1)
		e.cycleNs.Add(int64(rep.Duration))
		e.lastCycle.Store(rep.Started.UnixNano())
		if e.opts.Recorder != nil {
			e.opts.Recorder.RecordCycle(context.WithoutCancel(ctx), rep)
		}
	}()

	targets, err := e.store.Load()
	if err != nil {
		rep.Aborted = true
		e.aborted.Add(1)
		log.Error("watch: registry unreadable, cycle skipped", "error", err)
		return rep, fmt.Errorf("watch: load %s: %w", e.name, err)
	}
	rep.Targets = len(targets)

	pend := make(map[string]pending[S])
	for _, t := range targets {
		if e.fn.Validate != nil {
			if err := e.fn.Validate(t); err != nil {
				rep.Skipped++
				log.Warn("watch: target skipped", "target", t.Key(), "error", err)
				continue
			}
		}

		state, snap, ok := e.probe(ctx, log, t)
		if ok {
			rep.Checked++
			if e.needsCommit(t, snap, state) {
				pend[t.Key()] = pending[S]{snap: snap, state: state}
			}
		} else {
			rep.FetchErrors++
		}

		if err := sleep(ctx, e.opts.Delay); err != nil {
			log.Info("watch: cycle cancelled", "processed", rep.Checked+rep.FetchErrors)
			return rep, err
		}
	}

	if len(pend) == 0 {
		log.Debug("watch: cycle done, no changes", "targets", rep.Targets, "fetch_errors", rep.FetchErrors)
		return rep, nil
	}

	changes, saved, err := e.commit(pend)
	if err != nil {
		log.Error("watch: persist failed, notifications withheld", "error", err)
		return rep, fmt.Errorf("watch: persist %s: %w", e.name, err)
	}
	rep.Saved = saved
	rep.Changed = len(changes)
	e.changes.Add(int64(len(changes)))

	rep.NotifyErrors = e.dispatch(ctx, log, changes)

	log.Info("watch: cycle done",
		"targets", rep.Targets, "changed", rep.Changed,
		"fetch_errors", rep.FetchErrors, "notify_errors", rep.NotifyErrors)
	return rep, nil
}

// CheckOne runs the fetch, classify, diff, persist, notify sequence for a
// single target outside the schedule.
func (e *Engine[T, S]) CheckOne(ctx context.Context, id string) (Result[T, S], error) {
	var res Result[T, S]
	log := e.opts.Logger.With("domain", e.name)

	targets, err := e.store.Load()
	if err != nil {
		return res, fmt.Errorf("watch: load %s: %w", e.name, err)
	}
	var (
		target T
		found  bool
	)
	for _, t := range targets {
		if t.Key() == id {
			target, found = t, true
			break
		}
	}
	if !found {
		return res, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	if e.fn.Validate != nil {
		if err := e.fn.Validate(target); err != nil {
			return res, err
		}
	}

	e.checks.Add(1)
	snap, err := e.fn.Fetch(ctx, target)
	if err != nil {
		e.fetchErrors.Add(1)
		log.Warn("watch: fetch failed", "target", id, "error", err)
		return res, fmt.Errorf("watch: fetch %s: %w", id, err)
	}
	state := e.fn.Classify(snap)
	res = Result[T, S]{Target: target, Snapshot: snap, Old: target.Status(), New: state}

	if !e.needsCommit(target, snap, state) {
		return res, nil
	}
	changes, _, err := e.commit(map[string]pending[S]{id: {snap: snap, state: state}})
	if err != nil {
		return res, fmt.Errorf("watch: persist %s: %w", e.name, err)
	}
	if len(changes) > 0 {
		res.Target = changes[0].Target
		res.Old = changes[0].Old
		res.Changed = true
		e.changes.Add(1)
		e.dispatch(ctx, log, changes)
	}
	return res, nil
}

// Check is the untyped form of CheckOne.
func (e *Engine[T, S]) Check(ctx context.Context, id string) (Outcome, error) {
	res, err := e.CheckOne(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Target:  summarize(res.Target.WithStatus(res.New)),
		Old:     res.Old.String(),
		New:     res.New.String(),
		Changed: res.Changed,
	}, nil
}

// Targets lists every target in registry order.
func (e *Engine[T, S]) Targets(_ context.Context) ([]Summary, error) {
	targets, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(targets))
	for i, t := range targets {
		out[i] = summarize(t)
	}
	return out, nil
}

func summarize[T Entry[T]](t T) Summary {
	return Summary{ID: t.Key(), Label: t.Title(), Status: t.Status().String()}
}

func (e *Engine[T, S]) probe(ctx context.Context, log *slog.Logger, t T) (State, S, bool) {
	e.checks.Add(1)
	snap, err := e.fn.Fetch(ctx, t)
	if err != nil {
		e.fetchErrors.Add(1)
		log.Warn("watch: fetch failed", "target", t.Key(), "error", err)
		var zero S
		return State{}, zero, false
	}
	return e.fn.Classify(snap), snap, true
}

func (e *Engine[T, S]) needsCommit(t T, snap S, state State) bool {
	if !t.Status().Equal(state) {
		return true
	}
	return e.fn.Refresh != nil && e.fn.Refresh(t, snap).Title() != t.Title()
}

// commit applies pending states to the persisted registry in one update.
// The old state of each change is read from the store inside the lock, so a
// concurrent CheckOne or command cannot cause a duplicate announcement.
func (e *Engine[T, S]) commit(pend map[string]pending[S]) ([]Change[T, S], bool, error) {
	var (
		changes []Change[T, S]
		dirty   bool
	)
	err := e.store.Update(func(cur []T) ([]T, bool, error) {
		changes, dirty = changes[:0], false
		for i, t := range cur {
			p, ok := pend[t.Key()]
			if !ok {
				continue
			}
			next := t
			if e.fn.Refresh != nil {
				next = e.fn.Refresh(next, p.snap)
				if next.Title() != t.Title() {
					dirty = true
				}
			}
			if old := t.Status(); !old.Equal(p.state) {
				next = next.WithStatus(p.state)
				changes = append(changes, Change[T, S]{Target: next, Old: old, New: p.state, Snapshot: p.snap})
				dirty = true
			}
			cur[i] = next
		}
		return cur, dirty, nil
	})
	if err != nil {
		return nil, false, err
	}
	return changes, dirty, nil
}

func (e *Engine[T, S]) dispatch(ctx context.Context, log *slog.Logger, changes []Change[T, S]) int {
	failed := 0
	for _, c := range changes {
		err := e.fn.Notify(ctx, c)
		if err != nil {
			failed++
			e.notifyErrors.Add(1)
			log.Error("watch: notify failed", "target", c.Target.Key(), "old", c.Old.String(), "new", c.New.String(), "error", err)
		} else {
			log.Info("watch: state changed", "target", c.Target.Key(), "old", c.Old.String(), "new", c.New.String())
		}
		if e.opts.Recorder != nil {
			e.opts.Recorder.RecordNotification(context.WithoutCancel(ctx), Notification{
				Domain: e.name,
				Target: c.Target.Key(),
				Old:    c.Old,
				New:    c.New,
				Err:    err,
				At:     time.Now(),
			})
		}
	}
	return failed
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
