// Package scheduler runs each monitor domain on its own cron schedule.
//
// Every job is wrapped with cron.SkipIfStillRunning, so cycles of one domain
// never overlap while different domains run concurrently. Nothing fires
// until Start's ready channel is closed (the Discord session is up);
// interval schedules ("@every 3m") then run once immediately, fixed-time
// schedules wait for their slot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. ctx is cancelled when the domain is
// removed or the scheduler stops.
type Job func(ctx context.Context)

type entry struct {
	name     string
	spec     string
	id       cron.EntryID
	run      cron.Job
	ctx      context.Context
	cancel   context.CancelFunc
	interval bool
}

// Info describes a registered domain.
type Info struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitzero"`
}

// Scheduler owns one cron instance shared by every domain.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	base   context.Context
	stop   context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	started bool

	once    sync.Once
	running sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler. Call Add for each domain, then Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{logger: slog.Default(), entries: make(map[string]*entry)}
	for _, o := range opts {
		o(s)
	}
	s.base, s.stop = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithLogger(cronLogger{s.logger}))
	return s
}

// Add registers job under name with a standard cron spec. CRON_TZ= prefixes
// and descriptors such as "@every 10m" are accepted.
func (s *Scheduler) Add(name, spec string, job Job) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: %s: parse %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, name)
	}

	e := &entry{name: name, spec: spec, interval: strings.HasPrefix(spec, "@every")}
	e.ctx, e.cancel = context.WithCancel(s.base)
	logger := cronLogger{s.logger.With("domain", name)}
	e.run = cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		s.mu.Lock()
		if e.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.running.Add(1)
		s.mu.Unlock()
		defer s.running.Done()
		job(e.ctx)
	}))
	e.id = s.cron.Schedule(sched, e.run)
	s.entries[name] = e

	s.logger.Info("scheduler: domain registered", "domain", name, "spec", spec)
	if s.started && e.interval {
		go e.run.Run()
	}
	return nil
}

// Start begins firing schedules once ready is closed. Repeated calls are
// no-ops, so it is safe to call from every Ready event.
func (s *Scheduler) Start(ready <-chan struct{}) {
	s.once.Do(func() {
		go func() {
			select {
			case <-ready:
			case <-s.base.Done():
				return
			}
			s.mu.Lock()
			if s.base.Err() != nil {
				// Stop won the race with ready.
				s.mu.Unlock()
				return
			}
			s.started = true
			s.cron.Start()
			for _, e := range s.entries {
				if e.interval {
					go e.run.Run()
				}
			}
			n := len(s.entries)
			s.mu.Unlock()
			s.logger.Info("scheduler: started", "domains", n)
		}()
	})
}

// Remove cancels the named domain and drops its schedule.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScheduled, name)
	}
	e.cancel()
	s.cron.Remove(e.id)
	delete(s.entries, name)
	s.logger.Info("scheduler: domain removed", "domain", name)
	return nil
}

// Entries lists registered domains sorted by name.
func (s *Scheduler) Entries() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		info := Info{Name: e.name, Spec: e.spec}
		if s.started {
			info.Next = s.cron.Entry(e.id).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every domain and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.running.Wait()
	s.logger.Info("scheduler: stopped")
}

// cronLogger bridges cron's logr-style logger to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("scheduler: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}
