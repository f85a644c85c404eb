package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"call_dashboard/internal/contacts"
	"call_dashboard/internal/events"
	"call_dashboard/internal/metrics"
)

// Status values for runs.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Trigger values.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// Merger is the sync step a run executes.
type Merger interface {
	Merge(ctx context.Context, to string) (contacts.SyncResult, error)
}

// Run records one contact sync.
type Run struct {
	ID            string    `json:"id"`
	Trigger       string    `json:"trigger"`
	Destination   string    `json:"destination,omitempty"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	SyncedAt      time.Time `json:"syncTimestamp,omitempty"`
	Added         int       `json:"newContactsAdded"`
	TotalContacts int       `json:"totalContacts"`
	Error         string    `json:"error,omitempty"`
}

type Options struct {
	// Schedule is a standard five-field cron spec; empty disables it.
	Schedule string
	// Destination filters scheduled runs to one called number.
	Destination string
	HistorySize int
	Metrics     *metrics.Metrics
	Bus         *events.Bus
	Logger      *slog.Logger
}

// Runner executes contact syncs on demand and on a schedule, keeping a
// bounded history of recent runs.
type Runner struct {
	merger  Merger
	opts    Options
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time
	cancel  context.CancelFunc
	histMu  sync.Mutex
	history []Run
	next    int
	filled  bool
}

func NewRunner(m Merger, opts Options) *Runner {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		merger:  m,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		history: make([]Run, opts.HistorySize),
	}
}

// Start registers the schedule, if any. Scheduled runs never overlap.
func (r *Runner) Start(ctx context.Context) error {
	if r.opts.Schedule == "" {
		r.logger.Info("scheduled sync disabled")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.opts.Schedule, func() {
		_, _ = r.Trigger(ctx, TriggerSchedule, r.opts.Destination)
	}); err != nil {
		cancel()
		return fmt.Errorf("register sync schedule %q: %w", r.opts.Schedule, err)
	}
	r.cron = c
	r.cancel = cancel
	c.Start()
	r.logger.Info("scheduled sync enabled", "schedule", r.opts.Schedule)
	return nil
}

// Stop halts the schedule, cancels a running scheduled sync and waits for
// it to return.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	done := r.cron.Stop()
	r.cancel()
	<-done.Done()
}

// Trigger runs one sync synchronously. The run is recorded whether or not
// it succeeds, and the merge error is returned unchanged.
func (r *Runner) Trigger(ctx context.Context, trigger, to string) (Run, error) {
	run := Run{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		Destination: to,
		StartedAt:   r.now().UTC(),
	}
	res, err := r.merger.Merge(ctx, to)
	run.FinishedAt = r.now().UTC()
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		r.logger.Error("contact sync failed", "run_id", run.ID, "trigger", trigger, "error", err)
	} else {
		run.Status = StatusSucceeded
		run.SyncedAt = res.SyncedAt
		run.Added = len(res.Added)
		run.TotalContacts = res.TotalContacts
		r.logger.Info("contact sync finished", "run_id", run.ID, "trigger", trigger, "added", run.Added, "total", run.TotalContacts)
	}
	r.record(run)
	r.opts.Metrics.RecordSync(trigger, run.Added, err)
	r.opts.Bus.Publish(events.TypeSyncFinished, run)
	return run, err
}

// History returns recorded runs, newest first.
func (r *Runner) History() []Run {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	n := r.next
	if r.filled {
		n = len(r.history)
	}
	out := make([]Run, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.history)) % len(r.history)
		out = append(out, r.history[idx])
	}
	return out
}

func (r *Runner) record(run Run) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history[r.next] = run
	r.next = (r.next + 1) % len(r.history)
	if r.next == 0 {
		r.filled = true
	}
}
