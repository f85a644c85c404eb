package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call_dashboard/internal/calls"
	"call_dashboard/internal/events"
	"call_dashboard/internal/kv"
	"call_dashboard/internal/metrics"
)

// Report is the read-only comparison between the provider and the roster.
type Report struct {
	Roster          []Contact   `json:"roster"`
	TotalContacts   int         `json:"totalContacts"`
	NewContactCount int         `json:"newContactCount"`
	LastSync        *time.Time  `json:"lastSync"`
	NewContacts     []Candidate `json:"newContacts"`
}

// SyncResult describes one Merge.
type SyncResult struct {
	SyncedAt      time.Time   `json:"syncTimestamp"`
	Added         []Candidate `json:"newContacts"`
	TotalContacts int         `json:"totalContacts"`
}

// Reconciler diffs and merges provider callers into the roster.
//
// Merge and Clear are serialized inside one process. Separate processes
// sharing a backend still race: the roster is read then written whole, and
// the last writer wins.
type Reconciler struct {
	source     calls.Source
	store      kv.Store
	exclusions *Exclusions
	limit      int
	now        func() time.Time
	metrics    *metrics.Metrics
	bus        *events.Bus
	logger     *slog.Logger

	mu sync.Mutex
}

type Options struct {
	Limit   int
	Metrics *metrics.Metrics
	Bus     *events.Bus
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewReconciler(source calls.Source, store kv.Store, ex *Exclusions, opts Options) *Reconciler {
	r := &Reconciler{
		source:     source,
		store:      store,
		exclusions: ex,
		limit:      opts.Limit,
		now:        opts.Now,
		metrics:    opts.Metrics,
		bus:        opts.Bus,
		logger:     opts.Logger,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Diff reports which provider callers are missing from the roster.
func (r *Reconciler) Diff(ctx context.Context, to string) (Report, error) {
	candidates, err := r.fetch(ctx, to)
	if err != nil {
		return Report{}, err
	}
	roster, lastSync, err := r.Roster(ctx)
	if err != nil {
		return Report{}, err
	}
	fresh := NewCandidates(candidates, roster)
	return Report{
		Roster:          SortByRecency(roster),
		TotalContacts:   len(roster),
		NewContactCount: len(fresh),
		LastSync:        lastSync,
		NewContacts:     fresh,
	}, nil
}

// Merge appends every new caller to the roster and stamps the sync time.
// Nothing is written when the provider query fails, and roster plus
// timestamp are written in one batch. A second Merge with no new calls
// leaves the roster bytes untouched and only moves the timestamp.
func (r *Reconciler) Merge(ctx context.Context, to string) (SyncResult, error) {
	candidates, err := r.fetch(ctx, to)
	if err != nil {
		return SyncResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roster, _, err := r.Roster(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	fresh := NewCandidates(candidates, roster)
	now := r.now().UTC()

	stamp, err := json.Marshal(now.Format(time.RFC3339Nano))
	if err != nil {
		return SyncResult{}, fmt.Errorf("encode last sync: %w", err)
	}
	batch := map[string][]byte{LastSyncKey: stamp}
	if len(fresh) > 0 {
		for _, c := range fresh {
			roster = append(roster, Contact{
				Phone:      c.Phone,
				FirstCall:  c.FirstCall,
				LastCall:   c.LastCall,
				TotalCalls: c.TotalCalls,
				DateAdded:  now,
			})
		}
		blob, err := json.Marshal(roster)
		if err != nil {
			return SyncResult{}, fmt.Errorf("encode roster: %w", err)
		}
		batch[RosterKey] = blob
	}
	if err := r.store.SetMany(ctx, batch); err != nil {
		return SyncResult{}, fmt.Errorf("save roster: %w", err)
	}

	r.metrics.SetRosterSize(len(roster))
	res := SyncResult{SyncedAt: now, Added: fresh, TotalContacts: len(roster)}
	r.bus.Publish(events.TypeContactsSynced, map[string]any{"added": len(fresh), "total": len(roster)})
	r.logger.Info("contacts synced", "added", len(fresh), "total", len(roster), "destination", to)
	return res, nil
}

// Clear drops the roster and the last-sync marker.
func (r *Reconciler) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, RosterKey, LastSyncKey); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}
	r.metrics.SetRosterSize(0)
	r.bus.Publish(events.TypeContactsCleared, nil)
	r.logger.Info("contacts cleared")
	return nil
}

// Roster loads the persisted contacts in stored order and the last sync time.
func (r *Reconciler) Roster(ctx context.Context) ([]Contact, *time.Time, error) {
	roster := []Contact{}
	if _, err := kv.GetJSON(ctx, r.store, RosterKey, &roster); err != nil {
		return nil, nil, fmt.Errorf("load roster: %w", err)
	}
	var raw string
	ok, err := kv.GetJSON(ctx, r.store, LastSyncKey, &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("load last sync: %w", err)
	}
	if !ok {
		return roster, nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// An unreadable marker only loses the "last synced" hint.
		r.logger.Warn("ignoring malformed last sync", "value", raw, "error", err)
		return roster, nil, nil
	}
	return roster, &ts, nil
}

func (r *Reconciler) fetch(ctx context.Context, to string) ([]Candidate, error) {
	records, err := r.source.ListCalls(ctx, calls.Query{
		To:        to,
		Direction: calls.DirectionInbound,
		Limit:     r.limit,
	}.Normalize())
	if err != nil {
		r.metrics.RecordSourceFailure()
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return Collect(records, r.exclusions), nil
}
