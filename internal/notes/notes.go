// Package notes stores one free-text annotation per calendar date.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"call_dashboard/internal/dates"
	"call_dashboard/internal/events"
	"call_dashboard/internal/kv"
	"call_dashboard/internal/metrics"
)

const keyPrefix = "note:"

const defaultConcurrency = 8

// Key returns the storage key of a date's note.
func Key(date string) string { return keyPrefix + date }

// Store keeps notes in a kv.Store under note:<YYYY-MM-DD>. The backing store
// is injected; with kv.Memory notes live as long as the process.
type Store struct {
	kv          kv.Store
	concurrency int
	metrics     *metrics.Metrics
	bus         *events.Bus
	logger      *slog.Logger
}

type Options struct {
	// Concurrency bounds parallel lookups in Range.
	Concurrency int
	Metrics     *metrics.Metrics
	Bus         *events.Bus
	Logger      *slog.Logger
}

func NewStore(backend kv.Store, opts Options) *Store {
	s := &Store{
		kv:          backend,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		bus:         opts.Bus,
		logger:      opts.Logger,
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Get returns the note for date and whether one exists.
func (s *Store) Get(ctx context.Context, date string) (string, bool, error) {
	day, err := normalizeDate(date)
	if err != nil {
		return "", false, err
	}
	raw, ok, err := s.kv.Get(ctx, Key(day))
	if err != nil {
		return "", false, fmt.Errorf("get note: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return string(raw), true, nil
}

// Set stores the trimmed text. Blank text deletes the note.
func (s *Store) Set(ctx context.Context, date, text string) error {
	day, err := normalizeDate(date)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.Delete(ctx, day)
	}
	if err := s.kv.Set(ctx, Key(day), []byte(text)); err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	s.bus.Publish(events.TypeNoteSaved, map[string]any{"date": day, "deleted": false})
	return nil
}

func (s *Store) Delete(ctx context.Context, date string) error {
	day, err := normalizeDate(date)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, Key(day)); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	s.bus.Publish(events.TypeNoteSaved, map[string]any{"date": day, "deleted": true})
	return nil
}

// Range returns the notes between start and end inclusive. Dates without a
// note are omitted, and so are dates whose lookup failed; those failures are
// logged and counted but never fail the whole range.
func (s *Store) Range(ctx context.Context, start, end string) (map[string]string, error) {
	days, err := dates.Range(start, end)
	if err != nil {
		return nil, err
	}

	type slot struct {
		text string
		ok   bool
	}
	slots := make([]slot, len(days))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, day := range days {
		i, day := i, day
		g.Go(func() error {
			raw, ok, err := s.kv.Get(ctx, Key(day))
			if err != nil {
				s.metrics.RecordNoteLookupError()
				s.logger.Warn("note lookup failed", "date", day, "error", err)
				return nil
			}
			if ok {
				slots[i] = slot{text: string(raw), ok: true}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string)
	for i, day := range days {
		if slots[i].ok {
			out[day] = slots[i].text
		}
	}
	return out, nil
}

func normalizeDate(date string) (string, error) {
	t, err := dates.Parse(date)
	if err != nil {
		return "", err
	}
	return t.Format(dates.Layout), nil
}
