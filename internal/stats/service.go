package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"call_dashboard/internal/calls"
	"call_dashboard/internal/dates"
	"call_dashboard/internal/metrics"
)

// Request selects the window, zone and optional destination number.
// Timezone must already carry the caller's default; Service does not invent one.
type Request struct {
	Days     int
	Timezone string
	To       string
}

type Service struct {
	source  calls.Source
	limit   int
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(source calls.Source, limit int, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, limit: limit, now: time.Now, metrics: m, logger: logger}
}

// Daily validates the request, queries the provider and aggregates.
func (s *Service) Daily(ctx context.Context, req Request) (Result, error) {
	res, err := s.daily(ctx, req)
	s.metrics.RecordAggregation(err)
	return res, err
}

func (s *Service) daily(ctx context.Context, req Request) (Result, error) {
	if req.Days < 0 {
		return Result{}, fmt.Errorf("%w: days must not be negative (got %d)", dates.ErrInvalidArgument, req.Days)
	}
	bucketer, err := dates.NewBucketer(req.Timezone)
	if err != nil {
		return Result{}, err
	}

	records, err := s.source.ListCalls(ctx, calls.Query{
		To:        req.To,
		Direction: calls.DirectionInbound,
		Limit:     s.limit,
	}.Normalize())
	if err != nil {
		s.metrics.RecordSourceFailure()
		return Result{}, fmt.Errorf("list calls: %w", err)
	}

	res, err := Aggregate(records, bucketer, s.now(), req.Days)
	if err != nil {
		return Result{}, err
	}
	s.metrics.RecordRecords(len(records), res.SkippedRecords, res.OutOfWindowRecords)
	s.logger.Debug("aggregated calls",
		"days", req.Days,
		"timezone", req.Timezone,
		"records", len(records),
		"skipped", res.SkippedRecords,
		"out_of_window", res.OutOfWindowRecords,
		"unique_callers", res.TotalUniqueCallers,
	)
	return res, nil
}
