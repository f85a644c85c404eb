// Package calls defines the inbound call records consumed by the service and
// the contract of the provider that yields them.
package calls

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxRecords caps a single provider query; the provider has no date filter so
// this is the whole visible call log.
const MaxRecords = 1000

const DirectionInbound = "inbound"

// ErrSourceUnavailable covers transport failures and missing or rejected credentials.
var ErrSourceUnavailable = errors.New("call record source unavailable")

// Record is one call as reported by the provider.
type Record struct {
	SID       string    `json:"sid"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Direction string    `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
}

// Origin returns the trimmed caller number; empty means absent.
func (r Record) Origin() string {
	return strings.TrimSpace(r.From)
}

// HasTimestamp reports whether the provider supplied a usable creation time.
func (r Record) HasTimestamp() bool {
	return !r.CreatedAt.IsZero()
}

// Query narrows a provider listing.
type Query struct {
	To        string
	Direction string
	Limit     int
}

// Normalize clamps Limit to (0, MaxRecords] and defaults Direction to inbound.
func (q Query) Normalize() Query {
	if q.Limit <= 0 || q.Limit > MaxRecords {
		q.Limit = MaxRecords
	}
	if strings.TrimSpace(q.Direction) == "" {
		q.Direction = DirectionInbound
	}
	q.To = strings.TrimSpace(q.To)
	return q
}

// Source lists call records. Implementations wrap ErrSourceUnavailable.
type Source interface {
	ListCalls(ctx context.Context, q Query) ([]Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) ([]Record, error)

func (f SourceFunc) ListCalls(ctx context.Context, q Query) ([]Record, error) {
	return f(ctx, q)
}
