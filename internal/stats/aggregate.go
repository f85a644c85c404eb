// Package stats buckets inbound calls into per-day totals and unique callers.
package stats

import (
	"sort"
	"time"

	"call_dashboard/internal/calls"
	"call_dashboard/internal/dates"
	"call_dashboard/internal/orderedset"
)

// DailyStat is one calendar day of the requested window.
type DailyStat struct {
	Date          string `json:"date"`
	TotalCalls    int    `json:"totalCalls"`
	UniqueCallers int    `json:"uniqueCallers"`
}

// Result is the whole window. TotalUniqueCallers counts distinct origins across
// every day, so it is at least the busiest day's UniqueCallers and at most their sum.
type Result struct {
	DailyStats         []DailyStat `json:"dailyStats"`
	TotalUniqueCallers int         `json:"totalUniqueCallers"`
	SkippedRecords     int         `json:"skippedRecords"`
	OutOfWindowRecords int         `json:"outOfWindowRecords"`
}

type dayBucket struct {
	total   int
	callers *orderedset.Set[string]
}

// Aggregate counts records per calendar day of the window ending at now.
// Records without a timestamp are skipped; records dated outside the window
// are dropped. Both are counted in the result, neither is an error.
func Aggregate(records []calls.Record, b *dates.Bucketer, now time.Time, days int) (Result, error) {
	window, err := b.Window(now, days)
	if err != nil {
		return Result{}, err
	}

	buckets := make(map[string]*dayBucket, len(window))
	for _, date := range window {
		buckets[date] = &dayBucket{callers: orderedset.New[string]()}
	}
	everyone := orderedset.New[string]()

	var res Result
	for _, rec := range records {
		if !rec.HasTimestamp() {
			res.SkippedRecords++
			continue
		}
		bucket, ok := buckets[b.DateOf(rec.CreatedAt)]
		if !ok {
			res.OutOfWindowRecords++
			continue
		}
		bucket.total++
		if origin := rec.Origin(); origin != "" {
			bucket.callers.Add(origin)
			everyone.Add(origin)
		}
	}

	res.DailyStats = make([]DailyStat, 0, len(window))
	for _, date := range window {
		bucket := buckets[date]
		res.DailyStats = append(res.DailyStats, DailyStat{
			Date:          date,
			TotalCalls:    bucket.total,
			UniqueCallers: bucket.callers.Len(),
		})
	}
	// Window is already ascending; sorting keeps the contract explicit.
	sort.SliceStable(res.DailyStats, func(i, j int) bool {
		return res.DailyStats[i].Date < res.DailyStats[j].Date
	})
	res.TotalUniqueCallers = everyone.Len()
	return res, nil
}
