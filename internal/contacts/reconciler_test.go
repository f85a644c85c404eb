package contacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"call_dashboard/internal/calls"
	"call_dashboard/internal/events"
	"call_dashboard/internal/kv"
	"call_dashboard/internal/metrics"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)

type stubSource struct {
	records []calls.Record
	err     error
	queries []calls.Query
}

func (s *stubSource) ListCalls(ctx context.Context, q calls.Query) ([]calls.Record, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

// failingStore wraps a store and fails SetMany on demand.
type failingStore struct {
	kv.Store
	failSet bool
}

func (f *failingStore) SetMany(ctx context.Context, values map[string][]byte) error {
	if f.failSet {
		return fmt.Errorf("%w: disk full", kv.ErrPersistence)
	}
	return f.Store.SetMany(ctx, values)
}

func newTestReconciler(src calls.Source, st kv.Store, now time.Time) *Reconciler {
	return NewReconciler(src, st, NewExclusions([]string{"+15132357254"}), Options{
		Limit:   1000,
		Metrics: metrics.New(),
		Bus:     events.NewBus(),
		Now:     func() time.Time { return now },
	})
}

func TestDiffKnownPhoneIsNotNew(t *testing.T) {
	st := kv.NewMemory()
	ctx := context.Background()
	seed := `[{"phone":"+15551234567","firstCall":"2025-04-01T00:00:00Z","lastCall":"2025-04-02T00:00:00Z","totalCalls":4,"dateAdded":"2025-04-03T00:00:00Z"}]`
	if err := st.Set(ctx, RosterKey, []byte(seed)); err != nil {
		t.Fatal(err)
	}
	src := &stubSource{records: []calls.Record{{From: "+15551234567", CreatedAt: t0}}}
	rep, err := newTestReconciler(src, st, t0).Diff(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if rep.NewContactCount != 0 || len(rep.NewContacts) != 0 {
		t.Fatalf("expected no new contacts, got %+v", rep.NewContacts)
	}
	if rep.TotalContacts != 1 || rep.LastSync != nil {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestDiffFoldsRepeatCallerIntoOneCandidate(t *testing.T) {
	early := t0.Add(-2 * time.Hour)
	src := &stubSource{records: []calls.Record{
		{From: "+15550001111", CreatedAt: t0},
		{From: "+15550001111", CreatedAt: early},
	}}
	rep, err := newTestReconciler(src, kv.NewMemory(), t0).Diff(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	want := []Candidate{{Phone: "+15550001111", FirstCall: early, LastCall: t0, TotalCalls: 2}}
	if diff := cmp.Diff(want, rep.NewContacts); diff != "" {
		t.Fatalf("new contacts mismatch (-want +got):\n%s", diff)
	}
	if rep.NewContactCount != 1 {
		t.Fatalf("expected count 1, got %d", rep.NewContactCount)
	}
}

func TestExcludedOriginsNeverBecomeContacts(t *testing.T) {
	src := &stubSource{records: []calls.Record{
		{From: "Anonymous", CreatedAt: t0},
		{From: "ANONYMOUS", CreatedAt: t0},
		{From: "  ", CreatedAt: t0},
		{From: "", CreatedAt: t0},
		{From: "+15132357254", CreatedAt: t0},
		{From: "+15550002222", CreatedAt: t0},
		{From: "+15550003333"},
	}}
	rep, err := newTestReconciler(src, kv.NewMemory(), t0).Diff(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.NewContacts) != 1 || rep.NewContacts[0].Phone != "+15550002222" {
		t.Fatalf("unexpected new contacts %+v", rep.NewContacts)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	st := kv.NewMemory()
	ctx := context.Background()
	src := &stubSource{records: []calls.Record{
		{From: "+15550001111", CreatedAt: t0},
		{From: "+15550002222", CreatedAt: t0.Add(time.Minute)},
	}}
	r := newTestReconciler(src, st, t0)

	first, err := r.Merge(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Added) != 2 || first.TotalContacts != 2 {
		t.Fatalf("unexpected first merge %+v", first)
	}
	before, _, _ := st.Get(ctx, RosterKey)

	r.now = func() time.Time { return t0.Add(time.Hour) }
	second, err := r.Merge(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Added) != 0 || second.TotalContacts != 2 {
		t.Fatalf("second merge should add nothing, got %+v", second)
	}
	after, _, _ := st.Get(ctx, RosterKey)
	if !bytes.Equal(before, after) {
		t.Fatalf("roster changed on idempotent merge:\n%s\n%s", before, after)
	}
	_, last, err := r.Roster(ctx)
	if err != nil || last == nil || !last.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected last sync to move, got %v err=%v", last, err)
	}
}

func TestMergeFreezesExistingContacts(t *testing.T) {
	st := kv.NewMemory()
	ctx := context.Background()
	src := &stubSource{records: []calls.Record{{From: "+15550001111", CreatedAt: t0}}}
	r := newTestReconciler(src, st, t0)
	if _, err := r.Merge(ctx, ""); err != nil {
		t.Fatal(err)
	}

	src.records = append(src.records,
		calls.Record{From: "+15550001111", CreatedAt: t0.Add(24 * time.Hour)},
		calls.Record{From: "+15550004444", CreatedAt: t0.Add(24 * time.Hour)},
	)
	r.now = func() time.Time { return t0.Add(25 * time.Hour) }
	res, err := r.Merge(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 1 || res.Added[0].Phone != "+15550004444" {
		t.Fatalf("unexpected added %+v", res.Added)
	}

	roster, _, err := r.Roster(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Contact{
		{Phone: "+15550001111", FirstCall: t0, LastCall: t0, TotalCalls: 1, DateAdded: t0},
		{Phone: "+15550004444", FirstCall: t0.Add(24 * time.Hour), LastCall: t0.Add(24 * time.Hour), TotalCalls: 1, DateAdded: t0.Add(25 * time.Hour)},
	}
	if diff := cmp.Diff(want, roster); diff != "" {
		t.Fatalf("roster mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSourceUnavailableWritesNothing(t *testing.T) {
	st := kv.NewMemory()
	ctx := context.Background()
	src := &stubSource{err: fmt.Errorf("%w: 401", calls.ErrSourceUnavailable)}
	r := newTestReconciler(src, st, t0)

	if _, err := r.Merge(ctx, ""); !errors.Is(err, calls.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if _, err := r.Diff(ctx, ""); !errors.Is(err, calls.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable from diff, got %v", err)
	}
	for _, k := range []string{RosterKey, LastSyncKey} {
		if _, ok, _ := st.Get(ctx, k); ok {
			t.Fatalf("%s written despite source failure", k)
		}
	}
}

func TestMergePersistenceFailureLeavesStoreUntouched(t *testing.T) {
	mem := kv.NewMemory()
	st := &failingStore{Store: mem, failSet: true}
	src := &stubSource{records: []calls.Record{{From: "+15550001111", CreatedAt: t0}}}
	r := newTestReconciler(src, st, t0)

	if _, err := r.Merge(context.Background(), ""); !errors.Is(err, kv.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	for _, k := range []string{RosterKey, LastSyncKey} {
		if _, ok, _ := mem.Get(context.Background(), k); ok {
			t.Fatalf("%s partially written", k)
		}
	}
}

func TestClearWipesRosterAndLastSync(t *testing.T) {
	st := kv.NewMemory()
	ctx := context.Background()
	src := &stubSource{records: []calls.Record{{From: "+15550001111", CreatedAt: t0}}}
	r := newTestReconciler(src, st, t0)
	if _, err := r.Merge(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	roster, last, err := r.Roster(ctx)
	if err != nil || len(roster) != 0 || last != nil {
		t.Fatalf("expected empty roster, got %v last=%v err=%v", roster, last, err)
	}
	rep, err := r.Diff(ctx, "")
	if err != nil || rep.NewContactCount != 1 {
		t.Fatalf("cleared roster should see caller as new again: %+v err=%v", rep, err)
	}
}

func TestDiffPassesDestinationFilter(t *testing.T) {
	src := &stubSource{}
	r := newTestReconciler(src, kv.NewMemory(), t0)
	if _, err := r.Diff(context.Background(), "+15559990000"); err != nil {
		t.Fatal(err)
	}
	want := calls.Query{To: "+15559990000", Direction: calls.DirectionInbound, Limit: 1000}
	if len(src.queries) != 1 || src.queries[0] != want {
		t.Fatalf("unexpected queries %+v", src.queries)
	}
}

func TestReportRosterOrderedByRecency(t *testing.T) {
	roster := []Contact{
		{Phone: "b", LastCall: t0},
		{Phone: "a", LastCall: t0.Add(time.Hour)},
		{Phone: "c", LastCall: t0},
	}
	got := SortByRecency(roster)
	order := []string{got[0].Phone, got[1].Phone, got[2].Phone}
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if roster[0].Phone != "b" {
		t.Fatalf("SortByRecency must not mutate its input")
	}
}

func TestExclusionsReplace(t *testing.T) {
	ex := NewExclusions([]string{"+1111"})
	if !ex.Excluded("+1111") || ex.Excluded("+2222") {
		t.Fatalf("unexpected initial exclusions")
	}
	ex.Replace([]string{" +2222 ", ""})
	if ex.Excluded("+1111") || !ex.Excluded("+2222") {
		t.Fatalf("replace did not swap numbers")
	}
	if diff := cmp.Diff([]string{"+2222"}, ex.Numbers()); diff != "" {
		t.Fatalf("numbers mismatch:\n%s", diff)
	}
	var none *Exclusions
	if !none.Excluded("anonymous") || none.Excluded("+3333") {
		t.Fatalf("nil exclusions should only apply the built-in rules")
	}
}
