package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"call_dashboard/internal/calls"
	"call_dashboard/internal/config"
	"call_dashboard/internal/contacts"
	"call_dashboard/internal/dates"
	"call_dashboard/internal/events"
	"call_dashboard/internal/jobs"
	"call_dashboard/internal/kv"
	"call_dashboard/internal/metrics"
	"call_dashboard/internal/notes"
	"call_dashboard/internal/stats"
)

// Deps are the components the router serves.
type Deps struct {
	Config   config.Config
	Stats    *stats.Service
	Contacts *contacts.Reconciler
	Runner   *jobs.Runner
	Notes    *notes.Store
	Store    kv.Store
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	Deps
	now func() time.Time
}

func NewRouter(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Router{Deps: d, now: time.Now}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/calls", r.calls)
	mux.HandleFunc("/api/contacts", r.contacts)
	mux.HandleFunc("/api/contacts/export", r.exportContacts)
	mux.HandleFunc("/api/notes", r.notes)
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/syncs", r.syncs)
	mux.HandleFunc("/ops/events", r.events)
	mux.Handle("/metrics", r.Metrics.Handler())
}

func (r *Router) calls(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := req.URL.Query()
	days := r.Config.DefaultDays
	if v := strings.TrimSpace(q.Get("days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(w, "Invalid days parameter", fmt.Errorf("%w: days %q is not an integer", dates.ErrInvalidArgument, v))
			return
		}
		days = n
	}
	if days > r.Config.MaxDays {
		r.fail(w, "Invalid days parameter", fmt.Errorf("%w: days %d exceeds %d", dates.ErrInvalidArgument, days, r.Config.MaxDays))
		return
	}
	tz := strings.TrimSpace(q.Get("timezone"))
	if tz == "" {
		tz = r.Config.DefaultTimezone
	}
	res, err := r.Stats.Daily(req.Context(), stats.Request{Days: days, Timezone: tz, To: q.Get("phone")})
	if err != nil {
		r.fail(w, "Failed to fetch call data", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) contacts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		rep, err := r.Contacts.Diff(req.Context(), req.URL.Query().Get("phone"))
		if err != nil {
			r.fail(w, "Failed to fetch contacts", err)
			return
		}
		respondJSON(w, http.StatusOK, rep)
	case http.MethodPost:
		var body struct {
			Action      string `json:"action"`
			PhoneNumber string `json:"phoneNumber"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			r.fail(w, "Invalid request body", fmt.Errorf("%w: %v", dates.ErrInvalidArgument, err))
			return
		}
		switch body.Action {
		case "sync":
			run, err := r.Runner.Trigger(req.Context(), jobs.TriggerAPI, body.PhoneNumber)
			if err != nil {
				r.fail(w, "Failed to sync contacts", err)
				return
			}
			respondJSON(w, http.StatusOK, map[string]any{
				"success":          true,
				"runId":            run.ID,
				"syncTimestamp":    run.SyncedAt,
				"newContactsAdded": run.Added,
				"totalContacts":    run.TotalContacts,
			})
		case "clear":
			if err := r.Contacts.Clear(req.Context()); err != nil {
				r.fail(w, "Failed to clear contacts", err)
				return
			}
			respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Contact database cleared"})
		default:
			r.fail(w, "Invalid action", fmt.Errorf("%w: action %q", dates.ErrInvalidArgument, body.Action))
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Router) exportContacts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roster, _, err := r.Contacts.Roster(req.Context())
	if err != nil {
		r.fail(w, "Failed to export contacts", err)
		return
	}
	loc, err := dates.LoadZone(r.Config.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	day := func(t time.Time) string { return t.In(loc).Format(dates.Layout) }

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="contacts_%s.csv"`, day(r.now())))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Phone Number", "First Call", "Last Call", "Total Calls", "Date Added"})
	for _, c := range contacts.SortByRecency(roster) {
		_ = cw.Write([]string{c.Phone, day(c.FirstCall), day(c.LastCall), strconv.Itoa(c.TotalCalls), day(c.DateAdded)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		r.Logger.Warn("write csv", "error", err)
	}
}

func (r *Router) notes(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	switch req.Method {
	case http.MethodGet:
		q := req.URL.Query()
		if start, end := q.Get("start"), q.Get("end"); start != "" || end != "" {
			found, err := r.Notes.Range(ctx, start, end)
			if err != nil {
				r.fail(w, "Failed to fetch notes", err)
				return
			}
			respondJSON(w, http.StatusOK, map[string]any{"start": start, "end": end, "notes": found})
			return
		}
		date := q.Get("date")
		if date == "" {
			r.fail(w, "Date parameter required", fmt.Errorf("%w: date or start/end required", dates.ErrInvalidArgument))
			return
		}
		text, _, err := r.Notes.Get(ctx, date)
		if err != nil {
			r.fail(w, "Failed to fetch note", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"date": date, "note": text})
	case http.MethodPost:
		var body struct {
			Date string `json:"date"`
			Note string `json:"note"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			r.fail(w, "Invalid request body", fmt.Errorf("%w: %v", dates.ErrInvalidArgument, err))
			return
		}
		if body.Date == "" {
			r.fail(w, "Date required", fmt.Errorf("%w: date required", dates.ErrInvalidArgument))
			return
		}
		if err := r.Notes.Set(ctx, body.Date, body.Note); err != nil {
			r.fail(w, "Failed to save note", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "date": body.Date, "note": strings.TrimSpace(body.Note)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.Store.Ping(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) syncs(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.Runner.History())
}

func (r *Router) events(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sub := r.Bus.Subscribe()
	defer r.Bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-req.Context().Done():
			return
		}
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dates.ErrInvalidArgument), errors.Is(err, dates.ErrInvalidTimezone):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= 500 {
		r.Logger.Error(msg, "error", err)
	}
	respondJSON(w, status, map[string]string{"error": msg, "details": err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json", "error", err)
	}
}
