// Package twilio lists inbound calls from the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call_dashboard/internal/calls"
)

const (
	DefaultBaseURL = "https://api.twilio.com"
	apiVersion     = "2010-04-01"
	maxPageSize    = 1000
	// pageHeadroom extra pages are followed past the ones Limit needs, to
	// skip calls of the other direction.
	pageHeadroom = 4
)

// Config carries account credentials and transport settings.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
	// Retries bounds re-attempts of a page after transient failures.
	Retries int
}

// Client implements calls.Source.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

type callResource struct {
	SID         string `json:"sid"`
	From        string `json:"from"`
	To          string `json:"to"`
	Direction   string `json:"direction"`
	DateCreated string `json:"date_created"`
}

type callPage struct {
	Calls       []callResource `json:"calls"`
	NextPageURI string         `json:"next_page_uri"`
}

// ListCalls pages through the account's call log until q.Limit records of
// the requested direction are collected, the log ends, or the page bound
// derived from q.Limit is reached.
func (c *Client) ListCalls(ctx context.Context, q calls.Query) ([]calls.Record, error) {
	if strings.TrimSpace(c.cfg.AccountSID) == "" || strings.TrimSpace(c.cfg.AuthToken) == "" {
		return nil, fmt.Errorf("%w: twilio credentials not configured", calls.ErrSourceUnavailable)
	}
	q = q.Normalize()

	pageSize := min(q.Limit, maxPageSize)
	maxPages := (q.Limit+pageSize-1)/pageSize + pageHeadroom
	next := c.firstPageURL(q, pageSize)
	out := make([]calls.Record, 0, q.Limit)
	pages := 0
	for next != "" && len(out) < q.Limit {
		if pages == maxPages {
			c.logger.Warn("twilio page limit reached", "pages", pages, "count", len(out), "limit", q.Limit)
			break
		}
		pages++
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, res := range page.Calls {
			// The list endpoint has no direction filter; inbound calls are
			// reported as "inbound", everything else is outbound-*.
			if !strings.EqualFold(res.Direction, q.Direction) {
				continue
			}
			out = append(out, toRecord(res))
			if len(out) == q.Limit {
				break
			}
		}
		next = ""
		if page.NextPageURI != "" {
			next = c.cfg.BaseURL + page.NextPageURI
		}
	}
	c.logger.Debug("twilio calls listed", "count", len(out), "pages", pages, "to", q.To)
	return out, nil
}

func (c *Client) firstPageURL(q calls.Query, pageSize int) string {
	params := url.Values{}
	params.Set("PageSize", strconv.Itoa(pageSize))
	if q.To != "" {
		params.Set("To", q.To)
	}
	return fmt.Sprintf("%s/%s/Accounts/%s/Calls.json?%s", c.cfg.BaseURL, apiVersion, url.PathEscape(c.cfg.AccountSID), params.Encode())
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (callPage, error) {
	var page callPage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := fmt.Errorf("twilio status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		page = callPage{}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return backoff.Permanent(fmt.Errorf("decode twilio page: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	// Attempts are bounded by Retries and ctx, not by elapsed time; each one
	// already carries the client timeout.
	b.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("twilio request failed, retrying", "error", err, "wait", wait)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Retries)), ctx), notify)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return callPage{}, fmt.Errorf("%w: %w", calls.ErrSourceUnavailable, err)
	}
	return page, nil
}

// toRecord maps the API resource. An unparseable date_created yields the
// zero time, which downstream code treats as a malformed record.
func toRecord(res callResource) calls.Record {
	rec := calls.Record{SID: res.SID, From: res.From, To: res.To, Direction: res.Direction}
	if ts, err := time.Parse(time.RFC1123Z, strings.TrimSpace(res.DateCreated)); err == nil {
		rec.CreatedAt = ts.UTC()
	}
	return rec
}
