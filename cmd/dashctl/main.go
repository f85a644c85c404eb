// Command dashctl drives a running call-dashboard service: trigger or clear
// contact syncs, export the roster, and bulk-import day notes.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: dashctl [--url URL] <command> [flags]

commands:
  sync          merge new callers into the roster (--phone to filter)
  clear         wipe the roster (requires --yes)
  export        download the roster CSV (--out FILE, default stdout)
  import-notes  load "YYYY-MM-DD<TAB>text" lines from --file
`

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("dashctl", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := pflag.NewFlagSet("dashctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	baseURL := global.String("url", os.Getenv("SERVICE_BASE_URL"), "service base URL")
	timeout := global.Duration("timeout", 60*time.Second, "per-request timeout")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	c := &client{
		base: normalizeBaseURL(*baseURL, os.Getenv("HTTP_PORT")),
		http: &http.Client{Timeout: *timeout},
	}

	cmd, cmdArgs := rest[0], rest[1:]
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	switch cmd {
	case "sync":
		phone := fs.String("phone", "", "only consider calls to this number")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		var out map[string]any
		if err := c.postJSON(ctx, "/api/contacts", map[string]string{"action": "sync", "phoneNumber": *phone}, &out); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "run %v: added %v, total %v\n", out["runId"], out["newContactsAdded"], out["totalContacts"])
	case "clear":
		yes := fs.Bool("yes", false, "confirm wiping the roster")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if !*yes {
			return errors.New("refusing to clear without --yes")
		}
		if err := c.postJSON(ctx, "/api/contacts", map[string]string{"action": "clear"}, nil); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "roster cleared")
	case "export":
		out := fs.String("out", "", "write CSV to this file instead of stdout")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		w := stdout
		if *out != "" {
			f, err := os.Create(*out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return c.download(ctx, "/api/contacts/export", w)
	case "import-notes":
		file := fs.String("file", "", "notes file")
		workers := fs.Int("concurrency", 8, "parallel uploads")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		entries, err := parseNotes(f)
		if err != nil {
			return err
		}
		failed := c.importNotes(ctx, entries, *workers)
		fmt.Fprintf(stdout, "imported %d notes, %d failed\n", len(entries)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("%d notes failed", failed)
		}
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

type note struct {
	Date string `json:"date"`
	Note string `json:"note"`
}

// parseNotes reads one note per line: a date, then a tab or comma, then the
// text. Blank lines and # comments are skipped.
func parseNotes(r io.Reader) ([]note, error) {
	var out []note
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		date, text, ok := strings.Cut(line, "\t")
		if !ok {
			date, text, ok = strings.Cut(line, ",")
		}
		if !ok {
			return nil, fmt.Errorf("line %d: expected date and text", lineNo)
		}
		out = append(out, note{Date: strings.TrimSpace(date), Note: strings.TrimSpace(text)})
	}
	return out, scanner.Err()
}

func normalizeBaseURL(raw, port string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		if port == "" {
			port = ":8080"
		}
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		return "http://localhost" + port
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return raw
}

type client struct {
	base string
	http *http.Client
}

func (c *client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) download(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// importNotes uploads entries in parallel and returns how many failed.
func (c *client) importNotes(ctx context.Context, entries []note, workers int) int {
	if workers <= 0 {
		workers = 1
	}
	failed := make([]bool, len(entries))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, n := range entries {
		i, n := i, n
		g.Go(func() error {
			if err := c.postJSON(ctx, "/api/notes", n, nil); err != nil {
				slog.Warn("import note", "date", n.Date, "error", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
	count := 0
	for _, f := range failed {
		if f {
			count++
		}
	}
	return count
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s (%s)", resp.Status, body.Error, body.Details)
	}
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
}
