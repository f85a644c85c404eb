package watch

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"call_dashboard/internal/events"
)

// LoadExclusionsFile reads one number per line. Blank lines and lines
// starting with # are ignored, as is anything after a # on a line.
func LoadExclusionsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Target receives reloaded numbers; contacts.Exclusions satisfies it.
type Target interface {
	Replace(numbers []string)
}

// Watcher keeps a Target in sync with an exclusions file. Static numbers
// from configuration are always kept alongside the file's contents.
type Watcher struct {
	path   string
	static []string
	target Target
	bus    *events.Bus
	logger *slog.Logger
}

func New(path string, static []string, target Target, bus *events.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, static: static, target: target, bus: bus, logger: logger}
}

// Start loads the file once and then reloads it on change until ctx ends.
// The file's directory is watched so editors that replace the file on save
// are picked up.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		w.logger.Info("exclusions watcher disabled")
		return nil
	}
	if err := w.Reload(); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(w.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := w.Reload(); err != nil {
					w.logger.Warn("exclusions reload failed, keeping previous list", "path", w.path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Reload reads the file and replaces the target's numbers.
func (w *Watcher) Reload() error {
	numbers, err := LoadExclusionsFile(w.path)
	if err != nil {
		return err
	}
	all := make([]string, 0, len(w.static)+len(numbers))
	all = append(all, w.static...)
	all = append(all, numbers...)
	w.target.Replace(all)
	w.bus.Publish(events.TypeExclusionsReset, map[string]any{"path": w.path, "count": len(all)})
	w.logger.Info("exclusions reloaded", "path", w.path, "count", len(all))
	return nil
}
