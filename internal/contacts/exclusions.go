package contacts

import (
	"sort"
	"strings"
	"sync"
)

// anonymous is what the provider reports for withheld caller ids.
const anonymous = "anonymous"

// Exclusions lists origins that are never turned into contacts. Blank
// origins and "anonymous" in any case are always excluded; the configured
// numbers can be swapped at runtime by the exclusions file watcher.
type Exclusions struct {
	mu      sync.RWMutex
	numbers map[string]struct{}
}

func NewExclusions(numbers []string) *Exclusions {
	e := &Exclusions{}
	e.Replace(numbers)
	return e
}

// Replace swaps the configured numbers.
func (e *Exclusions) Replace(numbers []string) {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		set[strings.ToLower(n)] = struct{}{}
	}
	e.mu.Lock()
	e.numbers = set
	e.mu.Unlock()
}

func (e *Exclusions) Excluded(phone string) bool {
	p := strings.ToLower(strings.TrimSpace(phone))
	if p == "" || p == anonymous {
		return true
	}
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.numbers[p]
	return ok
}

// Numbers returns the configured numbers, sorted.
func (e *Exclusions) Numbers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.numbers))
	for n := range e.numbers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
