// Package stats accumulates per-entity migration counters and errors.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/metrics"
)

// MaxSummaryErrors is the number of errors included in a Summary.
const MaxSummaryErrors = 10

// Counter holds the totals for one entity type.
type Counter struct {
	Entity    string `json:"entity"`
	Processed int    `json:"processed"`
	Created   int    `json:"created"`
}

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Entity  string    `json:"entity"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Summary is a point-in-time view of the recorder.
type Summary struct {
	Entities    []Counter    `json:"entities"`
	Errors      []ErrorEntry `json:"errors"`
	TotalErrors int          `json:"total_errors"`
}

// Stats records counters in first-seen entity order. Safe for concurrent use.
type Stats struct {
	mu       sync.Mutex
	order    []string
	counters map[string]*Counter
	errors   []ErrorEntry
}

// New returns an empty recorder.
func New() *Stats {
	return &Stats{counters: make(map[string]*Counter)}
}

// Record adds processed and created counts for an entity type.
func (s *Stats) Record(entity string, processed, created int) {
	s.mu.Lock()
	c, ok := s.counters[entity]
	if !ok {
		c = &Counter{Entity: entity}
		s.counters[entity] = c
		s.order = append(s.order, entity)
	}
	c.Processed += processed
	c.Created += created
	s.mu.Unlock()

	metrics.EntitiesProcessed.WithLabelValues(entity).Add(float64(processed))
	metrics.EntitiesCreated.WithLabelValues(entity).Add(float64(created))
}

// AddError records a failure for an entity type.
func (s *Stats) AddError(entity string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.errors = append(s.errors, ErrorEntry{Entity: entity, Message: err.Error(), At: time.Now()})
	s.mu.Unlock()

	metrics.ErrorsTotal.WithLabelValues(entity).Inc()
}

// Get returns the counter of one entity type.
func (s *Stats) Get(entity string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[entity]; ok {
		return *c
	}
	return Counter{Entity: entity}
}

// ErrorCount returns the number of recorded errors.
func (s *Stats) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

// Summary returns every counter and the first MaxSummaryErrors errors.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Entities:    make([]Counter, 0, len(s.order)),
		TotalErrors: len(s.errors),
	}
	for _, name := range s.order {
		sum.Entities = append(sum.Entities, *s.counters[name])
	}
	n := len(s.errors)
	if n > MaxSummaryErrors {
		n = MaxSummaryErrors
	}
	sum.Errors = append([]ErrorEntry{}, s.errors[:n]...)
	return sum
}

// Print renders the final statistics table.
func (s *Stats) Print(w io.Writer) {
	sum := s.Summary()
	fmt.Fprintln(w, "=== Migration Summary ===")
	if len(sum.Entities) == 0 {
		fmt.Fprintln(w, "  (nothing migrated)")
	}
	for _, c := range sum.Entities {
		fmt.Fprintf(w, "  %-20s %d/%d\n", c.Entity+":", c.Created, c.Processed)
	}
	if sum.TotalErrors == 0 {
		return
	}
	fmt.Fprintf(w, "Errors: %d\n", sum.TotalErrors)
	for _, e := range sum.Errors {
		fmt.Fprintf(w, "  [%s] %s\n", e.Entity, e.Message)
	}
	if sum.TotalErrors > len(sum.Errors) {
		fmt.Fprintf(w, "  ... and %d more\n", sum.TotalErrors-len(sum.Errors))
	}
}
