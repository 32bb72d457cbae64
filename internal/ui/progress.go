package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gustycube/certprobe/internal/types"
)

// ProgressBar represents a simple progress bar
type ProgressBar struct {
	mu          sync.RWMutex
	total       int64
	current     int64
	width       int
	startTime   time.Time
	lastUpdate  time.Time
	description string
	finished    bool
}

// NewProgressBar creates a new progress bar
func NewProgressBar(total int64, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		width:       30,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		description: description,
	}
}

// Add increments the progress
func (pb *ProgressBar) Add(n int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current += n
	if pb.current > pb.total {
		pb.current = pb.total
	}
	pb.lastUpdate = time.Now()
}

// Finish marks the progress as complete
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current = pb.total
	pb.finished = true
	pb.lastUpdate = time.Now()
}

// String returns the progress bar as a string
func (pb *ProgressBar) String() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	percent := 100.0
	if pb.total > 0 {
		percent = float64(pb.current) / float64(pb.total) * 100
	}
	filled := int(float64(pb.width) * percent / 100)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)
	result := fmt.Sprintf("%s [%s] %d/%d (%.1f%%)",
		pb.description, bar, pb.current, pb.total, percent)

	elapsed := pb.lastUpdate.Sub(pb.startTime)
	if pb.current > 0 && !pb.finished && elapsed > 0 {
		rate := float64(pb.current) / elapsed.Seconds()
		remaining := pb.total - pb.current
		eta := time.Duration(float64(remaining) / rate * float64(time.Second))
		result += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
	}

	if pb.finished {
		result += fmt.Sprintf(" [DONE in %v]", elapsed.Round(time.Millisecond))
	}

	return result
}

// Stats counts results per class across a run
type Stats struct {
	mu          sync.RWMutex
	processed   int64
	failed      int64
	classes     map[string]int64
	startTime   time.Time
	progressBar *ProgressBar
}

// NewStats creates new run statistics
func NewStats() *Stats {
	return &Stats{
		classes:   make(map[string]int64),
		startTime: time.Now(),
	}
}

// SetTotal sets the total number of hosts to check
func (s *Stats) SetTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if total > 0 {
		s.progressBar = NewProgressBar(total, "Checking hosts")
	}
}

// Observe records one finished host.
func (s *Stats) Observe(res types.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	if res.OK() {
		s.classes[res.Class.String()]++
	} else {
		s.failed++
	}
	if s.progressBar != nil {
		s.progressBar.Add(1)
	}
}

// GetProgressBar returns the progress bar string if enabled
func (s *Stats) GetProgressBar() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.progressBar != nil {
		return s.progressBar.String()
	}
	return ""
}

// Finish marks processing as complete
func (s *Stats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progressBar != nil {
		s.progressBar.Finish()
	}
}

// Summary returns a final summary
func (s *Stats) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, s.classes[name]))
	}

	elapsed := time.Since(s.startTime)
	return fmt.Sprintf("Final summary: %d hosts checked in %v, %d failed, classes [%s]",
		s.processed, elapsed.Round(time.Millisecond), s.failed, strings.Join(parts, " "))
}
