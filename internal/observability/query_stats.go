// Package observability provides query statistics tracking for filter
// placement decisions and performance monitoring.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats tracks predicate frequency per column and aggregate execution
// metrics. A single tracker is shared by every query built against an
// engine instance, so unlike the core it is safe for concurrent use.
type QueryStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*ColumnStats
	exec          ExecStats
	window        time.Duration
}

// ColumnStats holds predicate statistics for one column.
type ColumnStats struct {
	Column    string         `json:"column"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Operators map[string]int `json:"operators"` // operator → count (e.g. "==" → 5)
}

// ExecStats holds aggregate execution metrics.
type ExecStats struct {
	Executions  int64 `json:"executions"`
	RowsScanned int64 `json:"rows_scanned"`
	RowsMatched int64 `json:"rows_matched"`
	// FilterSkips counts executions answered by a membership filter
	// without a scan.
	FilterSkips   int64         `json:"filter_skips"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// NewQueryStats creates a tracker. window bounds how long idle predicate
// entries survive Prune.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		predicateFreq: make(map[string]*ColumnStats),
		window:        window,
	}
}

// RecordPredicate records one predicate clause against a column.
func (q *QueryStats) RecordPredicate(column, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, ok := q.predicateFreq[column]
	if !ok {
		stats = &ColumnStats{
			Column:    column,
			Operators: make(map[string]int),
		}
		q.predicateFreq[column] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// RecordExecution records one query execution.
func (q *QueryStats) RecordExecution(d time.Duration, scanned, matched int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exec.Executions++
	q.exec.RowsScanned += int64(scanned)
	q.exec.RowsMatched += int64(matched)
	q.exec.TotalDuration += d
}

// RecordFilterSkip records an execution answered by a membership filter.
func (q *QueryStats) RecordFilterSkip() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exec.Executions++
	q.exec.FilterSkips++
}

// Exec returns a snapshot of the aggregate execution metrics.
func (q *QueryStats) Exec() ExecStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.exec
}

// TopPredicates returns the n most frequently filtered columns, most
// frequent first. The returned stats are deep copies.
func (q *QueryStats) TopPredicates(n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.predicateFreq) == 0 {
		return nil
	}

	stats := make([]ColumnStats, 0, len(q.predicateFreq))
	for _, s := range q.predicateFreq {
		cp := ColumnStats{
			Column:    s.Column,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Operators: make(map[string]int, len(s.Operators)),
		}
		for op, count := range s.Operators {
			cp.Operators[op] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Frequency > stats[j].Frequency
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes predicate entries idle for longer than the window.
// Call periodically from whatever owns the tracker.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for col, stats := range q.predicateFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.predicateFreq, col)
		}
	}
}
