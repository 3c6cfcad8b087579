// Package store keeps operational run metrics in memory or Redis.
package store

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrSeriesBudgetExceeded is returned when a new series would exceed the configured budget.
var ErrSeriesBudgetExceeded = errors.New("max series budget exceeded")

var (
	errMissingName      = errors.New("metric name is required")
	errMissingUpdatedAt = errors.New("metric updated time is required")
)

// MetricPoint is one gauge sample. A series is identified by Name plus Labels.
type MetricPoint struct {
	Name      string
	Labels    map[string]string
	Value     float64
	UpdatedAt time.Time
}

// Clone returns a copy that shares no label map with p.
func (p MetricPoint) Clone() MetricPoint {
	p.Labels = maps.Clone(p.Labels)
	return p
}

// SeriesKey is the canonical "name|k=v;..." identity of the point's series.
func (p MetricPoint) SeriesKey() string {
	var builder strings.Builder
	builder.WriteString(p.Name)
	builder.WriteByte('|')
	for _, key := range slices.Sorted(maps.Keys(p.Labels)) {
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(p.Labels[key])
		builder.WriteByte(';')
	}
	return builder.String()
}

// MemoryStore keeps series in a map guarded by an RWMutex.
type MemoryStore struct {
	mu        sync.RWMutex
	retention time.Duration
	maxSeries int
	metrics   map[string]MetricPoint
}

// NewMemoryStore creates a memory store. A zero retention keeps points forever and a zero
// maxSeries disables the series budget.
func NewMemoryStore(retention time.Duration, maxSeries int) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		maxSeries: maxSeries,
		metrics:   make(map[string]MetricPoint),
	}
}

// UpsertMetric inserts or updates a metric point.
func (s *MemoryStore) UpsertMetric(point MetricPoint) error {
	if err := validatePoint(point); err != nil {
		return err
	}

	key := point.SeriesKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.metrics[key]; !exists && s.maxSeries > 0 && len(s.metrics) >= s.maxSeries {
		return ErrSeriesBudgetExceeded
	}
	s.metrics[key] = point.Clone()
	return nil
}

// GC drops series whose last update is older than the retention window.
func (s *MemoryStore) GC(now time.Time) {
	if s.retention <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, point := range s.metrics {
		if now.Sub(point.UpdatedAt) > s.retention {
			delete(s.metrics, key)
		}
	}
}

// Snapshot returns all stored metrics ordered by series key.
func (s *MemoryStore) Snapshot() []MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]MetricPoint, 0, len(s.metrics))
	for _, point := range s.metrics {
		result = append(result, point.Clone())
	}
	sortPoints(result)
	return result
}

// Healthy always succeeds for the in-memory store.
func (s *MemoryStore) Healthy(_ context.Context) error {
	return nil
}

func validatePoint(point MetricPoint) error {
	switch {
	case point.Name == "":
		return errMissingName
	case point.UpdatedAt.IsZero():
		return errMissingUpdatedAt
	}
	return nil
}

func sortPoints(points []MetricPoint) {
	slices.SortFunc(points, func(a, b MetricPoint) int {
		return cmp.Compare(a.SeriesKey(), b.SeriesKey())
	})
}
