package exporter

import (
	"sync"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/store"
)

const defaultRefreshInterval = 15 * time.Second

// CacheConfig configures the snapshot cache used by /metrics rendering.
type CacheConfig struct {
	RefreshInterval time.Duration
	Now             func() time.Time
}

// cachedSnapshotReader serves the last snapshot until the refresh interval elapses, so scrapes
// against a Redis store do not walk the series index every time.
type cachedSnapshotReader struct {
	source   SnapshotReader
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	expires time.Time
	points  []store.MetricPoint
}

// NewCachedSnapshotReader wraps a snapshot reader with periodic refresh. Wrapping a cached reader
// returns it unchanged.
func NewCachedSnapshotReader(source SnapshotReader, cfg CacheConfig) SnapshotReader {
	switch source.(type) {
	case nil:
		return &cachedSnapshotReader{}
	case *cachedSnapshotReader:
		return source
	}

	reader := &cachedSnapshotReader{source: source, interval: cfg.RefreshInterval, now: cfg.Now}
	if reader.interval <= 0 {
		reader.interval = defaultRefreshInterval
	}
	if reader.now == nil {
		reader.now = time.Now
	}
	return reader
}

func (c *cachedSnapshotReader) Snapshot() []store.MetricPoint {
	if c == nil || c.source == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if now := c.now(); c.expires.IsZero() || !now.Before(c.expires) {
		c.points = clonePoints(c.source.Snapshot())
		c.expires = now.Add(c.interval)
	}
	return clonePoints(c.points)
}

func clonePoints(points []store.MetricPoint) []store.MetricPoint {
	if len(points) == 0 {
		return nil
	}
	copied := make([]store.MetricPoint, len(points))
	for i, point := range points {
		copied[i] = point.Clone()
	}
	return copied
}
