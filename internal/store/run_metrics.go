package store

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cam3ron2/delivery-heatmap/internal/heatmap"
)

// Run metric names written after every heatmap computation.
const (
	MetricRunDuration      = "heatmap_run_duration_seconds"
	MetricProjectsScanned  = "heatmap_projects_scanned"
	MetricProjectsFailed   = "heatmap_projects_failed"
	MetricUsers            = "heatmap_users"
	MetricLastRunUnixtime  = "heatmap_last_run_unixtime"
	MetricLastRunSuccess   = "heatmap_last_run_success"
	MetricUpstreamRequests = "heatmap_upstream_requests_total"
)

// RunMetricHelp is the exposition help text of each run metric.
var RunMetricHelp = map[string]string{
	MetricRunDuration:      "Wall-clock duration of the last heatmap run for a group.",
	MetricProjectsScanned:  "Projects scanned by the last successful heatmap run for a group.",
	MetricProjectsFailed:   "Projects whose commit or merge request lists could not be read in the last run.",
	MetricUsers:            "Users with at least one counted contribution in the last successful run.",
	MetricLastRunUnixtime:  "Unix time the last heatmap run for a group finished.",
	MetricLastRunSuccess:   "Whether the last heatmap run for a group succeeded (1) or failed (0).",
	MetricUpstreamRequests: "Upstream API requests issued since process start.",
}

// MetricWriter writes metric points.
type MetricWriter interface {
	UpsertMetric(point MetricPoint) error
}

// RunRecorder turns heatmap run summaries into gauges.
type RunRecorder struct {
	writer MetricWriter
	logger *zap.Logger
}

// NewRunRecorder creates a RunRecorder. A nil logger disables logging.
func NewRunRecorder(writer MetricWriter, logger *zap.Logger) *RunRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRecorder{writer: writer, logger: logger}
}

// ObserveRun writes the gauges of one run. Runs without a group are ignored. Failed runs only
// update duration, finish time, success flag and the request counter.
func (r *RunRecorder) ObserveRun(_ context.Context, summary heatmap.RunSummary) {
	if r == nil || r.writer == nil {
		return
	}
	group := strings.TrimSpace(summary.GroupID)
	if group == "" {
		return
	}

	labels := map[string]string{"group": group}
	success := 1.0
	if summary.Err != nil {
		success = 0
	}

	points := []MetricPoint{
		{Name: MetricRunDuration, Labels: labels, Value: summary.Duration.Seconds()},
		{Name: MetricLastRunUnixtime, Labels: labels, Value: float64(summary.FinishedAt.Unix())},
		{Name: MetricLastRunSuccess, Labels: labels, Value: success},
		{Name: MetricUpstreamRequests, Labels: map[string]string{}, Value: float64(summary.UpstreamRequests)},
	}
	if summary.Err == nil {
		points = append(points,
			MetricPoint{Name: MetricProjectsScanned, Labels: labels, Value: float64(summary.ProjectsScanned)},
			MetricPoint{Name: MetricProjectsFailed, Labels: labels, Value: float64(summary.ProjectsFailed)},
			MetricPoint{Name: MetricUsers, Labels: labels, Value: float64(summary.Users)},
		)
	}

	for _, point := range points {
		point.UpdatedAt = summary.FinishedAt
		if err := r.writer.UpsertMetric(point); err != nil {
			r.logger.Warn(
				"run metric write failed",
				zap.String("metric", point.Name),
				zap.String("group", group),
				zap.Error(err),
			)
		}
	}
}
