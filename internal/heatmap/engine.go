package heatmap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/identity"
	"github.com/cam3ron2/delivery-heatmap/internal/telemetry"
)

var (
	// ErrInvalidGroup is returned for an empty group identifier.
	ErrInvalidGroup = errors.New("group id is required")
	// ErrInvalidDate is returned when a date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
	// ErrNoSource is returned when the engine has no source to read from.
	ErrNoSource = errors.New("heatmap source is not configured")
)

// RunSummary describes one finished Compute call.
type RunSummary struct {
	GroupID          string
	Duration         time.Duration
	ProjectsScanned  int
	ProjectsFailed   int
	Users            int
	UpstreamRequests int64
	FinishedAt       time.Time
	Err              error
}

// RunObserver receives a summary after every Compute call.
type RunObserver interface {
	ObserveRun(ctx context.Context, summary RunSummary)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	ProjectConcurrency int
	Logger             *zap.Logger
	Observer           RunObserver
	Now                func() time.Time
}

// Engine computes heatmaps for a group over a date window.
type Engine struct {
	source    collect.Source
	collector *collect.Collector
	cfg       EngineConfig
	logger    *zap.Logger
}

// NewEngine creates an Engine over source.
func NewEngine(source collect.Source, cfg EngineConfig) *Engine {
	if cfg.ProjectConcurrency <= 0 {
		cfg.ProjectConcurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{source: source, cfg: cfg, logger: logger}
	if source != nil {
		engine.collector = collect.NewCollector(source, logger)
	}
	return engine
}

// Compute builds the heatmap for groupID between startDate and endDate (inclusive, YYYY-MM-DD).
// An inverted range is accepted and yields an empty heatmap. Only group-level failures and
// cancellation fail the call; project and merge request failures degrade the result.
func (e *Engine) Compute(ctx context.Context, groupID, startDate, endDate string) (result Result, err error) {
	ctx, span := telemetry.Tracer("heatmap").Start(ctx, "heatmap.compute")
	defer span.End()

	started := e.cfg.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.observe(ctx, RunSummary{
			GroupID:          strings.TrimSpace(groupID),
			Duration:         e.cfg.Now().Sub(started),
			ProjectsScanned:  result.ProjectsScanned,
			ProjectsFailed:   result.ProjectsFailed,
			Users:            len(result.Users),
			UpstreamRequests: e.requests(),
			FinishedAt:       e.cfg.Now(),
			Err:              err,
		})
	}()

	group := strings.TrimSpace(groupID)
	if group == "" {
		return Result{}, ErrInvalidGroup
	}
	start, err := parseDay(startDate)
	if err != nil {
		return Result{}, err
	}
	end, err := parseDay(endDate)
	if err != nil {
		return Result{}, err
	}
	if e.collector == nil {
		return Result{}, ErrNoSource
	}
	span.SetAttributes(
		attribute.String("heatmap.group", group),
		attribute.String("heatmap.start", startDate),
		attribute.String("heatmap.end", endDate),
	)

	groupData, err := e.collector.Group(ctx, group)
	if err != nil {
		return Result{}, fmt.Errorf("compute heatmap for %q: %w", group, err)
	}
	identities := identity.NewMap(groupData.Members)
	window := collect.NewWindow(start, end)

	agg := e.collectProjects(ctx, groupData.Projects, window, identities)
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("compute heatmap for %q: %w", group, err)
	}

	result = assemble(agg)
	result.GroupID = group
	result.StartDate = start.Format(dayFormat)
	result.EndDate = end.Format(dayFormat)

	span.SetAttributes(
		attribute.Int("heatmap.projects_scanned", result.ProjectsScanned),
		attribute.Int("heatmap.projects_failed", result.ProjectsFailed),
		attribute.Int("heatmap.users", len(result.Users)),
	)
	e.logger.Info(
		"heatmap computed",
		zap.String("group", group),
		zap.String("start", result.StartDate),
		zap.String("end", result.EndDate),
		zap.Int("projects_scanned", result.ProjectsScanned),
		zap.Int("projects_failed", result.ProjectsFailed),
		zap.Int("users", len(result.Users)),
		zap.Int("merge_requests", result.TotalMergeRequests),
	)
	return result, nil
}

// MatchRoster correlates roster names from another system with the members of groupID.
func (e *Engine) MatchRoster(ctx context.Context, groupID string, names []string, threshold float64) ([]identity.RosterMatch, error) {
	group := strings.TrimSpace(groupID)
	if group == "" {
		return nil, ErrInvalidGroup
	}
	if e.source == nil {
		return nil, ErrNoSource
	}
	if threshold <= 0 {
		threshold = identity.DefaultMatchThreshold
	}

	members, err := e.source.Members(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("%w: list members of %q: %w", collect.ErrGroupUnavailable, group, err)
	}
	return identity.MatchRoster(names, members, threshold), nil
}

type projectJob struct {
	index   int
	project collect.Project
}

type projectOutcome struct {
	index   int
	partial *projectPartial
}

// collectProjects fetches projects on a worker pool and merges their partials in project order.
func (e *Engine) collectProjects(
	ctx context.Context,
	projects []collect.Project,
	window collect.Window,
	identities identity.Map,
) *aggregate {
	agg := newAggregate()
	if len(projects) == 0 {
		return agg
	}

	workerCount := min(e.cfg.ProjectConcurrency, len(projects))
	jobs := make(chan projectJob, len(projects))
	outcomes := make(chan projectOutcome, len(projects))

	var wg sync.WaitGroup
	for range workerCount {
		wg.Go(func() {
			for job := range jobs {
				data := e.collector.Project(ctx, job.project, window)
				outcomes <- projectOutcome{index: job.index, partial: foldProject(data, identities)}
			}
		})
	}

	for index, project := range projects {
		jobs <- projectJob{index: index, project: project}
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	partials := make([]*projectPartial, len(projects))
	for outcome := range outcomes {
		partials[outcome.index] = outcome.partial
	}
	for _, partial := range partials {
		agg.merge(partial)
	}
	return agg
}

func assemble(agg *aggregate) Result {
	users := agg.users()
	result := Result{
		Users:              users,
		DailyContributions: agg.daily,
		UserPushDetails:    agg.pushes,
		ContributionTrends: CalculateTrends(agg.daily),
		TeamMetrics:        CalculateTeamMetrics(agg.mergeRequests),
		MergeRequests:      agg.mergeRequests,
		ProjectsScanned:    agg.projectsScanned,
		ProjectsFailed:     agg.projectsFailed,
		// Merge requests of deleted authors have no user entry but still count.
		TotalMergeRequests: len(agg.mergeRequests),
	}
	if result.MergeRequests == nil {
		result.MergeRequests = []MergeRequestDetail{}
	}
	for _, user := range users {
		result.TotalCommits += user.Commits
		result.TotalApprovals += user.Approvals
		result.TotalComments += user.Comments
	}
	return result
}

func (e *Engine) observe(ctx context.Context, summary RunSummary) {
	if e.cfg.Observer == nil {
		return
	}
	e.cfg.Observer.ObserveRun(ctx, summary)
}

func (e *Engine) requests() int64 {
	if e.source == nil {
		return 0
	}
	return e.source.Requests()
}

func parseDay(raw string) (time.Time, error) {
	day, err := time.Parse(dayFormat, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return day, nil
}
