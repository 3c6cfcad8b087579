package collect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// MissReasonCommits marks a project whose default-branch commits could not be listed.
	MissReasonCommits = "commits_failed"
	// MissReasonMergeRequests marks a project whose merge requests could not be listed.
	MissReasonMergeRequests = "merge_requests_failed"
	// MissReasonMergeRequestCommits marks a merge request without commit detail.
	MissReasonMergeRequestCommits = "merge_request_commits_failed"
	// MissReasonApprovals marks a merge request without approval state.
	MissReasonApprovals = "merge_request_approvals_failed"
	// MissReasonNotes marks a merge request without notes.
	MissReasonNotes = "merge_request_notes_failed"
	// MissReasonChanges marks a merge request without size.
	MissReasonChanges = "merge_request_changes_failed"

	approvalSystemNote = "approved this merge request"
)

// Miss records one fetch that degraded a project's data.
type Miss struct {
	Project         string
	MergeRequestIID int64
	Reason          string
	Err             error
}

// GroupData is everything a run needs to know about the group before scanning projects.
type GroupData struct {
	Group    Group
	Members  []Member
	Projects []Project
}

// MergeRequestRecord is a merge request with its enrichment. Missing enrichment leaves the
// corresponding field empty or nil.
type MergeRequestRecord struct {
	MergeRequest MergeRequest
	Commits      []Commit
	Approvals    []Approval
	Notes        []Note
	ApprovedAt   *time.Time
	Changes      *Changes
}

// ProjectData is one project's raw records for a window.
type ProjectData struct {
	Project       Project
	Commits       []Commit
	MergeRequests []MergeRequestRecord
	Misses        []Miss
}

// Failed reports whether a project-level list could not be fetched.
func (d ProjectData) Failed() bool {
	for _, miss := range d.Misses {
		if miss.MergeRequestIID == 0 {
			return true
		}
	}
	return false
}

// Collector reads group and project records from a Source, absorbing per-item failures.
type Collector struct {
	source Source
	logger *zap.Logger
}

// NewCollector creates a Collector. A nil logger disables logging.
func NewCollector(source Source, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{source: source, logger: logger}
}

// Requests reports upstream requests issued through the source.
func (c *Collector) Requests() int64 {
	return c.source.Requests()
}

// Group reads the group, its members and its projects. Any failure is fatal for the run and
// wraps ErrGroupUnavailable.
func (c *Collector) Group(ctx context.Context, group string) (GroupData, error) {
	info, err := c.source.Group(ctx, group)
	if err != nil {
		return GroupData{}, fmt.Errorf("%w: read group %q: %w", ErrGroupUnavailable, group, err)
	}
	members, err := c.source.Members(ctx, group)
	if err != nil {
		return GroupData{}, fmt.Errorf("%w: list members of %q: %w", ErrGroupUnavailable, group, err)
	}
	projects, err := c.source.Projects(ctx, group)
	if err != nil {
		return GroupData{}, fmt.Errorf("%w: list projects of %q: %w", ErrGroupUnavailable, group, err)
	}
	return GroupData{Group: info, Members: members, Projects: projects}, nil
}

// Project reads one project's commits and merge requests in the window, enriching each merge
// request with commits, approvals, notes and size. Failures are logged and recorded as misses.
func (c *Collector) Project(ctx context.Context, project Project, window Window) ProjectData {
	data := ProjectData{Project: project}
	if window.Empty() {
		return data
	}

	commits, err := c.source.Commits(ctx, project, window.Start, window.End)
	if err != nil {
		data.Misses = append(data.Misses, c.miss(project, 0, MissReasonCommits, err))
	} else {
		data.Commits = commits
	}

	mergeRequests, err := c.source.MergeRequests(ctx, project, window.Start, window.End)
	if err != nil {
		data.Misses = append(data.Misses, c.miss(project, 0, MissReasonMergeRequests, err))
		return data
	}

	for _, mr := range mergeRequests {
		record := MergeRequestRecord{MergeRequest: mr}

		if mrCommits, err := c.source.MergeRequestCommits(ctx, project, mr); err != nil {
			data.Misses = append(data.Misses, c.miss(project, mr.IID, MissReasonMergeRequestCommits, err))
		} else {
			record.Commits = mrCommits
		}

		if approvals, err := c.source.Approvals(ctx, project, mr); err != nil {
			data.Misses = append(data.Misses, c.miss(project, mr.IID, MissReasonApprovals, err))
		} else {
			record.Approvals = approvals
			for _, approval := range approvals {
				record.ApprovedAt = earliest(record.ApprovedAt, approval.ApprovedAt)
			}
		}

		if notes, err := c.source.Notes(ctx, project, mr); err != nil {
			data.Misses = append(data.Misses, c.miss(project, mr.IID, MissReasonNotes, err))
		} else {
			for _, note := range notes {
				if note.System {
					if strings.Contains(strings.ToLower(note.Body), approvalSystemNote) {
						createdAt := note.CreatedAt
						record.ApprovedAt = earliest(record.ApprovedAt, &createdAt)
					}
					continue
				}
				record.Notes = append(record.Notes, note)
			}
		}

		if changes, err := c.source.MergeRequestChanges(ctx, project, mr); err != nil {
			data.Misses = append(data.Misses, c.miss(project, mr.IID, MissReasonChanges, err))
		} else {
			record.Changes = &changes
		}

		data.MergeRequests = append(data.MergeRequests, record)
	}
	return data
}

func (c *Collector) miss(project Project, iid int64, reason string, err error) Miss {
	fields := []zap.Field{
		zap.String("project", project.Path),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if iid > 0 {
		fields = append(fields, zap.Int64("merge_request_iid", iid))
	}
	c.logger.Warn("source fetch degraded", fields...)
	return Miss{Project: project.Path, MergeRequestIID: iid, Reason: reason, Err: err}
}

func earliest(current, candidate *time.Time) *time.Time {
	if candidate == nil || candidate.IsZero() {
		return current
	}
	if current == nil || candidate.Before(*current) {
		value := *candidate
		return &value
	}
	return current
}
