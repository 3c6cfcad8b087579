package collect

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingCredential is returned when the configured provider has no usable credential.
	ErrMissingCredential = errors.New("source credential is not configured")
	// ErrGroupUnavailable is returned when the group, its members or its project list cannot be read.
	ErrGroupUnavailable = errors.New("group is unavailable")
	// ErrUpstreamStatus is returned when an upstream endpoint answers with a non-success status.
	ErrUpstreamStatus = errors.New("upstream endpoint returned non-success status")
)

// Member is one group member.
type Member struct {
	Username    string
	DisplayName string
}

// User is the actor block of merge requests, approvals and notes.
type User struct {
	Username string
	Name     string
}

// Group is a top-level container of projects.
type Group struct {
	ID   string
	Name string
	Path string
}

// Project is one project of a group. Path is the namespaced path ("group/project" or "owner/repo").
type Project struct {
	ID            int64
	Name          string
	Path          string
	DefaultBranch string
}

// Commit is one commit, either on a default branch or inside a merge request.
type Commit struct {
	SHA            string
	Message        string
	AuthorName     string
	AuthorEmail    string
	AuthorUsername string
	AuthoredAt     time.Time
	Additions      *int
	Deletions      *int
}

// MergeRequest is a normalized merge request (GitLab) or pull request (GitHub).
type MergeRequest struct {
	ID           int64
	IID          int64
	ProjectID    int64
	Title        string
	State        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
	Author       User
	Assignee     User
	Reviewers    []User
	Labels       []string
	SourceBranch string
	TargetBranch string
}

// Approval is one approver of a merge request. ApprovedAt is nil when the host does not report it.
type Approval struct {
	User       User
	ApprovedAt *time.Time
}

// Note is one merge request discussion note. System notes are host-generated events.
type Note struct {
	ID        int64
	Body      string
	Author    User
	CreatedAt time.Time
	System    bool
}

// Changes is the changed-line summary of a merge request.
type Changes struct {
	Additions    int
	Deletions    int
	ChangesCount int
}

// Size is the changed-lines proxy: additions plus deletions, or the changed-file count when no
// line counts are known.
func (c Changes) Size() int {
	if lines := c.Additions + c.Deletions; lines > 0 {
		return lines
	}
	return c.ChangesCount
}

// Source is a source-control host reduced to the records the heatmap consumes.
type Source interface {
	Group(ctx context.Context, group string) (Group, error)
	Members(ctx context.Context, group string) ([]Member, error)
	Projects(ctx context.Context, group string) ([]Project, error)
	Commits(ctx context.Context, project Project, since, until time.Time) ([]Commit, error)
	MergeRequests(ctx context.Context, project Project, since, until time.Time) ([]MergeRequest, error)
	MergeRequestCommits(ctx context.Context, project Project, mr MergeRequest) ([]Commit, error)
	Approvals(ctx context.Context, project Project, mr MergeRequest) ([]Approval, error)
	Notes(ctx context.Context, project Project, mr MergeRequest) ([]Note, error)
	MergeRequestChanges(ctx context.Context, project Project, mr MergeRequest) (Changes, error)
	Requests() int64
}

// Window is an inclusive calendar-day range in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow expands two calendar dates to [start 00:00:00, end 23:59:59.999999999] UTC.
func NewWindow(startDate, endDate time.Time) Window {
	start := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	return Window{Start: start, End: end}
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// Empty reports whether the window is inverted.
func (w Window) Empty() bool {
	return w.End.Before(w.Start)
}
