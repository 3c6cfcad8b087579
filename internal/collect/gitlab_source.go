package collect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/gitlabapi"
)

// GitLabDataClient is the subset of the typed GitLab client GitLabSource needs.
type GitLabDataClient interface {
	GetGroup(ctx context.Context, group string) (gitlabapi.GroupResult, error)
	ListGroupMembers(ctx context.Context, group string) (gitlabapi.MembersResult, error)
	ListGroupProjects(ctx context.Context, group string, includeSubgroups bool) (gitlabapi.ProjectsResult, error)
	ListCommits(ctx context.Context, projectID int64, ref string, since, until time.Time) (gitlabapi.CommitsResult, error)
	ListMergeRequests(ctx context.Context, projectID int64, since, until time.Time) (gitlabapi.MergeRequestsResult, error)
	ListMergeRequestCommits(ctx context.Context, projectID, iid int64) (gitlabapi.CommitsResult, error)
	GetMergeRequestApprovals(ctx context.Context, projectID, iid int64) (gitlabapi.ApprovalsResult, error)
	ListMergeRequestNotes(ctx context.Context, projectID, iid int64) (gitlabapi.NotesResult, error)
	GetMergeRequestChanges(ctx context.Context, projectID, iid int64) (gitlabapi.ChangesResult, error)
	Requests() int64
}

// GitLabSource adapts the GitLab REST API to Source.
type GitLabSource struct {
	client           GitLabDataClient
	includeSubgroups bool
}

// NewGitLabSource creates a GitLab-backed Source.
func NewGitLabSource(client GitLabDataClient, includeSubgroups bool) *GitLabSource {
	return &GitLabSource{client: client, includeSubgroups: includeSubgroups}
}

// Requests reports upstream requests issued so far.
func (s *GitLabSource) Requests() int64 {
	return s.client.Requests()
}

// Group reads the group.
func (s *GitLabSource) Group(ctx context.Context, group string) (Group, error) {
	result, err := s.client.GetGroup(ctx, group)
	if err != nil {
		return Group{}, err
	}
	if err := gitlabStatusError("group", result.Status); err != nil {
		return Group{}, err
	}
	return Group{
		ID:   strconv.FormatInt(result.Group.ID, 10),
		Name: result.Group.Name,
		Path: result.Group.FullPath,
	}, nil
}

// Members lists group members, inherited ones included.
func (s *GitLabSource) Members(ctx context.Context, group string) ([]Member, error) {
	result, err := s.client.ListGroupMembers(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("group members", result.Status); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(result.Members))
	for _, member := range result.Members {
		if strings.TrimSpace(member.Username) == "" {
			continue
		}
		members = append(members, Member{Username: member.Username, DisplayName: member.Name})
	}
	return members, nil
}

// Projects lists group projects.
func (s *GitLabSource) Projects(ctx context.Context, group string) ([]Project, error) {
	result, err := s.client.ListGroupProjects(ctx, group, s.includeSubgroups)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("group projects", result.Status); err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(result.Projects))
	for _, project := range result.Projects {
		if project.ID <= 0 {
			continue
		}
		projects = append(projects, Project{
			ID:            project.ID,
			Name:          project.Name,
			Path:          project.PathWithNamespace,
			DefaultBranch: project.DefaultBranch,
		})
	}
	return projects, nil
}

// Commits lists default-branch commits in [since, until].
func (s *GitLabSource) Commits(ctx context.Context, project Project, since, until time.Time) ([]Commit, error) {
	result, err := s.client.ListCommits(ctx, project.ID, project.DefaultBranch, since, until)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("commits", result.Status); err != nil {
		return nil, err
	}
	return fromGitLabCommits(result.Commits), nil
}

// MergeRequests lists merge requests created in [since, until].
func (s *GitLabSource) MergeRequests(ctx context.Context, project Project, since, until time.Time) ([]MergeRequest, error) {
	result, err := s.client.ListMergeRequests(ctx, project.ID, since, until)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("merge requests", result.Status); err != nil {
		return nil, err
	}
	out := make([]MergeRequest, 0, len(result.MergeRequests))
	for _, mr := range result.MergeRequests {
		projectID := mr.ProjectID
		if projectID == 0 {
			projectID = project.ID
		}
		normalized := MergeRequest{
			ID:           mr.ID,
			IID:          mr.IID,
			ProjectID:    projectID,
			Title:        mr.Title,
			State:        mr.State,
			CreatedAt:    mr.CreatedAt,
			UpdatedAt:    mr.UpdatedAt,
			MergedAt:     optionalTime(mr.MergedAt),
			ClosedAt:     optionalTime(mr.ClosedAt),
			Author:       fromGitLabUser(mr.Author),
			Assignee:     fromGitLabUser(mr.Assignee),
			Labels:       mr.Labels,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
		}
		for _, reviewer := range mr.Reviewers {
			normalized.Reviewers = append(normalized.Reviewers, fromGitLabUser(reviewer))
		}
		out = append(out, normalized)
	}
	return out, nil
}

// MergeRequestCommits lists the commits of one merge request.
func (s *GitLabSource) MergeRequestCommits(ctx context.Context, project Project, mr MergeRequest) ([]Commit, error) {
	result, err := s.client.ListMergeRequestCommits(ctx, project.ID, mr.IID)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("merge request commits", result.Status); err != nil {
		return nil, err
	}
	return fromGitLabCommits(result.Commits), nil
}

// Approvals lists the current approvers of one merge request. GitLab does not report approval
// times on this endpoint; they are recovered from system notes.
func (s *GitLabSource) Approvals(ctx context.Context, project Project, mr MergeRequest) ([]Approval, error) {
	result, err := s.client.GetMergeRequestApprovals(ctx, project.ID, mr.IID)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("merge request approvals", result.Status); err != nil {
		return nil, err
	}
	approvals := make([]Approval, 0, len(result.ApprovedBy))
	for _, approver := range result.ApprovedBy {
		approvals = append(approvals, Approval{User: fromGitLabUser(approver)})
	}
	return approvals, nil
}

// Notes lists merge request notes, system notes included.
func (s *GitLabSource) Notes(ctx context.Context, project Project, mr MergeRequest) ([]Note, error) {
	result, err := s.client.ListMergeRequestNotes(ctx, project.ID, mr.IID)
	if err != nil {
		return nil, err
	}
	if err := gitlabStatusError("merge request notes", result.Status); err != nil {
		return nil, err
	}
	notes := make([]Note, 0, len(result.Notes))
	for _, note := range result.Notes {
		notes = append(notes, Note{
			ID:        note.ID,
			Body:      note.Body,
			Author:    fromGitLabUser(note.Author),
			CreatedAt: note.CreatedAt,
			System:    note.System,
		})
	}
	return notes, nil
}

// MergeRequestChanges reads the changed-line summary of one merge request.
func (s *GitLabSource) MergeRequestChanges(ctx context.Context, project Project, mr MergeRequest) (Changes, error) {
	result, err := s.client.GetMergeRequestChanges(ctx, project.ID, mr.IID)
	if err != nil {
		return Changes{}, err
	}
	if err := gitlabStatusError("merge request changes", result.Status); err != nil {
		return Changes{}, err
	}
	return Changes{
		Additions:    result.Additions,
		Deletions:    result.Deletions,
		ChangesCount: result.ChangesCount,
	}, nil
}

func gitlabStatusError(endpoint string, status gitlabapi.EndpointStatus) error {
	if status == gitlabapi.EndpointStatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrUpstreamStatus, endpoint, status)
}

func fromGitLabUser(user gitlabapi.User) User {
	return User{Username: user.Username, Name: user.Name}
}

func fromGitLabCommits(commits []gitlabapi.Commit) []Commit {
	out := make([]Commit, 0, len(commits))
	for _, commit := range commits {
		authored := commit.AuthoredDate
		if authored.IsZero() {
			authored = commit.CreatedAt
		}
		message := commit.Message
		if strings.TrimSpace(message) == "" {
			message = commit.Title
		}
		normalized := Commit{
			SHA:         commit.ID,
			Message:     message,
			AuthorName:  commit.AuthorName,
			AuthorEmail: commit.AuthorEmail,
			AuthoredAt:  authored,
		}
		if commit.HasStats {
			additions, deletions := commit.Additions, commit.Deletions
			normalized.Additions = &additions
			normalized.Deletions = &deletions
		}
		out = append(out, normalized)
	}
	return out
}

func optionalTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	return &ts
}
