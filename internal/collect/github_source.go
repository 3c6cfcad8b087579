package collect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/githubapi"
)

// GitHubDataClient is the subset of the typed GitHub client GitHubSource needs.
type GitHubDataClient interface {
	GetOrganization(ctx context.Context, org string) (githubapi.OrganizationResult, error)
	ListMembers(ctx context.Context, org string) (githubapi.MembersResult, error)
	ListRepositories(ctx context.Context, org string) (githubapi.RepositoriesResult, error)
	ListCommits(ctx context.Context, owner, repo, ref string, since, until time.Time) (githubapi.CommitsResult, error)
	ListPullRequests(ctx context.Context, owner, repo string, since, until time.Time) (githubapi.PullRequestsResult, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (githubapi.PullRequestResult, error)
	ListPullRequestCommits(ctx context.Context, owner, repo string, number int) (githubapi.CommitsResult, error)
	ListReviews(ctx context.Context, owner, repo string, number int) (githubapi.ReviewsResult, error)
	ListComments(ctx context.Context, owner, repo string, number int) (githubapi.CommentsResult, error)
	Requests() int64
}

// GitHubSource adapts the GitHub REST API to Source. Groups are organizations and merge
// requests are pull requests.
type GitHubSource struct {
	client GitHubDataClient
}

// NewGitHubSource creates a GitHub-backed Source.
func NewGitHubSource(client GitHubDataClient) *GitHubSource {
	return &GitHubSource{client: client}
}

// Requests reports upstream requests issued so far.
func (s *GitHubSource) Requests() int64 {
	return s.client.Requests()
}

// Group reads the organization.
func (s *GitHubSource) Group(ctx context.Context, group string) (Group, error) {
	result, err := s.client.GetOrganization(ctx, group)
	if err != nil {
		return Group{}, err
	}
	if err := githubStatusError("organization", result.Status); err != nil {
		return Group{}, err
	}
	name := result.Organization.Name
	if name == "" {
		name = result.Organization.Login
	}
	return Group{
		ID:   strconv.FormatInt(result.Organization.ID, 10),
		Name: name,
		Path: result.Organization.Login,
	}, nil
}

// Members lists organization members.
func (s *GitHubSource) Members(ctx context.Context, group string) ([]Member, error) {
	result, err := s.client.ListMembers(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("organization members", result.Status); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(result.Members))
	for _, member := range result.Members {
		if strings.TrimSpace(member.Login) == "" {
			continue
		}
		members = append(members, Member{Username: member.Login, DisplayName: member.Name})
	}
	return members, nil
}

// Projects lists organization repositories.
func (s *GitHubSource) Projects(ctx context.Context, group string) ([]Project, error) {
	result, err := s.client.ListRepositories(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("organization repositories", result.Status); err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(result.Repositories))
	for _, repo := range result.Repositories {
		path := repo.FullName
		if path == "" {
			path = repo.Owner + "/" + repo.Name
		}
		projects = append(projects, Project{
			ID:            repo.ID,
			Name:          repo.Name,
			Path:          path,
			DefaultBranch: repo.DefaultBranch,
		})
	}
	return projects, nil
}

// Commits lists default-branch commits in [since, until].
func (s *GitHubSource) Commits(ctx context.Context, project Project, since, until time.Time) ([]Commit, error) {
	owner, repo, err := splitRepositoryPath(project.Path)
	if err != nil {
		return nil, err
	}
	result, err := s.client.ListCommits(ctx, owner, repo, project.DefaultBranch, since, until)
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("commits", result.Status); err != nil {
		return nil, err
	}
	return fromGitHubCommits(result.Commits), nil
}

// MergeRequests lists pull requests created in [since, until].
func (s *GitHubSource) MergeRequests(ctx context.Context, project Project, since, until time.Time) ([]MergeRequest, error) {
	owner, repo, err := splitRepositoryPath(project.Path)
	if err != nil {
		return nil, err
	}
	result, err := s.client.ListPullRequests(ctx, owner, repo, since, until)
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("pull requests", result.Status); err != nil {
		return nil, err
	}
	out := make([]MergeRequest, 0, len(result.PullRequests))
	for _, pr := range result.PullRequests {
		normalized := MergeRequest{
			ID:           pr.ID,
			IID:          int64(pr.Number),
			ProjectID:    project.ID,
			Title:        pr.Title,
			State:        pullRequestState(pr),
			CreatedAt:    pr.CreatedAt,
			UpdatedAt:    pr.UpdatedAt,
			MergedAt:     optionalTime(pr.MergedAt),
			ClosedAt:     optionalTime(pr.ClosedAt),
			Author:       fromGitHubUser(pr.Author),
			Assignee:     fromGitHubUser(pr.Assignee),
			Labels:       pr.Labels,
			SourceBranch: pr.HeadRef,
			TargetBranch: pr.BaseRef,
		}
		for _, reviewer := range pr.Reviewers {
			normalized.Reviewers = append(normalized.Reviewers, fromGitHubUser(reviewer))
		}
		out = append(out, normalized)
	}
	return out, nil
}

// MergeRequestCommits lists the commits of one pull request.
func (s *GitHubSource) MergeRequestCommits(ctx context.Context, project Project, mr MergeRequest) ([]Commit, error) {
	owner, repo, err := splitRepositoryPath(project.Path)
	if err != nil {
		return nil, err
	}
	result, err := s.client.ListPullRequestCommits(ctx, owner, repo, int(mr.IID))
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("pull request commits", result.Status); err != nil {
		return nil, err
	}
	return fromGitHubCommits(result.Commits), nil
}

// Approvals lists one approval per reviewer, keeping the earliest APPROVED review.
func (s *GitHubSource) Approvals(ctx context.Context, project Project, mr MergeRequest) ([]Approval, error) {
	owner, repo, err := splitRepositoryPath(project.Path)
	if err != nil {
		return nil, err
	}
	result, err := s.client.ListReviews(ctx, owner, repo, int(mr.IID))
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("pull request reviews", result.Status); err != nil {
		return nil, err
	}

	approvals := make([]Approval, 0, len(result.Reviews))
	index := make(map[string]int, len(result.Reviews))
	for _, review := range result.Reviews {
		if review.State != "APPROVED" {
			continue
		}
		key := strings.ToLower(review.User.Login)
		approvedAt := optionalTime(review.SubmittedAt)
		if i, seen := index[key]; seen {
			existing := approvals[i].ApprovedAt
			if approvedAt != nil && (existing == nil || approvedAt.Before(*existing)) {
				approvals[i].ApprovedAt = approvedAt
			}
			continue
		}
		index[key] = len(approvals)
		approvals = append(approvals, Approval{User: fromGitHubUser(review.User), ApprovedAt: approvedAt})
	}
	return approvals, nil
}

// Notes lists pull request conversation and review comments.
func (s *GitHubSource) Notes(ctx context.Context, project Project, mr MergeRequest) ([]Note, error) {
	owner, repo, err := splitRepositoryPath(project.Path)
	if err != nil {
		return nil, err
	}
	result, err := s.client.ListComments(ctx, owner, repo, int(mr.IID))
	if err != nil {
		return nil, err
	}
	if err := githubStatusError("pull request comments", result.Status); err != nil {
		return nil, err
	}
	notes := make([]Note, 0, len(result.Comments))
	for _, comment := range result.Comments {
		notes = append(notes, Note{
			ID:        comment.ID,
			Body:      comment.Body,
			Author:    fromGitHubUser(comment.User),
			CreatedAt: comment.CreatedAt,
		})
	}
	return notes, nil
}

// MergeRequestChanges reads line counts from the pull request detail.
func (s *GitHubSource) MergeRequestChanges(ctx context.Context, project Project, mr MergeRequest) (Changes, error) {
	owner, repo, err := splitRepositoryPath(project.Path)
	if err != nil {
		return Changes{}, err
	}
	result, err := s.client.GetPullRequest(ctx, owner, repo, int(mr.IID))
	if err != nil {
		return Changes{}, err
	}
	if err := githubStatusError("pull request", result.Status); err != nil {
		return Changes{}, err
	}
	return Changes{
		Additions:    result.PullRequest.Additions,
		Deletions:    result.PullRequest.Deletions,
		ChangesCount: result.PullRequest.ChangedFiles,
	}, nil
}

// pullRequestState maps GitHub's open/closed plus merge flag onto GitLab's merge request states.
func pullRequestState(pr githubapi.PullRequest) string {
	switch {
	case pr.Merged:
		return "merged"
	case pr.State == "open":
		return "opened"
	default:
		return "closed"
	}
}

func splitRepositoryPath(path string) (string, string, error) {
	owner, repo, found := strings.Cut(strings.TrimSpace(path), "/")
	if !found || owner == "" || repo == "" {
		return "", "", fmt.Errorf("repository path %q must be owner/repo", path)
	}
	return owner, repo, nil
}

func githubStatusError(endpoint string, status githubapi.EndpointStatus) error {
	if status == githubapi.EndpointStatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrUpstreamStatus, endpoint, status)
}

func fromGitHubUser(user githubapi.User) User {
	return User{Username: user.Login, Name: user.Name}
}

func fromGitHubCommits(commits []githubapi.Commit) []Commit {
	out := make([]Commit, 0, len(commits))
	for _, commit := range commits {
		out = append(out, Commit{
			SHA:            commit.SHA,
			Message:        commit.Message,
			AuthorName:     commit.AuthorName,
			AuthorEmail:    commit.AuthorEmail,
			AuthorUsername: commit.AuthorLogin,
			AuthoredAt:     commit.AuthoredAt,
		})
	}
	return out
}
