package collect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/githubapi"
)

type fakeGitHubClient struct {
	status githubapi.EndpointStatus
	owner  string
	repo   string
	number int
}

func (f *fakeGitHubClient) Requests() int64 { return 9 }

func (f *fakeGitHubClient) GetOrganization(_ context.Context, org string) (githubapi.OrganizationResult, error) {
	return githubapi.OrganizationResult{Status: f.status, Organization: githubapi.Organization{ID: 3, Login: org}}, nil
}

func (f *fakeGitHubClient) ListMembers(_ context.Context, _ string) (githubapi.MembersResult, error) {
	return githubapi.MembersResult{Status: f.status, Members: []githubapi.User{{Login: "alice", Name: "Alice"}, {}}}, nil
}

func (f *fakeGitHubClient) ListRepositories(_ context.Context, _ string) (githubapi.RepositoriesResult, error) {
	return githubapi.RepositoriesResult{Status: f.status, Repositories: []githubapi.Repository{
		{ID: 1, Owner: "acme", Name: "api", FullName: "acme/api", DefaultBranch: "main"},
		{ID: 2, Owner: "acme", Name: "web", DefaultBranch: "trunk"},
	}}, nil
}

func (f *fakeGitHubClient) ListCommits(_ context.Context, owner, repo, _ string, _, _ time.Time) (githubapi.CommitsResult, error) {
	f.owner, f.repo = owner, repo
	return githubapi.CommitsResult{Status: f.status, Commits: []githubapi.Commit{
		{SHA: "a1", AuthorLogin: "alice", AuthorName: "Alice"},
	}}, nil
}

func (f *fakeGitHubClient) ListPullRequests(_ context.Context, _, _ string, _, _ time.Time) (githubapi.PullRequestsResult, error) {
	return githubapi.PullRequestsResult{Status: f.status, PullRequests: []githubapi.PullRequest{
		{ID: 11, Number: 1, State: "closed", Merged: true, MergedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{ID: 12, Number: 2, State: "open"},
		{ID: 13, Number: 3, State: "closed", Reviewers: []githubapi.User{{Login: "bob"}}},
	}}, nil
}

func (f *fakeGitHubClient) GetPullRequest(_ context.Context, _, _ string, number int) (githubapi.PullRequestResult, error) {
	f.number = number
	return githubapi.PullRequestResult{Status: f.status, PullRequest: githubapi.PullRequest{Additions: 5, Deletions: 5, ChangedFiles: 2}}, nil
}

func (f *fakeGitHubClient) ListPullRequestCommits(_ context.Context, _, _ string, _ int) (githubapi.CommitsResult, error) {
	return githubapi.CommitsResult{Status: f.status, Commits: []githubapi.Commit{{SHA: "c1"}, {SHA: "c2"}}}, nil
}

func (f *fakeGitHubClient) ListReviews(_ context.Context, _, _ string, _ int) (githubapi.ReviewsResult, error) {
	first := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	return githubapi.ReviewsResult{Status: f.status, Reviews: []githubapi.Review{
		{User: githubapi.User{Login: "bob"}, State: "APPROVED", SubmittedAt: first.Add(time.Hour)},
		{User: githubapi.User{Login: "carol"}, State: "COMMENTED", SubmittedAt: first},
		{User: githubapi.User{Login: "Bob"}, State: "APPROVED", SubmittedAt: first},
		{User: githubapi.User{Login: "dave"}, State: "APPROVED"},
	}}, nil
}

func (f *fakeGitHubClient) ListComments(_ context.Context, _, _ string, _ int) (githubapi.CommentsResult, error) {
	return githubapi.CommentsResult{Status: f.status, Comments: []githubapi.Comment{
		{ID: 1, Body: "please fix", User: githubapi.User{Login: "carol"}},
	}}, nil
}

func TestGitHubSourceNormalizesRecords(t *testing.T) {
	t.Parallel()

	client := &fakeGitHubClient{status: githubapi.EndpointStatusOK}
	source := NewGitHubSource(client)
	ctx := context.Background()

	group, err := source.Group(ctx, "acme")
	if err != nil || group.Name != "acme" || group.ID != "3" {
		t.Fatalf("Group() = %+v, %v, want login as name fallback", group, err)
	}

	members, err := source.Members(ctx, "acme")
	if err != nil || len(members) != 1 {
		t.Fatalf("Members() = %+v, %v", members, err)
	}

	projects, err := source.Projects(ctx, "acme")
	if err != nil || len(projects) != 2 || projects[1].Path != "acme/web" {
		t.Fatalf("Projects() = %+v, %v", projects, err)
	}

	commits, err := source.Commits(ctx, projects[0], time.Time{}, time.Time{})
	if err != nil || commits[0].AuthorUsername != "alice" {
		t.Fatalf("Commits() = %+v, %v", commits, err)
	}
	if client.owner != "acme" || client.repo != "api" {
		t.Fatalf("Commits() owner/repo = %s/%s", client.owner, client.repo)
	}

	mrs, err := source.MergeRequests(ctx, projects[0], time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("MergeRequests() unexpected error: %v", err)
	}
	wantStates := []string{"merged", "opened", "closed"}
	for i, want := range wantStates {
		if mrs[i].State != want {
			t.Fatalf("MergeRequests()[%d].State = %q, want %q", i, mrs[i].State, want)
		}
	}
	if mrs[0].IID != 1 || mrs[0].ProjectID != 1 || mrs[0].MergedAt == nil || mrs[1].MergedAt != nil {
		t.Fatalf("MergeRequests()[0] = %+v", mrs[0])
	}

	approvals, err := source.Approvals(ctx, projects[0], mrs[0])
	if err != nil {
		t.Fatalf("Approvals() unexpected error: %v", err)
	}
	if len(approvals) != 2 {
		t.Fatalf("len(Approvals()) = %d, want 2 (deduplicated bob, dave)", len(approvals))
	}
	if approvals[0].ApprovedAt == nil || !approvals[0].ApprovedAt.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("bob ApprovedAt = %v, want earliest approval", approvals[0].ApprovedAt)
	}
	if approvals[1].ApprovedAt != nil {
		t.Fatalf("dave ApprovedAt = %v, want nil", approvals[1].ApprovedAt)
	}

	notes, err := source.Notes(ctx, projects[0], mrs[0])
	if err != nil || len(notes) != 1 || notes[0].System {
		t.Fatalf("Notes() = %+v, %v", notes, err)
	}

	changes, err := source.MergeRequestChanges(ctx, projects[0], mrs[0])
	if err != nil || changes.Size() != 10 || client.number != 1 {
		t.Fatalf("MergeRequestChanges() = %+v, %v (number %d)", changes, err, client.number)
	}

	mrCommits, err := source.MergeRequestCommits(ctx, projects[0], mrs[0])
	if err != nil || len(mrCommits) != 2 {
		t.Fatalf("MergeRequestCommits() = %+v, %v", mrCommits, err)
	}
}

func TestGitHubSourceErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source := NewGitHubSource(&fakeGitHubClient{status: githubapi.EndpointStatusNotFound})
	if _, err := source.Group(ctx, "ghost"); !errors.Is(err, ErrUpstreamStatus) {
		t.Fatalf("Group() error = %v, want ErrUpstreamStatus", err)
	}

	okSource := NewGitHubSource(&fakeGitHubClient{status: githubapi.EndpointStatusOK})
	if _, err := okSource.Commits(ctx, Project{Path: "no-slash"}, time.Time{}, time.Time{}); err == nil {
		t.Fatalf("Commits() expected error for malformed repository path")
	}
}
