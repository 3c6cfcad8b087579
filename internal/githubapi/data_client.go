package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v75/github"
)

// DefaultPerPage is the GitHub page size cap.
const DefaultPerPage = 100

// EndpointStatus represents a normalized GitHub API endpoint outcome.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusUnauthorized indicates a missing or rejected token.
	EndpointStatusUnauthorized EndpointStatus = "unauthorized"
	// EndpointStatusForbidden indicates the token lacks access or the request was rate limited.
	EndpointStatusForbidden EndpointStatus = "forbidden"
	// EndpointStatusNotFound indicates the resource does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// User is the subset of a GitHub account the heatmap needs.
type User struct {
	Login string
	Name  string
}

// Organization is a GitHub organization.
type Organization struct {
	ID    int64
	Login string
	Name  string
}

// Repository is one repository of an organization.
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	Archived      bool
}

// Commit is one repository commit.
type Commit struct {
	SHA         string
	Message     string
	AuthorName  string
	AuthorEmail string
	AuthorLogin string
	AuthoredAt  time.Time
}

// PullRequest is one pull request summary.
type PullRequest struct {
	ID           int64
	Number       int
	Title        string
	State        string
	Merged       bool
	Draft        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     time.Time
	ClosedAt     time.Time
	Author       User
	Assignee     User
	Reviewers    []User
	Labels       []string
	HeadRef      string
	BaseRef      string
	Additions    int
	Deletions    int
	ChangedFiles int
	Commits      int
}

// Review is one submitted pull request review.
type Review struct {
	ID          int64
	User        User
	State       string
	SubmittedAt time.Time
}

// Comment is one pull request conversation or review comment.
type Comment struct {
	ID        int64
	Body      string
	User      User
	CreatedAt time.Time
}

// OrganizationResult is the typed result for reading one organization.
type OrganizationResult struct {
	Status       EndpointStatus
	Organization Organization
}

// MembersResult is the typed result for listing organization members.
type MembersResult struct {
	Status  EndpointStatus
	Members []User
}

// RepositoriesResult is the typed result for listing organization repositories.
type RepositoriesResult struct {
	Status       EndpointStatus
	Repositories []Repository
}

// CommitsResult is the typed result for listing commits.
type CommitsResult struct {
	Status  EndpointStatus
	Commits []Commit
}

// PullRequestsResult is the typed result for listing pull requests.
type PullRequestsResult struct {
	Status       EndpointStatus
	PullRequests []PullRequest
}

// PullRequestResult is the typed result for reading one pull request.
type PullRequestResult struct {
	Status      EndpointStatus
	PullRequest PullRequest
}

// ReviewsResult is the typed result for listing pull request reviews.
type ReviewsResult struct {
	Status  EndpointStatus
	Reviews []Review
}

// CommentsResult is the typed result for listing pull request comments.
type CommentsResult struct {
	Status   EndpointStatus
	Comments []Comment
}

// DataClient is a typed GitHub data client for heatmap-relevant endpoints.
type DataClient struct {
	client   *github.Client
	perPage  int
	requests atomic.Int64
}

// NewDataClient creates a typed data client over a go-github REST client.
func NewDataClient(restClient *RESTClient, perPage int) (*DataClient, error) {
	if restClient == nil || restClient.Client == nil {
		return nil, fmt.Errorf("github rest client is required")
	}
	if perPage <= 0 || perPage > DefaultPerPage {
		perPage = DefaultPerPage
	}
	return &DataClient{client: restClient.Client, perPage: perPage}, nil
}

// Requests reports the number of API requests issued by this client.
func (c *DataClient) Requests() int64 {
	return c.requests.Load()
}

// GetOrganization reads one organization by login.
func (c *DataClient) GetOrganization(ctx context.Context, org string) (OrganizationResult, error) {
	trimmed := strings.TrimSpace(org)
	if trimmed == "" {
		return OrganizationResult{}, fmt.Errorf("organization is required")
	}

	c.requests.Add(1)
	payload, resp, err := c.client.Organizations.Get(ctx, trimmed)
	status, err := classify(resp, err)
	if err != nil {
		return OrganizationResult{}, fmt.Errorf("get organization: %w", err)
	}
	result := OrganizationResult{Status: status}
	if status != EndpointStatusOK {
		return result, nil
	}
	result.Organization = Organization{
		ID:    payload.GetID(),
		Login: payload.GetLogin(),
		Name:  payload.GetName(),
	}
	return result, nil
}

// ListMembers lists organization members and resolves their profile names.
// A failed profile lookup keeps the member with an empty name.
func (c *DataClient) ListMembers(ctx context.Context, org string) (MembersResult, error) {
	trimmed := strings.TrimSpace(org)
	if trimmed == "" {
		return MembersResult{}, fmt.Errorf("organization is required")
	}

	users, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.User, *github.Response, error) {
		return c.client.Organizations.ListMembers(ctx, trimmed, &github.ListMembersOptions{ListOptions: opts})
	})
	if err != nil {
		return MembersResult{}, fmt.Errorf("list organization members: %w", err)
	}

	result := MembersResult{Status: status}
	for _, user := range users {
		member := User{Login: user.GetLogin(), Name: user.GetName()}
		if member.Name == "" && member.Login != "" {
			c.requests.Add(1)
			profile, _, profileErr := c.client.Users.Get(ctx, member.Login)
			if profileErr == nil {
				member.Name = profile.GetName()
			}
		}
		result.Members = append(result.Members, member)
	}
	return result, nil
}

// ListRepositories lists every repository of an organization.
func (c *DataClient) ListRepositories(ctx context.Context, org string) (RepositoriesResult, error) {
	trimmed := strings.TrimSpace(org)
	if trimmed == "" {
		return RepositoriesResult{}, fmt.Errorf("organization is required")
	}

	repos, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.Repository, *github.Response, error) {
		return c.client.Repositories.ListByOrg(ctx, trimmed, &github.RepositoryListByOrgOptions{
			Type:        "all",
			Sort:        "full_name",
			ListOptions: opts,
		})
	})
	if err != nil {
		return RepositoriesResult{}, fmt.Errorf("list organization repositories: %w", err)
	}

	result := RepositoriesResult{Status: status}
	for _, repo := range repos {
		result.Repositories = append(result.Repositories, Repository{
			ID:            repo.GetID(),
			Owner:         repo.GetOwner().GetLogin(),
			Name:          repo.GetName(),
			FullName:      repo.GetFullName(),
			DefaultBranch: repo.GetDefaultBranch(),
			Archived:      repo.GetArchived(),
		})
	}
	return result, nil
}

// ListCommits lists commits reachable from ref within [since, until].
func (c *DataClient) ListCommits(ctx context.Context, owner, repo, ref string, since, until time.Time) (CommitsResult, error) {
	if err := validateRepo(owner, repo); err != nil {
		return CommitsResult{}, err
	}

	commits, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
		return c.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
			SHA:         strings.TrimSpace(ref),
			Since:       since,
			Until:       until,
			ListOptions: opts,
		})
	})
	if err != nil {
		return CommitsResult{}, fmt.Errorf("list commits: %w", err)
	}
	return CommitsResult{Status: status, Commits: toCommits(commits)}, nil
}

// ListPullRequests lists pull requests in any state created within [since, until].
// Pages are requested newest first and the walk stops once a page reaches before since.
func (c *DataClient) ListPullRequests(ctx context.Context, owner, repo string, since, until time.Time) (PullRequestsResult, error) {
	if err := validateRepo(owner, repo); err != nil {
		return PullRequestsResult{}, err
	}

	result := PullRequestsResult{Status: EndpointStatusOK}
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: c.perPage, Page: 1},
	}
	for {
		c.requests.Add(1)
		page, resp, err := c.client.PullRequests.List(ctx, owner, repo, opts)
		status, err := classify(resp, err)
		if err != nil {
			return PullRequestsResult{}, fmt.Errorf("list pull requests: %w", err)
		}
		if status != EndpointStatusOK {
			return PullRequestsResult{Status: status}, nil
		}

		reachedStart := false
		for _, pr := range page {
			created := pr.GetCreatedAt().Time
			if !since.IsZero() && created.Before(since) {
				reachedStart = true
				continue
			}
			if !until.IsZero() && created.After(until) {
				continue
			}
			result.PullRequests = append(result.PullRequests, toPullRequest(pr))
		}

		if reachedStart || resp == nil || resp.NextPage == 0 {
			return result, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequest reads one pull request, including its line counts.
func (c *DataClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequestResult, error) {
	if err := validateRepo(owner, repo); err != nil {
		return PullRequestResult{}, err
	}

	c.requests.Add(1)
	payload, resp, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	status, err := classify(resp, err)
	if err != nil {
		return PullRequestResult{}, fmt.Errorf("get pull request: %w", err)
	}
	result := PullRequestResult{Status: status}
	if status == EndpointStatusOK {
		result.PullRequest = toPullRequest(payload)
	}
	return result, nil
}

// ListPullRequestCommits lists the commits of one pull request.
func (c *DataClient) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) (CommitsResult, error) {
	if err := validateRepo(owner, repo); err != nil {
		return CommitsResult{}, err
	}

	commits, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
		return c.client.PullRequests.ListCommits(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return CommitsResult{}, fmt.Errorf("list pull request commits: %w", err)
	}
	return CommitsResult{Status: status, Commits: toCommits(commits)}, nil
}

// ListReviews lists the submitted reviews of one pull request.
func (c *DataClient) ListReviews(ctx context.Context, owner, repo string, number int) (ReviewsResult, error) {
	if err := validateRepo(owner, repo); err != nil {
		return ReviewsResult{}, err
	}

	reviews, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.PullRequestReview, *github.Response, error) {
		return c.client.PullRequests.ListReviews(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return ReviewsResult{}, fmt.Errorf("list pull request reviews: %w", err)
	}

	result := ReviewsResult{Status: status}
	for _, review := range reviews {
		result.Reviews = append(result.Reviews, Review{
			ID:          review.GetID(),
			User:        toUser(review.GetUser()),
			State:       strings.ToUpper(review.GetState()),
			SubmittedAt: review.GetSubmittedAt().Time,
		})
	}
	return result, nil
}

// ListComments lists conversation comments followed by inline review comments of one pull request.
func (c *DataClient) ListComments(ctx context.Context, owner, repo string, number int) (CommentsResult, error) {
	if err := validateRepo(owner, repo); err != nil {
		return CommentsResult{}, err
	}

	issueComments, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.IssueComment, *github.Response, error) {
		return c.client.Issues.ListComments(ctx, owner, repo, number, &github.IssueListCommentsOptions{ListOptions: opts})
	})
	if err != nil {
		return CommentsResult{}, fmt.Errorf("list pull request conversation comments: %w", err)
	}
	if status != EndpointStatusOK {
		return CommentsResult{Status: status}, nil
	}

	reviewComments, status, err := collectPages(ctx, c, func(opts github.ListOptions) ([]*github.PullRequestComment, *github.Response, error) {
		return c.client.PullRequests.ListComments(ctx, owner, repo, number, &github.PullRequestListCommentsOptions{ListOptions: opts})
	})
	if err != nil {
		return CommentsResult{}, fmt.Errorf("list pull request review comments: %w", err)
	}
	if status != EndpointStatusOK {
		return CommentsResult{Status: status}, nil
	}

	result := CommentsResult{Status: EndpointStatusOK}
	for _, comment := range issueComments {
		result.Comments = append(result.Comments, Comment{
			ID:        comment.GetID(),
			Body:      comment.GetBody(),
			User:      toUser(comment.GetUser()),
			CreatedAt: comment.GetCreatedAt().Time,
		})
	}
	for _, comment := range reviewComments {
		result.Comments = append(result.Comments, Comment{
			ID:        comment.GetID(),
			Body:      comment.GetBody(),
			User:      toUser(comment.GetUser()),
			CreatedAt: comment.GetCreatedAt().Time,
		})
	}
	return result, nil
}

// collectPages walks every page of a go-github list call. A non-OK status on any page stops the
// walk and is returned as the endpoint status.
func collectPages[T any](
	ctx context.Context,
	c *DataClient,
	fetch func(github.ListOptions) ([]T, *github.Response, error),
) ([]T, EndpointStatus, error) {
	var items []T
	opts := github.ListOptions{PerPage: c.perPage, Page: 1}
	for {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		c.requests.Add(1)
		page, resp, err := fetch(opts)
		status, err := classify(resp, err)
		if err != nil {
			return nil, "", err
		}
		if status != EndpointStatusOK {
			return nil, status, nil
		}
		items = append(items, page...)

		if resp == nil || resp.NextPage == 0 || len(page) == 0 {
			return items, EndpointStatusOK, nil
		}
		opts.Page = resp.NextPage
	}
}

// classify turns a go-github call outcome into an endpoint status. HTTP-level failures become a
// status; transport failures stay errors.
func classify(resp *github.Response, err error) (EndpointStatus, error) {
	if err == nil {
		return EndpointStatusOK, nil
	}
	if resp == nil || resp.Response == nil {
		return "", err
	}
	status := endpointStatusFromHTTP(resp.StatusCode)
	if status == EndpointStatusOK {
		return "", err
	}
	return status, nil
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return EndpointStatusUnauthorized
	case http.StatusForbidden, http.StatusTooManyRequests:
		return EndpointStatusForbidden
	case http.StatusNotFound:
		return EndpointStatusNotFound
	}
	if statusCode >= 200 && statusCode <= 299 {
		return EndpointStatusOK
	}
	if statusCode >= 500 {
		return EndpointStatusUnavailable
	}
	return EndpointStatusUnknown
}

func validateRepo(owner, repo string) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return fmt.Errorf("owner and repo are required")
	}
	return nil
}

func toUser(user *github.User) User {
	return User{Login: user.GetLogin(), Name: user.GetName()}
}

func toCommits(commits []*github.RepositoryCommit) []Commit {
	out := make([]Commit, 0, len(commits))
	for _, commit := range commits {
		detail := commit.GetCommit()
		author := detail.GetAuthor()
		out = append(out, Commit{
			SHA:         commit.GetSHA(),
			Message:     detail.GetMessage(),
			AuthorName:  author.GetName(),
			AuthorEmail: author.GetEmail(),
			AuthorLogin: commit.GetAuthor().GetLogin(),
			AuthoredAt:  author.GetDate().Time,
		})
	}
	return out
}

func toPullRequest(pr *github.PullRequest) PullRequest {
	out := PullRequest{
		ID:           pr.GetID(),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		Merged:       pr.GetMerged() || pr.MergedAt != nil,
		Draft:        pr.GetDraft(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
		MergedAt:     pr.GetMergedAt().Time,
		ClosedAt:     pr.GetClosedAt().Time,
		Author:       toUser(pr.GetUser()),
		Assignee:     toUser(pr.GetAssignee()),
		HeadRef:      pr.GetHead().GetRef(),
		BaseRef:      pr.GetBase().GetRef(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		Commits:      pr.GetCommits(),
	}
	for _, reviewer := range pr.RequestedReviewers {
		out.Reviewers = append(out.Reviewers, toUser(reviewer))
	}
	for _, label := range pr.Labels {
		out.Labels = append(out.Labels, label.GetName())
	}
	return out
}
