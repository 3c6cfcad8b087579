package gitlabapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPerPage is the GitLab page size cap.
const DefaultPerPage = 100

// EndpointStatus represents a normalized GitLab API endpoint outcome.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusUnauthorized indicates a missing or rejected token.
	EndpointStatusUnauthorized EndpointStatus = "unauthorized"
	// EndpointStatusForbidden indicates the token lacks access or the feature is unlicensed.
	EndpointStatusForbidden EndpointStatus = "forbidden"
	// EndpointStatusNotFound indicates the resource does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// User is the embedded user block of MR, note and approval payloads.
type User struct {
	ID       int64
	Username string
	Name     string
}

// Group is a GitLab group.
type Group struct {
	ID       int64
	Name     string
	FullPath string
}

// GroupResult is the typed result for reading one group.
type GroupResult struct {
	Status   EndpointStatus
	Group    Group
	Metadata CallMetadata
}

// Member is one group member, including inherited members.
type Member struct {
	ID       int64
	Username string
	Name     string
	State    string
}

// MembersResult is the typed result for listing group members.
type MembersResult struct {
	Status   EndpointStatus
	Members  []Member
	Metadata CallMetadata
}

// Project is one project in a group.
type Project struct {
	ID                int64
	Name              string
	PathWithNamespace string
	DefaultBranch     string
	Archived          bool
}

// ProjectsResult is the typed result for listing group projects.
type ProjectsResult struct {
	Status   EndpointStatus
	Projects []Project
	Metadata CallMetadata
}

// Commit is one repository commit.
type Commit struct {
	ID           string
	Title        string
	Message      string
	AuthorName   string
	AuthorEmail  string
	AuthoredDate time.Time
	CreatedAt    time.Time
	HasStats     bool
	Additions    int
	Deletions    int
}

// CommitsResult is the typed result for listing commits.
type CommitsResult struct {
	Status   EndpointStatus
	Commits  []Commit
	Metadata CallMetadata
}

// MergeRequest is one merge request summary.
type MergeRequest struct {
	ID           int64
	IID          int64
	ProjectID    int64
	Title        string
	State        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     time.Time
	ClosedAt     time.Time
	Author       User
	Assignee     User
	Reviewers    []User
	Labels       []string
	SourceBranch string
	TargetBranch string
}

// MergeRequestsResult is the typed result for listing merge requests.
type MergeRequestsResult struct {
	Status        EndpointStatus
	MergeRequests []MergeRequest
	Metadata      CallMetadata
}

// ApprovalsResult is the typed result for a merge request's approval state.
type ApprovalsResult struct {
	Status     EndpointStatus
	ApprovedBy []User
	Metadata   CallMetadata
}

// Note is one merge request note.
type Note struct {
	ID        int64
	Body      string
	Author    User
	CreatedAt time.Time
	System    bool
}

// NotesResult is the typed result for listing merge request notes.
type NotesResult struct {
	Status   EndpointStatus
	Notes    []Note
	Metadata CallMetadata
}

// ChangesResult is the typed result for a merge request's diff summary.
type ChangesResult struct {
	Status       EndpointStatus
	ChangesCount int
	Additions    int
	Deletions    int
	Metadata     CallMetadata
}

// DataClient is a typed GitLab REST data client for heatmap-relevant endpoints.
type DataClient struct {
	baseURL       *url.URL
	requestClient *Client
	perPage       int
}

// NewDataClient creates a typed data client over the generic request client.
func NewDataClient(baseURL string, requestClient *Client, perPage int) (*DataClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if perPage <= 0 || perPage > DefaultPerPage {
		perPage = DefaultPerPage
	}

	return &DataClient{
		baseURL:       parsed,
		requestClient: requestClient,
		perPage:       perPage,
	}, nil
}

// Requests reports the number of HTTP requests issued through the underlying client.
func (c *DataClient) Requests() int64 {
	return c.requestClient.Requests()
}

// GetGroup reads one group by numeric id or full path.
func (c *DataClient) GetGroup(ctx context.Context, group string) (GroupResult, error) {
	trimmed := strings.TrimSpace(group)
	if trimmed == "" {
		return GroupResult{}, fmt.Errorf("group is required")
	}

	resp, metadata, err := c.get(ctx, nil, "groups", trimmed)
	if err != nil {
		return GroupResult{}, fmt.Errorf("get group request failed: %w", err)
	}

	result := GroupResult{Status: endpointStatusFromHTTP(resp.StatusCode), Metadata: metadata}
	if result.Status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload groupPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return GroupResult{}, fmt.Errorf("decode group response: %w", err)
	}
	result.Group = Group(payload)
	return result, nil
}

// ListGroupMembers lists direct and inherited group members.
func (c *DataClient) ListGroupMembers(ctx context.Context, group string) (MembersResult, error) {
	trimmed := strings.TrimSpace(group)
	if trimmed == "" {
		return MembersResult{}, fmt.Errorf("group is required")
	}

	var result MembersResult
	status, metadata, err := fetchPages(ctx, c, nil, func(payload []memberPayload) {
		for _, member := range payload {
			result.Members = append(result.Members, Member(member))
		}
	}, "groups", trimmed, "members", "all")
	if err != nil {
		return MembersResult{}, fmt.Errorf("list group members: %w", err)
	}
	result.Status = status
	result.Metadata = metadata
	return result, nil
}

// ListGroupProjects lists the projects of a group, optionally including subgroups.
func (c *DataClient) ListGroupProjects(ctx context.Context, group string, includeSubgroups bool) (ProjectsResult, error) {
	trimmed := strings.TrimSpace(group)
	if trimmed == "" {
		return ProjectsResult{}, fmt.Errorf("group is required")
	}

	query := url.Values{}
	query.Set("include_subgroups", strconv.FormatBool(includeSubgroups))
	query.Set("order_by", "id")
	query.Set("sort", "asc")

	var result ProjectsResult
	status, metadata, err := fetchPages(ctx, c, query, func(payload []projectPayload) {
		for _, project := range payload {
			result.Projects = append(result.Projects, Project(project))
		}
	}, "groups", trimmed, "projects")
	if err != nil {
		return ProjectsResult{}, fmt.Errorf("list group projects: %w", err)
	}
	result.Status = status
	result.Metadata = metadata
	return result, nil
}

// ListCommits lists commits reachable from ref in [since, until], with line stats.
func (c *DataClient) ListCommits(ctx context.Context, projectID int64, ref string, since, until time.Time) (CommitsResult, error) {
	if projectID <= 0 {
		return CommitsResult{}, fmt.Errorf("project id must be > 0")
	}

	query := url.Values{}
	if trimmedRef := strings.TrimSpace(ref); trimmedRef != "" {
		query.Set("ref_name", trimmedRef)
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		query.Set("until", until.UTC().Format(time.RFC3339))
	}
	query.Set("with_stats", "true")

	var result CommitsResult
	status, metadata, err := fetchPages(ctx, c, query, func(payload []commitPayload) {
		for _, commit := range payload {
			result.Commits = append(result.Commits, commit.toCommit())
		}
	}, "projects", strconv.FormatInt(projectID, 10), "repository", "commits")
	if err != nil {
		return CommitsResult{}, fmt.Errorf("list commits: %w", err)
	}
	result.Status = status
	result.Metadata = metadata
	return result, nil
}

// ListMergeRequests lists merge requests in any state created within [since, until].
func (c *DataClient) ListMergeRequests(ctx context.Context, projectID int64, since, until time.Time) (MergeRequestsResult, error) {
	if projectID <= 0 {
		return MergeRequestsResult{}, fmt.Errorf("project id must be > 0")
	}

	query := url.Values{}
	query.Set("state", "all")
	query.Set("scope", "all")
	query.Set("order_by", "created_at")
	query.Set("sort", "asc")
	if !since.IsZero() {
		query.Set("created_after", since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		query.Set("created_before", until.UTC().Format(time.RFC3339))
	}

	var result MergeRequestsResult
	status, metadata, err := fetchPages(ctx, c, query, func(payload []mergeRequestPayload) {
		for _, mr := range payload {
			result.MergeRequests = append(result.MergeRequests, mr.toMergeRequest())
		}
	}, "projects", strconv.FormatInt(projectID, 10), "merge_requests")
	if err != nil {
		return MergeRequestsResult{}, fmt.Errorf("list merge requests: %w", err)
	}
	result.Status = status
	result.Metadata = metadata
	return result, nil
}

// ListMergeRequestCommits lists the commits of one merge request.
func (c *DataClient) ListMergeRequestCommits(ctx context.Context, projectID, iid int64) (CommitsResult, error) {
	if projectID <= 0 || iid <= 0 {
		return CommitsResult{}, fmt.Errorf("project id and merge request iid must be > 0")
	}

	var result CommitsResult
	status, metadata, err := fetchPages(ctx, c, nil, func(payload []commitPayload) {
		for _, commit := range payload {
			result.Commits = append(result.Commits, commit.toCommit())
		}
	}, "projects", strconv.FormatInt(projectID, 10), "merge_requests", strconv.FormatInt(iid, 10), "commits")
	if err != nil {
		return CommitsResult{}, fmt.Errorf("list merge request commits: %w", err)
	}
	result.Status = status
	result.Metadata = metadata
	return result, nil
}

// GetMergeRequestApprovals reads the current approval state of one merge request.
func (c *DataClient) GetMergeRequestApprovals(ctx context.Context, projectID, iid int64) (ApprovalsResult, error) {
	if projectID <= 0 || iid <= 0 {
		return ApprovalsResult{}, fmt.Errorf("project id and merge request iid must be > 0")
	}

	resp, metadata, err := c.get(ctx, nil, "projects", strconv.FormatInt(projectID, 10), "merge_requests", strconv.FormatInt(iid, 10), "approvals")
	if err != nil {
		return ApprovalsResult{}, fmt.Errorf("merge request approvals request failed: %w", err)
	}

	result := ApprovalsResult{Status: endpointStatusFromHTTP(resp.StatusCode), Metadata: metadata}
	if result.Status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload approvalsPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return ApprovalsResult{}, fmt.Errorf("decode merge request approvals response: %w", err)
	}
	for _, approver := range payload.ApprovedBy {
		if approver.User == nil {
			continue
		}
		result.ApprovedBy = append(result.ApprovedBy, approver.User.toUser())
	}
	return result, nil
}

// ListMergeRequestNotes lists the notes of one merge request, system notes included.
func (c *DataClient) ListMergeRequestNotes(ctx context.Context, projectID, iid int64) (NotesResult, error) {
	if projectID <= 0 || iid <= 0 {
		return NotesResult{}, fmt.Errorf("project id and merge request iid must be > 0")
	}

	query := url.Values{}
	query.Set("sort", "asc")
	query.Set("order_by", "created_at")

	var result NotesResult
	status, metadata, err := fetchPages(ctx, c, query, func(payload []notePayload) {
		for _, note := range payload {
			result.Notes = append(result.Notes, Note{
				ID:        note.ID,
				Body:      note.Body,
				Author:    note.Author.toUser(),
				CreatedAt: parseRFC3339(note.CreatedAt),
				System:    note.System,
			})
		}
	}, "projects", strconv.FormatInt(projectID, 10), "merge_requests", strconv.FormatInt(iid, 10), "notes")
	if err != nil {
		return NotesResult{}, fmt.Errorf("list merge request notes: %w", err)
	}
	result.Status = status
	result.Metadata = metadata
	return result, nil
}

// GetMergeRequestChanges reads the diff of one merge request and counts changed lines.
func (c *DataClient) GetMergeRequestChanges(ctx context.Context, projectID, iid int64) (ChangesResult, error) {
	if projectID <= 0 || iid <= 0 {
		return ChangesResult{}, fmt.Errorf("project id and merge request iid must be > 0")
	}

	resp, metadata, err := c.get(ctx, nil, "projects", strconv.FormatInt(projectID, 10), "merge_requests", strconv.FormatInt(iid, 10), "changes")
	if err != nil {
		return ChangesResult{}, fmt.Errorf("merge request changes request failed: %w", err)
	}

	result := ChangesResult{Status: endpointStatusFromHTTP(resp.StatusCode), Metadata: metadata}
	if result.Status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload changesPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return ChangesResult{}, fmt.Errorf("decode merge request changes response: %w", err)
	}
	// "1000+" when GitLab truncates the diff.
	result.ChangesCount = parseInt(strings.TrimSuffix(strings.TrimSpace(payload.ChangesCount), "+"))
	for _, change := range payload.Changes {
		additions, deletions := countDiffLines(change.Diff)
		result.Additions += additions
		result.Deletions += deletions
	}
	return result, nil
}

func (c *DataClient) get(ctx context.Context, query url.Values, segments ...string) (*http.Response, CallMetadata, error) {
	reqURL := c.endpointURL(segments...)
	if len(query) > 0 {
		reqURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, CallMetadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, metadata, err := c.requestClient.Do(req)
	if err != nil {
		return nil, metadata, err
	}
	if resp == nil {
		return nil, metadata, fmt.Errorf("nil response")
	}
	return resp, metadata, nil
}

// fetchPages walks every page of a list endpoint. A non-OK status on any page stops the walk
// and is returned as the endpoint status.
func fetchPages[T any](
	ctx context.Context,
	c *DataClient,
	query url.Values,
	consume func([]T),
	segments ...string,
) (EndpointStatus, CallMetadata, error) {
	var merged CallMetadata
	page := 1
	for {
		pageQuery := url.Values{}
		for key, values := range query {
			pageQuery[key] = values
		}
		pageQuery.Set("per_page", strconv.Itoa(c.perPage))
		pageQuery.Set("page", strconv.Itoa(page))

		resp, metadata, err := c.get(ctx, pageQuery, segments...)
		merged = mergeMetadata(merged, metadata)
		if err != nil {
			return "", merged, err
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			return status, merged, nil
		}

		var payload []T
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return "", merged, fmt.Errorf("decode page %d: %w", page, err)
		}
		consume(payload)

		if len(payload) == 0 || !hasNextPage(resp.Header) {
			return EndpointStatusOK, merged, nil
		}
		page++
	}
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("parse gitlab api base url: base url is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse gitlab api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse gitlab api base url: missing scheme or host")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed, nil
}

// endpointURL appends escaped path segments. Group paths such as "team/sub" travel as one
// segment ("team%2Fsub"), which is how GitLab expects namespaced ids.
func (c *DataClient) endpointURL(segments ...string) *url.URL {
	cloned := *c.baseURL
	path := strings.Builder{}
	rawPath := strings.Builder{}
	path.WriteString(cloned.Path)
	rawPath.WriteString(cloned.EscapedPath())
	for _, segment := range segments {
		path.WriteString("/")
		path.WriteString(segment)
		rawPath.WriteString("/")
		rawPath.WriteString(url.PathEscape(segment))
	}
	cloned.Path = path.String()
	cloned.RawPath = rawPath.String()
	return &cloned
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return EndpointStatusUnauthorized
	case http.StatusForbidden:
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

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

func hasNextPage(header http.Header) bool {
	if strings.TrimSpace(header.Get("X-Next-Page")) != "" {
		return true
	}
	linkHeader := header.Get("Link")
	if strings.TrimSpace(linkHeader) == "" {
		return false
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if strings.Contains(part, `rel="next"`) {
			return true
		}
	}
	return false
}

func countDiffLines(diff string) (additions, deletions int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

func mergeMetadata(current CallMetadata, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.LastDecision = incoming.LastDecision
	current.LastRateHeaders = incoming.LastRateHeaders
	return current
}

type groupPayload struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullPath string `json:"full_path"`
}

type memberPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	State    string `json:"state"`
}

type projectPayload struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	Archived          bool   `json:"archived"`
}

type commitPayload struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	AuthorName   string `json:"author_name"`
	AuthorEmail  string `json:"author_email"`
	AuthoredDate string `json:"authored_date"`
	CreatedAt    string `json:"created_at"`
	Stats        *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

func (p commitPayload) toCommit() Commit {
	commit := Commit{
		ID:           p.ID,
		Title:        p.Title,
		Message:      p.Message,
		AuthorName:   p.AuthorName,
		AuthorEmail:  p.AuthorEmail,
		AuthoredDate: parseRFC3339(p.AuthoredDate),
		CreatedAt:    parseRFC3339(p.CreatedAt),
	}
	if p.Stats != nil {
		commit.HasStats = true
		commit.Additions = p.Stats.Additions
		commit.Deletions = p.Stats.Deletions
	}
	return commit
}

type userPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (p *userPayload) toUser() User {
	if p == nil {
		return User{}
	}
	return User(*p)
}

type mergeRequestPayload struct {
	ID           int64         `json:"id"`
	IID          int64         `json:"iid"`
	ProjectID    int64         `json:"project_id"`
	Title        string        `json:"title"`
	State        string        `json:"state"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
	MergedAt     *string       `json:"merged_at"`
	ClosedAt     *string       `json:"closed_at"`
	Author       *userPayload  `json:"author"`
	Assignee     *userPayload  `json:"assignee"`
	Reviewers    []userPayload `json:"reviewers"`
	Labels       []string      `json:"labels"`
	SourceBranch string        `json:"source_branch"`
	TargetBranch string        `json:"target_branch"`
}

func (p mergeRequestPayload) toMergeRequest() MergeRequest {
	mr := MergeRequest{
		ID:           p.ID,
		IID:          p.IID,
		ProjectID:    p.ProjectID,
		Title:        p.Title,
		State:        p.State,
		CreatedAt:    parseRFC3339(p.CreatedAt),
		UpdatedAt:    parseRFC3339(p.UpdatedAt),
		MergedAt:     parseNullableRFC3339(p.MergedAt),
		ClosedAt:     parseNullableRFC3339(p.ClosedAt),
		Author:       p.Author.toUser(),
		Assignee:     p.Assignee.toUser(),
		Labels:       p.Labels,
		SourceBranch: p.SourceBranch,
		TargetBranch: p.TargetBranch,
	}
	for i := range p.Reviewers {
		mr.Reviewers = append(mr.Reviewers, p.Reviewers[i].toUser())
	}
	return mr
}

type approvalsPayload struct {
	ApprovedBy []struct {
		User *userPayload `json:"user"`
	} `json:"approved_by"`
}

type notePayload struct {
	ID        int64        `json:"id"`
	Body      string       `json:"body"`
	Author    *userPayload `json:"author"`
	CreatedAt string       `json:"created_at"`
	System    bool         `json:"system"`
}

type changesPayload struct {
	ChangesCount string `json:"changes_count"`
	Changes      []struct {
		Diff string `json:"diff"`
	} `json:"changes"`
}
