package heatmap

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/identity"
	"github.com/cam3ron2/delivery-heatmap/internal/noise"
)

// projectPartial is one project's contribution, built without shared state and merged afterwards.
type projectPartial struct {
	daily         DailyContributions
	stats         map[string]*UserStats
	order         []string
	pushes        map[string][]PushDetail
	mergeRequests []MergeRequestDetail
	failed        bool
}

func newProjectPartial() *projectPartial {
	return &projectPartial{
		daily:  make(DailyContributions),
		stats:  make(map[string]*UserStats),
		pushes: make(map[string][]PushDetail),
	}
}

// foldProject turns one project's raw records into a partial.
func foldProject(data collect.ProjectData, identities identity.Map) *projectPartial {
	partial := newProjectPartial()
	partial.failed = data.Failed()

	for _, commit := range data.Commits {
		username, display := commitAuthor(commit, identities)
		if username == "" || identity.IsBot(username) {
			continue
		}
		day := commit.AuthoredAt.UTC().Format(dayFormat)
		record, ok := partial.daily[day]
		if !ok {
			record = make(ContributionRecord)
			partial.daily[day] = record
		}
		record[username]++

		partial.user(username, display).Commits++
		partial.pushes[username] = append(partial.pushes[username], PushDetail{
			SHA:        commit.SHA,
			Message:    commit.Message,
			Date:       commit.AuthoredAt.UTC(),
			Project:    data.Project.Path,
			Branch:     data.Project.DefaultBranch,
			Insertions: commit.Additions,
			Deletions:  commit.Deletions,
		})
	}

	for _, record := range data.MergeRequests {
		mr := record.MergeRequest
		if author := normalizeActor(mr.Author.Username); author != "" {
			stats := partial.user(author, identities.Resolve(author, mr.Author.Name))
			stats.MergeRequests++
			// Merge request commits are added on top of default-branch commits, so merged work
			// is counted twice.
			stats.Commits += len(record.Commits)
			advance(stats, mr.CreatedAt)
		}

		for _, approval := range record.Approvals {
			approver := normalizeActor(approval.User.Username)
			if approver == "" {
				continue
			}
			partial.user(approver, identities.Resolve(approver, approval.User.Name)).Approvals++
		}

		for _, note := range record.Notes {
			author := normalizeActor(note.Author.Username)
			if author == "" || identity.IsBot(author) || !noise.IsMeaningfulComment(note.Body) {
				continue
			}
			stats := partial.user(author, identities.Resolve(author, note.Author.Name))
			stats.Comments++
			advance(stats, note.CreatedAt)
		}

		partial.mergeRequests = append(partial.mergeRequests, buildMergeRequestDetail(data.Project, record))
	}
	return partial
}

func (p *projectPartial) user(username, display string) *UserStats {
	if stats, ok := p.stats[username]; ok {
		if stats.Name == "" {
			stats.Name = display
		}
		return stats
	}
	stats := &UserStats{Username: username, Name: display}
	p.stats[username] = stats
	p.order = append(p.order, username)
	return stats
}

// aggregate accumulates partials in the order they are merged.
type aggregate struct {
	projectPartial
	projectsScanned int
	projectsFailed  int
}

func newAggregate() *aggregate {
	return &aggregate{projectPartial: *newProjectPartial()}
}

func (a *aggregate) merge(partial *projectPartial) {
	a.projectsScanned++
	if partial.failed {
		a.projectsFailed++
	}

	for day, record := range partial.daily {
		target, ok := a.daily[day]
		if !ok {
			target = make(ContributionRecord, len(record))
			a.daily[day] = target
		}
		for username, count := range record {
			target[username] += count
		}
	}

	for _, username := range partial.order {
		source := partial.stats[username]
		target := a.user(username, source.Name)
		target.Commits += source.Commits
		target.MergeRequests += source.MergeRequests
		target.Approvals += source.Approvals
		target.Comments += source.Comments
		if source.LastActiveDate != nil {
			advance(target, *source.LastActiveDate)
		}
	}

	for username, pushes := range partial.pushes {
		a.pushes[username] = append(a.pushes[username], pushes...)
	}
	a.mergeRequests = append(a.mergeRequests, partial.mergeRequests...)
}

// users returns scored stats ordered by score, highest first, then by username.
func (a *aggregate) users() []UserStats {
	users := make([]UserStats, 0, len(a.order))
	for _, username := range a.order {
		users = append(users, *a.stats[username])
	}
	applyScores(users)
	slices.SortStableFunc(users, func(left, right UserStats) int {
		if *left.ContributionScore != *right.ContributionScore {
			if *left.ContributionScore > *right.ContributionScore {
				return -1
			}
			return 1
		}
		return strings.Compare(left.Username, right.Username)
	})
	return users
}

func buildMergeRequestDetail(project collect.Project, record collect.MergeRequestRecord) MergeRequestDetail {
	mr := record.MergeRequest
	detail := MergeRequestDetail{
		ID:           mr.ID,
		IID:          mr.IID,
		ProjectID:    mr.ProjectID,
		Project:      project.Path,
		Title:        mr.Title,
		State:        mr.State,
		CreatedAt:    mr.CreatedAt,
		UpdatedAt:    mr.UpdatedAt,
		MergedAt:     mr.MergedAt,
		ClosedAt:     mr.ClosedAt,
		Author:       mr.Author.Username,
		Assignee:     mr.Assignee.Username,
		Reviewers:    make([]string, 0, len(mr.Reviewers)),
		Labels:       append([]string{}, mr.Labels...),
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		CommitCount:  len(record.Commits),
	}
	for _, reviewer := range mr.Reviewers {
		if reviewer.Username != "" {
			detail.Reviewers = append(detail.Reviewers, reviewer.Username)
		}
	}

	if record.ApprovedAt != nil {
		hours := record.ApprovedAt.Sub(mr.CreatedAt).Hours()
		detail.ApprovalDuration = &hours
	}
	if mr.State == "merged" && mr.MergedAt != nil {
		hours := mr.MergedAt.Sub(mr.CreatedAt).Hours()
		detail.ReviewTime = &hours
	}
	if record.Changes != nil {
		size := record.Changes.Size()
		detail.Size = &size
		if size > 0 {
			complexity := math.Log2(float64(size))
			detail.Complexity = &complexity
		}
	}
	return detail
}

// commitAuthor attributes a commit. Host-linked accounts win over git author name and email.
func commitAuthor(commit collect.Commit, identities identity.Map) (string, string) {
	if login := normalizeActor(commit.AuthorUsername); login != "" {
		return login, identities.Resolve(login, commit.AuthorName)
	}
	username, display := identities.ResolveCommitAuthor(commit.AuthorName, commit.AuthorEmail)
	return normalizeActor(username), display
}

func normalizeActor(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func advance(stats *UserStats, ts time.Time) {
	if ts.IsZero() {
		return
	}
	if stats.LastActiveDate == nil || ts.After(*stats.LastActiveDate) {
		value := ts.UTC()
		stats.LastActiveDate = &value
	}
}
