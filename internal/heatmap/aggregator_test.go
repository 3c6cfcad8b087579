package heatmap

import (
	"errors"
	"testing"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/identity"
)

func testIdentities() identity.Map {
	return identity.NewMap([]collect.Member{
		{Username: "alice", DisplayName: "Alice Anders"},
		{Username: "bob", DisplayName: "Bob Brown"},
	})
}

func TestFoldProjectSkipsBotsAndNoise(t *testing.T) {
	t.Parallel()

	early := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	data := collect.ProjectData{
		Project: collect.Project{ID: 1, Path: "acme/api", DefaultBranch: "main"},
		Commits: []collect.Commit{
			{SHA: "a", AuthorUsername: "ci-pipeline-bot", AuthoredAt: early},
			{SHA: "b", AuthorName: "renovate-bot", AuthorEmail: "bot@renovate.dev", AuthoredAt: early},
			{SHA: "c", AuthorUsername: "Alice", AuthoredAt: early},
		},
		MergeRequests: []collect.MergeRequestRecord{{
			MergeRequest: collect.MergeRequest{
				IID:       7,
				State:     "opened",
				CreatedAt: early,
				Author:    collect.User{Username: "dependabot"},
			},
			Approvals: []collect.Approval{{User: collect.User{Username: "security-bot"}}},
			Notes: []collect.Note{
				{Body: "please update the error message here", Author: collect.User{Username: "bob"}, CreatedAt: early},
				{Body: "thanks", Author: collect.User{Username: "bob"}, CreatedAt: late},
				{Body: "this looks like a bug in the retry loop", Author: collect.User{Username: "auto-reviewer"}, CreatedAt: late},
			},
		}},
	}

	partial := foldProject(data, testIdentities())

	if _, ok := partial.stats["ci-pipeline-bot"]; ok {
		t.Fatalf("foldProject() counted commits of ci-pipeline-bot")
	}
	if _, ok := partial.pushes["ci-pipeline-bot"]; ok {
		t.Fatalf("foldProject() kept push details of ci-pipeline-bot")
	}
	if _, ok := partial.stats["renovate-bot"]; ok {
		t.Fatalf("foldProject() counted commits of renovate-bot")
	}
	if _, ok := partial.stats["auto-reviewer"]; ok {
		t.Fatalf("foldProject() counted comments of auto-reviewer")
	}

	// Merge requests and approvals from automation accounts still count.
	if got := partial.stats["dependabot"]; got == nil || got.MergeRequests != 1 {
		t.Fatalf("dependabot stats = %+v, want 1 merge request", got)
	}
	if got := partial.stats["security-bot"]; got == nil || got.Approvals != 1 {
		t.Fatalf("security-bot stats = %+v, want 1 approval", got)
	}

	alice := partial.stats["alice"]
	if alice == nil || alice.Commits != 1 || alice.Name != "Alice Anders" {
		t.Fatalf("alice stats = %+v, want 1 commit as Alice Anders", alice)
	}
	if alice.LastActiveDate != nil {
		t.Fatalf("alice.LastActiveDate = %v, want nil for commit-only activity", alice.LastActiveDate)
	}
	if got := partial.daily["2024-05-01"]; len(got) != 1 || got["alice"] != 1 {
		t.Fatalf("daily[2024-05-01] = %v, want alice only", got)
	}

	bob := partial.stats["bob"]
	if bob == nil || bob.Comments != 1 {
		t.Fatalf("bob stats = %+v, want 1 comment", bob)
	}
	if bob.LastActiveDate == nil || !bob.LastActiveDate.Equal(early) {
		t.Fatalf("bob.LastActiveDate = %v, want %v", bob.LastActiveDate, early)
	}
}

func TestFoldProjectCountsMergeRequestCommitsTwice(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
	data := collect.ProjectData{
		Project: collect.Project{ID: 1, Path: "acme/api", DefaultBranch: "main"},
		Commits: []collect.Commit{
			{SHA: "m1", AuthorName: "Alice Anders", AuthorEmail: "alice.anders@corp.example", AuthoredAt: created},
		},
		MergeRequests: []collect.MergeRequestRecord{{
			MergeRequest: collect.MergeRequest{IID: 1, State: "merged", CreatedAt: created, Author: collect.User{Username: "alice"}},
			Commits:      []collect.Commit{{SHA: "m1"}, {SHA: "m2"}},
		}},
	}

	partial := foldProject(data, testIdentities())

	alice := partial.stats["alice"]
	if alice == nil {
		t.Fatalf("foldProject() missing alice")
	}
	// m1 reached the default branch and is also part of the merge request.
	if alice.Commits != 3 {
		t.Fatalf("alice.Commits = %d, want 3", alice.Commits)
	}
	if len(partial.pushes["alice"]) != 1 {
		t.Fatalf("pushes[alice] = %d, want 1", len(partial.pushes["alice"]))
	}
}

func TestAggregateMerge(t *testing.T) {
	t.Parallel()

	first := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)

	left := newProjectPartial()
	left.daily["2024-06-01"] = ContributionRecord{"alice": 2}
	left.user("alice", "Alice Anders").Commits = 2
	advance(left.user("alice", ""), second)

	right := newProjectPartial()
	right.failed = true
	right.daily["2024-06-01"] = ContributionRecord{"alice": 1, "bob": 1}
	right.user("bob", "Bob Brown").Approvals = 4
	aliceRight := right.user("alice", "")
	aliceRight.Commits = 1
	advance(aliceRight, first)

	agg := newAggregate()
	agg.merge(left)
	agg.merge(right)

	if agg.projectsScanned != 2 || agg.projectsFailed != 1 {
		t.Fatalf("scanned/failed = %d/%d, want 2/1", agg.projectsScanned, agg.projectsFailed)
	}
	if got := agg.daily["2024-06-01"]; got["alice"] != 3 || got["bob"] != 1 {
		t.Fatalf("daily = %v, want alice 3 bob 1", got)
	}

	alice := agg.stats["alice"]
	if alice.Commits != 3 || alice.Name != "Alice Anders" {
		t.Fatalf("alice = %+v, want 3 commits as Alice Anders", alice)
	}
	if alice.LastActiveDate == nil || !alice.LastActiveDate.Equal(second) {
		t.Fatalf("alice.LastActiveDate = %v, want %v", alice.LastActiveDate, second)
	}

	users := agg.users()
	if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "bob" {
		t.Fatalf("users() = %+v, want alice then bob", users)
	}
	if *users[0].ContributionScore != 6 || *users[1].ContributionScore != 4 {
		t.Fatalf("scores = %v, %v; want 6, 4", *users[0].ContributionScore, *users[1].ContributionScore)
	}
}

func TestAggregateUsersTieBreaksByUsername(t *testing.T) {
	t.Parallel()

	partial := newProjectPartial()
	partial.user("zed", "").Approvals = 2
	partial.user("amy", "").Approvals = 2
	partial.user("max", "").Commits = 2

	agg := newAggregate()
	agg.merge(partial)

	users := agg.users()
	got := []string{users[0].Username, users[1].Username, users[2].Username}
	want := []string{"max", "amy", "zed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("users() order = %v, want %v", got, want)
		}
	}
}

func TestBuildMergeRequestDetail(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	merged := created.Add(36 * time.Hour)
	approved := created.Add(90 * time.Minute)
	project := collect.Project{Path: "acme/web"}

	testCases := []struct {
		name           string
		record         collect.MergeRequestRecord
		wantReview     *float64
		wantApproval   *float64
		wantSize       *int
		wantComplexity bool
	}{
		{
			name: "merged_with_changes",
			record: collect.MergeRequestRecord{
				MergeRequest: collect.MergeRequest{State: "merged", CreatedAt: created, MergedAt: &merged},
				ApprovedAt:   &approved,
				Changes:      &collect.Changes{Additions: 10, Deletions: 6},
			},
			wantReview:     ptr(36.0),
			wantApproval:   ptr(1.5),
			wantSize:       ptr(16),
			wantComplexity: true,
		},
		{
			name: "closed_with_merged_at_has_no_review_time",
			record: collect.MergeRequestRecord{
				MergeRequest: collect.MergeRequest{State: "closed", CreatedAt: created, MergedAt: &merged},
				Changes:      &collect.Changes{ChangesCount: 3},
			},
			wantSize:       ptr(3),
			wantComplexity: true,
		},
		{
			name: "zero_size_has_no_complexity",
			record: collect.MergeRequestRecord{
				MergeRequest: collect.MergeRequest{State: "opened", CreatedAt: created},
				Changes:      &collect.Changes{},
			},
			wantSize: ptr(0),
		},
		{
			name: "missing_changes",
			record: collect.MergeRequestRecord{
				MergeRequest: collect.MergeRequest{State: "opened", CreatedAt: created},
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			detail := buildMergeRequestDetail(project, tc.record)
			if detail.Project != "acme/web" || detail.Reviewers == nil || detail.Labels == nil {
				t.Fatalf("buildMergeRequestDetail() = %+v", detail)
			}
			if !equalPtr(detail.ReviewTime, tc.wantReview) {
				t.Fatalf("ReviewTime = %v, want %v", deref(detail.ReviewTime), deref(tc.wantReview))
			}
			if !equalPtr(detail.ApprovalDuration, tc.wantApproval) {
				t.Fatalf("ApprovalDuration = %v, want %v", deref(detail.ApprovalDuration), deref(tc.wantApproval))
			}
			if !equalPtr(detail.Size, tc.wantSize) {
				t.Fatalf("Size = %v, want %v", deref(detail.Size), deref(tc.wantSize))
			}
			if (detail.Complexity != nil) != tc.wantComplexity {
				t.Fatalf("Complexity = %v, want present=%t", deref(detail.Complexity), tc.wantComplexity)
			}
		})
	}
}

func TestCommitAuthor(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		commit      collect.Commit
		wantUser    string
		wantDisplay string
	}{
		{
			name:        "linked_account",
			commit:      collect.Commit{AuthorUsername: " Bob ", AuthorName: "bobby"},
			wantUser:    "bob",
			wantDisplay: "Bob Brown",
		},
		{
			name:        "email_local_part",
			commit:      collect.Commit{AuthorName: "A. Anders", AuthorEmail: "alice@example.com"},
			wantUser:    "alice",
			wantDisplay: "Alice Anders",
		},
		{
			name:        "unknown_author_keeps_name",
			commit:      collect.Commit{AuthorName: "Dana Doe", AuthorEmail: "dana@elsewhere.example"},
			wantUser:    "dana doe",
			wantDisplay: "Dana Doe",
		},
		{
			name: "anonymous",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			user, display := commitAuthor(tc.commit, testIdentities())
			if user != tc.wantUser || display != tc.wantDisplay {
				t.Fatalf("commitAuthor() = (%q, %q), want (%q, %q)", user, display, tc.wantUser, tc.wantDisplay)
			}
		})
	}
}

func TestFoldProjectMarksFailedProjects(t *testing.T) {
	t.Parallel()

	data := collect.ProjectData{
		Project: collect.Project{Path: "acme/api"},
		Misses:  []collect.Miss{{Project: "acme/api", Reason: collect.MissReasonCommits, Err: errors.New("boom")}},
	}
	if !foldProject(data, testIdentities()).failed {
		t.Fatalf("foldProject() failed = false, want true")
	}

	data.Misses = []collect.Miss{{Project: "acme/api", MergeRequestIID: 3, Reason: collect.MissReasonNotes, Err: errors.New("boom")}}
	if foldProject(data, testIdentities()).failed {
		t.Fatalf("foldProject() failed = true for a merge request miss, want false")
	}
}

func ptr[T any](value T) *T {
	return &value
}

func equalPtr[T comparable](got, want *T) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	return *got == *want
}

func deref[T any](value *T) any {
	if value == nil {
		return nil
	}
	return *value
}
