// Package heatmap folds source-control records into per-user contribution analytics.
package heatmap

import "time"

const dayFormat = "2006-01-02"

// ContributionRecord counts contributions per username for one day. An absent key is zero.
type ContributionRecord map[string]int

// DailyContributions maps a UTC YYYY-MM-DD date to that day's contributions.
type DailyContributions map[string]ContributionRecord

// UserStats are one actor's counters for a run.
type UserStats struct {
	Username          string     `json:"username"`
	Name              string     `json:"name"`
	Commits           int        `json:"commits"`
	MergeRequests     int        `json:"mergeRequests"`
	Approvals         int        `json:"approvals"`
	Comments          int        `json:"comments"`
	ContributionScore *float64   `json:"contributionScore,omitempty"`
	LastActiveDate    *time.Time `json:"lastActiveDate,omitempty"`
}

// MergeRequestDetail is an immutable snapshot of one merge request. Durations are in hours.
type MergeRequestDetail struct {
	ID               int64      `json:"id"`
	IID              int64      `json:"iid"`
	ProjectID        int64      `json:"projectId"`
	Project          string     `json:"project"`
	Title            string     `json:"title"`
	State            string     `json:"state"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	MergedAt         *time.Time `json:"mergedAt,omitempty"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
	Author           string     `json:"author"`
	Assignee         string     `json:"assignee,omitempty"`
	Reviewers        []string   `json:"reviewers"`
	Labels           []string   `json:"labels"`
	SourceBranch     string     `json:"sourceBranch"`
	TargetBranch     string     `json:"targetBranch"`
	CommitCount      int        `json:"commitCount"`
	ApprovalDuration *float64   `json:"approvalDuration,omitempty"`
	ReviewTime       *float64   `json:"reviewTime,omitempty"`
	Size             *int       `json:"size,omitempty"`
	Complexity       *float64   `json:"complexity,omitempty"`
}

// PushDetail is one default-branch commit attributed to a user.
type PushDetail struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	Date       time.Time `json:"date"`
	Project    string    `json:"project"`
	Branch     string    `json:"branch"`
	Files      *int      `json:"files,omitempty"`
	Insertions *int      `json:"insertions,omitempty"`
	Deletions  *int      `json:"deletions,omitempty"`
}

// Trends are contribution totals bucketed by day, ISO week and month.
type Trends struct {
	Daily   map[string]int `json:"daily"`
	Weekly  map[string]int `json:"weekly"`
	Monthly map[string]int `json:"monthly"`
}

// TeamMetrics are group-level merge request health indicators.
type TeamMetrics struct {
	AverageReviewTime   float64 `json:"averageReviewTime"`
	MergeSuccessRate    float64 `json:"mergeSuccessRate"`
	ReviewParticipation float64 `json:"reviewParticipation"`
	CodeChurnRate       float64 `json:"codeChurnRate"`
}

// Result is the heatmap for one group and window.
type Result struct {
	GroupID            string                  `json:"groupId"`
	StartDate          string                  `json:"startDate"`
	EndDate            string                  `json:"endDate"`
	Users              []UserStats             `json:"users"`
	TotalMergeRequests int                     `json:"totalMergeRequests"`
	TotalCommits       int                     `json:"totalCommits"`
	TotalApprovals     int                     `json:"totalApprovals"`
	TotalComments      int                     `json:"totalComments"`
	DailyContributions DailyContributions      `json:"dailyContributions"`
	UserPushDetails    map[string][]PushDetail `json:"userPushDetails"`
	ContributionTrends Trends                  `json:"contributionTrends"`
	TeamMetrics        TeamMetrics             `json:"teamMetrics"`
	MergeRequests      []MergeRequestDetail    `json:"mergeRequests"`
	ProjectsScanned    int                     `json:"projectsScanned"`
	ProjectsFailed     int                     `json:"projectsFailed"`
}
