package heatmap

const (
	commitWeight       = 2.0
	mergeRequestWeight = 3.0
	approvalWeight     = 1.0
	commentWeight      = 0.5
)

// Score is the fixed linear contribution weighting.
func Score(commits, mergeRequests, approvals, comments int) float64 {
	return float64(commits)*commitWeight +
		float64(mergeRequests)*mergeRequestWeight +
		float64(approvals)*approvalWeight +
		float64(comments)*commentWeight
}

func applyScores(users []UserStats) {
	for i := range users {
		score := Score(users[i].Commits, users[i].MergeRequests, users[i].Approvals, users[i].Comments)
		users[i].ContributionScore = &score
	}
}
