package heatmap

// CalculateTeamMetrics derives group health indicators from merge request details. Every metric is
// zero for an empty list.
func CalculateTeamMetrics(mergeRequests []MergeRequestDetail) TeamMetrics {
	total := len(mergeRequests)
	if total == 0 {
		return TeamMetrics{}
	}

	merged := 0
	reviewed := 0
	churn := 0
	reviewTimeSum := 0.0
	reviewTimeCount := 0
	for _, mr := range mergeRequests {
		if mr.State == "merged" {
			merged++
		}
		if len(mr.Reviewers) > 0 {
			reviewed++
		}
		if mr.Size != nil {
			churn += *mr.Size
		}
		if mr.ReviewTime != nil {
			reviewTimeSum += *mr.ReviewTime
			reviewTimeCount++
		}
	}

	metrics := TeamMetrics{
		MergeSuccessRate:    float64(merged) / float64(total) * 100,
		ReviewParticipation: float64(reviewed) / float64(total) * 100,
		CodeChurnRate:       float64(churn) / float64(total),
	}
	if reviewTimeCount > 0 {
		metrics.AverageReviewTime = reviewTimeSum / float64(reviewTimeCount)
	}
	return metrics
}
