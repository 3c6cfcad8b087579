package heatmap

import (
	"math"
	"testing"
)

func TestCalculateTeamMetrics(t *testing.T) {
	t.Parallel()

	ptrFloat := func(v float64) *float64 { return &v }
	ptrInt := func(v int) *int { return &v }

	testCases := []struct {
		name string
		mrs  []MergeRequestDetail
		want TeamMetrics
	}{
		{name: "empty", want: TeamMetrics{}},
		{
			name: "mixed",
			mrs: []MergeRequestDetail{
				{State: "merged", ReviewTime: ptrFloat(10), Reviewers: []string{"bob"}, Size: ptrInt(100)},
				{State: "merged", ReviewTime: ptrFloat(20), Size: ptrInt(50)},
				{State: "opened", Reviewers: []string{"carol"}},
				{State: "closed", Size: ptrInt(10)},
			},
			want: TeamMetrics{
				AverageReviewTime:   15,
				MergeSuccessRate:    50,
				ReviewParticipation: 50,
				CodeChurnRate:       40,
			},
		},
		{
			name: "no_review_times",
			mrs:  []MergeRequestDetail{{State: "opened"}},
			want: TeamMetrics{},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := CalculateTeamMetrics(tc.mrs)
			for label, pair := range map[string][2]float64{
				"AverageReviewTime":   {got.AverageReviewTime, tc.want.AverageReviewTime},
				"MergeSuccessRate":    {got.MergeSuccessRate, tc.want.MergeSuccessRate},
				"ReviewParticipation": {got.ReviewParticipation, tc.want.ReviewParticipation},
				"CodeChurnRate":       {got.CodeChurnRate, tc.want.CodeChurnRate},
			} {
				if math.IsNaN(pair[0]) || math.Abs(pair[0]-pair[1]) > 1e-9 {
					t.Fatalf("%s = %v, want %v", label, pair[0], pair[1])
				}
			}
		})
	}
}
