package heatmap

import (
	"fmt"
	"slices"
	"time"
)

// CalculateTrends sums each day's contributions and rolls the totals into ISO-8601 weeks
// ("2024-W1") and months ("2024-3"). Only buckets with input dates exist.
func CalculateTrends(daily DailyContributions) Trends {
	trends := Trends{
		Daily:   make(map[string]int, len(daily)),
		Weekly:  make(map[string]int),
		Monthly: make(map[string]int),
	}

	for _, date := range sortedDates(daily) {
		day, err := time.Parse(dayFormat, date)
		if err != nil {
			continue
		}
		total := 0
		for _, count := range daily[date] {
			total += count
		}

		trends.Daily[date] = total
		year, week := day.ISOWeek()
		trends.Weekly[weekKey(year, week)] += total
		trends.Monthly[monthKey(day)] += total
	}
	return trends
}

func sortedDates(daily DailyContributions) []string {
	dates := make([]string, 0, len(daily))
	for date := range daily {
		dates = append(dates, date)
	}
	slices.Sort(dates)
	return dates
}

func weekKey(isoYear, isoWeek int) string {
	return fmt.Sprintf("%d-W%d", isoYear, isoWeek)
}

func monthKey(day time.Time) string {
	return fmt.Sprintf("%d-%d", day.Year(), int(day.Month()))
}
