package service

import (
	"sort"
	"time"
)

const maxPostsPerWeek = 21

var optimalTimes = []struct{ hour, minute int }{
	{9, 0},
	{12, 0},
	{19, 30},
}

type ScheduleSuggestion struct {
	Datetime  time.Time `json:"datetime"`
	Day       string    `json:"day"`
	Platforms []string  `json:"platforms"`
}

// GenerateWeeklySchedule spreads postsPerWeek slots over the seven days after
// from, cycling through the optimal posting times. It is deterministic.
func GenerateWeeklySchedule(postsPerWeek int, platforms []string, from time.Time, loc *time.Location) ([]ScheduleSuggestion, error) {
	if postsPerWeek < 1 || postsPerWeek > maxPostsPerWeek {
		return nil, invalidInput("posts per week must be between 1 and %d", maxPostsPerWeek)
	}
	if loc == nil {
		loc = time.UTC
	}

	base := from.In(loc)
	firstDay := time.Date(base.Year(), base.Month(), base.Day()+1, 0, 0, 0, 0, loc)

	suggestions := make([]ScheduleSuggestion, 0, postsPerWeek)
	for i := 0; i < postsPerWeek; i++ {
		day := firstDay.AddDate(0, 0, i%7)
		slot := optimalTimes[i%len(optimalTimes)]
		at := time.Date(day.Year(), day.Month(), day.Day(), slot.hour, slot.minute, 0, 0, loc)

		suggestions = append(suggestions, ScheduleSuggestion{
			Datetime:  at,
			Day:       at.Weekday().String(),
			Platforms: append([]string(nil), platforms...),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Datetime.Before(suggestions[j].Datetime)
	})
	return suggestions, nil
}
