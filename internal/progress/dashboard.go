package progress

import (
	"context"
	"math"

	"github.com/conorfennell/ergoquiz/internal/domain"
)

// Trend compares a theme's recent scores with the ones before.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

const (
	trendWindow    = 5
	trendThreshold = 5.0
	recentSessions = 10
)

// ThemeDashboard summarizes everything played on one theme.
type ThemeDashboard struct {
	ThemeID            string                `json:"themeId"`
	Title              string                `json:"title"`
	TotalSessions      int                   `json:"totalSessions"`
	TotalQuestions     int                   `json:"totalQuestions"`
	TotalCorrect       int                   `json:"totalCorrect"`
	AvgScore           int                   `json:"avgScore"`
	ErrorCount         int                   `json:"errorCount"`
	ErrorRate          int                   `json:"errorRate"`
	AvgTimePerQuestion int                   `json:"avgTimePerQuestion"`
	LastPlayed         *int64                `json:"lastPlayed"`
	History            []domain.HistoryEntry `json:"history"`
	Trend              Trend                 `json:"trend"`
}

// Dashboard builds one entry per theme that has at least one history
// entry, in the order of themes. Percentages are rounded; the average
// time per question is in seconds.
func (r *Repos) Dashboard(ctx context.Context, themes []domain.ThemeSummary) ([]ThemeDashboard, error) {
	history, err := r.History.List(ctx)
	if err != nil {
		return nil, err
	}
	errs, err := r.Errors.Load(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := r.Stats.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := []ThemeDashboard{}
	for _, t := range themes {
		var played []domain.HistoryEntry
		for _, e := range history {
			if e.ThemeID == t.ID {
				played = append(played, e)
			}
		}
		if len(played) == 0 {
			continue
		}

		d := ThemeDashboard{ThemeID: t.ID, Title: t.Title, TotalSessions: len(played)}
		var totalTime int64
		for _, e := range played {
			d.TotalQuestions += e.Total
			d.TotalCorrect += e.Score
			totalTime += e.TotalTime
		}
		for _, n := range errs[t.ID] {
			d.ErrorCount += n
		}
		if d.TotalQuestions > 0 {
			q := float64(d.TotalQuestions)
			d.AvgScore = int(math.Round(float64(d.TotalCorrect) / q * 100))
			d.ErrorRate = int(math.Round(float64(d.ErrorCount) / q * 100))
			d.AvgTimePerQuestion = int(math.Round(float64(totalTime) / q / 1000))
		}
		if rec := stats[t.ID]; rec != nil {
			d.LastPlayed = rec.LastPlayed
		}
		d.History = played[:min(len(played), recentSessions)]
		d.Trend = trend(played)
		out = append(out, d)
	}
	return out, nil
}

// trend expects history newest first.
func trend(history []domain.HistoryEntry) Trend {
	if len(history) < 2 {
		return TrendNeutral
	}
	recent := history[:min(len(history), trendWindow)]
	older := history[len(recent):min(len(history), 2*trendWindow)]

	recentAvg := averagePercent(recent)
	olderAvg := recentAvg
	if len(older) > 0 {
		olderAvg = averagePercent(older)
	}

	switch {
	case recentAvg > olderAvg+trendThreshold:
		return TrendUp
	case recentAvg < olderAvg-trendThreshold:
		return TrendDown
	default:
		return TrendNeutral
	}
}

func averagePercent(entries []domain.HistoryEntry) float64 {
	sum := 0
	for _, e := range entries {
		sum += e.Percent
	}
	return float64(sum) / float64(len(entries))
}
