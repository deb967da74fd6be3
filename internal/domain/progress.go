package domain

import "sort"

// Caps applied by the progress repositories.
const (
	MaxHistoryEntries = 200
	MaxThemeSessions  = 50
)

// HistoryEntry records one finished quiz, flashcard or revision session.
// At is a Unix timestamp in milliseconds; durations are milliseconds too.
type HistoryEntry struct {
	At         int64  `json:"at"`
	Mode       string `json:"mode"`
	ThemeID    string `json:"themeId"`
	ThemeTitle string `json:"themeTitle"`
	Score      int    `json:"score"`
	Total      int    `json:"total"`
	Percent    int    `json:"percent"`
	TotalTime  int64  `json:"totalTime"`
	AvgTime    int64  `json:"avgTime"`
}

// ErrorMap counts wrong answers: theme id -> question id -> count.
// A count of zero means the question was resolved; the key may remain.
type ErrorMap map[string]map[string]int

// Clone returns a deep copy of m.
func (m ErrorMap) Clone() ErrorMap {
	out := make(ErrorMap, len(m))
	for themeID, questions := range m {
		qs := make(map[string]int, len(questions))
		for qid, n := range questions {
			qs[qid] = n
		}
		out[themeID] = qs
	}
	return out
}

// SessionStat is the per-session sample kept inside a StatsRecord.
type SessionStat struct {
	Date    int64  `json:"date"`
	Score   int    `json:"score"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Mode    string `json:"mode"`
	AvgTime int64  `json:"avgTime"`
}

// StatsRecord aggregates every session played on a theme. Sessions are
// kept oldest first. The totals keep growing after old samples fall out
// of Sessions.
type StatsRecord struct {
	Sessions       []SessionStat `json:"sessions"`
	TotalQuestions int           `json:"totalQuestions"`
	TotalCorrect   int           `json:"totalCorrect"`
	TotalTime      int64         `json:"totalTime"`
	LastPlayed     *int64        `json:"lastPlayed"`
}

// StatsMap holds one StatsRecord per theme id.
type StatsMap map[string]*StatsRecord

// Clone returns a deep copy of r.
func (r *StatsRecord) Clone() *StatsRecord {
	cp := *r
	cp.Sessions = append([]SessionStat{}, r.Sessions...)
	if r.LastPlayed != nil {
		lp := *r.LastPlayed
		cp.LastPlayed = &lp
	}
	return &cp
}

// Clone returns a deep copy of m. Nil records are dropped.
func (m StatsMap) Clone() StatsMap {
	out := make(StatsMap, len(m))
	for themeID, rec := range m {
		if rec != nil {
			out[themeID] = rec.Clone()
		}
	}
	return out
}

// LatestSessions sorts sessions oldest first and keeps the last
// MaxThemeSessions of them. It may reorder the given slice.
func LatestSessions(sessions []SessionStat) []SessionStat {
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].Date < sessions[j].Date })
	if n := len(sessions); n > MaxThemeSessions {
		sessions = sessions[n-MaxThemeSessions:]
	}
	return sessions
}

// SessionResult is what a finished session reports to the repositories.
type SessionResult struct {
	At         int64
	Mode       string
	ThemeID    string
	ThemeTitle string
	Score      int
	Total      int
	TotalTime  int64
}

// Percent returns the rounded score percentage.
func (r SessionResult) Percent() int {
	if r.Total <= 0 {
		return 0
	}
	return (r.Score*100 + r.Total/2) / r.Total
}

// AvgTime returns the mean time per question in milliseconds.
func (r SessionResult) AvgTime() int64 {
	if r.Total <= 0 {
		return 0
	}
	return r.TotalTime / int64(r.Total)
}

// HistoryEntry converts the result into its history record.
func (r SessionResult) HistoryEntry() HistoryEntry {
	return HistoryEntry{
		At:         r.At,
		Mode:       r.Mode,
		ThemeID:    r.ThemeID,
		ThemeTitle: r.ThemeTitle,
		Score:      r.Score,
		Total:      r.Total,
		Percent:    r.Percent(),
		TotalTime:  r.TotalTime,
		AvgTime:    r.AvgTime(),
	}
}
