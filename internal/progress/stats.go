package progress

import (
	"context"
	"sync"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/store"
)

// Stats keeps the aggregated statistics of every played theme.
type Stats struct {
	store store.Store
	mu    *sync.Mutex
}

// Load returns every theme's record. It is never nil.
func (s *Stats) Load(ctx context.Context) (domain.StatsMap, error) {
	var m domain.StatsMap
	if err := Decode(ctx, s.store, store.KeyStats, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = domain.StatsMap{}
	}
	return m, nil
}

// Get returns the record of one theme, or nil if it was never played.
func (s *Stats) Get(ctx context.Context, themeID string) (*domain.StatsRecord, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return m[themeID], nil
}

// RecordSession folds a finished session into its theme's record. Only
// the latest domain.MaxThemeSessions samples are kept; totals keep
// growing.
func (s *Stats) RecordSession(ctx context.Context, e domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Load(ctx)
	if err != nil {
		return err
	}
	rec := m[e.ThemeID]
	if rec == nil {
		rec = &domain.StatsRecord{Sessions: []domain.SessionStat{}}
		m[e.ThemeID] = rec
	}

	rec.Sessions = domain.LatestSessions(append(rec.Sessions, domain.SessionStat{
		Date:    e.At,
		Score:   e.Score,
		Total:   e.Total,
		Percent: e.Percent,
		Mode:    e.Mode,
		AvgTime: e.AvgTime,
	}))
	rec.TotalQuestions += e.Total
	rec.TotalCorrect += e.Score
	rec.TotalTime += e.TotalTime
	if rec.LastPlayed == nil || e.At > *rec.LastPlayed {
		at := e.At
		rec.LastPlayed = &at
	}

	return save(ctx, s.store, store.KeyStats, m)
}
