package store

import (
	"context"
	"errors"

	"github.com/tracevault/tracevault/internal/index"
)

// Search runs a ranked full-text query over indexed frames. Results are
// eventually consistent with the log: a frame committed moments ago may
// not be visible yet. When the index is unavailable the result set is
// empty and index.ErrUnavailable is returned alongside it so callers can
// distinguish "no matches" from "index down".
func (s *Store) Search(ctx context.Context, query string, limit int) ([]index.Hit, error) {
	hits, err := s.index.Search(ctx, query, limit)
	if errors.Is(err, index.ErrUnavailable) {
		s.logger.Warn().Err(err).Msg("search degraded to empty results")
		return nil, err
	}
	return hits, err
}

// Context assembles a bounded digest of the frames most relevant to the
// query. budget <= 0 uses the configured default.
func (s *Store) Context(ctx context.Context, query string, budget int) (*index.ContextResult, error) {
	if budget <= 0 {
		budget = s.cfg.ContextBudget
	}
	res, err := s.index.Context(ctx, query, budget)
	if errors.Is(err, index.ErrUnavailable) {
		s.logger.Warn().Err(err).Msg("context degraded to empty results")
		return &index.ContextResult{Budget: budget, Frames: []index.ContextFrame{}}, err
	}
	return res, err
}

// FlushIndex blocks until every frame committed before the call is
// searchable. Intended for callers that need read-after-write visibility
// at a known point, such as tests and shutdown paths. It holds the append
// lock so a concurrent Close cannot shut the queue mid-flush.
func (s *Store) FlushIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.index.Flush()
}
