// Package store ties the trace components — log, causal graph, integrity
// manifest, search index, archive — into a single handle with explicit
// open/close lifecycle. There is no process-wide singleton: callers open
// a store, pass the handle around, and close it deterministically.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tracevault/tracevault/internal/config"
	"github.com/tracevault/tracevault/internal/framelog"
	"github.com/tracevault/tracevault/internal/graph"
	"github.com/tracevault/tracevault/internal/index"
	"github.com/tracevault/tracevault/internal/manifest"
	"github.com/tracevault/tracevault/internal/model"
)

// Store is an open trace store. Single writer, many readers: Append
// serializes on an internal lock; read paths never block the writer.
type Store struct {
	cfg    config.Config
	logger zerolog.Logger

	log      *framelog.Log
	graph    *graph.Graph
	manifest *manifest.Manifest
	index    *index.Index

	mu      sync.Mutex // append lock
	entropy *rand.Rand

	sessionMu sync.RWMutex
	sessionID string

	closed atomic.Bool
}

// Open opens or creates the store rooted at cfg.Dir: it recovers the
// frame log, replays it to rebuild the causal graph and integrity chain,
// reconciles the search index, and starts the background indexer.
func Open(cfg config.Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("open store: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ArchiveDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	logger := log.With().Str("component", "tracestore").Str("dir", cfg.Dir).Logger()

	flog, err := framelog.Open(cfg.LogPath(), logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:       cfg,
		logger:    logger,
		log:       flog,
		graph:     graph.New(),
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sessionID: uuid.NewString(),
	}

	ctx := context.Background()

	s.manifest, err = manifest.Open(cfg.ManifestPath())
	if err != nil {
		flog.Close()
		return nil, err
	}
	matched, err := s.manifest.Replay(ctx, flog)
	if err != nil {
		flog.Close()
		return nil, err
	}
	if !matched {
		logger.Warn().Msg("manifest diverges from log; verify will report the divergence")
	}

	s.rebuildGraph()

	s.index, err = index.Open(cfg.IndexPath(), cfg.IndexQueueDepth, logger)
	if err != nil {
		flog.Close()
		return nil, err
	}
	if n, cerr := s.index.Count(ctx); cerr != nil || n != flog.Len() {
		logger.Warn().Uint64("indexed", n).Uint64("committed", flog.Len()).Msg("rebuilding search index from log")
		if rerr := s.index.Rebuild(ctx, flog); rerr != nil {
			logger.Error().Err(rerr).Msg("index rebuild failed; search degraded")
		}
	}

	logger.Debug().Uint64("frames", flog.Len()).Str("session_id", s.sessionID).Msg("store opened")
	return s, nil
}

// rebuildGraph replays the log into the causal graph. Frames whose
// relation was rejected at append time were still persisted, so their
// rejection here is expected and only logged.
func (s *Store) rebuildGraph() {
	it := s.log.Iterate(0)
	for {
		f, pos, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("graph rebuild aborted")
			return
		}
		if gerr := s.graph.Record(f.ID, f.CausedBy, pos); gerr != nil {
			s.logger.Warn().Err(gerr).Str("frame_id", f.ID).Msg("causal relation rejected during replay")
		}
	}
	if n := it.Skipped(); n > 0 {
		s.logger.Warn().Int("skipped", n).Msg("graph rebuild skipped corrupt records")
	}
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// SessionID returns the current session id.
func (s *Store) SessionID() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionID
}

// StartSession switches to a new session. An empty id mints a fresh one.
// The new session id is returned.
func (s *Store) StartSession(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	s.sessionMu.Lock()
	s.sessionID = id
	s.sessionMu.Unlock()
	return id
}

// Read returns the committed frame at the given position.
func (s *Store) Read(position uint64) (*model.Frame, error) {
	return s.log.Read(position)
}

// Len returns the number of committed frames.
func (s *Store) Len() uint64 {
	return s.log.Len()
}

// Iterate returns a forward iterator over committed frames starting at
// the given position, bounded by the tail at call time.
func (s *Store) Iterate(from uint64) *framelog.Iterator {
	return s.log.Iterate(from)
}

// AncestorsOf returns the causal ancestors of a frame, nearest first,
// bounded by the graph's default depth limit.
func (s *Store) AncestorsOf(id string) ([]string, error) {
	return s.graph.AncestorsOf(id, 0)
}

// ChildrenOf returns the frames caused by the given frame, in commit
// order.
func (s *Store) ChildrenOf(id string) []string {
	return s.graph.ChildrenOf(id)
}

// Position returns the log position of a committed frame id.
func (s *Store) Position(id string) (uint64, bool) {
	return s.graph.Position(id)
}

// Close flushes pending index updates and releases all handles. The
// closed flag is flipped under the append lock so any in-flight append
// finishes its index handoff before the queue shuts.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.index.Close()
	if lerr := s.log.Close(); lerr != nil && err == nil {
		err = lerr
	}
	s.logger.Debug().Msg("store closed")
	return err
}
