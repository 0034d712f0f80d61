package store

import (
	"context"
)

// Stats holds store statistics.
type Stats struct {
	Dir           string `json:"dir"`
	SessionID     string `json:"session_id"`
	Frames        uint64 `json:"frames"`
	LogSizeBytes  int64  `json:"log_size_bytes"`
	ChainDigest   string `json:"chain_digest"`
	IndexedFrames uint64 `json:"indexed_frames"`
	IndexDropped  int64  `json:"index_dropped"`
	ArchiveBlocks int    `json:"archive_blocks"`
}

// Stats returns a snapshot of the store's state. The indexed count may
// trail the committed count while the background indexer catches up.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Dir:          s.cfg.Dir,
		SessionID:    s.SessionID(),
		Frames:       s.log.Len(),
		LogSizeBytes: s.log.Size(),
		ChainDigest:  s.manifest.Digest(),
		IndexDropped: s.index.Dropped(),
	}

	if n, err := s.index.Count(ctx); err == nil {
		st.IndexedFrames = n
	}
	if blocks, err := s.ArchiveBlocks(); err == nil {
		st.ArchiveBlocks = len(blocks)
	}
	return st, nil
}
