package store

import (
	"context"

	"github.com/tracevault/tracevault/internal/manifest"
)

// Verify replays the entire log against the integrity manifest. It is a
// pure read: tampering is reported, never repaired, because the log is
// evidence. The chain snapshot and log tail are captured together under
// the append lock, so frames committed by a concurrent writer are outside
// the verified range rather than false positives. Cancellation via ctx is
// honored between replay batches.
func (s *Store) Verify(ctx context.Context) (*manifest.VerifyReport, error) {
	s.mu.Lock()
	snap := s.manifest.Snapshot()
	tail := s.log.Len()
	s.mu.Unlock()
	return s.manifest.VerifyAt(ctx, s.log, snap, tail)
}

// ChainDigest returns the current integrity chain head as hex.
func (s *Store) ChainDigest() string {
	return s.manifest.Digest()
}
