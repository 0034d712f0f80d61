package store

import (
	"context"
	"errors"
	"time"

	"github.com/tracevault/tracevault/internal/codec"
	"github.com/tracevault/tracevault/internal/model"
)

// Watch returns a channel of committed frames starting at the given
// position, following the live tail until ctx is cancelled. Visibility
// is monotonic: positions are delivered in strictly increasing order and
// only after their flush. Corrupt records are skipped, counted, and
// logged, never silently dropped.
func (s *Store) Watch(ctx context.Context, from uint64) (<-chan *model.Frame, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ch := make(chan *model.Frame)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.cfg.WatchInterval)
		defer ticker.Stop()

		next := from
		var skipped int
		for {
			for next < s.log.Len() {
				f, err := s.log.Read(next)
				next++
				if err != nil {
					if errors.Is(err, codec.ErrCorruptFrame) {
						skipped++
						s.logger.Warn().Uint64("position", next-1).Int("skipped", skipped).Msg("watch skipped corrupt record")
						continue
					}
					return
				}
				select {
				case ch <- f:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}
