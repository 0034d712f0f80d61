package store

import (
	"context"
	"fmt"

	"github.com/tracevault/tracevault/internal/archive"
	"github.com/tracevault/tracevault/internal/model"
)

// Compact folds every full, not-yet-archived segment of committed frames
// into immutable archive blocks. It holds no append lock beyond the
// initial tail snapshot, so it never starves the writer, and it never
// mutates the source log. Compaction is idempotent: re-running over the
// same segments yields byte-identical blocks.
func (s *Store) Compact(ctx context.Context) ([]archive.BlockInfo, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	blocks, err := archive.ListBlocks(s.cfg.ArchiveDir())
	if err != nil {
		return nil, err
	}
	var next uint64
	if len(blocks) > 0 {
		next = blocks[len(blocks)-1].LastPos + 1
	}

	tail := s.log.Len() // snapshot; frames appended after this are left for the next run
	segment := uint64(s.cfg.SegmentSize)
	if segment == 0 {
		segment = 512
	}

	var made []archive.BlockInfo
	for next+segment <= tail {
		if err := ctx.Err(); err != nil {
			return made, err
		}

		frames := make([]*model.Frame, 0, segment)
		for pos := next; pos < next+segment; pos++ {
			f, err := s.log.Read(pos)
			if err != nil {
				// A segment with an unreadable record is not archived:
				// an archive block must hold the full contiguous range.
				return made, fmt.Errorf("compact segment at %d: %w", pos, err)
			}
			frames = append(frames, f)
		}

		path, err := archive.WriteBlock(s.cfg.ArchiveDir(), frames, next)
		if err != nil {
			return made, err
		}
		info := archive.BlockInfo{Path: path, FirstPos: next, LastPos: next + segment - 1}
		made = append(made, info)
		s.logger.Info().Str("block", path).Uint64("first", info.FirstPos).Uint64("last", info.LastPos).Msg("segment compacted")
		next += segment
	}
	return made, nil
}

// ArchiveBlocks lists the store's archive blocks in position order.
func (s *Store) ArchiveBlocks() ([]archive.BlockInfo, error) {
	return archive.ListBlocks(s.cfg.ArchiveDir())
}
