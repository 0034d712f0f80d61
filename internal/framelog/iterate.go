package framelog

import (
	"errors"
	"io"

	"github.com/tracevault/tracevault/internal/codec"
	"github.com/tracevault/tracevault/internal/model"
)

// Iterator is a forward, restartable walk over committed frames. The tail
// is snapshotted at creation, so frames appended afterwards are not
// observed; readers see positions in strictly increasing order.
type Iterator struct {
	l       *Log
	next    uint64
	limit   uint64
	skipped int
}

// Iterate returns an iterator starting at the given position, bounded by
// the log tail at call time.
func (l *Log) Iterate(from uint64) *Iterator {
	return &Iterator{l: l, next: from, limit: l.Len()}
}

// Next returns the next readable frame and its position. Corrupt records
// are skipped and counted, never silently dropped. io.EOF signals the end
// of the snapshot.
func (it *Iterator) Next() (*model.Frame, uint64, error) {
	for it.next < it.limit {
		pos := it.next
		it.next++
		f, err := it.l.Read(pos)
		if err != nil {
			if errors.Is(err, codec.ErrCorruptFrame) {
				it.skipped++
				continue
			}
			return nil, 0, err
		}
		return f, pos, nil
	}
	return nil, 0, io.EOF
}

// Skipped returns the number of corrupt records passed over so far.
func (it *Iterator) Skipped() int { return it.skipped }
