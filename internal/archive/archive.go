// Package archive implements compaction of committed frame segments into
// immutable, randomly-addressable archive blocks.
//
// Block layout:
//
//	magic "TVA1"
//	frame records, codec-encoded, in log order
//	id index: per frame, sorted by id: u16 id length, id bytes, u64 record offset
//	footer: u64 index offset, u64 frame count, u64 first position,
//	        u64 last position, 32-byte SHA-256 over everything before it
//
// Compaction is a pure function of the input segment, so running it twice
// over the same frames yields byte-identical output. Blocks are only ever
// added at the store level, never edited, and the source log is never
// mutated.
package archive

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/tracevault/tracevault/internal/codec"
	"github.com/tracevault/tracevault/internal/model"
)

var magic = [4]byte{'T', 'V', 'A', '1'}

const footerSize = 8*4 + sha256.Size

// ErrCorruptBlock reports a block whose structure or checksum is invalid.
var ErrCorruptBlock = errors.New("corrupt archive block")

// Compact encodes a segment of committed frames into one immutable block.
// firstPos is the log position of frames[0]; the segment must be in log
// order and non-empty.
func Compact(frames []*model.Frame, firstPos uint64) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("compact: empty segment")
	}

	buf := make([]byte, 0, 4+len(frames)*256)
	buf = append(buf, magic[:]...)

	offsets := make(map[string]uint64, len(frames))
	ids := make([]string, 0, len(frames))
	for _, f := range frames {
		if _, dup := offsets[f.ID]; dup {
			return nil, fmt.Errorf("compact: duplicate frame id %s", f.ID)
		}
		encoded, err := codec.Encode(f)
		if err != nil {
			return nil, fmt.Errorf("compact: %w", err)
		}
		offsets[f.ID] = uint64(len(buf))
		ids = append(ids, f.ID)
		buf = append(buf, encoded...)
	}
	sort.Strings(ids)

	indexOffset := uint64(len(buf))
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
		buf = append(buf, id...)
		buf = binary.BigEndian.AppendUint64(buf, offsets[id])
	}

	buf = binary.BigEndian.AppendUint64(buf, indexOffset)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(frames)))
	buf = binary.BigEndian.AppendUint64(buf, firstPos)
	buf = binary.BigEndian.AppendUint64(buf, firstPos+uint64(len(frames))-1)

	sum := sha256.Sum256(buf)
	buf = append(buf, sum[:]...)
	return buf, nil
}
