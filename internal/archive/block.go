package archive

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tracevault/tracevault/internal/codec"
	"github.com/tracevault/tracevault/internal/model"
)

// Block is an open archive block. Reads resolve through the embedded
// id index, never by scanning.
type Block struct {
	path     string
	data     []byte
	index    map[string]uint64
	FirstPos uint64
	LastPos  uint64
	Count    uint64
}

// WriteBlock compacts the segment and writes the block file into dir,
// named by its position range. An existing block for the same range is
// left untouched: blocks are immutable.
func WriteBlock(dir string, frames []*model.Frame, firstPos uint64) (string, error) {
	buf, err := Compact(frames, firstPos)
	if err != nil {
		return "", err
	}
	lastPos := firstPos + uint64(len(frames)) - 1
	path := filepath.Join(dir, BlockName(firstPos, lastPos))

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, ".block-*")
	if err != nil {
		return "", fmt.Errorf("write block: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write block: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write block: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write block: %w", err)
	}
	return path, nil
}

// BlockName returns the canonical file name for a position range.
func BlockName(firstPos, lastPos uint64) string {
	return fmt.Sprintf("block-%012d-%012d.tva", firstPos, lastPos)
}

// OpenBlock reads and validates a block file.
func OpenBlock(path string) (*Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open block: %w", err)
	}
	b := &Block{path: path, data: data}
	if err := b.parse(); err != nil {
		return nil, fmt.Errorf("open block %s: %w", path, err)
	}
	return b, nil
}

func (b *Block) parse() error {
	if len(b.data) < 4+footerSize || [4]byte(b.data[:4]) != magic {
		return fmt.Errorf("%w: bad magic or short file", ErrCorruptBlock)
	}

	body := b.data[:len(b.data)-sha256.Size]
	var want [sha256.Size]byte
	copy(want[:], b.data[len(b.data)-sha256.Size:])
	if sha256.Sum256(body) != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptBlock)
	}

	footer := b.data[len(b.data)-footerSize:]
	indexOffset := binary.BigEndian.Uint64(footer[0:8])
	b.Count = binary.BigEndian.Uint64(footer[8:16])
	b.FirstPos = binary.BigEndian.Uint64(footer[16:24])
	b.LastPos = binary.BigEndian.Uint64(footer[24:32])

	if indexOffset < 4 || indexOffset > uint64(len(b.data)-footerSize) {
		return fmt.Errorf("%w: index offset out of range", ErrCorruptBlock)
	}

	b.index = make(map[string]uint64, b.Count)
	cur := indexOffset
	end := uint64(len(b.data) - footerSize)
	for cur < end {
		if cur+2 > end {
			return fmt.Errorf("%w: truncated index entry", ErrCorruptBlock)
		}
		idLen := uint64(binary.BigEndian.Uint16(b.data[cur : cur+2]))
		cur += 2
		if cur+idLen+8 > end {
			return fmt.Errorf("%w: truncated index entry", ErrCorruptBlock)
		}
		id := string(b.data[cur : cur+idLen])
		cur += idLen
		b.index[id] = binary.BigEndian.Uint64(b.data[cur : cur+8])
		cur += 8
	}
	if uint64(len(b.index)) != b.Count {
		return fmt.Errorf("%w: index holds %d entries, footer says %d", ErrCorruptBlock, len(b.index), b.Count)
	}
	return nil
}

// Get fetches one archived frame by id via the embedded index.
func (b *Block) Get(id string) (*model.Frame, error) {
	off, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("frame %s not in block %s", id, b.path)
	}
	if off+codec.HeaderSize > uint64(len(b.data)) {
		return nil, fmt.Errorf("%w: record offset out of range", ErrCorruptBlock)
	}
	n := uint64(binary.BigEndian.Uint32(b.data[off : off+4]))
	end := off + codec.HeaderSize + n
	if n > codec.MaxFrameBytes || end > uint64(len(b.data)) {
		return nil, fmt.Errorf("%w: record length out of range", ErrCorruptBlock)
	}
	return codec.Decode(b.data[off:end])
}

// Has reports whether the block contains the frame id.
func (b *Block) Has(id string) bool {
	_, ok := b.index[id]
	return ok
}

// IDs returns all member frame ids in sorted order.
func (b *Block) IDs() []string {
	ids := make([]string, 0, len(b.index))
	for id := range b.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Path returns the block file path.
func (b *Block) Path() string { return b.path }
