package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// BlockInfo describes one block file found in an archive directory.
type BlockInfo struct {
	Path     string `json:"path"`
	FirstPos uint64 `json:"first_pos"`
	LastPos  uint64 `json:"last_pos"`
}

// ListBlocks returns the blocks in dir ordered by first position. Files
// that do not match the block naming scheme are ignored.
func ListBlocks(dir string) ([]BlockInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	var blocks []BlockInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var first, last uint64
		if _, err := fmt.Sscanf(e.Name(), "block-%d-%d.tva", &first, &last); err != nil {
			continue
		}
		blocks = append(blocks, BlockInfo{
			Path:     filepath.Join(dir, e.Name()),
			FirstPos: first,
			LastPos:  last,
		})
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].FirstPos < blocks[j].FirstPos })
	return blocks, nil
}
