// Package graph maintains the in-memory causal index over committed frames.
//
// Each frame has at most one parent (its caused_by reference), so the
// relation forms a forest and cycle prevention reduces to rejecting
// forward references: a parent must sit at a strictly earlier log position.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// Graph errors.
var (
	ErrDanglingCause    = errors.New("caused_by references an unknown frame")
	ErrForwardReference = errors.New("caused_by references a frame at a later or equal position")
	ErrDuplicateID      = errors.New("frame id already recorded")
	ErrUnknownFrame     = errors.New("unknown frame id")
)

// DefaultMaxDepth bounds ancestry walks so pathological chains cannot
// turn a query into an unbounded scan.
const DefaultMaxDepth = 1024

// Graph is the in-memory parent/child index. Safe for concurrent use.
type Graph struct {
	mu        sync.RWMutex
	positions map[string]uint64
	parents   map[string]string
	children  map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		positions: make(map[string]uint64),
		parents:   make(map[string]string),
		children:  make(map[string][]string),
	}
}

// Record registers a committed frame at the given log position and, when
// causedBy is set, validates and stores the parent link. The frame itself
// is always registered so later frames may reference it, even when its own
// parent link is rejected.
func (g *Graph) Record(id, causedBy string, position uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.positions[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	g.positions[id] = position

	if causedBy == "" {
		return nil
	}

	parentPos, ok := g.positions[causedBy]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrDanglingCause, id, causedBy)
	}
	if parentPos >= position {
		return fmt.Errorf("%w: %s at %d -> %s at %d", ErrForwardReference, id, position, causedBy, parentPos)
	}

	g.parents[id] = causedBy
	g.children[causedBy] = append(g.children[causedBy], id)
	return nil
}

// Position returns the log position of a recorded frame.
func (g *Graph) Position(id string) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pos, ok := g.positions[id]
	return pos, ok
}

// ParentOf returns the parent id of a frame, or "" when it has none.
func (g *Graph) ParentOf(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.parents[id]
}

// ChildrenOf returns the ids of frames caused by the given frame, in the
// order they were committed.
func (g *Graph) ChildrenOf(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	kids := g.children[id]
	out := make([]string, len(kids))
	copy(out, kids)
	return out
}

// AncestorsOf walks parent links from the given frame toward the roots,
// nearest first. maxDepth <= 0 applies DefaultMaxDepth.
func (g *Graph) AncestorsOf(id string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.positions[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFrame, id)
	}

	var out []string
	cur := id
	for i := 0; i < maxDepth; i++ {
		parent, ok := g.parents[cur]
		if !ok {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out, nil
}

// Len returns the number of recorded frames.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.positions)
}
