// Package manifest maintains the tamper-evident hash chain over the
// frame log.
//
// The chain is H_n = SHA256(H_{n-1} || record_n) with a domain-separated
// seed. The persisted manifest is a small JSON record holding the chain
// head, the frame count, and the last position; it is rewritten
// atomically (write-to-temp + rename) on every extension. Verification
// detects alteration, reordering, insertion, and deletion — it never
// repairs, because the log is evidence.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// chainDomain separates this hash chain from any other sha256 use. The
// null byte prevents domain/data boundary ambiguity.
const chainDomain = "tracevault/chain/v1"

// Seed returns H_0, the fixed chain seed.
func Seed() [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(chainDomain))
	h.Write([]byte{0x00})
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func chain(prev [sha256.Size]byte, record []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(record)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// state is the persisted manifest record.
type state struct {
	ChainDigest  string `json:"chain_digest"`
	FrameCount   uint64 `json:"frame_count"`
	LastPosition uint64 `json:"last_position"`
}

// Manifest tracks the chain head and, for frames extended during this
// process lifetime, the per-position digests used to localize divergence.
type Manifest struct {
	path string

	mu      sync.RWMutex
	digest  [sha256.Size]byte
	count   uint64
	lastPos uint64
	history [][sha256.Size]byte // digest after each position, in-memory only
}

// Snapshot is a point-in-time view of the chain state. Callers racing a
// live writer must capture it together with the log tail under the
// writer's append lock, so verification compares against one consistent
// commit point.
type Snapshot struct {
	digest  [sha256.Size]byte
	count   uint64
	history [][sha256.Size]byte
}

// Snapshot captures the current chain state.
func (m *Manifest) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{digest: m.digest, count: m.count, history: m.history}
}

// Open loads the manifest at path, or starts a fresh chain when none
// exists.
func Open(path string) (*Manifest, error) {
	m := &Manifest{path: path, digest: Seed()}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	raw, err := hex.DecodeString(st.ChainDigest)
	if err != nil || len(raw) != sha256.Size {
		return nil, fmt.Errorf("parse manifest: bad chain digest %q", st.ChainDigest)
	}
	copy(m.digest[:], raw)
	m.count = st.FrameCount
	m.lastPos = st.LastPosition
	return m, nil
}

// Extend folds one committed record into the chain and persists the new
// head. A persistence failure is surfaced immediately; it is never
// retried silently.
func (m *Manifest) Extend(record []byte, position uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := chain(m.digest, record)
	if err := m.persist(state{
		ChainDigest:  hex.EncodeToString(next[:]),
		FrameCount:   m.count + 1,
		LastPosition: position,
	}); err != nil {
		return err
	}
	m.digest = next
	m.count++
	m.lastPos = position
	m.history = append(m.history, next)
	return nil
}

// persist atomically rewrites the manifest file.
func (m *Manifest) persist(st state) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("persist manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	return nil
}

// Digest returns the current chain head as hex.
func (m *Manifest) Digest() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return hex.EncodeToString(m.digest[:])
}

// Count returns the number of frames covered by the chain.
func (m *Manifest) Count() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// LastPosition returns the last position folded into the chain.
func (m *Manifest) LastPosition() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPos
}
