package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tracevault/tracevault/internal/codec"
	"github.com/tracevault/tracevault/internal/framelog"
)

// FailureKind classifies an integrity verification failure.
type FailureKind string

// Verification failure kinds.
const (
	TamperDetected     FailureKind = "tamper_detected"
	TruncationDetected FailureKind = "truncation_detected"
)

// VerifyFailure pinpoints where and how the chain diverged.
type VerifyFailure struct {
	Kind     FailureKind `json:"kind"`
	Position uint64      `json:"position"`
	Detail   string      `json:"detail"`
}

// VerifyReport is the result of a full-log integrity replay.
type VerifyReport struct {
	OK             bool           `json:"ok"`
	FramesVerified uint64         `json:"frames_verified"`
	ChainDigest    string         `json:"chain_digest"`
	ComputedDigest string         `json:"computed_digest"`
	Failure        *VerifyFailure `json:"failure,omitempty"`
}

// verifyBatch is how many frames are replayed between cancellation checks.
const verifyBatch = 256

// Verify replays the entire log from position 0, recomputing the chain,
// and compares against the persisted manifest. Convenience form of
// VerifyAt for a quiesced log; when a writer may be active, capture the
// snapshot and the log tail together under the append lock and call
// VerifyAt, otherwise frames committed between the two reads would
// surface as false positives.
func (m *Manifest) Verify(ctx context.Context, log *framelog.Log) (*VerifyReport, error) {
	return m.VerifyAt(ctx, log, m.Snapshot(), log.Len())
}

// VerifyAt replays the first tail positions of the log against the given
// chain snapshot. The first divergence wins: a record that fails its own
// checksum, a per-position digest mismatch (for frames extended in this
// process), a count mismatch, or a chain head mismatch.
func (m *Manifest) VerifyAt(ctx context.Context, log *framelog.Log, snap Snapshot, tail uint64) (*VerifyReport, error) {
	wantDigest := snap.digest
	wantCount := snap.count
	history := snap.history

	report := &VerifyReport{ChainDigest: hex.EncodeToString(wantDigest[:])}

	d := Seed()
	total := tail
	for pos := uint64(0); pos < total; pos++ {
		if pos%verifyBatch == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw, err := log.ReadRaw(pos)
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		if _, err := codec.Decode(raw); err != nil {
			report.Failure = &VerifyFailure{
				Kind:     TamperDetected,
				Position: pos,
				Detail:   fmt.Sprintf("record undecodable: %v", err),
			}
			report.ComputedDigest = hex.EncodeToString(d[:])
			return report, nil
		}

		d = chain(d, raw)
		if pos < uint64(len(history)) && d != history[pos] {
			report.Failure = &VerifyFailure{
				Kind:     TamperDetected,
				Position: pos,
				Detail:   "chain digest diverges from recorded history",
			}
			report.ComputedDigest = hex.EncodeToString(d[:])
			return report, nil
		}
		report.FramesVerified++
	}
	report.ComputedDigest = hex.EncodeToString(d[:])

	switch {
	case total < wantCount:
		report.Failure = &VerifyFailure{
			Kind:     TruncationDetected,
			Position: total,
			Detail:   fmt.Sprintf("manifest covers %d frames, log holds %d", wantCount, total),
		}
	case total > wantCount:
		report.Failure = &VerifyFailure{
			Kind:     TamperDetected,
			Position: wantCount,
			Detail:   fmt.Sprintf("log holds %d frames beyond the manifest", total-wantCount),
		}
	case d != wantDigest:
		pos := uint64(0)
		if total > 0 {
			pos = total - 1
		}
		report.Failure = &VerifyFailure{
			Kind:     TamperDetected,
			Position: pos,
			Detail:   "chain head mismatch",
		}
	default:
		report.OK = true
	}
	return report, nil
}

// Replay recomputes the chain from the log. For a fresh manifest over a
// non-empty log it adopts and persists the recomputed chain; for an
// existing manifest it adopts the per-position history only when the
// recomputed head matches the persisted one, and reports the match so the
// caller can warn on divergence without destroying evidence.
func (m *Manifest) Replay(ctx context.Context, log *framelog.Log) (bool, error) {
	d := Seed()
	history := make([][sha256.Size]byte, 0, log.Len())
	total := log.Len()
	for pos := uint64(0); pos < total; pos++ {
		if pos%verifyBatch == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
		raw, err := log.ReadRaw(pos)
		if err != nil {
			return false, fmt.Errorf("replay: %w", err)
		}
		d = chain(d, raw)
		history = append(history, d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 && total > 0 {
		last := uint64(0)
		if total > 0 {
			last = total - 1
		}
		if err := m.persist(state{
			ChainDigest:  hex.EncodeToString(d[:]),
			FrameCount:   total,
			LastPosition: last,
		}); err != nil {
			return false, err
		}
		m.digest = d
		m.count = total
		m.lastPos = last
		m.history = history
		return true, nil
	}

	if m.count == total && m.digest == d {
		m.history = history
		return true, nil
	}
	return false, nil
}
