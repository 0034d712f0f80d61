package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracevault/tracevault/internal/framelog"
	"github.com/tracevault/tracevault/internal/model"
)

func testFrame(i int) *model.Frame {
	return &model.Frame{
		ID:        fmt.Sprintf("frame-%04d", i),
		SessionID: "session-1",
		Timestamp: time.Date(2026, 1, 8, 12, 0, i, 0, time.UTC),
		Kind:      model.KindThought,
		Actor:     model.Actor{Type: model.ActorAgent, ID: "agent"},
		Content:   model.Content{Reasoning: fmt.Sprintf("step %d", i)},
	}
}

// buildChain appends n frames to a fresh log and extends the manifest
// for each, mirroring the store's commit sequence.
func buildChain(t *testing.T, dir string, n int) (*framelog.Log, *Manifest) {
	t.Helper()

	log, err := framelog.Open(filepath.Join(dir, "frames.log"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	m, err := Open(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		pos, encoded, err := log.Append(testFrame(i))
		require.NoError(t, err)
		require.NoError(t, m.Extend(encoded, pos))
	}
	return log, m
}

func TestVerify_CleanLog(t *testing.T) {
	log, m := buildChain(t, t.TempDir(), 10)

	report, err := m.Verify(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, uint64(10), report.FramesVerified)
	assert.Nil(t, report.Failure)
	assert.Equal(t, report.ChainDigest, report.ComputedDigest)
}

func TestVerify_TamperLocalized(t *testing.T) {
	dir := t.TempDir()
	log, m := buildChain(t, dir, 5)

	// Flip one byte inside frame 2's payload.
	var off int64
	for pos := uint64(0); pos < 2; pos++ {
		raw, err := log.ReadRaw(pos)
		require.NoError(t, err)
		off += int64(len(raw))
	}
	f, err := os.OpenFile(filepath.Join(dir, "frames.log"), os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{'#'}, off+8+2)
	require.NoError(t, err)
	f.Close()

	report, err := m.Verify(context.Background(), log)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.NotNil(t, report.Failure)
	assert.Equal(t, TamperDetected, report.Failure.Kind)
	assert.Equal(t, uint64(2), report.Failure.Position)
}

func TestVerify_Truncation(t *testing.T) {
	dir := t.TempDir()
	log, m := buildChain(t, dir, 4)

	// Drop the last record from the file, then reopen the log so its
	// position table reflects the shortened file.
	raw, err := log.ReadRaw(3)
	require.NoError(t, err)
	size := log.Size()
	log.Close()

	require.NoError(t, os.Truncate(filepath.Join(dir, "frames.log"), size-int64(len(raw))))

	log2, err := framelog.Open(filepath.Join(dir, "frames.log"), zerolog.Nop())
	require.NoError(t, err)
	defer log2.Close()

	report, err := m.Verify(context.Background(), log2)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.NotNil(t, report.Failure)
	assert.Equal(t, TruncationDetected, report.Failure.Kind)
	assert.Equal(t, uint64(3), report.Failure.Position)
}

func TestVerify_InsertionBeyondManifest(t *testing.T) {
	dir := t.TempDir()
	log, m := buildChain(t, dir, 3)

	// A frame appended to the log but never folded into the chain.
	_, _, err := log.Append(testFrame(99))
	require.NoError(t, err)

	report, err := m.Verify(context.Background(), log)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.NotNil(t, report.Failure)
	assert.Equal(t, TamperDetected, report.Failure.Kind)
	assert.Equal(t, uint64(3), report.Failure.Position)
}

func TestManifest_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	log, m := buildChain(t, dir, 6)

	digest := m.Digest()
	count := m.Count()

	m2, err := Open(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, digest, m2.Digest())
	assert.Equal(t, count, m2.Count())
	assert.Equal(t, uint64(5), m2.LastPosition())

	matched, err := m2.Replay(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, matched)

	report, err := m2.Verify(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestReplay_AdoptsFreshManifest(t *testing.T) {
	dir := t.TempDir()
	log, m := buildChain(t, dir, 4)
	wantDigest := m.Digest()

	// A brand-new manifest over an existing log adopts the replayed chain.
	fresh, err := Open(filepath.Join(dir, "manifest2.json"))
	require.NoError(t, err)
	matched, err := fresh.Replay(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, wantDigest, fresh.Digest())
	assert.Equal(t, uint64(4), fresh.Count())
}

func TestVerify_Cancellation(t *testing.T) {
	log, m := buildChain(t, t.TempDir(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Verify(ctx, log)
	require.ErrorIs(t, err, context.Canceled)
}
