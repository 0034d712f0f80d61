package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/tracevault/tracevault/internal/archive"
	"github.com/tracevault/tracevault/internal/config"
	"github.com/tracevault/tracevault/internal/manifest"
	"github.com/tracevault/tracevault/internal/model"
)

func newTestStore(t *testing.T, mutate func(*config.Config)) *Store {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.WatchInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_Defaults(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id, pos, err := s.Record(ctx, RecordParams{
		Kind:    model.KindDone,
		Content: model.Content{Output: "finished"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0 {
		t.Fatalf("expected position 0, got %d", pos)
	}
	if len(id) != 26 {
		t.Fatalf("expected a ULID id, got %q", id)
	}

	f, err := s.Read(pos)
	if err != nil {
		t.Fatal(err)
	}
	if f.Success == nil || !*f.Success {
		t.Fatal("done frame should default to success=true")
	}
	if f.Actor.Type != model.ActorAgent || f.Actor.ID != "agent" {
		t.Fatalf("unexpected default actor: %+v", f.Actor)
	}
	if f.SessionID != s.SessionID() {
		t.Fatal("frame should carry the current session id")
	}

	_, pos, err = s.Record(ctx, RecordParams{
		Kind:    model.KindError,
		Content: model.Content{Text: "timeout talking to upstream"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f, err = s.Read(pos)
	if err != nil {
		t.Fatal(err)
	}
	if f.Success == nil || *f.Success {
		t.Fatal("error frame should default to success=false")
	}

	_, pos, err = s.Record(ctx, RecordParams{
		Kind:    model.KindThought,
		Content: model.Content{Reasoning: "weigh the options"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f, err = s.Read(pos)
	if err != nil {
		t.Fatal(err)
	}
	if f.Success != nil {
		t.Fatal("thought frame should leave success unset")
	}
}

func TestRecord_ValidationPersistsNothing(t *testing.T) {
	s := newTestStore(t, nil)
	digest := s.ChainDigest()

	_, _, err := s.Record(context.Background(), RecordParams{
		Kind:    model.Kind("telepathy"),
		Content: model.Content{Text: "not a real kind"},
	})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if s.Len() != 0 {
		t.Fatalf("rejected frame was persisted: %d frames", s.Len())
	}
	if s.ChainDigest() != digest {
		t.Fatal("rejected frame extended the integrity chain")
	}
}

func TestTrace_AncestryAndTamper(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	aID, _, err := s.Record(ctx, RecordParams{
		Kind:    model.KindInput,
		Content: model.Content{Text: "what is the weather in Oslo"},
		Actor:   &model.Actor{Type: model.ActorUser, ID: "user-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	bID, bPos, err := s.Record(ctx, RecordParams{
		Kind:     model.KindThought,
		Content:  model.Content{Reasoning: "need a weather lookup"},
		CausedBy: aID,
	})
	if err != nil {
		t.Fatal(err)
	}
	cID, _, err := s.Record(ctx, RecordParams{
		Kind:     model.KindToolCall,
		Content:  model.Content{Input: "oslo"},
		Metadata: map[string]string{"tool_name": "weather"},
		CausedBy: bID,
	})
	if err != nil {
		t.Fatal(err)
	}

	ancestors, err := s.AncestorsOf(cID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ancestors) != 2 || ancestors[0] != bID || ancestors[1] != aID {
		t.Fatalf("expected ancestors [%s %s], got %v", bID, aID, ancestors)
	}
	if children := s.ChildrenOf(aID); len(children) != 1 || children[0] != bID {
		t.Fatalf("expected children [%s], got %v", bID, children)
	}

	report, err := s.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.FramesVerified != 3 {
		t.Fatalf("expected clean verify over 3 frames, got %+v", report)
	}

	// Tamper with frame B's bytes on disk.
	raw0, err := s.log.ReadRaw(0)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(s.cfg.LogPath(), os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{'#'}, int64(len(raw0))+8+2); err != nil {
		t.Fatal(err)
	}
	f.Close()

	report, err = s.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("verify missed the tampered frame")
	}
	if report.Failure.Kind != manifest.TamperDetected {
		t.Fatalf("expected tamper_detected, got %s", report.Failure.Kind)
	}
	if report.Failure.Position != bPos {
		t.Fatalf("expected failure at position %d, got %d", bPos, report.Failure.Position)
	}

	// The in-memory graph is unaffected; reads of intact frames still work.
	if _, err := s.AncestorsOf(cID); err != nil {
		t.Fatal(err)
	}
}

func TestVerify_DuringAppends(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, _, err := s.Record(ctx, RecordParams{
				Kind:    model.KindThought,
				Content: model.Content{Reasoning: fmt.Sprintf("live step %d", i)},
			}); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	// Every verify taken while the writer is running must see a
	// consistent commit point, never a clean log reported as tampered.
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		report, err := s.Verify(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !report.OK {
			t.Fatalf("verify failed on a clean log under concurrent appends: %+v", report.Failure)
		}
	}

	report, err := s.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.FramesVerified != 100 {
		t.Fatalf("expected clean verify over 100 frames, got %+v", report)
	}
}

func TestClose_DuringAppends(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			_, _, err := s.Record(ctx, RecordParams{
				Kind:    model.KindThought,
				Content: model.Content{Reasoning: fmt.Sprintf("step %d", i)},
			})
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					t.Errorf("expected ErrClosed, got %v", err)
				}
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	<-done
}

func TestRecord_CausalityViolationStillDurable(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id, pos, err := s.Record(ctx, RecordParams{
		Kind:     model.KindThought,
		Content:  model.Content{Reasoning: "orphaned"},
		CausedBy: "no-such-frame",
	})
	var cv *CausalityViolation
	if !errors.As(err, &cv) {
		t.Fatalf("expected CausalityViolation, got %v", err)
	}
	if cv.FrameID != id || cv.Position != pos {
		t.Fatalf("violation does not match returned frame: %+v", cv)
	}

	f, err := s.Read(pos)
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != id {
		t.Fatal("frame with rejected relation must still be durable")
	}

	// The chain covers the frame regardless of the relation.
	report, err := s.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK || report.FramesVerified != 1 {
		t.Fatalf("expected clean verify over 1 frame, got %+v", report)
	}

	// The frame is addressable, so later frames can reference it.
	if _, _, err := s.Record(ctx, RecordParams{
		Kind:     model.KindThought,
		Content:  model.Content{Reasoning: "follow-up"},
		CausedBy: id,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestSearch_AfterFlush(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	texts := []string{
		"deploy the billing service",
		"billing invoices are duplicated",
		"unrelated chatter about lunch",
	}
	for _, text := range texts {
		if _, _, err := s.Record(ctx, RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Text: text},
		}); err != nil {
			t.Fatal(err)
		}
	}
	s.FlushIndex()

	hits, err := s.Search(ctx, "billing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}

	res, err := s.Context(ctx, "billing", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Frames) != 2 {
		t.Fatalf("expected 2 context frames, got %d", len(res.Frames))
	}
	if res.Budget != s.cfg.ContextBudget {
		t.Fatalf("expected configured budget %d, got %d", s.cfg.ContextBudget, res.Budget)
	}
}

func TestCompact(t *testing.T) {
	s := newTestStore(t, func(cfg *config.Config) { cfg.SegmentSize = 5 })
	ctx := context.Background()

	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		id, _, err := s.Record(ctx, RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Reasoning: fmt.Sprintf("step %d", i)},
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	made, err := s.Compact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(made) != 2 {
		t.Fatalf("expected 2 blocks from 12 frames at segment size 5, got %d", len(made))
	}
	if made[0].FirstPos != 0 || made[0].LastPos != 4 || made[1].FirstPos != 5 || made[1].LastPos != 9 {
		t.Fatalf("unexpected block ranges: %+v", made)
	}

	// Every archived frame resolves by id through its block.
	for i, info := range made {
		b, err := archive.OpenBlock(info.Path)
		if err != nil {
			t.Fatal(err)
		}
		for j := i * 5; j < (i+1)*5; j++ {
			f, err := b.Get(ids[j])
			if err != nil {
				t.Fatal(err)
			}
			if f.Content.Reasoning != fmt.Sprintf("step %d", j) {
				t.Fatalf("archived frame %d has wrong content: %q", j, f.Content.Reasoning)
			}
		}
	}

	// Idempotent: a second run archives nothing new and rewrites nothing.
	before, err := os.ReadFile(made[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.Compact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second compact archived %d blocks", len(again))
	}
	after, err := os.ReadFile(made[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("compact rewrote an existing block")
	}

	// Filling out the partial tail segment makes it eligible.
	for i := 12; i < 15; i++ {
		if _, _, err := s.Record(ctx, RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Reasoning: fmt.Sprintf("step %d", i)},
		}); err != nil {
			t.Fatal(err)
		}
	}
	made, err = s.Compact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(made) != 1 || made[0].FirstPos != 10 || made[0].LastPos != 14 {
		t.Fatalf("expected one block covering 10-14, got %+v", made)
	}

	blocks, err := s.ArchiveBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks total, got %d", len(blocks))
	}
}

func TestCompact_RandomAccess(t *testing.T) {
	s := newTestStore(t, func(cfg *config.Config) { cfg.SegmentSize = 50 })
	ctx := context.Background()

	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id, _, err := s.Record(ctx, RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Reasoning: fmt.Sprintf("step %d", i)},
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	made, err := s.Compact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(made) != 2 {
		t.Fatalf("expected 2 blocks from 100 frames at segment size 50, got %d", len(made))
	}

	blocks := make([]*archive.Block, 0, 2)
	for _, info := range made {
		b, err := archive.OpenBlock(info.Path)
		if err != nil {
			t.Fatal(err)
		}
		blocks = append(blocks, b)
	}

	// Random access by id across both blocks, out of log order.
	for _, i := range []int{99, 0, 73, 50, 49, 12} {
		var b *archive.Block
		for _, cand := range blocks {
			if cand.Has(ids[i]) {
				b = cand
				break
			}
		}
		if b == nil {
			t.Fatalf("frame %d missing from every block", i)
		}
		f, err := b.Get(ids[i])
		if err != nil {
			t.Fatal(err)
		}
		if f.Content.Reasoning != fmt.Sprintf("step %d", i) {
			t.Fatalf("frame %d resolved to wrong content %q", i, f.Content.Reasoning)
		}
	}

	// The source log is untouched by archival.
	if s.Len() != 100 {
		t.Fatalf("log mutated by compaction: %d frames", s.Len())
	}
	report, err := s.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Fatalf("verify failed after compaction: %+v", report)
	}
}

func TestReopen_Persistence(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	ctx := context.Background()

	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	aID, _, err := s.Record(ctx, RecordParams{
		Kind:    model.KindInput,
		Content: model.Content{Text: "kick off the migration"},
		Actor:   &model.Actor{Type: model.ActorUser, ID: "user-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	bID, _, err := s.Record(ctx, RecordParams{
		Kind:     model.KindThought,
		Content:  model.Content{Reasoning: "plan the migration steps"},
		CausedBy: aID,
	})
	if err != nil {
		t.Fatal(err)
	}
	digest := s.ChainDigest()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if s2.Len() != 2 {
		t.Fatalf("expected 2 frames after reopen, got %d", s2.Len())
	}
	if s2.ChainDigest() != digest {
		t.Fatal("chain digest changed across reopen")
	}

	report, err := s2.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Fatalf("verify failed after reopen: %+v", report)
	}

	ancestors, err := s2.AncestorsOf(bID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ancestors) != 1 || ancestors[0] != aID {
		t.Fatalf("graph not rebuilt: ancestors %v", ancestors)
	}

	hits, err := s2.Search(ctx, "migration", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits after reopen, got %d", len(hits))
	}
}

func TestWatch(t *testing.T) {
	s := newTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	want := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, _, err := s.Record(context.Background(), RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Reasoning: fmt.Sprintf("live step %d", i)},
		})
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, id)
	}

	for i, wantID := range want {
		select {
		case f := <-ch:
			if f.ID != wantID {
				t.Fatalf("frame %d: expected %s, got %s", i, wantID, f.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatch_SkipsCorrupt(t *testing.T) {
	s := newTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, _, err := s.Record(context.Background(), RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Reasoning: fmt.Sprintf("step %d", i)},
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	// Corrupt frame 1's bytes in place.
	raw0, err := s.log.ReadRaw(0)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(s.cfg.LogPath(), os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{'#'}, int64(len(raw0))+8+2); err != nil {
		t.Fatal(err)
	}
	f.Close()

	ch, err := s.Watch(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{ids[0], ids[2]} {
		select {
		case got := <-ch:
			if got.ID != want {
				t.Fatalf("frame %d: expected %s, got %s", i, want, got.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestWrap(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	echo := s.Wrap("echo", func(ctx context.Context, input string) (string, error) {
		return "echo: " + input, nil
	})
	out, err := echo(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if out != "echo: hello" {
		t.Fatalf("unexpected output %q", out)
	}

	if s.Len() != 2 {
		t.Fatalf("expected 2 frames (entry + exit), got %d", s.Len())
	}
	entry, err := s.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != model.KindToolCall || entry.Metadata["tool_name"] != "echo" || entry.Content.Input != "hello" {
		t.Fatalf("unexpected entry frame: %+v", entry)
	}
	exit, err := s.Read(1)
	if err != nil {
		t.Fatal(err)
	}
	if exit.Kind != model.KindDone || exit.CausedBy != entry.ID || exit.Content.Output != "echo: hello" {
		t.Fatalf("unexpected exit frame: %+v", exit)
	}
	if exit.Success == nil || !*exit.Success {
		t.Fatal("done frame should carry success=true")
	}
	if children := s.ChildrenOf(entry.ID); len(children) != 1 || children[0] != exit.ID {
		t.Fatalf("exit frame not linked to entry: %v", children)
	}

	boom := s.Wrap("boom", func(ctx context.Context, input string) (string, error) {
		return "", errors.New("kaboom")
	})
	if _, err := boom(ctx, "x"); err == nil {
		t.Fatal("expected the wrapped error to pass through")
	}

	failure, err := s.Read(3)
	if err != nil {
		t.Fatal(err)
	}
	if failure.Kind != model.KindError || failure.Content.Text != "kaboom" {
		t.Fatalf("unexpected failure frame: %+v", failure)
	}
	if failure.Success == nil || *failure.Success {
		t.Fatal("error frame should carry success=false")
	}
}

func TestStartSession(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	first := s.SessionID()
	next := s.StartSession("")
	if next == first {
		t.Fatal("expected a fresh session id")
	}
	if s.SessionID() != next {
		t.Fatal("session id not switched")
	}

	_, pos, err := s.Record(ctx, RecordParams{
		Kind:    model.KindThought,
		Content: model.Content{Reasoning: "new session"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f, err := s.Read(pos)
	if err != nil {
		t.Fatal(err)
	}
	if f.SessionID != next {
		t.Fatalf("frame carries session %s, expected %s", f.SessionID, next)
	}

	if got := s.StartSession("explicit-id"); got != "explicit-id" {
		t.Fatalf("expected explicit session id back, got %s", got)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, func(cfg *config.Config) { cfg.SegmentSize = 2 })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, _, err := s.Record(ctx, RecordParams{
			Kind:    model.KindThought,
			Content: model.Content{Reasoning: fmt.Sprintf("step %d", i)},
		}); err != nil {
			t.Fatal(err)
		}
	}
	s.FlushIndex()
	if _, err := s.Compact(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Frames != 4 || st.IndexedFrames != 4 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.ArchiveBlocks != 2 {
		t.Fatalf("expected 2 archive blocks, got %d", st.ArchiveBlocks)
	}
	if st.LogSizeBytes <= 0 {
		t.Fatal("expected a non-empty log")
	}
	if st.ChainDigest != s.ChainDigest() {
		t.Fatal("stats digest diverges from manifest")
	}
}

func TestClosed(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, _, err := s.Record(ctx, RecordParams{
		Kind:    model.KindThought,
		Content: model.Content{Reasoning: "too late"},
	}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Compact(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Watch(ctx, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// Closing twice is harmless.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
