// Package index implements the SQLite-backed search index over frames.
//
// Indexing is eventually consistent: committed frames are handed to a
// background worker and become searchable after a bounded delay. The
// index is derived state, keyed by frame id and rebuildable from the log
// if lost.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/tracevault/tracevault/internal/framelog"
	"github.com/tracevault/tracevault/internal/model"
)

// ErrUnavailable reports that the index cannot serve queries. Callers
// degrade to empty results; the writer is never blocked.
var ErrUnavailable = errors.New("search index unavailable")

// DefaultQueueDepth bounds the pending-frame queue.
const DefaultQueueDepth = 1024

type job struct {
	frame    *model.Frame
	position uint64
	flushed  chan struct{} // non-nil for flush barriers
}

// Index is the persistent search index.
type Index struct {
	db     *sql.DB
	logger zerolog.Logger

	queue   chan job
	group   *errgroup.Group
	cancel  context.CancelFunc
	dropped atomic.Int64
	failed  atomic.Int64
}

// Open opens or creates the index database and starts the background
// indexer.
func Open(dbPath string, queueDepth int, logger zerolog.Logger) (*Index, error) {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	ix := &Index{db: db, logger: logger, queue: make(chan job, queueDepth)}
	if err := ix.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ix.cancel = cancel
	ix.group, ctx = errgroup.WithContext(ctx)
	ix.group.Go(func() error { return ix.worker(ctx) })

	return ix, nil
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS frames (
		id          TEXT PRIMARY KEY,
		position    INTEGER NOT NULL UNIQUE,
		session_id  TEXT NOT NULL,
		kind        TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		vector_key  TEXT NOT NULL,
		text        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_frames_session ON frames(session_id);
	CREATE INDEX IF NOT EXISTS idx_frames_kind ON frames(kind);

	CREATE VIRTUAL TABLE IF NOT EXISTS frames_fts USING fts5(
		vector_key,
		text,
		content=frames,
		content_rowid=rowid
	);
	`
	if _, err := ix.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	ix.db.Exec(`CREATE TRIGGER IF NOT EXISTS frames_ai AFTER INSERT ON frames BEGIN
		INSERT INTO frames_fts(rowid, vector_key, text) VALUES (new.rowid, new.vector_key, new.text);
	END`)
	ix.db.Exec(`CREATE TRIGGER IF NOT EXISTS frames_ad AFTER DELETE ON frames BEGIN
		INSERT INTO frames_fts(frames_fts, rowid, vector_key, text) VALUES('delete', old.rowid, old.vector_key, old.text);
	END`)
	ix.db.Exec(`CREATE TRIGGER IF NOT EXISTS frames_au AFTER UPDATE ON frames BEGIN
		INSERT INTO frames_fts(frames_fts, rowid, vector_key, text) VALUES('delete', old.rowid, old.vector_key, old.text);
		INSERT INTO frames_fts(rowid, vector_key, text) VALUES (new.rowid, new.vector_key, new.text);
	END`)

	// Backfill FTS for any rows not yet indexed
	ix.db.Exec(`INSERT OR IGNORE INTO frames_fts(rowid, vector_key, text) SELECT rowid, vector_key, text FROM frames`)

	return nil
}

// Enqueue hands a committed frame to the background indexer. It never
// blocks the writer: when the queue is full the frame is dropped from the
// index (it remains recoverable via Rebuild) and counted.
func (ix *Index) Enqueue(f *model.Frame, position uint64) {
	select {
	case ix.queue <- job{frame: f, position: position}:
	default:
		ix.dropped.Add(1)
		ix.logger.Warn().Str("frame_id", f.ID).Uint64("position", position).Msg("index queue full, frame not indexed")
	}
}

// Flush blocks until every frame enqueued before the call has been
// indexed.
func (ix *Index) Flush() {
	done := make(chan struct{})
	ix.queue <- job{flushed: done}
	<-done
}

func (ix *Index) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-ix.queue:
			if !ok {
				return nil
			}
			if j.flushed != nil {
				close(j.flushed)
				continue
			}
			if err := ix.insert(ctx, j.frame, j.position); err != nil {
				ix.failed.Add(1)
				ix.logger.Error().Err(err).Str("frame_id", j.frame.ID).Msg("index insert failed")
			}
		}
	}
}

func (ix *Index) insert(ctx context.Context, f *model.Frame, position uint64) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (id, position, session_id, kind, created_at, vector_key, text)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, position, f.SessionID, string(f.Kind),
		f.Timestamp.UTC().Format(time.RFC3339Nano), f.VectorKey(), f.SearchText())
	return err
}

// Rebuild reconstructs the whole index from the log, synchronously.
func (ix *Index) Rebuild(ctx context.Context, log *framelog.Log) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM frames`); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	it := log.Iterate(0)
	for {
		f, pos, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		if err := ix.insert(ctx, f, pos); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
	}
	if n := it.Skipped(); n > 0 {
		ix.logger.Warn().Int("skipped", n).Msg("rebuild skipped corrupt records")
	}
	return nil
}

// Count returns the number of indexed frames.
func (ix *Index) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Dropped returns how many frames were dropped on a full queue.
func (ix *Index) Dropped() int64 { return ix.dropped.Load() }

// Close flushes pending updates, stops the worker, and closes the
// database.
func (ix *Index) Close() error {
	close(ix.queue)
	err := ix.group.Wait()
	ix.cancel()
	if cerr := ix.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
