package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tracevault/tracevault/internal/model"
)

// Hit is one ranked search result. Score is higher-is-better; equal
// scores order by descending position (most recent first).
type Hit struct {
	ID        string     `json:"id"`
	Position  uint64     `json:"position"`
	SessionID string     `json:"session_id"`
	Kind      model.Kind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	VectorKey string     `json:"vector_key"`
	Text      string     `json:"text"`
	Score     float64    `json:"score"`
}

// Search runs a ranked full-text query over indexed frames.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT f.id, f.position, f.session_id, f.kind, f.created_at, f.vector_key, f.text,
		       bm25(frames_fts) AS rank
		FROM frames_fts
		JOIN frames f ON f.rowid = frames_fts.rowid
		WHERE frames_fts MATCH ?
		ORDER BY rank ASC, f.position DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var createdAt string
		var rank float64
		if err := rows.Scan(&h.ID, &h.Position, &h.SessionID, &h.Kind, &createdAt, &h.VectorKey, &h.Text, &rank); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		// bm25() is smaller-is-better; negate so callers see higher-is-better.
		h.Score = -rank
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return hits, nil
}

// ftsMatchExpr turns free text into a safe FTS5 match expression: each
// token quoted, all tokens required.
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}
