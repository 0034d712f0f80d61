package store

import (
	"context"
	"time"

	"github.com/tracevault/tracevault/internal/model"
)

// RecordParams holds parameters for recording a new frame. Kind and
// Content are required; everything else defaults.
type RecordParams struct {
	Kind      model.Kind
	Content   model.Content
	Actor     *model.Actor
	Metadata  map[string]string
	Success   *bool
	Artifacts []string
	CausedBy  string
}

// Record is the sole write entry point: it builds a frame from the
// params and commits it. It returns the new frame id and log position.
// A CausalityViolation still carries a valid id and position — the frame
// is durable.
func (s *Store) Record(ctx context.Context, p RecordParams) (string, uint64, error) {
	f := &model.Frame{
		ID:        s.newID(),
		SessionID: s.SessionID(),
		Timestamp: time.Now().UTC(),
		Kind:      p.Kind,
		Content:   p.Content,
		Metadata:  p.Metadata,
		Success:   p.Success,
		Artifacts: p.Artifacts,
		CausedBy:  p.CausedBy,
	}

	if p.Actor != nil {
		f.Actor = *p.Actor
	} else {
		f.Actor = model.Actor{Type: model.ActorAgent, ID: "agent"}
	}

	// done implies success, error implies failure, unless stated.
	if f.Success == nil {
		switch p.Kind {
		case model.KindDone:
			t := true
			f.Success = &t
		case model.KindError:
			ff := false
			f.Success = &ff
		}
	}

	pos, err := s.Append(ctx, f)
	return f.ID, pos, err
}

// Append validates and durably commits a fully formed frame, assigning
// its log position. The commit sequence is: validate shape, encode,
// write, flush, assign position, record the causal relation, extend the
// integrity chain, hand off to the indexer. Validation failures persist
// nothing; causal failures persist the frame and surface the violation.
func (s *Store) Append(ctx context.Context, f *model.Frame) (uint64, error) {
	if err := model.Validate(f); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Checked under the append lock: Close flips this under the same lock
	// before shutting the index queue, so no append can slip past it.
	if s.closed.Load() {
		return 0, ErrClosed
	}

	pos, encoded, err := s.log.Append(f)
	if err != nil {
		return 0, err
	}

	graphErr := s.graph.Record(f.ID, f.CausedBy, pos)

	// The chain covers every durable frame, relation accepted or not.
	if err := s.manifest.Extend(encoded, pos); err != nil {
		return pos, err
	}

	s.index.Enqueue(f, pos)

	if graphErr != nil {
		return pos, &CausalityViolation{FrameID: f.ID, CausedBy: f.CausedBy, Position: pos, Err: graphErr}
	}
	return pos, nil
}
