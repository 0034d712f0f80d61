package store

import (
	"context"
	"errors"

	"github.com/tracevault/tracevault/internal/model"
)

// Func is a callable that can be wrapped for automatic tracing.
type Func func(ctx context.Context, input string) (string, error)

// Wrap instruments fn so each invocation records a tool_call frame on
// entry and a done or error frame on exit, causally linked to the entry.
// Recording failures never break the wrapped callable; the trace is
// diagnostic history, not transactional state.
func (s *Store) Wrap(name string, fn Func) Func {
	return func(ctx context.Context, input string) (string, error) {
		callID, _, err := s.Record(ctx, RecordParams{
			Kind:     model.KindToolCall,
			Content:  model.Content{Input: input},
			Metadata: map[string]string{"tool_name": name},
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("tool_name", name).Msg("entry frame not recorded")
			var cv *CausalityViolation
			if !errors.As(err, &cv) {
				callID = "" // entry never became durable; don't link to it
			}
		}

		out, ferr := fn(ctx, input)

		if ferr != nil {
			if _, _, rerr := s.Record(ctx, RecordParams{
				Kind:     model.KindError,
				Content:  model.Content{Text: ferr.Error()},
				Metadata: map[string]string{"tool_name": name},
				CausedBy: callID,
			}); rerr != nil {
				s.logger.Warn().Err(rerr).Str("tool_name", name).Msg("error frame not recorded")
			}
			return out, ferr
		}

		if _, _, rerr := s.Record(ctx, RecordParams{
			Kind:     model.KindDone,
			Content:  model.Content{Output: out},
			Metadata: map[string]string{"tool_name": name},
			CausedBy: callID,
		}); rerr != nil {
			s.logger.Warn().Err(rerr).Str("tool_name", name).Msg("exit frame not recorded")
		}
		return out, nil
	}
}
