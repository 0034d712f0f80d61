package model

import "fmt"

// MaxContentBytes caps the combined size of a frame's content fields.
// Oversized frames are rejected before anything is written.
const MaxContentBytes = 1 << 20

// ValidationError reports a malformed frame shape. Nothing is persisted
// when validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid frame: %s: %s", e.Field, e.Reason)
}

// Validate checks the frame's shape. It does not consult the log, so it
// cannot see causal relations; those are validated after commit.
func Validate(f *Frame) error {
	if f == nil {
		return &ValidationError{Field: "frame", Reason: "nil"}
	}
	if f.ID == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	if f.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "empty"}
	}
	if f.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "zero"}
	}
	if !ValidKinds[f.Kind] {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", f.Kind)}
	}
	if !ValidActorTypes[f.Actor.Type] {
		return &ValidationError{Field: "actor.type", Reason: fmt.Sprintf("unknown actor type %q", f.Actor.Type)}
	}
	if f.Actor.ID == "" {
		return &ValidationError{Field: "actor.id", Reason: "empty"}
	}
	if f.CausedBy == f.ID && f.ID != "" {
		return &ValidationError{Field: "caused_by", Reason: "frame cannot cause itself"}
	}

	switch f.Kind {
	case KindThought:
		if f.Content.Reasoning == "" && f.Content.Text == "" {
			return &ValidationError{Field: "content", Reason: "thought requires reasoning or text"}
		}
	case KindToolCall:
		if f.Metadata["tool_name"] == "" {
			return &ValidationError{Field: "metadata.tool_name", Reason: "required for tool_call"}
		}
	}

	size := len(f.Content.Text) + len(f.Content.Input) + len(f.Content.Output) + len(f.Content.Reasoning)
	if size > MaxContentBytes {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("%d bytes exceeds limit %d", size, MaxContentBytes)}
	}

	return nil
}
