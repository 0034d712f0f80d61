// Package model defines the core trace frame types.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Kind classifies a frame. The set is closed; unknown kinds are rejected
// before anything is written.
type Kind string

// Valid frame kinds.
const (
	KindInput    Kind = "input"
	KindThought  Kind = "thought"
	KindToolCall Kind = "tool_call"
	KindDone     Kind = "done"
	KindError    Kind = "error"
)

// ValidKinds are the allowed frame kinds.
var ValidKinds = map[Kind]bool{
	KindInput:    true,
	KindThought:  true,
	KindToolCall: true,
	KindDone:     true,
	KindError:    true,
}

// ActorType classifies who produced a frame.
type ActorType string

// Valid actor types.
const (
	ActorAgent  ActorType = "agent"
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// ValidActorTypes are the allowed actor types.
var ValidActorTypes = map[ActorType]bool{
	ActorAgent:  true,
	ActorUser:   true,
	ActorSystem: true,
}

// Actor identifies the originator of a frame.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// Content is the structured payload of a frame. All fields are optional;
// their meaning depends on the frame kind, but the store treats them as
// opaque text beyond length limits.
type Content struct {
	Text      string `json:"text,omitempty"`
	Input     string `json:"input,omitempty"`
	Output    string `json:"output,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Empty reports whether no content field is set.
func (c Content) Empty() bool {
	return c.Text == "" && c.Input == "" && c.Output == "" && c.Reasoning == ""
}

// Frame is one immutable recorded event in the trace log.
type Frame struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"kind"`
	Actor     Actor             `json:"actor"`
	Content   Content           `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Success   *bool             `json:"success,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty"`
	CausedBy  string            `json:"caused_by,omitempty"`
}

// VectorKey returns the short "kind | summary" string used as the primary
// retrieval key for this frame.
func (f *Frame) VectorKey() string {
	summary := f.Content.Reasoning
	if summary == "" {
		summary = f.Content.Text
	}
	if summary == "" {
		summary = f.Content.Input
	}
	return string(f.Kind) + " | " + truncateRune(summary, 120)
}

// truncateRune cuts s to at most n bytes without splitting a rune.
func truncateRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SearchText concatenates every indexable content field.
func (f *Frame) SearchText() string {
	parts := make([]string, 0, 5)
	for _, s := range []string{f.Content.Text, f.Content.Input, f.Content.Output, f.Content.Reasoning} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if name := f.Metadata["tool_name"]; name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, "\n")
}
