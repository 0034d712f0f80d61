package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultBudget is the default context budget in tokens.
const DefaultBudget = 4000

// candidateLimit is how many hits are pulled for scoring before packing.
const candidateLimit = 50

// ContextFrame is a scored frame selected for context output.
type ContextFrame struct {
	ID       string  `json:"id"`
	Position uint64  `json:"position"`
	Kind     string  `json:"kind"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Excerpt  bool    `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context response.
type ContextResult struct {
	Budget int            `json:"budget"`
	Used   int            `json:"used"`
	Frames []ContextFrame `json:"frames"`
}

// Render flattens the result into a single bounded human-readable digest.
func (r *ContextResult) Render() string {
	var b strings.Builder
	for i, f := range r.Frames {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s #%d] %s", f.Kind, f.Position, f.Text)
	}
	return b.String()
}

// Context searches for candidates, scores them by relevance and recency,
// and greedily packs them into a token budget (rough proxy: 1 token ≈ 4
// chars). Concatenation with truncation, nothing fancier.
func (ix *Index) Context(ctx context.Context, query string, budget int) (*ContextResult, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	charBudget := budget * 4

	hits, err := ix.Search(ctx, query, candidateLimit)
	if err != nil {
		return nil, err
	}
	result := &ContextResult{Budget: budget, Frames: []ContextFrame{}}
	if len(hits) == 0 {
		return result, nil
	}

	maxScore := hits[0].Score
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	now := time.Now()
	type scored struct {
		hit   Hit
		score float64
	}
	candidates := make([]scored, 0, len(hits))
	for _, h := range hits {
		relevance := 1.0
		if maxScore > 0 {
			relevance = h.Score / maxScore
		}

		// Recency: exponential decay, roughly a week of half-life
		age := now.Sub(h.CreatedAt).Hours() / 24.0
		recency := math.Exp(-0.1 * age)

		candidates = append(candidates, scored{hit: h, score: relevance*0.6 + recency*0.4})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].hit.Position > candidates[j].hit.Position
	})

	used := 0
	for _, c := range candidates {
		text := c.hit.Text
		if text == "" {
			text = c.hit.VectorKey
		}

		if used+len(text) <= charBudget {
			result.Frames = append(result.Frames, ContextFrame{
				ID:       c.hit.ID,
				Position: c.hit.Position,
				Kind:     string(c.hit.Kind),
				Text:     text,
				Score:    math.Round(c.score*100) / 100,
			})
			used += len(text)
		} else if remaining := charBudget - used; remaining >= 100 {
			excerpt := truncateRune(text, remaining) + "..."
			result.Frames = append(result.Frames, ContextFrame{
				ID:       c.hit.ID,
				Position: c.hit.Position,
				Kind:     string(c.hit.Kind),
				Text:     excerpt,
				Score:    math.Round(c.score*100) / 100,
				Excerpt:  true,
			})
			used += len(excerpt)
			break // budget full
		} else {
			break
		}
	}

	result.Used = used / 4
	return result, nil
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
