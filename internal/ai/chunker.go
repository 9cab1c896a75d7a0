package ai

import (
	"strings"
	"unicode"

	"github.com/xxxsen/ragkb/internal/model"
)

const (
	// CharsPerToken converts token-equivalents into characters.
	CharsPerToken = 4

	boundaryWindowPercent = 20
	wordBoundaryReach     = 50
)

// ChunkSpec is one planned chunk. Start and End are rune offsets into the
// whitespace-normalised text.
type ChunkSpec struct {
	Content    string
	TokenCount int
	Position   model.ChunkPosition
	Start      int
	End        int
}

type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = model.DefaultChunkSize
	}
	if overlap < 0 {
		overlap = model.DefaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

func NewChunkerForProvider(p *model.Provider) *Chunker {
	return NewChunker(p.EffectiveChunkSize(), p.EffectiveChunkOverlap())
}

func (c *Chunker) Chunk(text string) []ChunkSpec {
	return SplitText(text, c.size, c.overlap)
}

// NormalizeWhitespace collapses whitespace runs into single spaces.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SplitText cuts text into overlapping chunks of about targetTokens each.
// Blank input yields nil. The walk always advances by at least half a window,
// so a large overlap shrinks the effective overlap instead of stalling.
func SplitText(text string, targetTokens, overlapTokens int) []ChunkSpec {
	normalized := NormalizeWhitespace(text)
	if normalized == "" {
		return nil
	}
	if targetTokens <= 0 {
		targetTokens = model.DefaultChunkSize
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	runes := []rune(normalized)
	total := len(runes)
	target := targetTokens * CharsPerToken
	overlap := overlapTokens * CharsPerToken

	if total <= target {
		return []ChunkSpec{newChunkSpec(runes, 0, total, model.ChunkPositionOnly)}
	}

	minAdvance := target / 2
	if minAdvance < 1 {
		minAdvance = 1
	}
	var out []ChunkSpec
	start, prevEnd := 0, 0
	for start < total {
		end := start + target
		if end >= total {
			end = total
		} else {
			end = findBreak(runes, start, end, prevEnd)
		}
		position := model.ChunkPositionMiddle
		switch {
		case start == 0:
			position = model.ChunkPositionStart
		case end == total:
			position = model.ChunkPositionEnd
		}
		out = append(out, newChunkSpec(runes, start, end, position))
		if end == total {
			break
		}
		prevEnd = end
		next := end - overlap
		if next < start+minAdvance {
			next = start + minAdvance
		}
		if next > end {
			next = end
		}
		start = next
	}
	return out
}

// findBreak picks the cut point for a window [start, end) that is not the
// last one: sentence end in the trailing 20%, then a nearby space, then end.
// The cut always lies past floor, the previous chunk's end.
func findBreak(runes []rune, start, end, floor int) int {
	from := end - (end-start)*boundaryWindowPercent/100
	if from <= start {
		from = start + 1
	}
	if from < floor {
		from = floor
	}
	for i := end - 1; i >= from; i-- {
		if isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	lowest := start
	if floor > lowest {
		lowest = floor
	}
	for i := end; i > lowest && i >= end-wordBoundaryReach; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func newChunkSpec(runes []rune, start, end int, position model.ChunkPosition) ChunkSpec {
	content := strings.TrimSpace(string(runes[start:end]))
	return ChunkSpec{
		Content:    content,
		TokenCount: EstimateTokens(content),
		Position:   position,
		Start:      start,
		End:        end,
	}
}

// EstimateTokens is ceil(runes / CharsPerToken).
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + CharsPerToken - 1) / CharsPerToken
}
