package chunker

import "strings"

// Default sliding-window parameters. Large overlapping windows preserve
// context across chunk boundaries for downstream embedding; the boundary
// threshold keeps windows from splitting mid-word when a natural break is
// close to the window edge.
const (
	DefaultWindowSize        = 256
	DefaultMaxWindow         = 512
	DefaultStep              = 256
	DefaultBoundaryThreshold = 20
)

// Chunker splits normalized text into an ordered sequence of chunks for
// indexing. Implementations must be deterministic: chunking the same input
// twice yields the same sequence.
type Chunker interface {
	Chunk(text string) []string
}

// FixedWindow emits consecutive non-overlapping slices of exactly Size
// characters; the last chunk may be shorter. Concatenating the chunks in
// order reconstructs the input exactly.
type FixedWindow struct {
	Size int
}

// NewFixedWindow creates a fixed-window chunker. A non-positive size falls
// back to DefaultWindowSize.
func NewFixedWindow(size int) FixedWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return FixedWindow{Size: size}
}

// Chunk splits text into windows of exactly Size characters.
func (c FixedWindow) Chunk(text string) []string {
	var chunks []string
	for start := 0; start < len(text); start += c.Size {
		end := start + c.Size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// SlidingWindow emits overlapping windows of up to MaxWindow characters,
// advancing the cursor by Step after each one. When the last space in a
// truncated window falls within BoundaryThreshold characters of the window
// edge, the chunk is snapped to end right after that space and the cursor
// advances past the snap with no overlap.
type SlidingWindow struct {
	MaxWindow         int
	Step              int
	BoundaryThreshold int
}

// NewSlidingWindow creates a sliding-window chunker with the default
// parameters.
func NewSlidingWindow() SlidingWindow {
	return SlidingWindow{
		MaxWindow:         DefaultMaxWindow,
		Step:              DefaultStep,
		BoundaryThreshold: DefaultBoundaryThreshold,
	}
}

// Chunk splits text into overlapping, boundary-snapped windows. An input
// no longer than MaxWindow yields exactly one chunk equal to the input.
func (c SlidingWindow) Chunk(text string) []string {
	var chunks []string
	cursor := 0
	for cursor < len(text) {
		end := cursor + c.MaxWindow
		truncated := end < len(text)
		if !truncated {
			end = len(text)
		}
		candidate := text[cursor:end]

		// Snap only truncated windows; the final window already ends at a
		// natural boundary.
		if truncated {
			if last := strings.LastIndexByte(candidate, ' '); last >= 0 && len(candidate)-last <= c.BoundaryThreshold {
				adjustedEnd := cursor + last + 1
				chunks = append(chunks, text[cursor:adjustedEnd])
				cursor = adjustedEnd
				continue
			}
		}

		chunks = append(chunks, candidate)
		cursor += c.Step
	}
	return chunks
}
