// Package chunk splits raw text into overlapping fixed-size windows for
// the embedding pipeline.
//
// Segmentation is fully deterministic and reconstructable: concatenating
// the chunks while discarding the trailing overlap characters of all but
// the last chunk reproduces the normalized source exactly.
package chunk

import "strings"

// Window size and overlap clamps.
const (
	MinSize    = 300
	MaxSize    = 4000
	MaxOverlap = 1000

	DefaultSize    = 1200
	DefaultOverlap = 200
)

// Normalize unifies line endings to LF and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// ClampSize bounds the window size to [MinSize, MaxSize]. A non-positive
// size selects the default.
func ClampSize(size int) int {
	if size <= 0 {
		size = DefaultSize
	}
	if size < MinSize {
		return MinSize
	}
	if size > MaxSize {
		return MaxSize
	}
	return size
}

// ClampOverlap bounds the overlap to [0, min(size-1, MaxOverlap)].
// A negative overlap selects the default.
func ClampOverlap(overlap, size int) int {
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	max := size - 1
	if max > MaxOverlap {
		max = MaxOverlap
	}
	if overlap > max {
		return max
	}
	return overlap
}

// Split normalizes text and slides a window of size characters across it,
// advancing size-overlap per step. Windows are measured in runes so a
// boundary never lands inside a multi-byte character. The last window is
// truncated to the remaining text. Empty input produces zero chunks. Size
// and overlap are clamped before use.
func Split(text string, size, overlap int) []string {
	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil
	}

	size = ClampSize(size)
	overlap = ClampOverlap(overlap, size)
	stride := size - overlap

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
