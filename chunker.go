package bigcontext

import (
	"regexp"
	"strings"
)

// boundarySearchFraction restricts the natural-boundary search to the last
// 30% of the chunk window, so a boundary early in the window never produces
// a too-short chunk.
const boundarySearchFraction = 0.30

var (
	sectionDividerRe = regexp.MustCompile(`\n(#{1,3}[ \t]|={3,}|-{3,})`)
	sentenceEndRe    = regexp.MustCompile(`[.!?][ \t\n]`)
)

// Chunk splits text into an ordered sequence of (index, text) chunks, each
// sized to stay within maxChunkTokens as estimated by EstimateTokens, with
// natural-boundary-aware breaks and trailing overlap between consecutive
// chunks.
func ChunkText(text string, maxChunkTokens int) []Chunk {
	totalTokens := EstimateTokens(text)
	if totalTokens == 0 {
		totalTokens = 1
	}

	if totalTokens <= maxChunkTokens {
		return []Chunk{{Index: 0, InputText: text, Status: ChunkPending}}
	}

	charsPerToken := float64(len(text)) / float64(totalTokens)
	maxChunkChars := int(float64(maxChunkTokens) * charsPerToken)
	overlapChars := int(200 * charsPerToken)
	if maxChunkChars < 1 {
		maxChunkChars = 1
	}

	var chunks []Chunk
	offset := 0
	for offset < len(text) {
		end := offset + maxChunkChars
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) {
			windowStart := offset + int(float64(end-offset)*(1-boundarySearchFraction))
			if bp := findBoundary(text, windowStart, end); bp >= 0 {
				end = bp
			}
		}

		slice := strings.TrimSpace(text[offset:end])
		if slice != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), InputText: slice, Status: ChunkPending})
		}

		if end >= len(text) {
			break
		}

		next := end - overlapChars
		if next <= offset {
			next = offset + 1
		}
		offset = next
	}

	return chunks
}

// findBoundary searches text[windowStart:windowEnd) for the highest-priority
// natural boundary, from the highest priority level down, returning the
// absolute offset at which to cut: the start of a section divider (so the
// divider opens the next chunk), or immediately after any other kind of
// boundary. Returns -1 if no boundary
// of any kind is found in the window (caller then hard-cuts at windowEnd).
func findBoundary(text string, windowStart, windowEnd int) int {
	if windowStart < 0 {
		windowStart = 0
	}
	if windowEnd > len(text) {
		windowEnd = len(text)
	}
	if windowStart >= windowEnd {
		return -1
	}
	window := text[windowStart:windowEnd]

	// 1. Section/chapter divider.
	if loc := lastMatch(sectionDividerRe, window); loc != nil {
		return windowStart + loc[0]
	}

	// 2. Paragraph boundary (double newline).
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return windowStart + idx + 2
	}

	// 3. Single newline.
	if idx := strings.LastIndex(window, "\n"); idx >= 0 {
		return windowStart + idx + 1
	}

	// 4. Sentence terminator.
	if loc := lastMatch(sentenceEndRe, window); loc != nil {
		return windowStart + loc[1]
	}

	// 5. Word boundary.
	if idx := strings.LastIndex(window, " "); idx >= 0 {
		return windowStart + idx + 1
	}

	// 6. No boundary found; hard cut.
	return -1
}

// lastMatch returns the last regexp match location in s, or nil if none.
func lastMatch(re *regexp.Regexp, s string) []int {
	matches := re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return nil
	}
	return matches[len(matches)-1]
}
