package kb

import "strings"

// Chunking parameters: fixed windows with overlap, breaking at a
// sentence boundary when one falls near the window's end.
const (
	ChunkSize      = 1000
	ChunkOverlap   = 150
	sentenceWindow = 100
)

var sentenceEnders = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// Chunk splits text into overlapping windows of at most ChunkSize
// characters. When a sentence terminator appears in the last
// sentenceWindow characters of a window, the window breaks there
// instead of mid-sentence.
func Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + ChunkSize
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		window := text[start:end]
		if cut := lastSentenceBreak(window); cut > 0 {
			end = start + cut
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastSentenceBreak returns the index just past the last sentence
// terminator within the trailing sentenceWindow chars, or 0.
func lastSentenceBreak(window string) int {
	tail := window
	offset := 0
	if len(window) > sentenceWindow {
		offset = len(window) - sentenceWindow
		tail = window[offset:]
	}
	best := -1
	for _, end := range sentenceEnders {
		if i := strings.LastIndex(tail, end); i > best {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return offset + best + 1
}
