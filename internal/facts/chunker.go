package facts

import "unicode"

const (
	DefaultChunkSize    = 12000
	DefaultChunkOverlap = 1200
)

type Chunk struct {
	ID   int
	Text string
}

// ChunkText splits text into windows of at most size runes where consecutive
// windows share overlap runes. A window end is pulled back to the nearest
// whitespace in its last tenth so words are not cut.
func ChunkText(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, len(runes)/(size-overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = softBoundary(runes, start, end, size/10)
		}
		chunks = append(chunks, Chunk{ID: len(chunks), Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func softBoundary(runes []rune, start, end, slack int) int {
	for i := end; i > end-slack && i > start+1; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
