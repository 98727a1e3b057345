package vector

const (
	chunkSize    = 2000 // runes per chunk
	chunkOverlap = 200  // runes carried into the next chunk
)

// ChunkText splits text into overlapping rune windows. Short texts come back
// as a single chunk.
func ChunkText(text string) []string {
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
