// Package chunk splits document text into bounded, overlapping windows
// with exact byte and line offsets (spec §4.1).
package chunk

import (
	"strconv"
	"strings"

	"github.com/fenwick-labs/sift/internal/store"
)

// Chunk is a bounded text window within a parent file.
type Chunk struct {
	ParentPath string
	ChunkIndex int // zero-based, monotonic in StartChar
	StartChar  int // inclusive
	EndChar    int // exclusive
	StartLine  int // 1-based, inclusive
	EndLine    int // 1-based, inclusive
	Text       string
}

// lineOf returns the 1-based line number containing char offset pos in
// text, derived by counting newlines before pos.
func lineOf(text []rune, pos int) int {
	line := 1
	for i := 0; i < pos && i < len(text); i++ {
		if text[i] == '\n' {
			line++
		}
	}
	return line
}

// ChunkText splits text into an ordered sequence of Chunks (spec §4.1).
// Empty text yields zero chunks; text of at most maxTokens tokens yields
// exactly one chunk with ChunkIndex 0 spanning the whole input.
func ChunkText(parentPath, text string, maxTokens, overlapTokens int) []Chunk {
	if len(text) == 0 {
		return nil
	}

	spans := store.TokenSpans(text)
	if len(spans) == 0 {
		return nil
	}

	runes := []rune(text)

	if len(spans) <= maxTokens {
		return []Chunk{{
			ParentPath: parentPath,
			ChunkIndex: 0,
			StartChar:  0,
			EndChar:    len(runes),
			StartLine:  1,
			EndLine:    lineOf(runes, len(runes)-1),
			Text:       text,
		}}
	}

	step := maxTokens - overlapTokens
	if step <= 0 {
		step = maxTokens
	}

	var chunks []Chunk
	idx := 0
	for tokenStart := 0; tokenStart < len(spans); tokenStart += step {
		tokenEnd := tokenStart + maxTokens
		if tokenEnd > len(spans) {
			tokenEnd = len(spans)
		}

		startChar := spans[tokenStart].Start
		endChar := spans[tokenEnd-1].End

		chunks = append(chunks, Chunk{
			ParentPath: parentPath,
			ChunkIndex: idx,
			StartChar:  startChar,
			EndChar:    endChar,
			StartLine:  lineOf(runes, startChar),
			EndLine:    lineOf(runes, endChar-1),
			Text:       string(runes[startChar:endChar]),
		})
		idx++

		if tokenEnd == len(spans) {
			break
		}
	}

	return chunks
}

// ID returns the canonical ChunkID for this chunk.
func (c Chunk) ID() store.ChunkID {
	return store.NewChunkID(c.ParentPath, c.ChunkIndex)
}

// TokenCount reports text's token count using the same store.Tokenize
// boundaries ChunkText windows over and BM25 indexes by (spec §9 open
// question 1), not an independent whitespace-run count.
func TokenCount(text string) int {
	return len(store.TokenSpans(text))
}

// EmbeddingInput composes the embedding text for a chunked entry (spec
// §4.5 step 4): "Path: {path}\nChunk {i+1}/{n}\n\n{chunk.text}".
func EmbeddingInput(path string, chunkIndex, total int, text string) string {
	var b strings.Builder
	b.WriteString("Path: ")
	b.WriteString(path)
	b.WriteString("\nChunk ")
	b.WriteString(strconv.Itoa(chunkIndex + 1))
	b.WriteString("/")
	b.WriteString(strconv.Itoa(total))
	b.WriteString("\n\n")
	b.WriteString(text)
	return b.String()
}

// WholeFileEmbeddingInput composes the embedding text for a whole-file
// entry (spec §4.5 step 4): "Path: {path}\n\n{content}".
func WholeFileEmbeddingInput(path, content string) string {
	var b strings.Builder
	b.WriteString("Path: ")
	b.WriteString(path)
	b.WriteString("\n\n")
	b.WriteString(content)
	return b.String()
}
