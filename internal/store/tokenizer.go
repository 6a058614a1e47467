package store

import (
	"strings"
	"unicode"
)

// EnglishStopWords is the fixed ~40-word stop-word set applied at the BM25
// layer (spec §4.4). It is intentionally distinct from DefaultCodeStopWords:
// sources indexed here are not assumed to be source code.
var EnglishStopWords = BuildStopWordMap([]string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "of", "to",
	"in", "on", "at", "by", "for", "with", "about", "against", "between",
	"into", "through", "during", "before", "after", "above", "below",
	"from", "up", "down", "is", "are", "was", "were", "be", "been", "being",
	"this", "that", "these", "those", "it", "as", "not",
})

// Tokenize splits text into index terms, shared by the chunker's token
// counting and the BM25 index's term extraction (spec §9 open question 1).
// It handles camelCase, PascalCase, snake_case, and filters short tokens.
// All tokens are lowercased. Stop-word filtering is NOT applied here; it is
// the BM25 layer's responsibility (see FilterStopWords), since the chunker
// must remain total over the raw token stream.
//
// Built on TokenSpans so every caller of this package's token unit —
// BM25's term extraction and the chunker's token counting alike — agrees
// on exactly where one token ends and the next begins.
func Tokenize(text string) []string {
	runes := []rune(text)
	spans := TokenSpans(text)
	tokens := make([]string, 0, len(spans))
	for _, sp := range spans {
		tokens = append(tokens, strings.ToLower(string(runes[sp.Start:sp.End])))
	}
	return tokens
}

// TokenSpan is the rune-offset span [Start, End) of one token within the
// text passed to TokenSpans, in original case and position.
type TokenSpan struct {
	Start, End int
}

// TokenSpans locates every token Tokenize would produce, as rune-offset
// spans into text rather than as lowercased strings. The chunker uses
// this to window text on the same token boundaries BM25 indexes by,
// instead of a cheaper but inconsistent notion like whitespace runs.
func TokenSpans(text string) []TokenSpan {
	runes := []rune(text)

	var spans []TokenSpan
	start := -1
	for i := 0; i <= len(runes); i++ {
		var isWord bool
		if i < len(runes) {
			isWord = isWordRune(runes[i])
		}
		switch {
		case isWord && start == -1:
			start = i
		case !isWord && start != -1:
			spans = append(spans, splitCodeTokenSpans(runes[start:i], start)...)
			start = -1
		}
	}

	filtered := spans[:0]
	for _, sp := range spans {
		if sp.End-sp.Start >= 2 {
			filtered = append(filtered, sp)
		}
	}
	return filtered
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// splitCodeTokenSpans is the offset-preserving counterpart of
// SplitCodeToken: same snake_case-then-camelCase split, but returning
// spans into the original rune slice (base-shifted) instead of new
// strings, since underscores are dropped from the output and can't be
// recovered from concatenated substrings alone.
func splitCodeTokenSpans(runes []rune, base int) []TokenSpan {
	hasUnderscore := false
	for _, r := range runes {
		if r == '_' {
			hasUnderscore = true
			break
		}
	}
	if !hasUnderscore {
		return splitCamelCaseSpans(runes, base)
	}

	var spans []TokenSpan
	start := 0
	for i := 0; i <= len(runes); i++ {
		if i == len(runes) || runes[i] == '_' {
			if i > start {
				spans = append(spans, splitCamelCaseSpans(runes[start:i], base+start)...)
			}
			start = i + 1
		}
	}
	return spans
}

// splitCamelCaseSpans is the offset-preserving counterpart of
// SplitCamelCase, used by splitCodeTokenSpans.
func splitCamelCaseSpans(runes []rune, base int) []TokenSpan {
	if len(runes) == 0 {
		return nil
	}

	var spans []TokenSpan
	start := 0
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if i > start {
					spans = append(spans, TokenSpan{Start: base + start, End: base + i})
				}
				start = i
			}
		}
	}
	if len(runes) > start {
		spans = append(spans, TokenSpan{Start: base + start, End: base + len(runes)})
	}
	return spans
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	var result []string

	// Handle snake_case first
	if strings.Contains(token, "_") {
		parts := strings.Split(token, "_")
		for _, part := range parts {
			if part != "" {
				// Recursively handle camelCase in each part
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}

	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
// Examples:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPHandler" -> ["HTTP", "Handler"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	// Return empty slice, not nil, for consistent API behavior (DEBT-012)
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		lower := strings.ToLower(token)
		if _, isStop := stopWords[lower]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
