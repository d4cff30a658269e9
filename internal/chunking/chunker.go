// Package chunking splits raw document text into ordered, overlapping
// segments sized for a model's context window.
package chunking

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default chunk sizing.
const (
	DefaultMaxChunkSize = 2000
	DefaultOverlapSize  = 200
)

// Chunk is one bounded segment of source text. Indices are contiguous
// from 0 in emission order and preserved through every downstream stage.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Config holds chunker settings.
type Config struct {
	MaxChunkSize int
	OverlapSize  int
}

// Chunker splits text on sentence boundaries into bounded chunks.
type Chunker struct {
	maxChunkSize int
	overlapSize  int
}

// NewChunker creates a new chunker.
func NewChunker(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.OverlapSize < 0 {
		cfg.OverlapSize = 0
	}
	return &Chunker{
		maxChunkSize: cfg.MaxChunkSize,
		overlapSize:  cfg.OverlapSize,
	}
}

// Chunk splits text into overlapping chunks with sentence boundary
// preservation. Empty or whitespace-only input yields a single empty
// chunk at index 0.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return []Chunk{{Index: 0, Text: ""}}
	}

	sentences := splitSentences(text)

	var chunks []Chunk
	buffer := ""

	emit := func(content string) {
		chunks = append(chunks, Chunk{Index: len(chunks), Text: content})
	}

	flush := func() string {
		trimmed := strings.TrimSpace(buffer)
		if trimmed != "" {
			emit(trimmed)
		}
		buffer = ""
		return trimmed
	}

	for _, sentence := range sentences {
		// A sentence that cannot fit any chunk is split on word
		// boundaries, then by raw character count if a single word
		// still exceeds the limit. The running buffer is flushed
		// first so emission order follows the sentence order.
		if len(sentence) > c.maxChunkSize {
			flush()
			for _, piece := range splitLongSentence(sentence, c.maxChunkSize) {
				if len(piece) <= c.maxChunkSize {
					emit(piece)
					continue
				}
				for _, forced := range forceSplitBySize(piece, c.maxChunkSize) {
					emit(forced)
				}
			}
			continue
		}

		sep := 0
		if buffer != "" {
			sep = 1
		}

		if len(buffer)+sep+len(sentence) > c.maxChunkSize {
			prev := flush()

			// Seed the new buffer with the tail of the previous
			// chunk, unless the seed would push this chunk past
			// the size limit.
			if c.overlapSize > 0 && prev != "" {
				seed := overlapTail(prev, c.overlapSize)
				if seed != "" && len(seed)+1+len(sentence) <= c.maxChunkSize {
					buffer = seed + " " + sentence
					continue
				}
			}
			buffer = sentence
			continue
		}

		if buffer == "" {
			buffer = sentence
		} else {
			buffer += " " + sentence
		}
	}

	flush()
	return chunks
}

// EstimateTokens estimates the number of model tokens in text using the
// rough 4 characters per token approximation.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// dottedAbbrev matches tokens with interior periods such as "e.g" or "U.S".
var dottedAbbrev = regexp.MustCompile(`^\w+(\.\w+)+$`)

// splitSentences splits text at whitespace following terminal
// punctuation, skipping boundaries that end an abbreviation.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	for i := 1; i < len(text); i++ {
		if !isSpaceByte(text[i]) {
			continue
		}

		prev := text[i-1]
		if prev != '.' && prev != '!' && prev != '?' {
			continue
		}

		if prev == '.' && isAbbreviationToken(lastToken(text[:i]), nextNonSpace(text, i)) {
			continue
		}

		if s := strings.TrimSpace(text[start:i]); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}

	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// isAbbreviationToken reports whether a period-terminated token is an
// abbreviation rather than a sentence end. next is the first non-space
// byte after the candidate boundary (0 when none).
func isAbbreviationToken(token string, next byte) bool {
	base := strings.TrimSuffix(token, ".")
	if base == "" {
		return false
	}

	// Single initial: "J."
	if len(base) == 1 && base[0] >= 'A' && base[0] <= 'Z' {
		return true
	}

	// Capitalized two-letter abbreviation: "Mr.", "Dr.", "St."
	if len(base) == 2 && isUpperByte(base[0]) && isLowerByte(base[1]) {
		return true
	}

	// Interior-dotted abbreviation: "e.g.", "i.e.", "U.S."
	if strings.Contains(base, ".") && dottedAbbrev.MatchString(base) {
		return true
	}

	// Short token continuing into a lowercase word: "etc. and so on"
	if len(base) <= 3 && isAlpha(base) && isLowerByte(next) {
		return true
	}

	return false
}

// splitLongSentence splits an oversized sentence on word boundaries into
// pieces of at most maxSize characters. A single word longer than
// maxSize is passed through unchanged for the force-split step.
func splitLongSentence(sentence string, maxSize int) []string {
	words := strings.Fields(sentence)

	var pieces []string
	current := ""

	for _, word := range words {
		if current == "" {
			current = word
			continue
		}
		if len(current)+1+len(word) <= maxSize {
			current += " " + word
			continue
		}
		pieces = append(pieces, current)
		current = word
	}

	if current != "" {
		pieces = append(pieces, current)
	}

	return pieces
}

// forceSplitBySize splits text into fixed-size pieces by raw character
// count, never cutting a UTF-8 sequence.
func forceSplitBySize(text string, maxSize int) []string {
	var pieces []string
	var b strings.Builder

	for _, r := range text {
		if b.Len() > 0 && b.Len()+utf8.RuneLen(r) > maxSize {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}

	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}

	return pieces
}

// overlapTail returns the trailing words of a chunk whose accumulated
// length, counting one separator per word, stays within overlapSize.
func overlapTail(chunk string, overlapSize int) string {
	words := strings.Fields(chunk)

	var tail []string
	chars := 0

	for i := len(words) - 1; i >= 0; i-- {
		if chars+len(words[i]) > overlapSize {
			break
		}
		tail = append(tail, words[i])
		chars += len(words[i]) + 1
	}

	// Restore original word order
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}

	return strings.Join(tail, " ")
}

func lastToken(prefix string) string {
	start := len(prefix)
	for start > 0 && !isSpaceByte(prefix[start-1]) {
		start--
	}
	return prefix[start:]
}

func nextNonSpace(text string, from int) byte {
	for i := from; i < len(text); i++ {
		if !isSpaceByte(text[i]) {
			return text[i]
		}
	}
	return 0
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

func isUpperByte(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

func isLowerByte(b byte) bool {
	return b >= 'a' && b <= 'z'
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isUpperByte(s[i]) && !isLowerByte(s[i]) {
			return false
		}
	}
	return len(s) > 0
}
