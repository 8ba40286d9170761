package chunker

import (
	"errors"
	"strings"

	"github.com/dshills/fusionrag/pkg/types"
)

const (
	// DefaultMaxTokens is the target maximum token count per chunk
	DefaultMaxTokens = 400

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// ErrEmptyDocument is returned when a document has no text to chunk
var ErrEmptyDocument = errors.New("document has no content")

// Chunker splits document text into paragraph-bounded chunks
type Chunker struct {
	maxTokens int
}

// New creates a Chunker. maxTokens <= 0 uses DefaultMaxTokens.
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

// MaxTokens returns the per-chunk token target
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Chunk splits text into chunks that respect paragraph boundaries. Adjacent
// paragraphs are packed together while they fit; a paragraph that alone
// exceeds the limit is split on sentence and then word boundaries.
func (c *Chunker) Chunk(documentID int64, text string) ([]*types.Chunk, error) {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, ErrEmptyDocument
	}

	maxChars := c.maxTokens * TokensPerChar
	var pieces []string
	for _, p := range paragraphs {
		if len(p) <= maxChars {
			pieces = append(pieces, p)
			continue
		}
		pieces = append(pieces, splitLong(p, maxChars)...)
	}

	var (
		chunks  []*types.Chunk
		current strings.Builder
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := &types.Chunk{
			DocumentID: documentID,
			Position:   len(chunks),
			Content:    current.String(),
		}
		chunk.ComputeContentHash()
		chunk.ComputeTokenCount()
		chunks = append(chunks, chunk)
		current.Reset()
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+2+len(piece) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}
	flush()

	return chunks, nil
}

// splitParagraphs normalizes line endings and splits on blank lines. Lines
// inside a paragraph are joined with single spaces.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		out  []string
		para []string
	)
	flush := func() {
		if len(para) > 0 {
			out = append(out, strings.Join(para, " "))
			para = para[:0]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	flush()
	return out
}

// splitLong breaks an oversized paragraph into pieces of at most maxChars
func splitLong(p string, maxChars int) []string {
	var (
		out     []string
		current strings.Builder
	)
	add := func(unit string) {
		if current.Len() > 0 && current.Len()+1+len(unit) > maxChars {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(unit)
	}

	for _, sentence := range splitSentences(p) {
		if len(sentence) <= maxChars {
			add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for len(word) > maxChars {
				add(word[:maxChars])
				word = word[maxChars:]
			}
			add(word)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' followed by a space
func splitSentences(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p)-1; i++ {
		switch p[i] {
		case '.', '!', '?':
			if p[i+1] == ' ' {
				out = append(out, strings.TrimSpace(p[start:i+1]))
				start = i + 2
			}
		}
	}
	if rest := strings.TrimSpace(p[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// ComputeChunkHash computes the SHA-256 hash of chunk content
func ComputeChunkHash(content string) [32]byte {
	c := types.Chunk{Content: content}
	c.ComputeContentHash()
	return c.ContentHash
}
