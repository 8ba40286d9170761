package types

import (
	"crypto/sha256"
	"errors"
	"strings"
)

// Chunk is a paragraph-bounded section of a document prepared for embedding
type Chunk struct {
	// Identification
	ID         int64
	DocumentID int64
	Position   int // 0-based index within the document

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 hash for deduplication
	TokenCount  int
}

// ComputeTokenCount estimates the number of tokens in the chunk
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = EstimateTokens(c.Content)
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// Validate performs validation of the chunk
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.Position < 0 {
		return errors.New("chunk position must be non-negative")
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	return nil
}
