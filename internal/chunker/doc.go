// Package chunker splits ingested documents into chunks sized for embedding.
//
// Chunks follow paragraph boundaries (blank lines). Small paragraphs are
// packed together up to the token target; oversized paragraphs are split on
// sentence ends, then on words. Token counts use the chars/4 estimate shared
// with the fusion budget.
//
//	c := chunker.New(400)
//	chunks, err := c.Chunk(doc.ID, text)
//	if errors.Is(err, chunker.ErrEmptyDocument) {
//	    // nothing to index
//	}
package chunker
