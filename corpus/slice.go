package corpus

import (
	"github.com/pkg/errors"
)

// SliceCursor serves already mapped id sentences from memory.
type SliceCursor struct {
	features, labels [][]int
	next             int
}

// Compile time assert that SliceCursor implements Cursor.
var _ Cursor = &SliceCursor{}

// NewSliceCursor creates a cursor over the given sentences. If labels is nil, the
// features are also used as labels.
func NewSliceCursor(features, labels [][]int) (*SliceCursor, error) {
	if labels == nil {
		labels = features
	}
	if len(features) != len(labels) {
		return nil, errors.Errorf("%d feature sentences but %d label sentences", len(features), len(labels))
	}
	for i := range features {
		if len(features[i]) != len(labels[i]) {
			return nil, errors.Errorf("sentence %d has %d features but %d labels", i, len(features[i]), len(labels[i]))
		}
	}
	return &SliceCursor{features: features, labels: labels}, nil
}

// Next implements Cursor.
func (c *SliceCursor) Next(maxSentences int) (*Chunk, error) {
	chunk := &Chunk{}
	for ; c.next < len(c.features) && chunk.Len() < maxSentences; c.next++ {
		sentence := c.features[c.next]
		if len(sentence) == 0 {
			continue
		}
		chunk.Sentences = append(chunk.Sentences, Sentence{Start: len(chunk.Features), Len: len(sentence)})
		chunk.Features = append(chunk.Features, sentence...)
		chunk.Labels = append(chunk.Labels, c.labels[c.next]...)
	}
	return chunk, nil
}

// Reset implements Cursor.
func (c *SliceCursor) Reset() error {
	c.next = 0
	return nil
}

// Close implements Cursor.
func (c *SliceCursor) Close() error {
	return nil
}
