// Package corpus reads sentence-level corpora into chunks of id sequences.
//
// A Cursor produces, on demand, a Chunk: a flat array of feature ids, a parallel flat
// array of label ids, and per-sentence {Start, Len} records into both. Cursors can be
// rewound to the beginning of the corpus with Reset.
//
// Implementations:
//
//   - TextCursor: column text files, one `feature [label]` pair per line, blank line between sentences.
//   - RawTextCursor: one sentence per line, labels are the next token (language-model style).
//   - ParquetCursor: parquet files with `features` and `labels` string lists per row.
//   - SliceCursor: pre-tokenized in-memory sentences, mostly for tests.
package corpus

import (
	"math/rand"
	"slices"

	"github.com/pkg/errors"
)

// Cursor is the source of sentences for a minibatch stream.
type Cursor interface {
	// Next reads up to maxSentences sentences. A chunk with no sentences means the end of the corpus.
	Next(maxSentences int) (*Chunk, error)

	// Reset rewinds the cursor to the beginning of the corpus.
	Reset() error

	// Close releases the resources held by the cursor.
	Close() error
}

// TokenMapper maps a token to its id. It is implemented by *vocab.LabelInfo.
type TokenMapper interface {
	ID(token string) (int, error)
}

// Sentence locates one sentence in the flat arrays of a Chunk.
type Sentence struct {
	Start int
	Len   int
}

// End returns one past the last position of the sentence.
func (s Sentence) End() int {
	return s.Start + s.Len
}

// Chunk is a batch of sentences read from a Cursor.
// Sentence records are immutable once produced, but their order may be shuffled.
type Chunk struct {
	Sentences []Sentence
	Features  []int
	Labels    []int
}

// Len returns the number of sentences in the chunk.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Sentences)
}

// Shuffle permutes the order of the sentences with the given seed. The flat arrays are untouched.
func (c *Chunk) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(c.Sentences), func(i, j int) {
		c.Sentences[i], c.Sentences[j] = c.Sentences[j], c.Sentences[i]
	})
}

// Markers are the begin/end of sentence tokens of the input (feature) and output (label) streams.
// An empty output marker reuses the input one.
type Markers struct {
	InBegin, InEnd   string
	OutBegin, OutEnd string
}

func (m Markers) outBegin() string {
	if m.OutBegin != "" {
		return m.OutBegin
	}
	return m.InBegin
}

func (m Markers) outEnd() string {
	if m.OutEnd != "" {
		return m.OutEnd
	}
	return m.InEnd
}

// wrap adds the begin and end markers to a sentence, if configured and not yet present.
func (m Markers) wrap(features, labels []string) ([]string, []string) {
	if len(features) == 0 {
		return features, labels
	}
	var preF, preL, postF, postL []string
	if m.InBegin != "" && features[0] != m.InBegin {
		preF, preL = []string{m.InBegin}, []string{m.outBegin()}
	}
	if m.InEnd != "" && features[len(features)-1] != m.InEnd {
		postF, postL = []string{m.InEnd}, []string{m.outEnd()}
	}
	if preF == nil && postF == nil {
		return features, labels
	}
	return slices.Concat(preF, features, postF), slices.Concat(preL, labels, postL)
}

// chunkBuilder maps token sentences to ids and appends them to a chunk.
type chunkBuilder struct {
	chunk   *Chunk
	in, out TokenMapper
	markers Markers
}

func newChunkBuilder(in, out TokenMapper, markers Markers) *chunkBuilder {
	return &chunkBuilder{chunk: &Chunk{}, in: in, out: out, markers: markers}
}

// add appends one sentence. Empty sentences are ignored.
func (b *chunkBuilder) add(features, labels []string) error {
	if len(features) != len(labels) {
		return errors.Errorf("sentence has %d features but %d labels", len(features), len(labels))
	}
	features, labels = b.markers.wrap(features, labels)
	if len(features) == 0 {
		return nil
	}
	start := len(b.chunk.Features)
	for i := range features {
		featureID, err := b.in.ID(features[i])
		if err != nil {
			return errors.WithMessagef(err, "feature %d of sentence %d", i, len(b.chunk.Sentences))
		}
		labelID, err := b.out.ID(labels[i])
		if err != nil {
			return errors.WithMessagef(err, "label %d of sentence %d", i, len(b.chunk.Sentences))
		}
		b.chunk.Features = append(b.chunk.Features, featureID)
		b.chunk.Labels = append(b.chunk.Labels, labelID)
	}
	b.chunk.Sentences = append(b.chunk.Sentences, Sentence{Start: start, Len: len(features)})
	return nil
}

func (b *chunkBuilder) len() int {
	return len(b.chunk.Sentences)
}
