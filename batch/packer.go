package batch

import (
	"github.com/pkg/errors"
)

// EnsureDataAvailable makes sure a set of sentences is scheduled and packed. It returns false
// when no more data is available for the epoch: either the epoch size was reached or the
// corpus is exhausted.
//
// When the chunk has no more eligible sentences, and DataMultiPass is set while the epoch
// sample target was not reached, the chunk is rewound. Otherwise the next chunk is read from
// the cursor and, with Randomize, shuffled with the stream seed (which is then incremented).
func (s *Stream) EnsureDataAvailable() (bool, error) {
	s.clearPacked()
	if s.epochSize > 0 && s.totalSentences > s.epochSize {
		return false, nil
	}

	n, fresh := s.findNextSentences(s.opts.Slots)
	if n == 0 && s.opts.DataMultiPass && s.totalSentences > 0 && s.epochSize > 0 && s.totalSamples < s.epochSize {
		s.tracef("chunk exhausted after %d samples of %d, rewinding", s.totalSamples, s.epochSize)
		clear(s.processed)
		s.lastProcessedSentence = 0
		n, fresh = s.findNextSentences(s.opts.Slots)
	}

	if n == 0 {
		if err := s.readChunk(); err != nil {
			return false, err
		}
		if s.chunk.Len() == 0 {
			s.tracef("no more data")
			return false, nil
		}
		n, fresh = s.findNextSentences(s.opts.Slots)
		if n == 0 {
			return false, nil
		}
	}
	if fresh {
		s.totalSentences += n
	}
	if err := s.pack(fresh); err != nil {
		return false, err
	}
	return true, nil
}

// readChunk drops the current chunk and reads the next one from the cursor.
func (s *Stream) readChunk() error {
	s.Reset()
	chunk, err := s.cursor.Next(s.opts.ChunkSize)
	if err != nil {
		return errors.WithMessagef(err, "stream %q: reading corpus", s.opts.FeaturesName)
	}
	if chunk.Len() == 0 {
		return nil
	}
	s.chunk = chunk
	s.processed = make([]bool, chunk.Len())
	s.numRead = chunk.Len()
	if s.opts.Randomize {
		chunk.Shuffle(s.seed)
		s.seed++
	}
	return nil
}

// pack lays out the scheduled sentences time-major: for each step, one column per slot.
// Positions past the end of a sentence are padded with NullLabel and flagged NoLabels.
// Samples are only counted when the set is packed for the first time.
func (s *Stream) pack(fresh bool) error {
	if s.lastPosInSentence != 0 {
		return errors.Wrapf(ErrResumeMidSentence, "stream %q: resuming at position %d", s.opts.FeaturesName, s.lastPosInSentence)
	}
	slots := len(s.toProcess)
	if len(s.sentenceBeginAt) != slots || len(s.sentenceEndAt) != slots {
		return errors.Wrapf(ErrBoundaryMismatch, "stream %q: %d sentences scheduled but %d begin and %d end records",
			s.opts.FeaturesName, slots, len(s.sentenceBeginAt), len(s.sentenceEndAt))
	}
	if s.maxSentenceLength > s.mbSize {
		return errors.Wrapf(ErrCapacityTooSmall, "stream %q: sentence of length %d, minibatch size %d",
			s.opts.FeaturesName, s.maxSentenceLength, s.mbSize)
	}

	for k := range s.sentenceEndAt {
		s.sentenceEndAt[k] = unset
	}
	steps := s.maxSentenceLength
	s.boundary.Resize(slots, steps)
	s.boundary.Fill(float64(SentenceMiddle))
	s.packingFlags = resizeFlags(s.packingFlags, steps)

	numCtx := len(s.opts.WordContext)
	for j, t := 0, s.lastPosInSentence; j < steps; j, t = j+1, t+1 {
		for k, seq := range s.toProcess {
			sentence := s.chunk.Sentences[seq]
			if t == s.lastPosInSentence {
				s.sentenceBeginAt[k] = t
				if !s.opts.IgnoreSentenceBeginTag {
					s.boundary.Set(k, j, float64(SentenceBegin))
					s.packingFlags[j] |= PackingUtteranceStart
				}
			}
			if t == sentence.Len-1 {
				s.sentenceEndAt[k] = t
			}

			ctx := make([]int, numCtx)
			if t < sentence.Len {
				for i, offset := range s.opts.WordContext {
					pos := min(max(sentence.Start+t+offset, sentence.Start), sentence.End()-1)
					ctx[i] = s.chunk.Features[pos]
				}
				s.labelIDs = append(s.labelIDs, s.chunk.Labels[sentence.Start+t])
				if fresh {
					s.totalSamples++
				}
			} else {
				for i := range ctx {
					ctx[i] = NullLabel
				}
				s.labelIDs = append(s.labelIDs, NullLabel)
				s.boundary.Set(k, j, float64(NoLabels))
				s.packingFlags[j] |= PackingNoLabel
			}
			s.contexts = append(s.contexts, ctx)
			s.featureData = append(s.featureData, ctx[s.centerIndex])
		}
	}
	s.lastPosInSentence = 0
	return nil
}

// resizeFlags resizes flags to n, all set to PackingNone.
func resizeFlags(flags []PackingFlag, n int) []PackingFlag {
	flags = flags[:0]
	for range n {
		flags = append(flags, PackingNone)
	}
	return flags
}

// FeatureIDs returns the packed feature ids of the current minibatch in column order: the
// center token of the context window of each column, NullLabel for padding.
func (s *Stream) FeatureIDs() []int {
	return s.featureData
}

// Contexts returns the packed context windows of the current minibatch in column order.
func (s *Stream) Contexts() [][]int {
	return s.contexts
}

// LabelIDs returns the packed label ids of the current minibatch in column order, NullLabel for padding.
func (s *Stream) LabelIDs() []int {
	return s.labelIDs
}

// SentenceBounds returns, per slot, the first and last packed position of its sentence. A last
// position of -1 means the end of the sentence was not reached.
func (s *Stream) SentenceBounds() (beginAt, endAt []int) {
	return s.sentenceBeginAt, s.sentenceEndAt
}
