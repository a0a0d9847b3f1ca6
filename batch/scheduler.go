package batch

// FindNextSentences selects up to maxSlots sentences of the current chunk to pack together,
// and returns how many are scheduled.
//
// While the scheduled set is not fully processed (see DataEnd), the same set is returned. Once
// it is, the set is cleared and new sentences are admitted, scanning from the resume cursor to
// the end of the chunk and skipping processed ones. With EqualLength, only sentences of the
// same length as the first admitted one are taken, and the resume cursor moves past that first
// sentence. It returns 0 if no sentence is eligible.
func (s *Stream) FindNextSentences(maxSlots int) int {
	n, _ := s.findNextSentences(maxSlots)
	return n
}

// findNextSentences also reports whether the set was freshly admitted.
func (s *Stream) findNextSentences(maxSlots int) (n int, fresh bool) {
	if len(s.toProcess) > 0 && len(s.processed) > 0 {
		done := true
		for _, seq := range s.toProcess {
			if !s.processed[seq] {
				done = false
				break
			}
		}
		if done {
			s.lastPosInSentence = 0
			s.toProcess = s.toProcess[:0]
		}
	}

	if len(s.toProcess) > 0 && len(s.processed) > 0 {
		s.sentenceBeginAt = resizeInts(s.sentenceBeginAt, len(s.toProcess), unset)
		s.sentenceEndAt = resizeInts(s.sentenceEndAt, len(s.toProcess), unset)
		s.measureScheduled()
		return len(s.toProcess), false
	}

	s.maxSentenceLength = 0
	s.sentenceLength = s.sentenceLength[:0]
	if s.chunk.Len() == 0 {
		return 0, false
	}

	previousLen := -1
	for seq := s.lastProcessedSentence; seq < len(s.processed) && len(s.toProcess) < maxSlots; seq++ {
		if s.processed[seq] {
			continue
		}
		length := s.chunk.Sentences[seq].Len
		if s.opts.EqualLength {
			if previousLen >= 0 && length != previousLen {
				continue
			}
			if previousLen < 0 {
				s.lastProcessedSentence = seq + 1
			}
			previousLen = length
		}
		s.toProcess = append(s.toProcess, seq)
	}
	s.sentenceBeginAt = resizeInts(s.sentenceBeginAt[:0], len(s.toProcess), unset)
	s.sentenceEndAt = resizeInts(s.sentenceEndAt[:0], len(s.toProcess), unset)
	s.measureScheduled()
	return len(s.toProcess), len(s.toProcess) > 0
}

// measureScheduled records the length of each scheduled sentence and the longest one.
func (s *Stream) measureScheduled() {
	s.maxSentenceLength = 0
	s.sentenceLength = s.sentenceLength[:0]
	for _, seq := range s.toProcess {
		length := s.chunk.Sentences[seq].Len
		s.sentenceLength = append(s.sentenceLength, length)
		s.maxSentenceLength = max(s.maxSentenceLength, length)
	}
}

// resizeInts resizes values to n, keeping existing values and setting new ones to fill.
func resizeInts(values []int, n, fill int) []int {
	for len(values) < n {
		values = append(values, fill)
	}
	return values[:n]
}
