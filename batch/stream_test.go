package batch

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/gomlx/seqbatch/corpus"
	"github.com/gomlx/seqbatch/vocab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainInfo creates a plain vocabulary with tokens t0 ... t(dim-1).
func plainInfo(t *testing.T, dim int) *vocab.LabelInfo {
	t.Helper()
	var sb strings.Builder
	for i := range dim {
		fmt.Fprintf(&sb, "t%d\n", i)
	}
	v, err := vocab.Read(strings.NewReader(sb.String()), false)
	require.NoError(t, err)
	return vocab.NewLabelInfo(v, vocab.Options{})
}

func classInfo(t *testing.T, content string) *vocab.LabelInfo {
	t.Helper()
	v, err := vocab.Read(strings.NewReader(content), true)
	require.NoError(t, err)
	return vocab.NewLabelInfo(v, vocab.Options{Mode: vocab.Class})
}

func newTestStream(t *testing.T, sentences [][]int, in, out *vocab.LabelInfo, opts Options) *Stream {
	t.Helper()
	cursor, err := corpus.NewSliceCursor(sentences, nil)
	require.NoError(t, err)
	if opts.FeaturesName == "" {
		opts.FeaturesName = "features"
	}
	if opts.OutputLabelName == "" {
		opts.OutputLabelName = "labels"
	}
	s, err := New(cursor, in, out, opts)
	require.NoError(t, err)
	return s
}

func newBuffers() map[string]Matrix {
	return map[string]Matrix{"features": NewDense(0, 0), "labels": NewDense(0, 0)}
}

func TestPackContextWindow(t *testing.T) {
	// <s>=0, the=1, cat=2, </s>=3
	info := plainInfo(t, 4)
	s := newTestStream(t, [][]int{{0, 1, 2, 3}}, info, info, Options{WordContext: []int{-1, 0, 1}})
	require.NoError(t, s.StartEpoch(10, 0, 0))

	buffers := newBuffers()
	more, err := s.GetMinibatch(buffers)
	require.NoError(t, err)
	require.True(t, more)

	assert.Equal(t, [][]int{{0, 0, 1}, {0, 1, 2}, {1, 2, 3}, {2, 3, 3}}, s.Contexts())
	assert.Equal(t, []int{0, 1, 2, 3}, s.FeatureIDs())

	features := buffers["features"]
	rows, cols := features.Dims()
	assert.Equal(t, 12, rows)
	assert.Equal(t, 4, cols)
	// Step 1 ("the"): (<s>, the, cat), one block of 4 rows per context offset.
	for r := range rows {
		want := 0.0
		if r == 0 || r == 4+1 || r == 8+2 {
			want = 1
		}
		assert.Equal(t, want, features.At(r, 1), "row %d", r)
	}

	boundary, flags := s.SentenceSegBatch()
	bRows, bCols := boundary.Dims()
	assert.Equal(t, 1, bRows)
	assert.Equal(t, 4, bCols)
	assert.Equal(t, SentenceBegin, BoundaryFlag(boundary.At(0, 0)))
	for step := 1; step < 4; step++ {
		assert.Equal(t, SentenceMiddle, BoundaryFlag(boundary.At(0, step)))
	}
	assert.Equal(t, []PackingFlag{PackingUtteranceStart, PackingNone, PackingNone, PackingNone}, flags)

	labels := buffers["labels"]
	lRows, lCols := labels.Dims()
	assert.Equal(t, 4, lRows)
	assert.Equal(t, 4, lCols)
	for col := range 4 {
		assert.Equal(t, 1.0, labels.At(col, col))
	}
}

func TestFreeLengthPadding(t *testing.T) {
	info := plainInfo(t, 6)
	s := newTestStream(t, [][]int{{1, 2, 3}, {1, 2, 3, 4, 5}}, info, info, Options{Slots: 2})
	require.NoError(t, s.StartEpoch(5, 0, 0))

	buffers := newBuffers()
	more, err := s.GetMinibatch(buffers)
	require.NoError(t, err)
	require.True(t, more)

	_, endAt := s.SentenceBounds()
	assert.Equal(t, []int{2, 4}, endAt)

	boundary, flags := s.SentenceSegBatch()
	assert.Equal(t, NoLabels, BoundaryFlag(boundary.At(0, 3)))
	assert.Equal(t, NoLabels, BoundaryFlag(boundary.At(0, 4)))
	assert.Equal(t, SentenceMiddle, BoundaryFlag(boundary.At(1, 4)))
	assert.True(t, flags[3].Has(PackingNoLabel))
	assert.True(t, flags[4].Has(PackingNoLabel))
	assert.False(t, flags[2].Has(PackingNoLabel))
	assert.True(t, flags[0].Has(PackingUtteranceStart))

	// Column j holds slot j%2 at step j/2.
	labelIDs := s.LabelIDs()
	require.Len(t, labelIDs, 10)
	assert.Equal(t, NullLabel, labelIDs[6])
	assert.Equal(t, NullLabel, labelIDs[8])
	assert.Equal(t, 5, labelIDs[9])

	features := buffers["features"]
	rows, _ := features.Dims()
	for _, col := range []int{6, 8} {
		for r := range rows {
			assert.Zero(t, features.At(r, col))
		}
	}

	filled, err := s.GetLabelOutput(buffers["labels"], len(labelIDs))
	require.NoError(t, err)
	assert.Equal(t, 8, filled)
	assert.Equal(t, 8, s.Stats().Samples)
}

func TestNoLabelsOnlyOnPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const dim = 20
	var sentences [][]int
	for range 50 {
		sentence := make([]int, 1+rng.Intn(8))
		for i := range sentence {
			sentence[i] = rng.Intn(dim)
		}
		sentences = append(sentences, sentence)
	}
	info := plainInfo(t, dim)
	for _, equalLength := range []bool{true, false} {
		t.Run(fmt.Sprintf("equalLength=%v", equalLength), func(t *testing.T) {
			s := newTestStream(t, sentences, info, info, Options{Slots: 4, EqualLength: equalLength, ChunkSize: 16})
			require.NoError(t, s.StartEpoch(8, 0, 0))
			buffers := newBuffers()
			numSentences := 0
			for {
				more, err := s.GetMinibatch(buffers)
				require.NoError(t, err)
				if !more {
					break
				}
				slots := len(s.toProcess)
				numSentences += slots
				if equalLength {
					for _, length := range s.sentenceLength {
						require.Equal(t, s.sentenceLength[0], length, "mixed lengths in one slot set")
					}
				}
				for j, id := range s.LabelIDs() {
					slot, step := j%slots, j/slots
					padded := BoundaryFlag(s.boundary.At(slot, step)) == NoLabels
					require.Equal(t, id == NullLabel, padded, "column %d", j)
					require.Equal(t, step >= s.sentenceLength[slot], padded, "column %d", j)
				}
				ended, err := s.DataEnd(EndDataSentence)
				require.NoError(t, err)
				require.True(t, ended)
			}
			assert.Equal(t, len(sentences), numSentences)
		})
	}
}

func TestEqualLengthScheduling(t *testing.T) {
	info := plainInfo(t, 4)
	sentences := [][]int{{1, 1}, {2, 2, 2}, {1, 2}, {3, 3, 3}, {2, 1}}
	s := newTestStream(t, sentences, info, info, Options{Slots: 3, EqualLength: true})
	require.NoError(t, s.StartEpoch(5, 0, 0))
	buffers := newBuffers()

	more, err := s.GetMinibatch(buffers)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []int{0, 2, 4}, s.toProcess)
	assert.Equal(t, 1, s.lastProcessedSentence)

	// Until DataEnd, the same set is served again, and not counted twice.
	more, err = s.GetMinibatch(buffers)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []int{0, 2, 4}, s.toProcess)
	assert.Equal(t, 3, s.Stats().Sentences)
	assert.Equal(t, 6, s.Stats().Samples)

	ended, err := s.DataEnd(EndDataSentence)
	require.NoError(t, err)
	require.True(t, ended)

	// The skipped sentences of length 3 are still eligible.
	more, err = s.GetMinibatch(buffers)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []int{1, 3}, s.toProcess)
	assert.Equal(t, 2, s.NumParallelSequences())
	_, err = s.DataEnd(EndDataSentence)
	require.NoError(t, err)

	more, err = s.GetMinibatch(buffers)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 5, s.Stats().Sentences)
}

func TestFindNextSentences(t *testing.T) {
	info := plainInfo(t, 4)
	s := newTestStream(t, [][]int{{1}, {1, 2}}, info, info, Options{Slots: 2})
	assert.Equal(t, 0, s.FindNextSentences(2), "no chunk buffered")

	require.NoError(t, s.StartEpoch(4, 0, 0))
	require.NoError(t, s.readChunk())
	assert.Equal(t, 2, s.FindNextSentences(2))
	assert.Equal(t, 2, s.maxSentenceLength)
	assert.Equal(t, []int{1, 2}, s.sentenceLength)

	// Partially processed: the same set is returned.
	s.processed[0] = true
	assert.Equal(t, 2, s.FindNextSentences(2))
	s.processed[1] = true
	assert.Equal(t, 0, s.FindNextSentences(2))
	assert.Empty(t, s.toProcess)
}

func TestDataEnd(t *testing.T) {
	info := plainInfo(t, 4)
	s := newTestStream(t, [][]int{{1, 2}, {3}}, info, info, Options{})
	require.NoError(t, s.StartEpoch(4, 0, 0))
	more, err := s.GetMinibatch(newBuffers())
	require.NoError(t, err)
	require.True(t, more)

	s.sentenceEndAt[0] = unset
	_, err = s.DataEnd(EndDataSentence)
	require.True(t, errors.Is(err, ErrIncompleteSlot), "got %+v", err)
	assert.False(t, s.processed[s.toProcess[0]])

	s.sentenceEndAt[0] = 1
	for range 2 {
		ended, err := s.DataEnd(EndDataSentence)
		require.NoError(t, err)
		assert.True(t, ended)
	}

	// One more sentence available.
	ended, err := s.DataEnd(EndDataEpoch)
	require.NoError(t, err)
	assert.False(t, ended)
	_, err = s.DataEnd(EndDataSentence)
	require.NoError(t, err)
	ended, err = s.DataEnd(EndDataSet)
	require.NoError(t, err)
	assert.True(t, ended)

	_, err = s.DataEnd(EndDataNull)
	assert.Error(t, err)
}

func TestMultiPass(t *testing.T) {
	info := plainInfo(t, 4)
	sentences := [][]int{{1, 2, 3}, {3, 2, 1}}
	for _, multiPass := range []bool{true, false} {
		t.Run(fmt.Sprintf("multiPass=%v", multiPass), func(t *testing.T) {
			s := newTestStream(t, sentences, info, info, Options{DataMultiPass: multiPass})
			require.NoError(t, s.StartEpoch(5, 0, 12))
			buffers := newBuffers()
			var served [][]int
			for {
				more, err := s.GetMinibatch(buffers)
				require.NoError(t, err)
				if !more {
					break
				}
				served = append(served, append([]int(nil), s.FeatureIDs()...))
				_, err = s.DataEnd(EndDataSentence)
				require.NoError(t, err)
			}
			if multiPass {
				assert.Equal(t, [][]int{{1, 2, 3}, {3, 2, 1}, {1, 2, 3}, {3, 2, 1}}, served)
				assert.Equal(t, 12, s.Stats().Samples)
			} else {
				assert.Equal(t, [][]int{{1, 2, 3}, {3, 2, 1}}, served)
			}
		})
	}
}

func TestEpochSize(t *testing.T) {
	info := plainInfo(t, 4)
	sentences := [][]int{{1}, {2}, {3}, {1}, {2}}
	s := newTestStream(t, sentences, info, info, Options{})
	require.NoError(t, s.StartEpoch(2, 0, 2))
	count := 0
	for {
		more, err := s.GetMinibatch(newBuffers())
		require.NoError(t, err)
		if !more {
			break
		}
		count++
		_, err = s.DataEnd(EndDataSentence)
		require.NoError(t, err)
	}
	// Reading stops once the number of sentences exceeds the epoch size.
	assert.Equal(t, 3, count)

	// A new epoch starts from the beginning of the corpus.
	require.NoError(t, s.StartEpoch(2, 1, 0))
	more, err := s.GetMinibatch(newBuffers())
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []int{1}, s.FeatureIDs())
}

func TestPreconditions(t *testing.T) {
	info := plainInfo(t, 6)

	s := newTestStream(t, [][]int{{1, 2, 3, 4, 5}}, info, info, Options{})
	_, err := s.GetMinibatch(newBuffers())
	assert.True(t, errors.Is(err, ErrNotStarted), "got %+v", err)
	_, err = s.GetFrame(newBuffers(), 0, nil)
	assert.True(t, errors.Is(err, ErrNotStarted), "got %+v", err)
	assert.Error(t, s.StartEpoch(0, 0, 0))

	require.NoError(t, s.StartEpoch(3, 0, 0))
	_, err = s.GetMinibatch(newBuffers())
	assert.True(t, errors.Is(err, ErrCapacityTooSmall), "got %+v", err)

	require.NoError(t, s.StartEpoch(5, 0, 0))
	_, err = s.GetMinibatch(map[string]Matrix{"labels": NewDense(0, 0)})
	assert.True(t, errors.Is(err, ErrBufferNotFound), "got %+v", err)

	// A missing label buffer is not an error.
	require.NoError(t, s.StartEpoch(5, 0, 0))
	more, err := s.GetMinibatch(map[string]Matrix{"features": NewSparse(0, 0)})
	require.NoError(t, err)
	assert.True(t, more)

	require.NoError(t, s.StartEpoch(5, 0, 0))
	require.NoError(t, s.readChunk())
	require.Equal(t, 1, s.FindNextSentences(1))
	s.lastPosInSentence = 2
	assert.True(t, errors.Is(s.pack(true), ErrResumeMidSentence))
	s.lastPosInSentence = 0
	s.sentenceEndAt = nil
	assert.True(t, errors.Is(s.pack(true), ErrBoundaryMismatch))
}

func TestInconsistentFeature(t *testing.T) {
	// Feature id 5 is outside of the 4 words input vocabulary.
	in := plainInfo(t, 4)
	out := plainInfo(t, 6)
	s := newTestStream(t, [][]int{{1, 5}}, in, out, Options{})
	require.NoError(t, s.StartEpoch(4, 0, 0))
	_, err := s.GetMinibatch(newBuffers())
	assert.True(t, errors.Is(err, ErrInconsistentFeature), "got %+v", err)
}

func TestIgnoreSentenceBeginTag(t *testing.T) {
	info := plainInfo(t, 4)
	s := newTestStream(t, [][]int{{1, 2}}, info, info, Options{IgnoreSentenceBeginTag: true})
	require.NoError(t, s.StartEpoch(4, 0, 0))
	_, err := s.GetMinibatch(newBuffers())
	require.NoError(t, err)
	boundary, flags := s.SentenceSegBatch()
	assert.Equal(t, SentenceMiddle, BoundaryFlag(boundary.At(0, 0)))
	assert.Equal(t, []PackingFlag{PackingNone, PackingNone}, flags)
	beginAt, _ := s.SentenceBounds()
	assert.Equal(t, []int{0}, beginAt)
}

func TestClassLabelOutput(t *testing.T) {
	in := plainInfo(t, 3)
	out := classInfo(t, "a 0\nb 0\nc 1\n")
	s := newTestStream(t, [][]int{{0, 1, 2}}, in, out, Options{})
	require.NoError(t, s.StartEpoch(4, 0, 0))
	buffers := newBuffers()
	_, err := s.GetMinibatch(buffers)
	require.NoError(t, err)

	labels := buffers["labels"]
	rows, cols := labels.Dims()
	require.Equal(t, 4, rows)
	require.Equal(t, 3, cols)
	want := [][]float64{
		{0, 1, 2}, // word
		{0, 0, 1}, // class
		{0, 0, 2}, // begin
		{2, 2, 3}, // end
	}
	for r := range rows {
		for c := range cols {
			assert.Equal(t, want[r][c], labels.At(r, c), "row %d col %d", r, c)
		}
	}
	for c := range cols {
		id := labels.At(0, c)
		assert.LessOrEqual(t, labels.At(2, c), id)
		assert.Less(t, id, labels.At(3, c))
	}
}

func TestClassModeRequiresClasses(t *testing.T) {
	info := plainInfo(t, 3)
	out := plainInfo(t, 3)
	out.Mode = vocab.Class
	cursor, err := corpus.NewSliceCursor([][]int{{1}}, nil)
	require.NoError(t, err)
	_, err = New(cursor, info, out, Options{FeaturesName: "features"})
	assert.True(t, errors.Is(err, ErrModeMismatch), "got %+v", err)
}

func TestRandomize(t *testing.T) {
	info := plainInfo(t, 30)
	var sentences [][]int
	for i := range 30 {
		sentences = append(sentences, []int{i})
	}
	order := func(seed int64) []int {
		s := newTestStream(t, sentences, info, info, Options{Randomize: true})
		s.SetRandomSeed(seed)
		require.NoError(t, s.StartEpoch(1, 0, 0))
		var ids []int
		for {
			more, err := s.GetMinibatch(newBuffers())
			require.NoError(t, err)
			if !more {
				break
			}
			ids = append(ids, s.FeatureIDs()...)
			_, err = s.DataEnd(EndDataSentence)
			require.NoError(t, err)
		}
		assert.Equal(t, seed+1, s.RandomSeed(), "seed incremented once per chunk")
		return ids
	}
	a, b := order(5), order(5)
	assert.Equal(t, a, b)
	assert.Len(t, a, 30)
	assert.NotEqual(t, a, order(6))
}

func TestStreamQueries(t *testing.T) {
	in := plainInfo(t, 3)
	v, err := vocab.Read(strings.NewReader("<s>\nw\n</s>\n"), false)
	require.NoError(t, err)
	out := vocab.NewLabelInfo(v, vocab.Options{EndSequence: "</s>"})
	s := newTestStream(t, [][]int{{1}}, in, out, Options{InputLabelName: "labelsIn", Slots: 3})

	assert.True(t, s.CanReadFor("features"))
	assert.True(t, s.CanReadFor("labelsIn"))
	assert.True(t, s.CanReadFor("labels"))
	assert.False(t, s.CanReadFor("other"))
	assert.False(t, s.CanReadFor(""))

	assert.Equal(t, 2, s.SentenceEndIDFromOutputLabel())
	s.out.EndSequence = "<eos>"
	assert.Equal(t, -1, s.SentenceEndIDFromOutputLabel())

	assert.Equal(t, 3, s.NumParallelSequences())
	require.NoError(t, s.SetNumParallelSequences(2))
	assert.Equal(t, 2, s.NumParallelSequences())
	assert.Error(t, s.SetNumParallelSequences(0))
}
