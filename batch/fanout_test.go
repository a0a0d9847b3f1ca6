package batch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMultiStream(t *testing.T, first, second [][]int, secondSlots int) *MultiStream {
	t.Helper()
	info := plainInfo(t, 6)
	ms := NewMultiStream()
	require.NoError(t, ms.Add("words", newTestStream(t, first, info, info,
		Options{FeaturesName: "wordsIn", OutputLabelName: "wordsOut"})))
	require.NoError(t, ms.Add("tags", newTestStream(t, second, info, info,
		Options{FeaturesName: "tagsIn", OutputLabelName: "tagsOut", Slots: secondSlots})))
	return ms
}

func TestMultiStreamRegistry(t *testing.T) {
	ms := newTestMultiStream(t, [][]int{{1}}, [][]int{{2}}, 1)
	assert.Equal(t, []string{"words", "tags"}, ms.Names())
	assert.Equal(t, 2, ms.Len())
	assert.NotNil(t, ms.Stream("tags"))
	assert.Nil(t, ms.Stream("other"))
	assert.Error(t, ms.Add("words", ms.Stream("words")))
	assert.Error(t, ms.Add("nil", nil))

	_, err := ms.SentenceEndIDFromOutputLabel()
	assert.Error(t, err)
	assert.Error(t, NewMultiStream().StartEpoch(4, 0, 0))
}

func TestMultiStreamGetMinibatch(t *testing.T) {
	ms := newTestMultiStream(t, [][]int{{1, 2}}, [][]int{{3, 4}, {5}}, 1)
	ms.SetRandomSeed(10)
	require.NoError(t, ms.StartEpoch(4, 0, 0))

	buffers := map[string]Matrix{
		"wordsIn": NewDense(0, 0), "wordsOut": NewDense(0, 0),
		"tagsIn": NewDense(0, 0), "tagsOut": NewDense(0, 0),
	}
	more, err := ms.GetMinibatch(buffers)
	require.NoError(t, err)
	require.True(t, more)
	for _, name := range ms.Names() {
		assert.Equal(t, int64(10), ms.Stream(name).RandomSeed())
	}
	for name, m := range buffers {
		_, cols := m.Dims()
		assert.Equal(t, 2, cols, "buffer %q", name)
	}

	boundary, flags, err := ms.SentenceSegBatch()
	require.NoError(t, err)
	rows, _ := boundary.Dims()
	assert.Equal(t, 1, rows)
	assert.Len(t, flags, 2)
	assert.Equal(t, 1, ms.NumParallelSequences())

	ended, err := ms.DataEnd(EndDataSentence)
	require.NoError(t, err)
	assert.True(t, ended)

	// "words" is exhausted but "tags" is not: the end is only reported when all streams agree.
	ended, err = ms.DataEnd(EndDataEpoch)
	require.NoError(t, err)
	assert.False(t, ended)

	// The first stream without data stops the minibatch.
	more, err = ms.GetMinibatch(buffers)
	require.NoError(t, err)
	assert.False(t, more)
	for _, name := range ms.Names() {
		assert.Equal(t, int64(11), ms.Stream(name).RandomSeed())
	}
}

func TestMultiStreamUnknownBuffer(t *testing.T) {
	ms := newTestMultiStream(t, [][]int{{1}}, [][]int{{2}}, 1)
	require.NoError(t, ms.StartEpoch(4, 0, 0))
	_, err := ms.GetMinibatch(map[string]Matrix{"wordsIn": NewDense(0, 0), "tagsIn": NewDense(0, 0), "bogus": NewDense(0, 0)})
	assert.True(t, errors.Is(err, ErrBufferNotFound), "got %+v", err)
}

func TestMultiStreamSlotMismatch(t *testing.T) {
	ms := newTestMultiStream(t, [][]int{{1}, {2}}, [][]int{{3}, {4}}, 2)
	require.NoError(t, ms.StartEpoch(4, 0, 0))
	more, err := ms.GetMinibatch(map[string]Matrix{"wordsIn": NewDense(0, 0), "tagsIn": NewDense(0, 0)})
	require.NoError(t, err)
	require.True(t, more)
	_, _, err = ms.SentenceSegBatch()
	assert.True(t, errors.Is(err, ErrBoundaryMismatch), "got %+v", err)

	require.NoError(t, ms.SetNumParallelSequences(3))
	assert.Equal(t, 3, ms.Stream("tags").Options().Slots)
}
