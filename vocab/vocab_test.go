package vocab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadPlain(t *testing.T) {
	v, err := Read(strings.NewReader("<s>\nthe\n  cat \n</s>\n\nignored\n"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"<s>", "the", "cat", "</s>"}, v.Tokens)
	assert.False(t, v.HasClasses())
	assert.Equal(t, 4, v.Len())
}

func TestLoadClasses(t *testing.T) {
	path := writeFile(t, "words.cls", "a 0\nb\t0\nc 1\n")
	v, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, path, v.Path)
	assert.Equal(t, []int{0, 0, 1}, v.Classes)
	assert.Equal(t, 2, v.NumClasses)

	info := NewLabelInfo(v, Options{Mode: Class})
	ci := ComputeIntervals(info)
	require.NotNil(t, ci)
	assert.Equal(t, []int{0, 2}, ci.Begin)
	assert.Equal(t, []int{2, 3}, ci.End)

	// Idempotent: the cached table is returned.
	assert.Same(t, ci, ComputeIntervals(info))
}

func TestReadClassesErrors(t *testing.T) {
	_, err := Read(strings.NewReader("a 1\nb 0\n"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClassOrder))
	assert.ErrorContains(t, err, "grouped into classes and ascending")

	_, err = Read(strings.NewReader("a\n"), true)
	assert.ErrorContains(t, err, "token classId")

	_, err = Read(strings.NewReader("a x\n"), true)
	assert.ErrorContains(t, err, "invalid class id")

	_, err = Read(strings.NewReader("a -1\n"), true)
	assert.ErrorContains(t, err, "negative class id")

	_, err = Load(filepath.Join(t.TempDir(), "missing"), false)
	assert.ErrorContains(t, err, "cannot open vocabulary")
}

func TestIntervalsPartitionIDs(t *testing.T) {
	v, err := Read(strings.NewReader("w0 0\nw1 0\nw2 0\nw3 1\nw4 3\nw5 3\nw6 4\n"), true)
	require.NoError(t, err)
	info := NewLabelInfo(v, Options{Mode: Class})
	require.Equal(t, 5, info.NumClasses)

	covered := 0
	for id := range info.Dim {
		class := info.IDToClass[id]
		begin, end, err := info.Interval(class)
		require.NoError(t, err)
		assert.LessOrEqual(t, begin, id)
		assert.Less(t, id, end)
	}
	ci := info.Intervals()
	prevEnd := 0
	for class := range ci.NumClasses() {
		if ci.End[class] <= ci.Begin[class] {
			// Unpopulated class.
			continue
		}
		assert.Equal(t, prevEnd, ci.Begin[class], "gap or overlap before class %d", class)
		prevEnd = ci.End[class]
		covered += ci.End[class] - ci.Begin[class]
	}
	assert.Equal(t, info.Dim, covered)
	assert.Equal(t, info.Dim, prevEnd)

	// Class 2 has no words.
	_, _, err = info.Interval(2)
	assert.True(t, errors.Is(err, ErrBadClassInterval))
	_, _, err = info.Interval(7)
	assert.ErrorContains(t, err, "out of range")
}

func TestPlainModeHasNoIntervals(t *testing.T) {
	v, err := Read(strings.NewReader("a 0\nb 1\n"), true)
	require.NoError(t, err)
	info := NewLabelInfo(v, Options{Mode: Plain})
	assert.Nil(t, info.Intervals())
	_, _, err = info.Interval(0)
	assert.ErrorContains(t, err, "no classes")
}

func TestLabelInfoID(t *testing.T) {
	v, err := Read(strings.NewReader("<unk>\nthe\ncat\n"), false)
	require.NoError(t, err)
	info := NewLabelInfo(v, Options{Unknown: "<unk>"})
	id, err := info.ID("cat")
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	id, err = info.ID("dog")
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	noUnk := NewLabelInfo(v, Options{Unknown: "<oov>"})
	_, err = noUnk.ID("dog")
	assert.True(t, errors.Is(err, ErrNoUnknownToken))
}

func TestParseMode(t *testing.T) {
	for s, want := range map[string]Mode{"": Plain, "plain": Plain, "class": Class} {
		got, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("Category")
	assert.Error(t, err)
	assert.Equal(t, "class", Class.String())
}

func TestCache(t *testing.T) {
	path := writeFile(t, "words", "a\nb\n")
	c, err := NewCache(0)
	require.NoError(t, err)
	v1, err := c.Load(path, false)
	require.NoError(t, err)
	v2, err := c.Load(path, false)
	require.NoError(t, err)
	assert.Same(t, v1, v2)
	assert.Equal(t, 1, c.Len())

	// Changing the mapping of one LabelInfo doesn't affect the cached vocabulary.
	info := NewLabelInfo(v1, Options{})
	info.TokenToID["a"] = 1
	other := NewLabelInfo(v2, Options{})
	assert.Equal(t, 0, other.TokenToID["a"])

	var nilCache *Cache
	v3, err := nilCache.Load(path, false)
	require.NoError(t, err)
	assert.NotSame(t, v1, v3)
}
