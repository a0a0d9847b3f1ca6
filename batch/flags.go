package batch

import (
	"math"
	"strings"
)

// BoundaryFlag marks each (slot, step) cell of the boundary matrix.
type BoundaryFlag int

const (
	SentenceMiddle BoundaryFlag = 0
	SentenceBegin  BoundaryFlag = 1
	NoLabels       BoundaryFlag = 8
)

// String implements fmt.Stringer.
func (f BoundaryFlag) String() string {
	switch f {
	case SentenceMiddle:
		return "middle"
	case SentenceBegin:
		return "begin"
	case NoLabels:
		return "nolabels"
	default:
		return "invalid"
	}
}

// PackingFlag is the per-step summary of the boundary flags of all slots.
type PackingFlag uint8

const (
	PackingNone           PackingFlag = 0
	PackingUtteranceStart PackingFlag = 1 << (iota - 1)
	PackingUtteranceEnd
	PackingNoFeature
	PackingNoLabel
)

// Has returns whether all bits of other are set in f.
func (f PackingFlag) Has(other PackingFlag) bool {
	return f&other == other
}

// String implements fmt.Stringer.
func (f PackingFlag) String() string {
	if f == PackingNone {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		flag PackingFlag
		name string
	}{
		{PackingUtteranceStart, "start"},
		{PackingUtteranceEnd, "end"},
		{PackingNoFeature, "nofeature"},
		{PackingNoLabel, "nolabel"},
	} {
		if f.Has(p.flag) {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// NullLabel is the id used for padded positions. It is never a valid vocabulary id.
const NullLabel = math.MaxInt32

// EndDataType selects the question asked to DataEnd.
type EndDataType int

const (
	EndDataNull EndDataType = iota
	EndDataEpoch
	EndDataSet
	EndDataSentence
)

// String implements fmt.Stringer.
func (t EndDataType) String() string {
	switch t {
	case EndDataNull:
		return "null"
	case EndDataEpoch:
		return "epoch"
	case EndDataSet:
		return "set"
	case EndDataSentence:
		return "sentence"
	default:
		return "invalid"
	}
}
