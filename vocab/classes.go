package vocab

import (
	"github.com/pkg/errors"
)

// ClassIntervals is the [2 × numClasses] class table: Begin[c] is the first id of class c,
// End[c] is one past its last id.
type ClassIntervals struct {
	Begin []int
	End   []int
}

// NumClasses returns the number of classes in the table.
func (ci *ClassIntervals) NumClasses() int {
	return len(ci.Begin)
}

// ComputeIntervals builds and caches the class-interval table of info.
// It is a no-op if already computed or if info has no classes.
//
// Ids are scanned in order and a boundary is recorded whenever the class changes; the
// last class ends at the number of words.
func ComputeIntervals(info *LabelInfo) *ClassIntervals {
	if info.intervals != nil || info.NumClasses == 0 {
		return info.intervals
	}
	numWords := len(info.IDToToken)
	ci := &ClassIntervals{
		Begin: make([]int, info.NumClasses),
		End:   make([]int, info.NumClasses),
	}
	prevClass := -1
	for id := range numWords {
		class := info.IDToClass[id]
		if class == prevClass {
			continue
		}
		if prevClass >= 0 {
			ci.End[prevClass] = id
		}
		prevClass = class
		ci.Begin[class] = id
	}
	if prevClass >= 0 {
		ci.End[prevClass] = numWords
	}
	info.intervals = ci
	return ci
}

// Intervals returns the class table, computing it if needed. It returns nil if info has no classes.
func (info *LabelInfo) Intervals() *ClassIntervals {
	return ComputeIntervals(info)
}

// Interval returns the half-open id range [begin, end) of class.
func (info *LabelInfo) Interval(class int) (begin, end int, err error) {
	ci := ComputeIntervals(info)
	if ci == nil {
		return 0, 0, errors.Errorf("label stream has no classes")
	}
	if class < 0 || class >= ci.NumClasses() {
		return 0, 0, errors.Errorf("class %d out of range [0, %d)", class, ci.NumClasses())
	}
	begin, end = ci.Begin[class], ci.End[class]
	if end <= begin {
		return begin, end, errors.Wrapf(ErrBadClassInterval, "class %d has interval [%d, %d)", class, begin, end)
	}
	return begin, end, nil
}
