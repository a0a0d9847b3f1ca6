package batch

import (
	"github.com/gomlx/seqbatch/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GetMinibatch packs the next minibatch and fills the named buffers: the feature buffer
// (required) is resized to [inputDim × len(WordContext), columns] and holds one-hot context
// windows; the output label buffer, if present, is filled by GetLabelOutput.
//
// It returns false when there is no more data for the epoch.
func (s *Stream) GetMinibatch(matrices map[string]Matrix) (bool, error) {
	if s.mbSize == 0 {
		klog.Warningf("stream %q: minibatch requested before StartEpoch", s.opts.FeaturesName)
		return false, errors.WithStack(ErrNotStarted)
	}
	more, err := s.EnsureDataAvailable()
	if err != nil || !more {
		return false, err
	}

	actual := len(s.labelIDs)
	if actual > s.mbSize*len(s.toProcess) {
		return false, errors.Wrapf(ErrOverflow, "stream %q: %d samples for minibatch size %d and %d slots",
			s.opts.FeaturesName, actual, s.mbSize, len(s.toProcess))
	}
	if actual == 0 {
		klog.Warningf("stream %q: actual minibatch size is zero", s.opts.FeaturesName)
		return false, nil
	}

	features, found := matrices[s.opts.FeaturesName]
	if !found {
		return false, errors.Wrapf(ErrBufferNotFound, "features buffer %q", s.opts.FeaturesName)
	}
	if err := s.fillFeatures(features, actual); err != nil {
		return false, err
	}
	if labels, found := matrices[s.opts.OutputLabelName]; found {
		if _, err := s.GetLabelOutput(labels, actual); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Stream) fillFeatures(features Matrix, actual int) error {
	dim := s.in.Dim
	slots := len(s.sentenceEndAt)
	features.Resize(dim*len(s.opts.WordContext), actual)
	for j := range actual {
		slot, step := j%slots, j/slots
		for i, id := range s.contexts[j] {
			if id >= dim || id < 0 {
				if BoundaryFlag(s.boundary.At(slot, step)) != NoLabels {
					return errors.Wrapf(ErrInconsistentFeature, "stream %q: id %d at slot %d step %d, vocabulary size %d",
						s.opts.FeaturesName, id, slot, step, dim)
				}
				continue
			}
			value := 1.0
			if step > s.sentenceEndAt[slot] {
				value = 0
			}
			features.Set(id+i*dim, j, value)
		}
	}
	return nil
}

// GetLabelOutput fills labels with the label ids of the first actual columns, skipping
// positions past the end of their sentence. In plain mode labels is resized to
// [outputDim, actual] and holds one-hot columns; in class mode it is resized to [4, actual]
// with rows word id, class id, class begin and class end. It returns the number of columns
// filled.
func (s *Stream) GetLabelOutput(labels Matrix, actual int) (int, error) {
	if actual > len(s.labelIDs) {
		return 0, errors.Wrapf(ErrOverflow, "stream %q: %d label columns requested, %d packed",
			s.opts.FeaturesName, actual, len(s.labelIDs))
	}
	slots := len(s.sentenceEndAt)
	labels.Resize(s.emitter.rows(), actual)
	filled := 0
	for j := range actual {
		slot, step := j%slots, j/slots
		if step > s.sentenceEndAt[slot] {
			continue
		}
		if err := s.emitter.emit(labels, j, s.labelIDs[j]); err != nil {
			return filled, errors.WithMessagef(err, "stream %q: label column %d", s.opts.FeaturesName, j)
		}
		filled++
	}
	return filled, nil
}

// labelEmitter writes one label column. It is chosen once per stream from the label mode.
type labelEmitter interface {
	rows() int
	emit(labels Matrix, col, id int) error
}

func newLabelEmitter(info *vocab.LabelInfo) (labelEmitter, error) {
	switch info.Mode {
	case vocab.Plain:
		return plainEmitter{dim: info.Dim}, nil
	case vocab.Class:
		if info.NumClasses == 0 {
			return nil, errors.Wrap(ErrModeMismatch, "class mode requires a vocabulary with classes")
		}
		vocab.ComputeIntervals(info)
		return classEmitter{info: info}, nil
	default:
		return nil, errors.Errorf("unknown label mode %s", info.Mode)
	}
}

// plainEmitter writes one-hot columns.
type plainEmitter struct {
	dim int
}

func (e plainEmitter) rows() int { return e.dim }

func (e plainEmitter) emit(labels Matrix, col, id int) error {
	if id < 0 || id >= e.dim {
		return errors.Errorf("label id %d out of range [0, %d)", id, e.dim)
	}
	labels.Set(id, col, 1)
	return nil
}

// classEmitter writes word id, class id and the class id interval.
type classEmitter struct {
	info *vocab.LabelInfo
}

func (e classEmitter) rows() int { return 4 }

func (e classEmitter) emit(labels Matrix, col, id int) error {
	class, found := e.info.IDToClass[id]
	if !found {
		return errors.Errorf("label id %d has no class", id)
	}
	begin, end, err := e.info.Interval(class)
	if err != nil {
		return err
	}
	labels.Set(0, col, float64(id))
	labels.Set(1, col, float64(class))
	labels.Set(2, col, float64(begin))
	labels.Set(3, col, float64(end))
	return nil
}

// DataEnd answers end-of-data queries. For EndDataSentence it marks the scheduled sentences as
// processed, which requires every one of them to have been packed up to its end, and returns
// true. For EndDataEpoch and EndDataSet it returns whether no more data is available.
func (s *Stream) DataEnd(kind EndDataType) (bool, error) {
	switch kind {
	case EndDataEpoch, EndDataSet:
		more, err := s.EnsureDataAvailable()
		return !more, err
	case EndDataSentence:
		if len(s.sentenceEndAt) != len(s.toProcess) {
			return false, errors.Wrapf(ErrBoundaryMismatch, "stream %q: %d sentences scheduled but %d end records",
				s.opts.FeaturesName, len(s.toProcess), len(s.sentenceEndAt))
		}
		for k, end := range s.sentenceEndAt {
			if end == unset {
				return false, errors.Wrapf(ErrIncompleteSlot, "stream %q: slot %d", s.opts.FeaturesName, k)
			}
		}
		for _, seq := range s.toProcess {
			s.processed[seq] = true
		}
		return true, nil
	default:
		return false, errors.Errorf("unsupported end data type %s", kind)
	}
}
