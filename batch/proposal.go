package batch

import (
	"github.com/pkg/errors"
)

// InitProposals saves the buffers served to decoding-time frames by GetFrame: the output label
// buffer for streams whose input is a proposal stream, the feature buffer otherwise.
func (s *Stream) InitProposals(matrices map[string]Matrix) error {
	name := s.opts.FeaturesName
	if s.in.IsProposal {
		name = s.opts.OutputLabelName
	}
	m, found := matrices[name]
	if !found {
		return errors.Wrapf(ErrBufferNotFound, "stream %q: buffer %q to save for proposals", s.opts.FeaturesName, name)
	}
	s.saved[name] = CopyOf(m)
	return nil
}

// GetFrame fills the buffers for decoding step t and returns the updated decoding history.
//
// For proposal streams, the feature buffer is resized to [inputDim × len(WordContext), slots]
// and holds the one-hot context window built from the tail of history, where offset 0 is the
// last decoded id; an empty history is first seeded with the begin of sentence id. Other
// streams copy columns [t, t+slots) of the buffers saved by InitProposals.
func (s *Stream) GetFrame(matrices map[string]Matrix, t int, history []int) ([]int, error) {
	if s.mbSize == 0 {
		return history, errors.WithStack(ErrNotStarted)
	}
	if !s.in.IsProposal {
		return history, s.copySavedFrame(matrices, t)
	}

	features, found := matrices[s.opts.FeaturesName]
	if !found {
		return history, errors.Wrapf(ErrBufferNotFound, "features buffer %q", s.opts.FeaturesName)
	}
	if s.opts.Slots != 1 {
		return history, errors.Errorf("stream %q: proposals are decoded one sentence at a time, got %d slots",
			s.opts.FeaturesName, s.opts.Slots)
	}
	if len(history) == 0 {
		id, found := s.in.Lookup(s.in.BeginSequence)
		if !found {
			return history, errors.Errorf("stream %q: begin of sentence %q not in the input vocabulary",
				s.opts.FeaturesName, s.in.BeginSequence)
		}
		history = append(history, id)
	}

	dim := s.in.Dim
	features.Resize(dim*len(s.opts.WordContext), s.opts.Slots)
	for i, offset := range s.opts.WordContext {
		pos := min(max(len(history)+offset-1, 0), len(history)-1)
		id := history[pos]
		if id < 0 || id >= dim {
			return history, errors.Errorf("stream %q: history id %d out of range [0, %d)", s.opts.FeaturesName, id, dim)
		}
		features.Set(id+i*dim, 0, 1)
	}
	return history, nil
}

func (s *Stream) copySavedFrame(matrices map[string]Matrix, t int) error {
	slots := s.opts.Slots
	for name, saved := range s.saved {
		m, found := matrices[name]
		if !found {
			continue
		}
		rows, cols := saved.Dims()
		if t < 0 || t+slots > cols {
			return errors.Errorf("stream %q: frame %d out of range of saved buffer %q with %d columns",
				s.opts.FeaturesName, t, name, cols)
		}
		m.Resize(rows, slots)
		for c := range slots {
			for r := range rows {
				if v := saved.At(r, t+c); v != 0 {
					m.Set(r, c, v)
				}
			}
		}
	}
	return nil
}
