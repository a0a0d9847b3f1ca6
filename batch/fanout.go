package batch

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MultiStream feeds several named streams in lockstep, each filling its own buffers of a
// shared buffer map. Streams are called in the order they were added.
type MultiStream struct {
	names   []string
	streams map[string]*Stream
	seed    int64
	checked bool
}

// NewMultiStream creates an empty MultiStream.
func NewMultiStream() *MultiStream {
	return &MultiStream{streams: make(map[string]*Stream)}
}

// Add registers a stream under name.
func (ms *MultiStream) Add(name string, s *Stream) error {
	if s == nil {
		return errors.Errorf("stream %q is nil", name)
	}
	if _, found := ms.streams[name]; found {
		return errors.Errorf("stream %q added twice", name)
	}
	ms.names = append(ms.names, name)
	ms.streams[name] = s
	return nil
}

// Names returns the stream names in order.
func (ms *MultiStream) Names() []string {
	return ms.names
}

// Stream returns the named stream, or nil.
func (ms *MultiStream) Stream(name string) *Stream {
	return ms.streams[name]
}

// Len returns the number of streams.
func (ms *MultiStream) Len() int {
	return len(ms.names)
}

func (ms *MultiStream) each(fn func(name string, s *Stream) error) error {
	for _, name := range ms.names {
		if err := fn(name, ms.streams[name]); err != nil {
			return errors.WithMessagef(err, "stream %q", name)
		}
	}
	return nil
}

// StartEpoch starts the epoch on every stream.
func (ms *MultiStream) StartEpoch(mbSize, epoch, epochSamples int) error {
	if ms.Len() == 0 {
		return errors.New("no streams to read from")
	}
	return ms.each(func(_ string, s *Stream) error {
		return s.StartEpoch(mbSize, epoch, epochSamples)
	})
}

// SetRandomSeed sets the seed copied into the streams on the next GetMinibatch.
func (ms *MultiStream) SetRandomSeed(seed int64) {
	ms.seed = seed
	for _, s := range ms.streams {
		s.SetRandomSeed(seed)
	}
}

// GetMinibatch fills the buffers of all streams. The first call checks that every requested
// buffer is served by some stream. Each call copies the seed into every stream and then
// increments it. It returns false as soon as one stream has no more data.
func (ms *MultiStream) GetMinibatch(matrices map[string]Matrix) (bool, error) {
	if !ms.checked {
		for name := range matrices {
			if !ms.canReadFor(name) {
				return false, errors.Wrapf(ErrBufferNotFound, "no stream serves buffer %q", name)
			}
		}
		ms.checked = true
	}
	for _, name := range ms.names {
		ms.streams[name].SetRandomSeed(ms.seed)
	}
	ms.seed++

	for _, name := range ms.names {
		more, err := ms.streams[name].GetMinibatch(matrices)
		if err != nil {
			return false, errors.WithMessagef(err, "stream %q", name)
		}
		if !more {
			klog.V(1).Infof("stream %q has no more data", name)
			return false, nil
		}
	}
	return true, nil
}

func (ms *MultiStream) canReadFor(name string) bool {
	for _, s := range ms.streams {
		if s.CanReadFor(name) {
			return true
		}
	}
	return false
}

// DataEnd asks every stream and returns true only if all of them report the end.
func (ms *MultiStream) DataEnd(kind EndDataType) (bool, error) {
	ended := true
	err := ms.each(func(_ string, s *Stream) error {
		streamEnded, err := s.DataEnd(kind)
		ended = ended && streamEnded
		return err
	})
	if err != nil {
		return false, err
	}
	return ended, nil
}

// SentenceSegBatch returns the boundary matrix and packing flags of the first stream, after
// checking that all streams packed the same number of slots.
func (ms *MultiStream) SentenceSegBatch() (*Dense, []PackingFlag, error) {
	if ms.Len() == 0 {
		return nil, nil, errors.New("no streams")
	}
	var (
		boundary *Dense
		flags    []PackingFlag
	)
	for _, name := range ms.names {
		b, f := ms.streams[name].SentenceSegBatch()
		if boundary == nil {
			boundary, flags = b, f
			continue
		}
		rows, _ := boundary.Dims()
		if r, _ := b.Dims(); r != rows {
			return nil, nil, errors.Wrapf(ErrBoundaryMismatch, "stream %q has %d slots, expected %d", name, r, rows)
		}
	}
	return boundary, flags, nil
}

// NumParallelSequences returns the number of slots of the first stream.
func (ms *MultiStream) NumParallelSequences() int {
	if ms.Len() == 0 {
		return 0
	}
	return ms.streams[ms.names[0]].NumParallelSequences()
}

// SetNumParallelSequences sets the number of slots of every stream.
func (ms *MultiStream) SetNumParallelSequences(n int) error {
	return ms.each(func(_ string, s *Stream) error {
		return s.SetNumParallelSequences(n)
	})
}

// SentenceEndIDFromOutputLabel returns the end of sentence id of the output vocabulary. It is
// only defined for a single stream.
func (ms *MultiStream) SentenceEndIDFromOutputLabel() (int, error) {
	if ms.Len() != 1 {
		return -1, errors.Errorf("sentence end id is only defined for a single stream, got %d", ms.Len())
	}
	return ms.streams[ms.names[0]].SentenceEndIDFromOutputLabel(), nil
}

// InitProposals saves the proposal buffers of every stream.
func (ms *MultiStream) InitProposals(matrices map[string]Matrix) error {
	return ms.each(func(_ string, s *Stream) error {
		return s.InitProposals(matrices)
	})
}

// GetFrame fills the buffers of every stream for decoding step t. The history is threaded
// through the streams in order.
func (ms *MultiStream) GetFrame(matrices map[string]Matrix, t int, history []int) ([]int, error) {
	err := ms.each(func(_ string, s *Stream) error {
		var err error
		history, err = s.GetFrame(matrices, t, history)
		return err
	})
	return history, err
}

// Close closes all streams, returning the first error.
func (ms *MultiStream) Close() error {
	var firstErr error
	for _, name := range ms.names {
		if err := ms.streams[name].Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				klog.Errorf("closing stream %q: %+v", name, err)
			}
		}
	}
	return firstErr
}
