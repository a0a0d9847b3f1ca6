package batch

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Names of the boundary tensors returned by Stream.Tensors, suffixed to the features name.
const (
	BoundarySuffix = ".boundary"
	FlagsSuffix    = ".flags"
)

// ToTensor converts m to a float32 GoMLX tensor shaped [rows, cols].
func ToTensor(m Matrix) (*tensors.Tensor, error) {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.Errorf("can't convert empty matrix (%d×%d) to a tensor", rows, cols)
	}
	data := make([]float32, rows*cols)
	if d, ok := m.(*Dense); ok {
		raw := d.Mat().RawMatrix()
		for r := range rows {
			for c, v := range raw.Data[r*raw.Stride : r*raw.Stride+cols] {
				data[r*cols+c] = float32(v)
			}
		}
	} else if sp, ok := m.(*Sparse); ok {
		for c := range cols {
			for r, v := range sp.Column(c) {
				data[r*cols+c] = float32(v)
			}
		}
	} else {
		for r := range rows {
			for c := range cols {
				data[r*cols+c] = float32(m.At(r, c))
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(data, rows, cols), nil
}

// FlagsToTensor converts packing flags to an int32 tensor shaped [steps].
func FlagsToTensor(flags []PackingFlag) (*tensors.Tensor, error) {
	if len(flags) == 0 {
		return nil, errors.New("no packing flags to convert")
	}
	data := make([]int32, len(flags))
	for i, f := range flags {
		data[i] = int32(f)
	}
	return tensors.FromFlatDataAndDimensions(data, len(flags)), nil
}

// Tensors converts the buffers of the current minibatch served by the stream, plus its
// boundary matrix and packing flags (named FeaturesName+BoundarySuffix and
// FeaturesName+FlagsSuffix), to GoMLX tensors.
func (s *Stream) Tensors(matrices map[string]Matrix) (map[string]*tensors.Tensor, error) {
	result := make(map[string]*tensors.Tensor)
	for name, m := range matrices {
		if !s.CanReadFor(name) {
			continue
		}
		if rows, cols := m.Dims(); rows == 0 || cols == 0 {
			continue
		}
		t, err := ToTensor(m)
		if err != nil {
			return nil, errors.WithMessagef(err, "buffer %q", name)
		}
		result[name] = t
	}
	if rows, cols := s.boundary.Dims(); rows > 0 && cols > 0 {
		t, err := ToTensor(s.boundary)
		if err != nil {
			return nil, err
		}
		result[s.opts.FeaturesName+BoundarySuffix] = t
		flags, err := FlagsToTensor(s.packingFlags)
		if err != nil {
			return nil, err
		}
		result[s.opts.FeaturesName+FlagsSuffix] = flags
	}
	return result, nil
}
