// Package dump saves minibatches to files in the safetensors layout, and reads them back.
//
// A dump file holds one tensor per buffer (features, labels, boundary matrix and packing
// flags), so minibatches can be inspected or replayed outside of the reader:
//
//	[8 bytes: header size as little-endian u64]
//	[header_size bytes: JSON header, space padded]
//	[remaining bytes: tensor data]
//
// Example:
//
//	tensors, err := stream.Tensors(buffers)
//	if err != nil { ... }
//	err = dump.Write("mb-000.safetensors", tensors, map[string]string{"epoch": "0"})
//
//	f, err := dump.Open("mb-000.safetensors")
//	if err != nil { ... }
//	defer f.Close()
//	features, err := f.ReadTensor("features")
package dump

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/seqbatch/internal/files"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultDirCreationPerm is used when creating the directory of a dump file.
var DefaultDirCreationPerm = os.FileMode(0755)

// headerAlignment is the alignment of the start of the tensor data.
const headerAlignment = 8

// TensorMetadata describes one tensor of a dump file.
type TensorMetadata struct {
	Name        string   `json:"-"`
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) byte offsets relative to the data section.
}

// Header is the parsed JSON header of a dump file.
type Header struct {
	Tensors  map[string]*TensorMetadata
	Metadata map[string]string
}

// Names returns the tensor names in file order.
func (h *Header) Names() []string {
	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return int(h.Tensors[a].DataOffsets[0] - h.Tensors[b].DataOffsets[0])
	})
	return names
}

// Write saves the tensors to path, in name order, with optional metadata. The file is written
// to a temporary file and then moved into place.
func Write(path string, tensorsByName map[string]*tensors.Tensor, metadata map[string]string) error {
	if len(tensorsByName) == 0 {
		return errors.Errorf("no tensors to write to %q", path)
	}
	names := make([]string, 0, len(tensorsByName))
	for name := range tensorsByName {
		names = append(names, name)
	}
	slices.Sort(names)

	rawHeader := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		rawHeader["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensorsByName[name]
		stDtype, err := dtypeToSafetensors(t.Shape().DType)
		if err != nil {
			return errors.WithMessagef(err, "tensor %q", name)
		}
		size := int64(t.Shape().Size()) * int64(t.Shape().DType.Size())
		rawHeader[name] = &TensorMetadata{
			Dtype:       stDtype,
			Shape:       slices.Clone(t.Shape().Dimensions),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(rawHeader)
	if err != nil {
		return errors.Wrap(err, "failed to encode dump header")
	}
	for len(headerBytes)%headerAlignment != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirCreationPerm); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", path)
	}
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := writeFile(tmpPath, headerBytes, names, tensorsByName); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && files.Exists(tmpPath) {
			klog.Warningf("failed removing temporary dump file %q: %v", tmpPath, rmErr)
		}
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "failed to move dump file %q to %q", tmpPath, path)
	}
	return nil
}

func writeFile(path string, headerBytes []byte, names []string, tensorsByName map[string]*tensors.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating dump file %q", path)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.Write(headerBytes); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write header")
	}
	for _, name := range names {
		var writeErr error
		tensorsByName[name].MutableBytes(func(data []byte) {
			_, writeErr = w.Write(data)
		})
		if writeErr != nil {
			_ = f.Close()
			return errors.Wrapf(writeErr, "failed to write tensor %q", name)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing dump file %q", path)
	}
	return errors.Wrapf(f.Close(), "closing dump file %q", path)
}

// safetensorsToGoMLXDtype maps safetensors dtype names to GoMLX dtype names.
var safetensorsToGoMLXDtype = map[string]string{
	"I8":   "Int8",
	"I16":  "Int16",
	"I32":  "Int32",
	"I64":  "Int64",
	"U8":   "Uint8",
	"U16":  "Uint16",
	"U32":  "Uint32",
	"U64":  "Uint64",
	"F16":  "Float16",
	"F32":  "Float32",
	"F64":  "Float64",
	"BF16": "BFloat16",
	"BOOL": "Bool",
}

func dtypeToGoMLX(stDtype string) (dtypes.DType, error) {
	if name, found := safetensorsToGoMLXDtype[stDtype]; found {
		if dtype, found := dtypes.MapOfNames[name]; found {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("dtype %q not supported", stDtype)
}

func dtypeToSafetensors(dtype dtypes.DType) (string, error) {
	for stDtype, name := range safetensorsToGoMLXDtype {
		if name == dtype.String() {
			return stDtype, nil
		}
	}
	return "", errors.Errorf("dtype %s can't be saved", dtype)
}
