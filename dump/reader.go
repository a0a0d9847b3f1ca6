package dump

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// maxHeaderSize is a sanity check on the size of the JSON header.
const maxHeaderSize = 100 * 1024 * 1024

// File is an open dump file, memory-mapped for reading.
type File struct {
	Header *Header

	reader     *mmap.ReaderAt
	dataOffset int64
}

// Open parses the header of the dump file and memory-maps its contents.
func Open(path string) (*File, error) {
	header, dataOffset, err := parseHeader(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse header for %s", path)
	}
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %s", path)
	}
	return &File{Header: header, reader: reader, dataOffset: dataOffset}, nil
}

// Close releases the memory-mapped file.
func (f *File) Close() error {
	return f.reader.Close()
}

// Names returns the tensor names in file order.
func (f *File) Names() []string {
	return f.Header.Names()
}

// ReadTensor reads a tensor by name.
func (f *File) ReadTensor(name string) (*tensors.Tensor, error) {
	meta, ok := f.Header.Tensors[name]
	if !ok {
		return nil, errors.Errorf("tensor %s not found", name)
	}
	dtype, err := dtypeToGoMLX(meta.Dtype)
	if err != nil {
		return nil, err
	}
	t := tensors.FromShape(shapes.Make(dtype, meta.Shape...))
	tensorOffset := f.dataOffset + meta.DataOffsets[0]
	if end := f.dataOffset + meta.DataOffsets[1]; end > int64(f.reader.Len()) {
		return nil, errors.Errorf("tensor %s ends at byte %d, past the end of the file (%d bytes)", name, end, f.reader.Len())
	}
	var readErr error
	t.MutableBytes(func(data []byte) {
		if int64(len(data)) != meta.DataOffsets[1]-meta.DataOffsets[0] {
			readErr = errors.Errorf("tensor shape %s takes %d bytes, but the file holds %d bytes",
				t.Shape(), len(data), meta.DataOffsets[1]-meta.DataOffsets[0])
			return
		}
		_, readErr = f.reader.ReadAt(data, tensorOffset)
		if readErr == io.EOF {
			readErr = nil
		}
		if readErr != nil {
			readErr = errors.Wrapf(readErr, "failed to read tensor %s", name)
		}
	})
	if readErr != nil {
		return nil, readErr
	}
	return t, nil
}

// parseHeader reads the header of a dump file, and returns it along with the offset of the data section.
func parseHeader(path string) (*Header, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > maxHeaderSize {
		return nil, 0, errors.Errorf("header size too large: %d bytes", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header JSON")
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, 0, errors.Wrap(err, "failed to parse header JSON")
	}
	header := &Header{
		Tensors:  make(map[string]*TensorMetadata),
		Metadata: make(map[string]string),
	}
	for key, value := range rawHeader {
		if key == "__metadata__" {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, 0, errors.Wrap(err, "failed to parse __metadata__")
			}
			continue
		}
		var tm TensorMetadata
		if err := json.Unmarshal(value, &tm); err != nil {
			return nil, 0, errors.Wrapf(err, "failed to parse tensor metadata for %s", key)
		}
		tm.Name = key
		header.Tensors[key] = &tm
	}
	return header, int64(8 + headerSize), nil
}
