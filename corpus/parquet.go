package corpus

import (
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// SentenceRow is one sentence of a parquet corpus. If Labels is empty, the features are
// used as labels.
type SentenceRow struct {
	Features []string `parquet:"features"`
	Labels   []string `parquet:"labels"`
}

// ParquetOptions configures a ParquetCursor.
type ParquetOptions struct {
	Markers

	In, Out TokenMapper
}

// ParquetCursor reads sentences stored as SentenceRow rows in a parquet file.
type ParquetCursor struct {
	opts   ParquetOptions
	path   string
	file   *os.File
	reader *parquet.GenericReader[SentenceRow]
}

// Compile time assert that ParquetCursor implements Cursor.
var _ Cursor = &ParquetCursor{}

// NewParquetCursor opens the parquet corpus at path.
func NewParquetCursor(path string, opts ParquetOptions) (*ParquetCursor, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, errors.New("parquet cursor requires both feature and label token mappers")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open parquet corpus %s", path)
	}
	return &ParquetCursor{
		opts:   opts,
		path:   path,
		file:   f,
		reader: parquet.NewGenericReader[SentenceRow](f),
	}, nil
}

// NumRows returns the number of sentences in the file.
func (c *ParquetCursor) NumRows() int64 {
	return c.reader.NumRows()
}

// Next implements Cursor.
func (c *ParquetCursor) Next(maxSentences int) (*Chunk, error) {
	b := newChunkBuilder(c.opts.In, c.opts.Out, c.opts.Markers)
	rows := make([]SentenceRow, min(maxSentences, 1024))
	for b.len() < maxSentences {
		want := min(len(rows), maxSentences-b.len())
		n, err := c.reader.Read(rows[:want])
		for _, row := range rows[:n] {
			features := normalizeAll(row.Features)
			labels := features
			if len(row.Labels) > 0 {
				labels = normalizeAll(row.Labels)
			}
			if addErr := b.add(features, labels); addErr != nil {
				return nil, errors.WithMessagef(addErr, "parquet corpus %s", c.path)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read rows from %s", c.path)
		}
		if n == 0 {
			break
		}
	}
	return b.chunk, nil
}

// Reset implements Cursor.
func (c *ParquetCursor) Reset() error {
	return errors.Wrapf(c.reader.SeekToRow(0), "failed to rewind %s", c.path)
}

// Close implements Cursor.
func (c *ParquetCursor) Close() error {
	err := c.reader.Close()
	if closeErr := c.file.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "closing %s", c.path)
}

// WriteParquet writes rows as a parquet corpus readable by ParquetCursor.
func WriteParquet(w io.Writer, rows []SentenceRow) error {
	writer := parquet.NewGenericWriter[SentenceRow](w)
	if _, err := writer.Write(rows); err != nil {
		return errors.Wrap(err, "failed to write parquet rows")
	}
	return errors.Wrap(writer.Close(), "failed to close parquet writer")
}

func normalizeAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = norm.NFC.String(t)
	}
	return out
}
