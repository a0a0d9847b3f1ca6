package corpus

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
	"golang.org/x/text/unicode/norm"
	"k8s.io/klog/v2"
)

// MaxLineLength is the longest line accepted by the text cursors.
var MaxLineLength = 16 * 1024 * 1024

// lineSource scans the lines of a memory-mapped file and can be rewound.
type lineSource struct {
	path    string
	reader  *mmap.ReaderAt
	scanner *bufio.Scanner
	lineNum int
}

func openLines(path string) (*lineSource, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap corpus %s", path)
	}
	ls := &lineSource{path: path, reader: reader}
	ls.rewind()
	return ls, nil
}

func (ls *lineSource) rewind() {
	ls.scanner = bufio.NewScanner(io.NewSectionReader(ls.reader, 0, int64(ls.reader.Len())))
	ls.scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
	ls.lineNum = 0
}

// next returns the next line, trimmed. ok is false at the end of the file.
func (ls *lineSource) next() (line string, ok bool, err error) {
	if !ls.scanner.Scan() {
		if err := ls.scanner.Err(); err != nil {
			return "", false, errors.Wrapf(err, "reading %s after line %d", ls.path, ls.lineNum)
		}
		return "", false, nil
	}
	ls.lineNum++
	return strings.TrimSpace(ls.scanner.Text()), true, nil
}

func (ls *lineSource) close() error {
	return ls.reader.Close()
}

// TextOptions configures a TextCursor.
type TextOptions struct {
	Markers

	// In maps feature tokens, Out maps label tokens.
	In, Out TokenMapper
}

// TextCursor reads column text corpora: each non-blank line holds `feature [label]`, where
// the label defaults to the feature token, and a blank line ends a sentence.
type TextCursor struct {
	opts  TextOptions
	lines *lineSource

	pendingFeatures, pendingLabels []string
}

// Compile time assert that TextCursor implements Cursor.
var _ Cursor = &TextCursor{}

// NewTextCursor opens the column text corpus at path.
func NewTextCursor(path string, opts TextOptions) (*TextCursor, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, errors.New("text cursor requires both feature and label token mappers")
	}
	lines, err := openLines(path)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("reading sequence file %s (%d bytes)", path, lines.reader.Len())
	return &TextCursor{opts: opts, lines: lines}, nil
}

// Next implements Cursor.
func (c *TextCursor) Next(maxSentences int) (*Chunk, error) {
	b := newChunkBuilder(c.opts.In, c.opts.Out, c.opts.Markers)
	for b.len() < maxSentences {
		line, ok, err := c.lines.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := c.flush(b); err != nil {
				return nil, err
			}
			break
		}
		if line == "" {
			if err := c.flush(b); err != nil {
				return nil, err
			}
			continue
		}
		fields := strings.Fields(norm.NFC.String(line))
		label := fields[0]
		if len(fields) > 1 {
			label = fields[1]
		}
		c.pendingFeatures = append(c.pendingFeatures, fields[0])
		c.pendingLabels = append(c.pendingLabels, label)
	}
	return b.chunk, nil
}

func (c *TextCursor) flush(b *chunkBuilder) error {
	if len(c.pendingFeatures) == 0 {
		return nil
	}
	err := b.add(c.pendingFeatures, c.pendingLabels)
	c.pendingFeatures, c.pendingLabels = nil, nil
	if err != nil {
		return errors.WithMessagef(err, "%s line %d", c.lines.path, c.lines.lineNum)
	}
	return nil
}

// Reset implements Cursor.
func (c *TextCursor) Reset() error {
	c.lines.rewind()
	c.pendingFeatures, c.pendingLabels = nil, nil
	return nil
}

// Close implements Cursor.
func (c *TextCursor) Close() error {
	return c.lines.close()
}

// RawOptions configures a RawTextCursor.
type RawOptions struct {
	// Begin and End wrap every sentence, if set. Output markers are not used.
	Markers

	In, Out TokenMapper

	// Segmenter splits lines into tokens. Defaults to WhitespaceSegmenter.
	Segmenter Segmenter
}

// RawTextCursor reads one sentence per line and produces next-word labels: for the
// wrapped token sequence [begin] w1 ... wn [end], the features are all tokens but the
// last, and the labels all tokens but the first.
type RawTextCursor struct {
	opts  RawOptions
	lines *lineSource
}

// Compile time assert that RawTextCursor implements Cursor.
var _ Cursor = &RawTextCursor{}

// NewRawTextCursor opens the raw text corpus at path.
func NewRawTextCursor(path string, opts RawOptions) (*RawTextCursor, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, errors.New("raw text cursor requires both feature and label token mappers")
	}
	if opts.Segmenter == nil {
		opts.Segmenter = WhitespaceSegmenter{}
	}
	lines, err := openLines(path)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("reading raw text file %s (%d bytes)", path, lines.reader.Len())
	return &RawTextCursor{opts: opts, lines: lines}, nil
}

// Next implements Cursor.
func (c *RawTextCursor) Next(maxSentences int) (*Chunk, error) {
	b := newChunkBuilder(c.opts.In, c.opts.Out, Markers{})
	for b.len() < maxSentences {
		line, ok, err := c.lines.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		tokens := c.opts.Segmenter.Segment(line)
		if len(tokens) == 0 {
			continue
		}
		full := tokens
		if begin := c.opts.InBegin; begin != "" && full[0] != begin {
			full = append([]string{begin}, full...)
		}
		if end := c.opts.InEnd; end != "" && full[len(full)-1] != end {
			full = append(full, end)
		}
		if len(full) < 2 {
			continue
		}
		if err := b.add(full[:len(full)-1], full[1:]); err != nil {
			return nil, errors.WithMessagef(err, "%s line %d", c.lines.path, c.lines.lineNum)
		}
	}
	return b.chunk, nil
}

// Reset implements Cursor.
func (c *RawTextCursor) Reset() error {
	c.lines.rewind()
	return nil
}

// Close implements Cursor.
func (c *RawTextCursor) Close() error {
	return c.lines.close()
}
