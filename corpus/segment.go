package corpus

import (
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Segmenter splits a line of raw text into tokens.
type Segmenter interface {
	Segment(line string) []string
}

// WhitespaceSegmenter splits lines on white space.
type WhitespaceSegmenter struct{}

// Segment implements Segmenter.
func (WhitespaceSegmenter) Segment(line string) []string {
	return strings.Fields(norm.NFC.String(line))
}

// SentencePieceSegmenter splits lines into SentencePiece pieces. The pieces (not the
// SentencePiece ids) are the tokens, so they are mapped through the stream vocabulary like
// any other token.
type SentencePieceSegmenter struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

// Compile time assert that SentencePieceSegmenter implements Segmenter.
var _ Segmenter = &SentencePieceSegmenter{}

// NewSentencePieceSegmenter loads a SentencePiece model proto ("tokenizer.model") from modelPath.
func NewSentencePieceSegmenter(modelPath string) (*SentencePieceSegmenter, error) {
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece processor from %q", modelPath)
	}
	return &SentencePieceSegmenter{
		Processor: proc,
		Info:      proc.ModelInfo(),
	}, nil
}

// Segment implements Segmenter.
func (s *SentencePieceSegmenter) Segment(line string) []string {
	tokens := s.Processor.Encode(line)
	pieces := make([]string, 0, len(tokens))
	for _, t := range tokens {
		pieces = append(pieces, t.Text)
	}
	return pieces
}

// NewSegmenter returns the segmenter by name: "" or "whitespace", or "sentencepiece"
// (which requires modelPath).
func NewSegmenter(name, modelPath string) (Segmenter, error) {
	switch name {
	case "", "whitespace":
		return WhitespaceSegmenter{}, nil
	case "sentencepiece":
		if modelPath == "" {
			return nil, errors.New("sentencepiece segmenter requires a model path")
		}
		return NewSentencePieceSegmenter(modelPath)
	default:
		return nil, errors.Errorf("unknown segmenter %q", name)
	}
}
