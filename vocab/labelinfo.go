package vocab

import (
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Mode selects how labels of a stream are emitted.
type Mode int

const (
	// Plain emits labels as one-hot columns.
	Plain Mode = iota

	// Class emits labels as 4 rows: word id, class id, class interval begin and end.
	Class
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Class:
		return "class"
	default:
		return "unknown"
	}
}

// ParseMode converts "plain" or "class" to a Mode. An empty string is Plain.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "plain":
		return Plain, nil
	case "class":
		return Class, nil
	default:
		return Plain, errors.Errorf("unknown label mode %q, expected \"plain\" or \"class\"", s)
	}
}

// Options configures a LabelInfo.
type Options struct {
	Mode          Mode
	BeginSequence string
	EndSequence   string

	// Unknown is the token used when a token is not in the vocabulary.
	Unknown string

	// IsProposal marks the stream as fed by decoding proposals.
	IsProposal bool

	// LabelMappingFile, if set, is where the id->token list is written on Close.
	LabelMappingFile string
}

// LabelInfo holds the token/id mappings and class layout of one label stream.
// It is built once per stream and lives as long as the stream.
type LabelInfo struct {
	Options

	TokenToID map[string]int
	IDToToken map[int]string

	// IDToClass maps id to its class, only populated in class mode.
	IDToClass  map[int]int
	NumClasses int

	// Dim is the vocabulary size.
	Dim int

	// UsesWordMap is set by ApplyWordMap.
	UsesWordMap bool

	intervals *ClassIntervals
}

// NewLabelInfo creates a LabelInfo from a parsed vocabulary. The maps are copies, so the
// vocabulary can be shared (see Cache). v may be nil, for an empty stream.
func NewLabelInfo(v *Vocabulary, opts Options) *LabelInfo {
	info := &LabelInfo{
		Options:   opts,
		TokenToID: make(map[string]int),
		IDToToken: make(map[int]string),
		IDToClass: make(map[int]int),
	}
	if v == nil {
		return info
	}
	for id, token := range v.Tokens {
		info.TokenToID[token] = id
		info.IDToToken[id] = token
	}
	if opts.Mode == Class {
		for id, class := range v.Classes {
			info.IDToClass[id] = class
		}
		info.NumClasses = v.NumClasses
	}
	info.Dim = len(info.IDToToken)
	return info
}

// ID returns the id of token, falling back to the unknown token.
func (info *LabelInfo) ID(token string) (int, error) {
	if id, found := info.TokenToID[token]; found {
		return id, nil
	}
	if id, found := info.TokenToID[norm.NFC.String(token)]; found {
		return id, nil
	}
	if id, found := info.TokenToID[info.Unknown]; found && info.Unknown != "" {
		return id, nil
	}
	return 0, errors.Wrapf(ErrNoUnknownToken, "token %q not in vocabulary and unknown token %q not found", token, info.Unknown)
}

// Lookup returns the id of token, without any fallback.
func (info *LabelInfo) Lookup(token string) (id int, found bool) {
	id, found = info.TokenToID[token]
	return
}

// ApplyWordMap folds the token->id mapping through wordMap, see Remap.
func (info *LabelInfo) ApplyWordMap(wordMap map[string]string) error {
	remapped, err := Remap(info.TokenToID, wordMap, info.Unknown)
	if err != nil {
		return err
	}
	info.TokenToID = remapped
	info.UsesWordMap = true
	return nil
}
