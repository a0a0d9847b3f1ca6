// Package config defines the reader configuration: the list of named streams, each with
// its corpus, vocabularies and packing options.
//
// Configurations are YAML or JSON files, selected by extension:
//
//	seed: 1
//	streams:
//	  - name: words
//	    features: features
//	    wordContext: [-1, 0, 1]
//	    slots: 4
//	    corpus: {path: train.txt, format: text}
//	    inputLabel: {name: labelsIn, token: words.txt, beginSequence: "<s>", endSequence: "</s>"}
//	    outputLabel: {name: labels, token: words.cls, mode: class}
//
// Streams are kept in file order, which is the order in which they are fed.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/seqbatch/internal/files"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultUnknown   = "<unk>"
	DefaultChunkSize = 50000
	DefaultSlots     = 1
)

// Config is the top level configuration of a reader.
type Config struct {
	// Seed is the initial random seed, copied into every stream.
	Seed    int64    `json:"seed" yaml:"seed"`
	Streams []Stream `json:"streams" yaml:"streams"`
}

// Stream configures one named stream.
type Stream struct {
	Name     string `json:"name" yaml:"name"`
	Features string `json:"features" yaml:"features"`

	// WordContext lists the relative token offsets concatenated into each feature column,
	// conventionally in descending order. Defaults to [0].
	WordContext []int `json:"wordContext" yaml:"wordContext"`

	// Slots is the number of sentences processed in parallel per minibatch.
	Slots int `json:"slots" yaml:"slots"`

	// Randomize is "None" (default), "Auto" or "True".
	Randomize string `json:"randomize" yaml:"randomize"`

	// EqualLength packs only sentences of the same length together. Defaults to true.
	EqualLength            *bool `json:"equalLength" yaml:"equalLength"`
	DataMultiPass          bool  `json:"dataMultiPass" yaml:"dataMultiPass"`
	IgnoreSentenceBeginTag bool  `json:"ignoreSentenceBeginTag" yaml:"ignoreSentenceBeginTag"`

	WordMap    string `json:"wordMap" yaml:"wordMap"`
	Unknown    string `json:"unk" yaml:"unk"`
	TraceLevel int    `json:"traceLevel" yaml:"traceLevel"`

	Corpus      Corpus `json:"corpus" yaml:"corpus"`
	InputLabel  Label  `json:"inputLabel" yaml:"inputLabel"`
	OutputLabel Label  `json:"outputLabel" yaml:"outputLabel"`
}

// Corpus configures the corpus of a stream.
type Corpus struct {
	Path string `json:"path" yaml:"path"`

	// Format is "text" (default), "raw" or "parquet".
	Format string `json:"format" yaml:"format"`

	// Segmenter is used by the "raw" format: "whitespace" (default) or "sentencepiece".
	Segmenter          string `json:"segmenter" yaml:"segmenter"`
	SentencePieceModel string `json:"sentencePieceModel" yaml:"sentencePieceModel"`

	// ChunkSize is the number of sentences buffered from the corpus at a time.
	ChunkSize int `json:"chunkSize" yaml:"chunkSize"`
}

// Label configures an input or output label stream.
type Label struct {
	Name string `json:"name" yaml:"name"`

	// Token is the vocabulary file.
	Token string `json:"token" yaml:"token"`

	// Mode is "plain" (default) or "class".
	Mode          string `json:"mode" yaml:"mode"`
	BeginSequence string `json:"beginSequence" yaml:"beginSequence"`
	EndSequence   string `json:"endSequence" yaml:"endSequence"`
	UseWordMap    bool   `json:"useWordMap" yaml:"useWordMap"`
	IsProposal    bool   `json:"isProposal" yaml:"isProposal"`

	// LabelMappingFile is where the id->token list is written when the reader is closed.
	LabelMappingFile string `json:"labelMappingFile" yaml:"labelMappingFile"`
}

// Load reads the configuration at path: ".json" files are decoded as JSON, anything else as YAML.
// Relative file paths inside the configuration are resolved against the configuration directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %q", path)
	}
	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		cfg, err = ParseJSON(content)
	} else {
		cfg, err = ParseYAML(content)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	if err := cfg.ResolvePaths(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseYAML decodes, defaults and validates a YAML configuration.
func ParseYAML(content []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	return cfg, cfg.finish()
}

// ParseJSON decodes, defaults and validates a JSON configuration. Unknown fields are rejected.
func ParseJSON(content []byte) (*Config, error) {
	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse JSON")
	}
	return cfg, cfg.finish()
}

func (cfg *Config) finish() error {
	cfg.SetDefaults()
	return cfg.Validate()
}

// SetDefaults fills unset fields with their defaults.
func (cfg *Config) SetDefaults() {
	for i := range cfg.Streams {
		s := &cfg.Streams[i]
		if s.Name == "" {
			s.Name = "stream" + strconv.Itoa(i)
		}
		if len(s.WordContext) == 0 {
			s.WordContext = []int{0}
		}
		if s.Slots == 0 {
			s.Slots = DefaultSlots
		}
		if s.EqualLength == nil {
			equal := true
			s.EqualLength = &equal
		}
		if s.Unknown == "" {
			s.Unknown = DefaultUnknown
		}
		if s.Corpus.Format == "" {
			s.Corpus.Format = "text"
		}
		if s.Corpus.ChunkSize == 0 {
			s.Corpus.ChunkSize = DefaultChunkSize
		}
	}
}

// Validate reports the first invalid value of the configuration.
func (cfg *Config) Validate() error {
	if len(cfg.Streams) == 0 {
		return errors.New("no streams configured")
	}
	seen := make(map[string]bool)
	for i := range cfg.Streams {
		s := &cfg.Streams[i]
		if seen[s.Name] {
			return errors.Errorf("stream %q configured twice", s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return errors.WithMessagef(err, "stream %q", s.Name)
		}
	}
	return nil
}

// Validate reports the first invalid value of the stream configuration.
func (s *Stream) Validate() error {
	if s.Features == "" {
		return errors.New("features name is required")
	}
	if s.InputLabel.Name == "" || s.OutputLabel.Name == "" {
		return errors.New("two label definitions (inputLabel and outputLabel) are required")
	}
	if s.Slots < 0 {
		return errors.Errorf("invalid number of slots %d", s.Slots)
	}
	if s.Corpus.ChunkSize < 0 {
		return errors.Errorf("invalid chunk size %d", s.Corpus.ChunkSize)
	}
	if _, err := s.RandomizeEnabled(); err != nil {
		return err
	}
	if !slices.Contains([]string{"text", "raw", "parquet"}, s.Corpus.Format) {
		return errors.Errorf("unknown corpus format %q, expected \"text\", \"raw\" or \"parquet\"", s.Corpus.Format)
	}
	for _, l := range []*Label{&s.InputLabel, &s.OutputLabel} {
		if l.Mode != "" && l.Mode != "plain" && l.Mode != "class" {
			return errors.Errorf("label %q: unknown mode %q, expected \"plain\" or \"class\"", l.Name, l.Mode)
		}
		if l.UseWordMap && s.WordMap == "" {
			return errors.Errorf("label %q uses the word map, but no wordMap is configured", l.Name)
		}
	}
	return nil
}

// RandomizeEnabled interprets the Randomize option.
func (s *Stream) RandomizeEnabled() (bool, error) {
	switch s.Randomize {
	case "", "None":
		return false, nil
	case "Auto", "True":
		return true, nil
	default:
		return false, errors.Errorf("invalid randomize value %q, expected \"None\", \"Auto\" or \"True\"", s.Randomize)
	}
}

// ResolvePaths makes the relative file paths of the configuration relative to dir, and
// expands a leading "~" to the home directory.
func (cfg *Config) ResolvePaths(dir string) error {
	for i := range cfg.Streams {
		s := &cfg.Streams[i]
		for _, p := range []*string{
			&s.WordMap, &s.Corpus.Path, &s.Corpus.SentencePieceModel,
			&s.InputLabel.Token, &s.InputLabel.LabelMappingFile,
			&s.OutputLabel.Token, &s.OutputLabel.LabelMappingFile,
		} {
			if *p == "" {
				continue
			}
			resolved, err := files.ReplaceTildeInDir(*p)
			if err != nil {
				return err
			}
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(dir, resolved)
			}
			*p = resolved
		}
	}
	return nil
}
