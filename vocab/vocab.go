// Package vocab maps label tokens to integer ids and, optionally, groups the ids into
// contiguous classes used for hierarchical (class-based) output layers.
//
// A vocabulary file holds one entry per line, either `token` or `token classId`. A blank
// line terminates the file. In class mode the class ids must be non-negative and
// non-decreasing down the file, so that all ids of a class are contiguous.
//
// Example:
//
//	v, err := vocab.Load("words.cls", true)
//	if err != nil {
//		return err
//	}
//	info := vocab.NewLabelInfo(v, vocab.Options{Mode: vocab.Class, Unknown: "<unk>"})
//	begin, end, err := info.Interval(info.IDToClass[42])
package vocab

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrClassOrder is returned when a class-tagged vocabulary is not grouped into ascending classes.
	ErrClassOrder = errors.New("word list needs to be grouped into classes and ascending")

	// ErrNoUnknownToken is returned when a token falls back to the unknown token, but none is configured.
	ErrNoUnknownToken = errors.New("unknown token is missing from the vocabulary")

	// ErrBadClassInterval is returned when a class interval is empty or inverted.
	ErrBadClassInterval = errors.New("class interval end is equal to or smaller than its begin")
)

// Vocabulary is the immutable result of parsing a vocabulary file.
type Vocabulary struct {
	// Path the vocabulary was loaded from, if any.
	Path string

	// Tokens in id order: Tokens[id] is the token of id.
	Tokens []string

	// Classes[id] is the class of id, only set when loaded with classes.
	Classes []int

	// NumClasses is the highest class id plus one, or 0 if loaded without classes.
	NumClasses int
}

// Len returns the number of words.
func (v *Vocabulary) Len() int {
	return len(v.Tokens)
}

// HasClasses returns whether the vocabulary was loaded with class assignments.
func (v *Vocabulary) HasClasses() bool {
	return v.NumClasses > 0
}

// Load reads the vocabulary file at path. If wantClasses is true every line must be `token classId`.
func Load(path string, wantClasses bool) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open vocabulary %q", path)
	}
	defer f.Close()
	v, err := Read(f, wantClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading vocabulary %q", path)
	}
	v.Path = path
	return v, nil
}

// Read parses a vocabulary from r, see Load.
func Read(r io.Reader, wantClasses bool) (*Vocabulary, error) {
	v := &Vocabulary{}
	prevClass := -1
	maxClass := -1
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if !wantClasses {
			v.Tokens = append(v.Tokens, norm.NFC.String(line))
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: expected \"token classId\", got %q", lineNum, line)
		}
		class, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: invalid class id %q", lineNum, fields[1])
		}
		if class < 0 {
			return nil, errors.Errorf("line %d: negative class id %d", lineNum, class)
		}
		if class < prevClass {
			return nil, errors.Wrapf(ErrClassOrder, "line %d: class %d follows class %d", lineNum, class, prevClass)
		}
		prevClass = class
		maxClass = max(maxClass, class)
		v.Tokens = append(v.Tokens, norm.NFC.String(fields[0]))
		v.Classes = append(v.Classes, class)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan vocabulary")
	}
	if wantClasses {
		v.NumClasses = maxClass + 1
	}
	return v, nil
}
