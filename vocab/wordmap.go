package vocab

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// LoadWordMap reads a word-remap file: one `source target` pair per line, a blank line terminates.
func LoadWordMap(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open word map %q", path)
	}
	defer f.Close()
	m, err := ReadWordMap(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading word map %q", path)
	}
	return m, nil
}

// ReadWordMap parses a word-remap file from r, see LoadWordMap.
func ReadWordMap(r io.Reader) (map[string]string, error) {
	m := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: expected \"source target\", got %q", lineNum, line)
		}
		m[norm.NFC.String(fields[0])] = norm.NFC.String(fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan word map")
	}
	return m, nil
}

// Remap returns a new token->id mapping where every token listed in wordMap takes the id
// of its target token, and every other token takes the id of unk.
//
// Targets not present in tokenToID also fall back to unk. It returns ErrNoUnknownToken if
// a fallback is needed and unk is not in tokenToID.
func Remap(tokenToID map[string]int, wordMap map[string]string, unk string) (map[string]int, error) {
	unkID, hasUnk := tokenToID[unk]
	remapped := make(map[string]int, len(tokenToID))
	for token := range tokenToID {
		if target, found := wordMap[token]; found {
			if id, found := tokenToID[target]; found {
				remapped[token] = id
				continue
			}
		}
		if !hasUnk {
			return nil, errors.Wrapf(ErrNoUnknownToken, "token %q needs the unknown token %q", token, unk)
		}
		remapped[token] = unkID
	}
	return remapped, nil
}
