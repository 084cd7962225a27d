package studio

import (
	"strings"
	"unicode"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

// ParseMnemonic validates and parses the line-based mnemonic format: the
// first non-empty line is the word, followed by exactly one "LETTER -
// meaning" line per letter of that word, in order. Anything else is a
// format error, which callers treat the same as a generation failure.
func ParseMnemonic(text string) (*types.Mnemonic, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 2 {
		return nil, core.NewFormatError("mnemonic must have a word line and at least one mapping line")
	}

	word := lines[0]
	letters := []rune(word)
	for _, r := range letters {
		if !unicode.IsLetter(r) {
			return nil, core.NewFormatError("mnemonic word must contain letters only: " + word)
		}
	}
	if len(lines)-1 != len(letters) {
		return nil, core.NewFormatError("mnemonic needs one mapping line per letter")
	}

	m := &types.Mnemonic{Word: word}
	for i, line := range lines[1:] {
		letter, meaning, ok := splitMapping(line)
		if !ok {
			return nil, core.NewFormatError("mnemonic mapping line is malformed: " + line)
		}
		if !strings.EqualFold(letter, string(letters[i])) {
			return nil, core.NewFormatError("mnemonic mapping out of order: " + line)
		}
		m.Mappings = append(m.Mappings, types.MnemonicMapping{
			Letter:  strings.ToUpper(letter),
			Meaning: meaning,
		})
	}
	return m, nil
}

func splitMapping(line string) (letter, meaning string, ok bool) {
	for _, sep := range []string{" - ", ": ", " = "} {
		if left, right, found := strings.Cut(line, sep); found {
			left = strings.TrimSpace(left)
			right = strings.TrimSpace(right)
			if len([]rune(left)) == 1 && right != "" {
				return left, right, true
			}
		}
	}
	return "", "", false
}
