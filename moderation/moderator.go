// Package moderation masks banned words in message text before it is stored.
package moderation

import (
	"log/slog"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Moderator finds banned words with an Aho-Corasick automaton built over
// their normalized form, so leet speak and inner punctuation still match.
type Moderator struct {
	log         *slog.Logger
	matcher     *goahocorasick.Machine
	replacement rune
}

func NewModerator(words []string, replacement rune, log *slog.Logger) (*Moderator, error) {
	patterns := lo.FilterMap(words, func(word string, _ int) ([]rune, bool) {
		pattern := normalizeWord(word)
		return pattern, len(pattern) > 0
	})
	m := &Moderator{log: log, replacement: replacement}
	if len(patterns) == 0 {
		return m, nil
	}
	m.matcher = new(goahocorasick.Machine)
	if err := m.matcher.Build(patterns); err != nil {
		return nil, err
	}
	log.Debug("Moderator ready", "patterns", len(patterns))
	return m, nil
}

// ParseWords splits a comma separated word list.
func ParseWords(list string) []string {
	return lo.FilterMap(strings.Split(list, ","), func(word string, _ int) (string, bool) {
		word = strings.TrimSpace(word)
		return word, word != ""
	})
}

// Censor replaces every rune of each banned occurrence, noise included, and
// returns the matched words in normalized form.
func (m *Moderator) Censor(text string) (string, []string) {
	if m.matcher == nil || text == "" {
		return text, nil
	}
	runes := []rune(text)
	normalized, positions := normalizeText(runes)
	if len(normalized) == 0 {
		return text, nil
	}

	var found []string
	for _, term := range m.matcher.MultiPatternSearch(normalized, false) {
		end := term.Pos + len(term.Word)
		if term.Pos < 0 || end > len(positions) {
			continue
		}
		for i := positions[term.Pos]; i <= positions[end-1]; i++ {
			runes[i] = m.replacement
		}
		found = append(found, string(term.Word))
	}
	if len(found) == 0 {
		return text, nil
	}
	return string(runes), found
}

// normalizeText keeps the searchable runes and the index each one had in
// the original text.
func normalizeText(runes []rune) ([]rune, []int) {
	normalized := make([]rune, 0, len(runes))
	positions := make([]int, 0, len(runes))
	for i, r := range runes {
		if clean, ok := searchable(r); ok {
			normalized = append(normalized, clean)
			positions = append(positions, i)
		}
	}
	return normalized, positions
}

func normalizeWord(word string) []rune {
	normalized, _ := normalizeText([]rune(word))
	return normalized
}

func searchable(r rune) (rune, bool) {
	r = unleet(r)
	if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
		return 0, false
	}
	return unicode.ToLower(r), true
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
