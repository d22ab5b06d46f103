// Package moderation censors chat messages against per-language dictionaries.
package moderation

import (
	"log/slog"
	"sort"
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator holds one automaton for every dictionary and one for their union.
// A message whose language is reliably detected is checked against its own
// dictionary, anything else against the union.
type Moderator struct {
	all          *goahocorasick.Machine
	byLanguage   map[string]*goahocorasick.Machine
	censoredChar rune
	detect       func(string) (string, bool)
	log          *slog.Logger
}

type TextMapping struct {
	Normalized []rune
	OrigIdx    []int
}

// NewModerator builds a language-agnostic moderator from a single word list.
func NewModerator(censoredWords []string, censoredChar rune, log *slog.Logger) (*Moderator, error) {
	return NewLanguageModerator(map[string][]string{"": censoredWords}, censoredChar, log)
}

// NewLanguageModerator builds a moderator from dictionaries keyed by ISO 639-1
// code. The empty key holds words that are not tied to a language.
func NewLanguageModerator(dictionaries map[string][]string, censoredChar rune, log *slog.Logger) (*Moderator, error) {
	var union []string
	byLanguage := make(map[string]*goahocorasick.Machine, len(dictionaries))
	for lang, words := range dictionaries {
		union = append(union, words...)
		if lang == "" {
			continue
		}
		m, err := build(append(append([]string(nil), words...), dictionaries[""]...))
		if err != nil {
			return nil, err
		}
		byLanguage[lang] = m
	}
	all, err := build(union)
	if err != nil {
		return nil, err
	}
	return &Moderator{
		all:          all,
		byLanguage:   byLanguage,
		censoredChar: censoredChar,
		detect:       detectLanguage,
		log:          log,
	}, nil
}

// build returns nil when no pattern survives normalisation.
func build(words []string) (*goahocorasick.Machine, error) {
	seen := make(map[string]struct{}, len(words))
	var patterns [][]rune
	for _, word := range words {
		p := normalizeRunes([]rune(word))
		if len(p) == 0 {
			continue
		}
		if _, ok := seen[string(p)]; ok {
			continue
		}
		seen[string(p)] = struct{}{}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	sort.Slice(patterns, func(i, j int) bool { return string(patterns[i]) < string(patterns[j]) })

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return m, nil
}

func detectLanguage(text string) (string, bool) {
	info := whatlanggo.Detect(text)
	return info.Lang.Iso6391(), info.IsReliable()
}

func (m *Moderator) machineFor(text string) *goahocorasick.Machine {
	if len(m.byLanguage) == 0 {
		return m.all
	}
	lang, reliable := m.detect(text)
	if machine, ok := m.byLanguage[lang]; ok && reliable {
		return machine
	}
	return m.all
}

// Censor replaces every forbidden pattern with the censored char while
// preserving spacing, and returns the dictionary words it found.
func (m *Moderator) Censor(original string) (string, []string) {
	mapping := m.normalize(original)
	if len(mapping.Normalized) == 0 {
		return original, nil
	}
	machine := m.machineFor(original)
	if machine == nil {
		return original, nil
	}

	spans := machine.MultiPatternSearch(mapping.Normalized, false)
	if len(spans) == 0 {
		return original, nil
	}

	origRunes := []rune(original)
	var words []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)

		if normStart < 0 || normEnd > len(mapping.OrigIdx) {
			continue
		}

		origStart := mapping.OrigIdx[normStart]
		origEnd := mapping.OrigIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.censoredChar
		}
		words = append(words, string(span.Word))
	}
	if len(words) > 0 {
		m.log.Debug("Message censored", "words", len(words))
	}
	return string(origRunes), words
}

// normalize transforms the input string into a searchable format and tracks original rune positions.
func (m *Moderator) normalize(input string) TextMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return TextMapping{Normalized: norm, OrigIdx: origIdx}
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet speak characters back to their standard alphabet counterparts.
func simplifyRune(r rune) rune {
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

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
