// Package runtime hosts the process-level plumbing of the race bot: the
// broadcast hub, its subscriber registry and the embedded word lists.
package runtime

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"path"
	"race-lab/domain"
	"race-lab/errors"
	"sort"
	"strings"
)

// MinSlugWords is the minimum number of distinct words per slug list.
const MinSlugWords = 50

//go:embed words
var embeddedWords embed.FS

// CensoredData carries the result of the loading process including metadata for logging.
type CensoredData struct {
	Dictionaries map[string][]string
	Languages    []string
}

// WordLoader reads word lists, one word per line, from a filesystem.
type WordLoader struct {
	fs fs.FS
}

func NewWordLoader(f fs.FS) *WordLoader {
	return &WordLoader{fs: f}
}

// EmbeddedWords returns a loader over the word lists compiled into the binary.
func EmbeddedWords() *WordLoader {
	return NewWordLoader(embeddedWords)
}

// LoadCensored scans dir for .txt files, one dictionary per language named
// after the file (e.g. "fr.txt" -> "fr").
func (l *WordLoader) LoadCensored(dir string) (*CensoredData, error) {
	entries, err := fs.ReadDir(l.fs, dir)
	if err != nil {
		return nil, err
	}

	data := &CensoredData{Dictionaries: make(map[string][]string)}
	total := 0
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		lang := strings.TrimSuffix(entry.Name(), ".txt")
		words, err := l.LoadList(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		data.Languages = append(data.Languages, lang)
		data.Dictionaries[lang] = words
		total += len(words)
	}

	if total == 0 {
		return nil, errors.ErrEmptyWords
	}
	return data, nil
}

// LoadList returns the unique non-blank lines of a file, sorted.
func (l *WordLoader) LoadList(name string) ([]string, error) {
	raw, err := fs.ReadFile(l.fs, name)
	if err != nil {
		return nil, err
	}

	// bufio handles \n and \r\n alike
	unique := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			unique[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	sort.Strings(words)
	return words, nil
}

// LoadSlugWords reads adjectives.txt and nouns.txt from dir.
func (l *WordLoader) LoadSlugWords(dir string) (domain.SlugWords, error) {
	adjectives, err := l.LoadList(path.Join(dir, "adjectives.txt"))
	if err != nil {
		return domain.SlugWords{}, err
	}
	nouns, err := l.LoadList(path.Join(dir, "nouns.txt"))
	if err != nil {
		return domain.SlugWords{}, err
	}
	words := domain.SlugWords{Adjectives: adjectives, Nouns: nouns}
	if err := ValidateSlugWords(words); err != nil {
		return domain.SlugWords{}, err
	}
	return words, nil
}

// ValidateSlugWords checks that both lists hold at least MinSlugWords
// distinct lower-case words usable in a slug.
func ValidateSlugWords(words domain.SlugWords) error {
	for name, list := range map[string][]string{"adjectives": words.Adjectives, "nouns": words.Nouns} {
		unique := make(map[string]struct{}, len(list))
		for _, w := range list {
			if w == "" || w != strings.ToLower(w) || strings.ContainsAny(w, " -/") {
				return errors.Validation("slug word %q in %s must be a single lower-case word", w, name)
			}
			unique[w] = struct{}{}
		}
		if len(unique) < MinSlugWords {
			return errors.Validation("%s need at least %d distinct words, got %d", name, MinSlugWords, len(unique))
		}
	}
	return nil
}
