package service

import (
	"fmt"
	"strings"

	"wallet-reconciler/internal/core/domain"

	"github.com/tyler-smith/go-bip39"
)

// Lexicon is an immutable ordered word list. It is safe for concurrent readers.
type Lexicon struct {
	words []string
	index map[string]int
}

// NewLexicon builds a lexicon from words in order. A repeated word keeps its first position.
func NewLexicon(words []string) (*Lexicon, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("lexicon: %w: no words", domain.ErrInvalidInput)
	}

	l := &Lexicon{
		words: make([]string, 0, len(words)),
		index: make(map[string]int, len(words)),
	}
	for i, w := range words {
		if strings.TrimSpace(w) == "" {
			return nil, fmt.Errorf("lexicon: %w: empty word at position %d", domain.ErrInvalidInput, i)
		}
		if _, dup := l.index[w]; dup {
			continue
		}
		l.index[w] = len(l.words)
		l.words = append(l.words, w)
	}
	return l, nil
}

// NewBIP39Lexicon returns the English BIP-39 word list.
func NewBIP39Lexicon() *Lexicon {
	l, err := NewLexicon(bip39.GetWordList())
	if err != nil {
		// the bundled list is never empty
		panic(err)
	}
	return l
}

// IsValid reports whether word is in the lexicon.
func (l *Lexicon) IsValid(word string) bool {
	_, ok := l.index[word]
	return ok
}

// Nearest returns the entry with the smallest edit distance to word along with that
// distance. Ties go to the entry listed first.
func (l *Lexicon) Nearest(word string) (string, int) {
	best, bestDist := l.words[0], Distance(word, l.words[0])
	for _, candidate := range l.words[1:] {
		if bestDist == 0 {
			break
		}
		if d := Distance(word, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best, bestDist
}

// Words returns a copy of the lexicon in order.
func (l *Lexicon) Words() []string {
	out := make([]string, len(l.words))
	copy(out, l.words)
	return out
}

// Len returns the number of distinct words.
func (l *Lexicon) Len() int {
	return len(l.words)
}

// Distance is the unit-cost Levenshtein distance between a and b, counted in runes.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i, ca := range ra {
		curr[0] = i + 1
		for j, cb := range rb {
			cost := 1
			if ca == cb {
				cost = 0
			}
			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
