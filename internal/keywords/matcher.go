// Package keywords scores free text against the weighted keyword taxonomy.
package keywords

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"signalscout/internal/model"
)

// cacheTTL is how long a loaded taxonomy stays fresh. Writes to the
// taxonomy must call Invalidate so edits take effect immediately.
const cacheTTL = 5 * time.Minute

const contextRadius = 80

// Source supplies the active keyword taxonomy, weight-sorted descending.
type Source interface {
	ListActiveKeywords(ctx context.Context) ([]model.KeywordDefinition, error)
}

// Result is the outcome of matching one piece of text.
type Result struct {
	Matches     []model.KeywordMatch
	TotalScore  int
	Categories  []model.KeywordCategory
	ProductTags []string
	BestContext string
}

// Relevant reports whether the text met the given minimum score.
func (r *Result) Relevant(minScore int) bool {
	return r.TotalScore >= minScore
}

// Matcher matches text against the taxonomy, loading it through a
// short-TTL cache so taxonomy edits propagate without a restart.
type Matcher struct {
	source Source

	mu       sync.Mutex
	cached   []model.KeywordDefinition
	loadedAt time.Time
}

// NewMatcher creates a Matcher backed by the given taxonomy source.
func NewMatcher(source Source) *Matcher {
	return &Matcher{source: source}
}

// Invalidate drops the cached taxonomy. Must be called synchronously
// after any taxonomy write.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.loadedAt = time.Time{}
	m.mu.Unlock()
}

func (m *Matcher) keywords(ctx context.Context) ([]model.KeywordDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil && time.Since(m.loadedAt) < cacheTTL {
		return m.cached, nil
	}
	kws, err := m.source.ListActiveKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	m.cached = kws
	m.loadedAt = time.Now()
	return kws, nil
}

// Match scores text against the active taxonomy. Matching is
// case-insensitive and restricted to word boundaries; multiple
// occurrences of one keyword count once, at the highest weight seen.
func (m *Matcher) Match(ctx context.Context, text string) (*Result, error) {
	kws, err := m.keywords(ctx)
	if err != nil {
		return nil, err
	}

	folded := foldText(text)
	best := make(map[string]model.KeywordMatch)
	var order []string

	for _, kw := range kws {
		needle := strings.ToLower(kw.Keyword)
		if needle == "" {
			continue
		}
		pos := indexAtBoundary(folded.lower, needle)
		if pos < 0 {
			continue
		}
		start, end := folded.orig[pos], folded.orig[pos+len(needle)]
		match := model.KeywordMatch{
			Keyword:     kw.Keyword,
			Category:    kw.Category,
			Weight:      kw.Weight,
			MatchedText: text[start:end],
			Position:    start,
		}
		key := needle
		if prev, ok := best[key]; ok {
			if kw.Weight > prev.Weight {
				best[key] = match
			}
			continue
		}
		best[key] = match
		order = append(order, key)
	}

	res := &Result{}
	tagSeen := make(map[string]bool)
	catSeen := make(map[model.KeywordCategory]bool)
	var top model.KeywordMatch

	for _, key := range order {
		match := best[key]
		res.Matches = append(res.Matches, match)
		res.TotalScore += match.Weight
		if !catSeen[match.Category] {
			catSeen[match.Category] = true
			res.Categories = append(res.Categories, match.Category)
		}
		if match.Weight > top.Weight {
			top = match
		}
	}

	for _, kw := range kws {
		key := strings.ToLower(kw.Keyword)
		if _, ok := best[key]; !ok {
			continue
		}
		for _, tag := range kw.ProductTags {
			if !tagSeen[tag] {
				tagSeen[tag] = true
				res.ProductTags = append(res.ProductTags, tag)
			}
		}
	}

	if top.Keyword != "" {
		res.BestContext = contextAround(text, top.Position, len(top.MatchedText))
	}
	return res, nil
}

// foldedText is a lowercased copy of a string with, for every byte of
// the lowered form, the byte offset of the originating rune in the
// original. Lowercasing can change a rune's byte length, so match
// positions found in lower must be mapped through orig before slicing
// the original text.
type foldedText struct {
	lower string
	orig  []int // len(lower)+1 entries; orig[len(lower)] == len(original)
}

func foldText(text string) foldedText {
	var b strings.Builder
	b.Grow(len(text))
	orig := make([]int, 0, len(text)+1)
	for i, r := range text {
		lr := unicode.ToLower(r)
		for j := 0; j < utf8.RuneLen(lr); j++ {
			orig = append(orig, i)
		}
		b.WriteRune(lr)
	}
	orig = append(orig, len(text))
	return foldedText{lower: b.String(), orig: orig}
}

// indexAtBoundary finds the first occurrence of needle in haystack that
// sits on word boundaries on both sides, or -1.
func indexAtBoundary(haystack, needle string) int {
	from := 0
	for {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return -1
		}
		pos := from + i
		end := pos + len(needle)
		if boundaryBefore(haystack, pos) && boundaryAfter(haystack, end) {
			return pos
		}
		from = pos + 1
	}
}

func boundaryBefore(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:pos])
	return !isWordChar(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordChar(r)
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func contextAround(text string, pos, length int) string {
	start := pos - contextRadius
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	end := pos + length + contextRadius
	if end > len(text) {
		end = len(text)
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return strings.TrimSpace(text[start:end])
}
