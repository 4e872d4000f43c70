// Package transcript corrects speech-to-text output against the learner's
// known vocabulary.
//
// Raw STT output is rarely perfect for the words a language learner is
// actually practising — newly introduced terms are exactly the ones the
// recogniser has the least acoustic evidence for, and a mangled "vachement"
// that reaches the tutor model produces a confusing reply. The
// [VocabCorrector] realigns misheard words with the vocabulary the learner
// has met before, using phonetic similarity so that no network call or model
// round-trip sits on the conversational path.
//
// Each [Correction] records the substitution and its confidence, so callers
// can audit or display what was changed.
//
// All types are safe for concurrent use.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Correction captures a single word-level substitution made by the corrector.
type Correction struct {
	// Original is the word (or phrase) as produced by the STT engine.
	Original string

	// Corrected is the vocabulary term selected as the replacement.
	Corrected string

	// Confidence is the similarity score of this substitution (0.0–1.0).
	Confidence float64
}

// CorrectedText is the output of a [VocabCorrector.Correct] call.
type CorrectedText struct {
	// Original is the raw transcript text as received from the STT engine.
	Original string

	// Corrected is the full text with all substitutions applied. When no
	// corrections were necessary it equals Original.
	Corrected string

	// Corrections is the ordered list of substitutions applied. An empty
	// (non-nil) slice means nothing was changed.
	Corrections []Correction
}

// Matcher resolves a single word or phrase to a known vocabulary term based
// on pronunciation similarity. Implementations must be safe for concurrent
// use.
type Matcher interface {
	// Match attempts to find the term from terms that is most phonetically
	// similar to word. When matched is false, corrected must equal word
	// unchanged and confidence must be 0.
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// TermSource supplies the vocabulary terms known for a language, most recent
// first. [memory.VocabIndex] satisfies it.
type TermSource interface {
	Terms(ctx context.Context, language string, limit int) ([]string, error)
}

const (
	defaultTermLimit = 500
	defaultTermTTL   = time.Minute
)

// Option is a functional option for configuring a [VocabCorrector].
type Option func(*VocabCorrector)

// WithTermLimit caps how many vocabulary terms are loaded per language.
// Default: 500.
func WithTermLimit(n int) Option {
	return func(c *VocabCorrector) {
		c.termLimit = n
	}
}

// WithTermTTL sets how long a loaded term list is reused before the source is
// queried again. Default: 1 minute.
func WithTermTTL(d time.Duration) Option {
	return func(c *VocabCorrector) {
		c.termTTL = d
	}
}

// cachedTerms is one language's term list plus its load time.
type cachedTerms struct {
	terms    []string
	loadedAt time.Time
}

// VocabCorrector aligns transcript text with the learner's stored vocabulary.
// Terms are fetched per language from a [TermSource] and cached briefly so a
// burst of utterances does not hammer the store.
//
// VocabCorrector is safe for concurrent use.
type VocabCorrector struct {
	matcher   Matcher
	source    TermSource
	termLimit int
	termTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cachedTerms
}

// NewVocabCorrector constructs a [VocabCorrector]. source may be nil, in
// which case Correct returns the input unchanged.
func NewVocabCorrector(matcher Matcher, source TermSource, opts ...Option) *VocabCorrector {
	c := &VocabCorrector{
		matcher:   matcher,
		source:    source,
		termLimit: defaultTermLimit,
		termTTL:   defaultTermTTL,
		cache:     make(map[string]cachedTerms),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct applies vocabulary alignment to text in the given language.
//
// The text is tokenised into whitespace-separated words. At each position,
// n-gram windows from the widest known term down to a single word are tested
// against the vocabulary; the longest window that matches wins, so a
// multi-word term like "pomme de terre" takes precedence over a partial
// single-word match. Leading and trailing punctuation is preserved around
// substituted words.
//
// A failing term source degrades to a no-op: the original text is returned
// with the error, and the caller decides whether to log or drop it.
func (c *VocabCorrector) Correct(ctx context.Context, text, language string) (*CorrectedText, error) {
	result := &CorrectedText{
		Original:    text,
		Corrected:   text,
		Corrections: []Correction{},
	}
	if c.matcher == nil || c.source == nil || strings.TrimSpace(text) == "" {
		return result, nil
	}

	terms, err := c.termsFor(ctx, language)
	if err != nil {
		return result, err
	}
	if len(terms) == 0 {
		return result, nil
	}

	corrected, corrections := c.apply(text, terms)
	result.Corrected = corrected
	result.Corrections = corrections
	return result, nil
}

// termsFor returns the cached term list for language, refreshing it from the
// source when the TTL has lapsed.
func (c *VocabCorrector) termsFor(ctx context.Context, language string) ([]string, error) {
	c.mu.Lock()
	entry, ok := c.cache[language]
	c.mu.Unlock()
	if ok && time.Since(entry.loadedAt) < c.termTTL {
		return entry.terms, nil
	}

	terms, err := c.source.Terms(ctx, language, c.termLimit)
	if err != nil {
		// Serve stale terms over no terms.
		if ok {
			return entry.terms, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[language] = cachedTerms{terms: terms, loadedAt: time.Now()}
	c.mu.Unlock()
	return terms, nil
}

// apply walks the token stream trying n-gram windows against the term list.
func (c *VocabCorrector) apply(text string, terms []string) (string, []Correction) {
	tokens := strings.Fields(text)
	maxTermWords := maxWordCount(terms)

	output := make([]string, 0, len(tokens))
	corrections := []Correction{}

	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window, lead, trail := trimWindow(tokens[i : i+n])
			if window == "" {
				continue
			}
			term, conf, ok := c.matcher.Match(window, terms)
			if !ok || strings.EqualFold(term, window) {
				continue
			}

			termTokens := strings.Fields(term)
			termTokens[0] = lead + termTokens[0]
			termTokens[len(termTokens)-1] += trail
			output = append(output, termTokens...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// trimWindow joins tokens into one candidate phrase, stripping punctuation
// from the outer edges. The stripped runs are returned so they can be
// reattached around a substitution.
func trimWindow(tokens []string) (window, lead, trail string) {
	joined := strings.Join(tokens, " ")
	core := strings.TrimLeftFunc(joined, isPunct)
	lead = joined[:len(joined)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	trail = core[len(trimmed):]
	return trimmed, lead, trail
}

func isPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':', '"', '\'', '«', '»', '(', ')':
		return true
	}
	return false
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any term. Returns 1 when terms is empty.
func maxWordCount(terms []string) int {
	max := 1
	for _, t := range terms {
		if n := len(strings.Fields(t)); n > max {
			max = n
		}
	}
	return max
}
