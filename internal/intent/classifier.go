// Package intent detects fixed approval and pause phrases in free-text
// user input.
//
// Matching is token-based, never substring-based: a phrase matches only as
// a contiguous delimited token sequence, so "disapproved" never matches
// "approved". A fixed negation-prefix list suppresses matches like
// "not approved" or "nicht freigegeben". The classifier only reports an
// intent; applying it to a workflow is the manager's job.
package intent

import (
	"strings"
	"unicode"
)

// Intent is the classified meaning of an utterance.
type Intent string

const (
	IntentApprove Intent = "approve"
	IntentPause   Intent = "pause"
	IntentNone    Intent = "none"
)

// PhraseEntry is one locale-tagged phrase mapped to an intent.
type PhraseEntry struct {
	Locale string
	Phrase string
	Intent Intent
}

// builtinPhrases is the baseline table. The original German-language hook
// prompts make de the second locale. Extend through NewClassifier, not by
// editing at runtime.
var builtinPhrases = []PhraseEntry{
	{Locale: "en", Phrase: "approved", Intent: IntentApprove},
	{Locale: "en", Phrase: "approve", Intent: IntentApprove},
	{Locale: "en", Phrase: "looks good, approved", Intent: IntentApprove},
	{Locale: "en", Phrase: "sign-off granted", Intent: IntentApprove},
	{Locale: "de", Phrase: "freigegeben", Intent: IntentApprove},
	{Locale: "de", Phrase: "genehmigt", Intent: IntentApprove},
	{Locale: "de", Phrase: "freigabe erteilt", Intent: IntentApprove},

	{Locale: "en", Phrase: "pause", Intent: IntentPause},
	{Locale: "en", Phrase: "pause work", Intent: IntentPause},
	{Locale: "en", Phrase: "on hold", Intent: IntentPause},
	{Locale: "en", Phrase: "park it", Intent: IntentPause},
	{Locale: "de", Phrase: "pausieren", Intent: IntentPause},
	{Locale: "de", Phrase: "parken", Intent: IntentPause},
	{Locale: "de", Phrase: "auf eis", Intent: IntentPause},
	{Locale: "de", Phrase: "später weitermachen", Intent: IntentPause},
}

// negationTokens suppress an immediately following phrase match.
var negationTokens = map[string]bool{
	"not":   true,
	"never": true,
	"no":    true,
	"don't": true,
	"dont":  true,
	"nicht": true,
	"kein":  true,
	"keine": true,
	"nie":   true,
}

// Classifier matches utterances against its phrase table.
type Classifier struct {
	// phrases are pre-tokenized, longest first within equal start tokens
	// handled during matching.
	phrases []tokenizedPhrase
}

type tokenizedPhrase struct {
	tokens []string
	intent Intent
}

// NewClassifier builds a classifier from the builtin table plus any
// configured extra entries. Entries with empty phrases or unknown intents
// are dropped.
func NewClassifier(extra []PhraseEntry) *Classifier {
	c := &Classifier{}
	for _, entry := range append(append([]PhraseEntry{}, builtinPhrases...), extra...) {
		if entry.Intent != IntentApprove && entry.Intent != IntentPause {
			continue
		}
		tokens := tokenize(entry.Phrase)
		if len(tokens) == 0 {
			continue
		}
		c.phrases = append(c.phrases, tokenizedPhrase{tokens: tokens, intent: entry.Intent})
	}
	return c
}

// Classify scans text for a known phrase and returns its intent, or
// IntentNone when nothing matches. At each position the longest matching
// phrase wins; a negation token immediately before the match suppresses
// it. The first surviving match decides.
func (c *Classifier) Classify(text string) Intent {
	tokens := tokenize(text)

	for i := range tokens {
		best, ok := c.longestMatchAt(tokens, i)
		if !ok {
			continue
		}
		if i > 0 && negationTokens[tokens[i-1]] {
			continue
		}
		return best
	}
	return IntentNone
}

// longestMatchAt finds the longest phrase whose tokens match starting at
// position i.
func (c *Classifier) longestMatchAt(tokens []string, i int) (Intent, bool) {
	var (
		bestLen    int
		bestIntent Intent
	)
	for _, p := range c.phrases {
		if len(p.tokens) <= bestLen || i+len(p.tokens) > len(tokens) {
			continue
		}
		matched := true
		for j, pt := range p.tokens {
			if tokens[i+j] != pt {
				matched = false
				break
			}
		}
		if matched {
			bestLen = len(p.tokens)
			bestIntent = p.intent
		}
	}
	return bestIntent, bestLen > 0
}

// tokenize lowercases the input and splits on anything that is not a
// letter, digit, or interior apostrophe (so "don't" stays one token).
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
