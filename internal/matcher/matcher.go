// Package matcher decides which declared intents a raw utterance
// belongs to. Matching is deliberately simple: the input is lowercased
// and trimmed, and an intent matches when any of its trigger phrases is
// a substring of the normalized text. Semantic similarity is out of
// scope; the set of matched intents feeds flow evaluation, where
// declaration order decides which flow actually fires.
package matcher

import (
	"strings"

	"github.com/guardly/dialograils/internal/rules"
)

// Normalize lowercases and trims an utterance the way phrase matching
// expects it.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Match returns the set of intent names whose trigger phrases occur in
// the utterance. More than one intent may match; no match yields an
// empty set, never an error.
func Match(text string, intents []rules.Intent) map[string]bool {
	normalized := Normalize(text)
	matched := make(map[string]bool)
	for _, intent := range intents {
		for _, phrase := range intent.Phrases {
			if strings.Contains(normalized, phrase) {
				matched[intent.Name] = true
				break
			}
		}
	}
	return matched
}
