package chatcontext

import (
	"regexp"
	"strings"
)

// maxKeywords caps how many keywords one text contributes to scoring.
const maxKeywords = 10

// minKeywordLen is the shortest token length kept as a keyword.
const minKeywordLen = 3

var nonWordRe = regexp.MustCompile(`[^a-z0-9_\s]+`)

// stopWords is the fixed set of English function words excluded from
// keyword sets: articles, conjunctions, prepositions, auxiliary verbs,
// pronouns, and a handful of frequent adverbs.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "and", "but", "nor", "yet", "for", "from", "into", "onto",
		"with", "within", "without", "about", "above", "below", "between",
		"through", "during", "before", "after", "over", "under", "again",
		"further", "once", "here", "there", "when", "where", "why", "how",
		"all", "any", "both", "each", "few", "more", "most", "other", "some",
		"such", "only", "own", "same", "than", "then", "too", "very", "just",
		"also", "not", "can", "could", "will", "would", "shall", "should",
		"may", "might", "must", "was", "were", "been", "being", "are",
		"have", "has", "had", "having", "does", "did", "doing",
		"you", "your", "yours", "him", "his", "she", "her", "hers", "its",
		"they", "them", "their", "theirs", "this", "that", "these", "those",
		"what", "which", "who", "whom", "whose", "out", "off", "down",
	} {
		stopWords[w] = struct{}{}
	}
}

// ExtractKeywords derives the keyword set of a text: lower-cased, stripped of
// punctuation, split on whitespace, with stop-words and tokens shorter than
// minKeywordLen removed. Keywords keep first-occurrence order and the result
// is capped at maxKeywords entries. Never fails; empty input yields nil.
func ExtractKeywords(text string) []string {
	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(text), " ")

	var keywords []string
	seen := map[string]struct{}{}
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}
