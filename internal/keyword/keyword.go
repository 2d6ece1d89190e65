// Package keyword derives search terms from free text.
//
// The extractor is a deterministic tokenizer, not a linguistic analyzer: it
// splits on sentence-delimiting punctuation (both ASCII and full-width CJK
// forms), drops tokens too short to match meaningfully, and caps the result
// to bound the cost of the downstream OR query.
package keyword

import "strings"

// DefaultMax is the default cap on extracted keywords.
const DefaultMax = 10

// minTokenRunes rejects single-character tokens, which are too ambiguous to
// substring-match against ticket text.
const minTokenRunes = 2

// delimiters splits input into candidate tokens. Covers whitespace plus the
// common Western and full-width CJK sentence punctuation.
const delimiters = " \t\n\r,.!?:;，。！？：；、"

// Extract returns up to DefaultMax keywords from text, in input order.
func Extract(text string) []string {
	return ExtractN(text, DefaultMax)
}

// ExtractN returns up to max keywords from text, in input order.
// Empty input or input consisting only of delimiters yields nil.
func ExtractN(text string, max int) []string {
	if text == "" || max <= 0 {
		return nil
	}

	fields := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(delimiters, r)
	})

	var keywords []string
	for _, f := range fields {
		if len([]rune(f)) < minTokenRunes {
			continue
		}
		keywords = append(keywords, f)
		if len(keywords) == max {
			break
		}
	}

	return keywords
}
