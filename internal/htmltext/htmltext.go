// Package htmltext normalizes stored rich-text fields into plain text.
//
// Ticket descriptions and reply bodies arrive as HTML fragments from the
// original support system export. Two normalization variants exist:
//
//   - Normalize keeps line structure and is used when rendering prompt
//     context and display text.
//   - Flatten collapses all whitespace and is used when building text blobs
//     for embedding, where line breaks carry no signal.
//
// Both are total functions: empty input yields an empty string.
package htmltext

import (
	"regexp"
	"strings"
)

// ImagePlaceholder replaces inline <img> markup. The literal is kept in the
// source data's language since it is shown to the model alongside the
// surrounding Chinese transcript text.
const ImagePlaceholder = "[图片]"

var (
	imgRe   = regexp.MustCompile(`(?i)<img[^>]*>`)
	brRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
	blankRe = regexp.MustCompile(`\n(?:\s*\n)+`)
	wsRe    = regexp.MustCompile(`\s+`)
)

// entityReplacer decodes the entities that actually occur in the ticket
// export. Full entity decoding is deliberately out of scope: &nbsp; must map
// to a plain ASCII space (not U+00A0) so downstream keyword matching works.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", `"`,
)

// Normalize converts an HTML fragment to display-oriented plain text.
// Images become ImagePlaceholder, <br> becomes a line break, all other tags
// are removed, entities are decoded, runs of blank lines collapse to a
// single line break, and surrounding whitespace is trimmed.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = imgRe.ReplaceAllString(s, ImagePlaceholder)
	s = brRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	s = blankRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// Flatten converts an HTML fragment to a single-line plain text string:
// tags removed, entities decoded, any whitespace run reduced to one space.
func Flatten(s string) string {
	if s == "" {
		return ""
	}

	s = tagRe.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
