// Package text prepares narration text before it is counted and synthesized.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for narration cleanup.
const (
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `[ \t\f\v\p{Zs}]+`
	paragraphRegexPattern  = `\n\s*\n+`
	sentenceEndPattern     = `[.!?…]["')\]]*\s+`
)

// Punctuation and formatting constants.
const (
	emDash         = "\u2014"
	enDash         = "\u2013"
	figureDash     = "\u2012"
	ellipsis       = "..."
	ellipsisChar   = "\u2026"
	nonBreakSpace  = "\u00a0"
	zeroWidthSpace = "\u200b"
	byteOrderMark  = "\ufeff"
	paragraphBreak = "\n\n"
)

// Normalizer cleans narration text. It is safe for concurrent use.
type Normalizer struct {
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
	paragraphPattern  *regexp.Regexp
	punctuation       *strings.Replacer
	abbreviations     map[string]*strings.Replacer
}

// NewNormalizer compiles the patterns used by Normalize.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		paragraphPattern:  regexp.MustCompile(paragraphRegexPattern),
		punctuation: strings.NewReplacer(
			"\r\n", "\n",
			"\r", "\n",
			byteOrderMark, "",
			zeroWidthSpace, "",
			nonBreakSpace, " ",
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"\u201c", `"`, "\u201d", `"`, "\u201e", `"`,
			"\u2018", "'", "\u2019", "'",
		),
		abbreviations: map[string]*strings.Replacer{
			"en": strings.NewReplacer(
				"Mr. ", "Mister ",
				"Mrs. ", "Missus ",
				"Dr. ", "Doctor ",
				"St. ", "Saint ",
				"e.g. ", "for example ",
				"i.e. ", "that is ",
				"etc.", "et cetera",
			),
			"es": strings.NewReplacer(
				"Sr. ", "Señor ",
				"Sra. ", "Señora ",
				"Dr. ", "Doctor ",
				"etc.", "etcétera",
			),
		},
	}
}

// Normalize returns text with typographic punctuation flattened, reference markers
// removed, whitespace collapsed and paragraph breaks kept. Abbreviations are
// expanded for languages that have a table. Invalid UTF-8 is returned unchanged.
func (n *Normalizer) Normalize(text, language string) string {
	if text == "" || !utf8.ValidString(text) {
		return text
	}

	normalized := n.punctuation.Replace(text)
	normalized = n.referencePattern.ReplaceAllString(normalized, "")

	if replacer, ok := n.abbreviations[baseLanguage(language)]; ok {
		normalized = replacer.Replace(normalized)
	}

	paragraphs := n.paragraphPattern.Split(normalized, -1)
	kept := paragraphs[:0]

	for _, paragraph := range paragraphs {
		paragraph = strings.ReplaceAll(paragraph, "\n", " ")
		paragraph = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(paragraph, " "))

		if paragraph != "" {
			kept = append(kept, paragraph)
		}
	}

	return strings.Join(kept, paragraphBreak)
}

// Chunk splits text into pieces of at most limit bytes, preferring sentence and
// then word boundaries. Pieces are never split inside a UTF-8 sequence.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	sentences := splitSentences(text)
	chunks := make([]string, 0, len(text)/limit+1)

	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range sentences {
		if current.Len()+len(sentence) <= limit {
			current.WriteString(sentence)

			continue
		}

		flush()

		for len(sentence) > limit {
			head, tail := splitAt(sentence, limit)
			chunks = append(chunks, strings.TrimSpace(head))
			sentence = tail
		}

		current.WriteString(sentence)
	}

	flush()

	return chunks
}

var sentenceEnd = regexp.MustCompile(sentenceEndPattern)

func splitSentences(text string) []string {
	var sentences []string

	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[start:loc[1]])
		start = loc[1]
	}

	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	return sentences
}

// splitAt cuts s at the last space before limit, or at the last rune boundary
// when there is no space.
func splitAt(s string, limit int) (head, tail string) {
	cut := strings.LastIndexFunc(s[:limit], unicode.IsSpace)
	if cut <= 0 {
		cut = limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}

	return s[:cut], strings.TrimLeftFunc(s[cut:], unicode.IsSpace)
}

func baseLanguage(language string) string {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(language)), "-")

	return base
}
