package consult

import (
	"regexp"
	"strings"
)

var (
	boldPattern     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern   = regexp.MustCompile(`\*(.+?)\*`)
	headingPattern  = regexp.MustCompile(`(?m)^#+\s+`)
	bulletPattern   = regexp.MustCompile(`(?m)^[-*+]\s+`)
	numberedPattern = regexp.MustCompile(`(?m)^\d+\.\s+`)

	sentenceEnd = regexp.MustCompile(`[。！？.!?]`)
)

// CleanMarkdown strips emphasis, heading and list markers from text and
// trims surrounding whitespace.
//
//	CleanMarkdown("**Take** *rest* and\n# Follow up\n- drink water")
//	// "Take rest and\nFollow up\ndrink water"
func CleanMarkdown(text string) string {
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = headingPattern.ReplaceAllString(text, "")
	text = bulletPattern.ReplaceAllString(text, "")
	text = numberedPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// SplitSentences returns the complete sentences at the start of text, each
// including its terminator, and the unterminated remainder. Speech output
// uses it to synthesize a reply sentence by sentence as it arrives.
func SplitSentences(text string) (sentences []string, rest string) {
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[last:loc[1]])
		last = loc[1]
	}
	return sentences, text[last:]
}
