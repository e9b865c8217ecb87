package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeField standardizes a field label for matching by:
//  1. Applying NFKC so full-width and compatibility forms compare equal
//  2. Case folding
//  3. Replacing "&" with "and"
//  4. Turning every run of punctuation, bullets and whitespace into one space
//
// "  • Cost of Revenue (COGS)" and "cost-of-revenue cogs" both become
// "cost of revenue cogs".
func NormalizeField(name string) string {
	name = norm.NFKC.String(name)
	name = folder.String(name)
	name = strings.ReplaceAll(name, "&", " and ")

	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// NormalizePeriod standardizes a period label: trimmed, NFKC, case folded,
// internal whitespace collapsed. Punctuation is significant in periods
// ("2024-Q1" and "2024 Q1" remain distinct).
func NormalizePeriod(period string) string {
	period = norm.NFKC.String(period)
	period = folder.String(period)
	return strings.Join(strings.Fields(period), " ")
}

// CleanLabel trims a label and collapses internal whitespace while
// preserving case. It is the display form stored on a Dataset.
func CleanLabel(label string) string {
	label = strings.TrimLeftFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || r == '•' || r == '-' || r == '*' || r == '·'
	})
	return strings.Join(strings.Fields(label), " ")
}

// Tokens splits a normalized label into its words.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
