package source

import (
	"regexp"
	"strings"
)

var (
	yearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	quarterRe = regexp.MustCompile(`(?i)\b(q[1-4]|quarter\s*[1-4]|[1-4]q)\b`)
	fiscalRe  = regexp.MustCompile(`(?i)\b(fy|ttm|ltm|ytd)\s*'?\d{0,4}\b`)
	monthRe   = regexp.MustCompile(`(?i)^(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sep(t(ember)?)?|oct(ober)?|nov(ember)?|dec(ember)?)\b`)
)

// IsPeriodLabel reports whether a header cell looks like a reporting period:
// a year, a quarter, a month, or a fiscal/trailing label.
func IsPeriodLabel(cell string) bool {
	c := strings.TrimSpace(cell)
	if c == "" {
		return false
	}
	return yearRe.MatchString(c) || quarterRe.MatchString(c) || fiscalRe.MatchString(c) || monthRe.MatchString(c)
}

// DetectHeaderRow returns the index of the first row holding at least two
// period-like cells, or one when the row has only a label and a single
// period. It returns -1 when no row qualifies. Title rows such as
// "Income Statement Data" above the real header are skipped this way.
func DetectHeaderRow(rows [][]string) int {
	for i, row := range rows {
		var periods, filled int
		for _, cell := range row {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			filled++
			if IsPeriodLabel(cell) {
				periods++
			}
		}
		if periods >= 2 || (periods == 1 && filled == 2) {
			return i
		}
	}
	return -1
}
