package binder

import (
	"regexp"

	"github.com/sells-group/lineage-cli/internal/model"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Token is one {{...}} placeholder found in document text.
type Token struct {
	Raw    string       `json:"raw"`
	Start  int          `json:"start"`
	End    int          `json:"end"`
	Target model.Target `json:"target"`
	Err    error        `json:"-"`
}

// Scan finds every placeholder in text in order of appearance. Malformed
// tokens are returned with Err set.
func Scan(text string) []Token {
	var out []Token
	for _, m := range tokenRe.FindAllStringSubmatchIndex(text, -1) {
		t := Token{Raw: text[m[0]:m[1]], Start: m[0], End: m[1]}
		t.Target, t.Err = model.ParseTarget(text[m[2]:m[3]])
		out = append(out, t)
	}
	return out
}
