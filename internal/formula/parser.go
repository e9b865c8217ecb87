package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Expr is a parsed formula.
type Expr struct {
	src   string
	root  node
	names []string
}

// Parse parses a formula over named inputs. The grammar is
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/" | "%") unary }
//	unary  = "-" unary | primary
//	primary = number | name | name "(" [ expr { "," expr } ] ")" | "(" expr ")"
//
// Only the fixed function set is accepted; arity is checked here.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, seen: make(map[string]bool)}
	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t.kind)
	}
	return &Expr{src: strings.TrimSpace(src), root: root, names: p.names}, nil
}

// String returns the formula text.
func (e *Expr) String() string {
	return e.src
}

// Names lists the input names the formula references, in order of first use.
func (e *Expr) Names() []string {
	return append([]string(nil), e.names...)
}

type parser struct {
	src   string
	toks  []tok
	pos   int
	names []string
	seen  map[string]bool
}

func (p *parser) peek() tok {
	return p.toks[p.pos]
}

func (p *parser) next() tok {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t tok, format string, args ...any) error {
	return &ParseError{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) (tok, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", kind, t.kind)
	}
	return t, nil
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binary{op: t.kind, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash && t.kind != tokPercent {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binary{op: t.kind, left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &negate{x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, p.errorf(t, "invalid number %q", t.text)
		}
		return &number{value: d}, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		if !p.seen[t.text] {
			p.seen[t.text] = true
			p.names = append(p.names, t.text)
		}
		return &ident{name: t.text}, nil

	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, p.errorf(t, "unexpected %s", t.kind)
}

func (p *parser) call(name tok) (node, error) {
	fn, ok := functions[strings.ToLower(name.text)]
	if !ok {
		return nil, p.errorf(name, "unknown function %q", name.text)
	}
	p.next() // (

	var args []node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, p.errorf(name, "%s expects %s, got %d", fn.name, fn.arity(), len(args))
	}
	return &call{fn: fn, args: args}, nil
}
