package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/lineage-cli/internal/model"
)

// DefaultDivisionPrecision is the number of decimal places kept by division.
const DefaultDivisionPrecision int32 = 16

type evaluator struct {
	expr      string
	env       map[string]model.Value
	precision int32
}

func (ev *evaluator) fail(format string, args ...any) error {
	return &EvalError{Expr: ev.expr, Msg: fmt.Sprintf(format, args...)}
}

// Eval computes e against env. Identifiers resolve with their unit scale
// folded in. Any Missing operand makes the result Missing, and so does
// division or remainder by zero; default() is the only way out.
func (e *Expr) Eval(env map[string]model.Value, precision int32) (model.Value, error) {
	if precision <= 0 {
		precision = DefaultDivisionPrecision
	}
	ev := &evaluator{expr: e.src, env: env, precision: precision}
	return e.root.eval(ev)
}

type node interface {
	eval(ev *evaluator) (model.Value, error)
}

type number struct {
	value decimal.Decimal
}

func (n *number) eval(*evaluator) (model.Value, error) {
	return model.Numeric(n.value, ""), nil
}

type ident struct {
	name string
}

func (n *ident) eval(ev *evaluator) (model.Value, error) {
	v, ok := ev.env[n.name]
	if !ok {
		return model.Value{}, ev.fail("undefined input %q", n.name)
	}
	return model.NormalizeUnit(v), nil
}

type negate struct {
	x node
}

func (n *negate) eval(ev *evaluator) (model.Value, error) {
	v, err := n.x.eval(ev)
	if err != nil || v.IsMissing() {
		return model.Missing(), err
	}
	if !v.IsNumeric() {
		return model.Value{}, ev.fail("cannot negate text %q", v.Text)
	}
	v.Amount = v.Amount.Neg()
	return v, nil
}

type binary struct {
	op          tokenKind
	left, right node
}

func (n *binary) eval(ev *evaluator) (model.Value, error) {
	a, err := n.left.eval(ev)
	if err != nil {
		return model.Value{}, err
	}
	b, err := n.right.eval(ev)
	if err != nil {
		return model.Value{}, err
	}
	return ev.apply(n.op, a, b)
}

func (ev *evaluator) apply(op tokenKind, a, b model.Value) (model.Value, error) {
	if a.IsMissing() || b.IsMissing() {
		return model.Missing(), nil
	}
	if err := ev.numeric(op.String(), a, b); err != nil {
		return model.Value{}, err
	}

	switch op {
	case tokPlus, tokMinus:
		unit, currency, err := ev.sameUnit(op.String(), a, b)
		if err != nil {
			return model.Value{}, err
		}
		amt := a.Amount.Add(b.Amount)
		if op == tokMinus {
			amt = a.Amount.Sub(b.Amount)
		}
		return model.NumericWithCurrency(amt, unit, currency), nil

	case tokStar:
		return model.NumericWithCurrency(a.Amount.Mul(b.Amount), mulUnit(a.Unit, b.Unit), mulCurrency(a.Currency, b.Currency)), nil

	case tokSlash:
		if b.Amount.IsZero() {
			return model.Missing(), nil
		}
		unit, currency := divUnit(a, b)
		return model.NumericWithCurrency(a.Amount.DivRound(b.Amount, ev.precision), unit, currency), nil

	case tokPercent:
		if b.Amount.IsZero() {
			return model.Missing(), nil
		}
		return model.NumericWithCurrency(a.Amount.Mod(b.Amount), a.Unit, a.Currency), nil
	}
	return model.Value{}, ev.fail("unsupported operator %s", op)
}

func (ev *evaluator) numeric(op string, vals ...model.Value) error {
	for _, v := range vals {
		if !v.IsNumeric() {
			return ev.fail("operator %s applied to text %q", op, v.Text)
		}
	}
	return nil
}

// sameUnit returns the shared unit and currency of values that are added,
// subtracted or compared. Unitless values adopt the other side's unit.
func (ev *evaluator) sameUnit(op string, vals ...model.Value) (unit, currency string, err error) {
	for _, v := range vals {
		if v.Unit != "" {
			if unit != "" && !strings.EqualFold(unit, v.Unit) {
				return "", "", ev.fail("unit mismatch in %s: %q and %q", op, unit, v.Unit)
			}
			if unit == "" {
				unit = v.Unit
			}
		}
		if v.Currency != "" {
			if currency != "" && !strings.EqualFold(currency, v.Currency) {
				return "", "", ev.fail("currency mismatch in %s: %q and %q", op, currency, v.Currency)
			}
			if currency == "" {
				currency = v.Currency
			}
		}
	}
	return unit, currency, nil
}

func mulUnit(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "*" + b
}

func mulCurrency(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return ""
}

// divUnit: like units cancel, a unitless divisor keeps the dividend's unit.
func divUnit(a, b model.Value) (unit, currency string) {
	switch {
	case strings.EqualFold(a.Unit, b.Unit):
		unit = ""
	case b.Unit == "":
		unit = a.Unit
	case a.Unit == "":
		unit = "1/" + b.Unit
	default:
		unit = a.Unit + "/" + b.Unit
	}
	if b.Currency == "" {
		currency = a.Currency
	}
	return unit, currency
}

type call struct {
	fn   *function
	args []node
}

func (n *call) eval(ev *evaluator) (model.Value, error) {
	return n.fn.apply(ev, n.args)
}
