package formula

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sells-group/lineage-cli/internal/model"
)

type function struct {
	name    string
	minArgs int
	maxArgs int // -1 means variadic
	apply   func(ev *evaluator, args []node) (model.Value, error)
}

func (f *function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", f.minArgs)
	case f.minArgs == f.maxArgs && f.minArgs == 1:
		return "1 argument"
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d arguments", f.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
}

var functions = map[string]*function{
	"growth_rate": {name: "growth_rate", minArgs: 2, maxArgs: 2, apply: fnGrowthRate},
	"ratio":       {name: "ratio", minArgs: 2, maxArgs: 2, apply: fnRatio},
	"sum":         {name: "sum", minArgs: 1, maxArgs: -1, apply: fnSum},
	"avg":         {name: "avg", minArgs: 1, maxArgs: -1, apply: fnAvg},
	"min":         {name: "min", minArgs: 1, maxArgs: -1, apply: fnMin},
	"max":         {name: "max", minArgs: 1, maxArgs: -1, apply: fnMax},
	"abs":         {name: "abs", minArgs: 1, maxArgs: 1, apply: fnAbs},
	"default":     {name: "default", minArgs: 2, maxArgs: 2, apply: fnDefault},
}

// Functions lists the names accepted in formulas.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for n := range functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// evalAll evaluates every argument; missing reports whether any was Missing.
func evalAll(ev *evaluator, name string, args []node) (vals []model.Value, missing bool, err error) {
	vals = make([]model.Value, len(args))
	for i, a := range args {
		v, err := a.eval(ev)
		if err != nil {
			return nil, false, err
		}
		if v.IsMissing() {
			missing = true
		}
		vals[i] = v
	}
	if missing {
		return vals, true, nil
	}
	if err := ev.numeric(name, vals...); err != nil {
		return nil, false, err
	}
	return vals, false, nil
}

// growth_rate(a, b) = (a - b) / b
func fnGrowthRate(ev *evaluator, args []node) (model.Value, error) {
	vals, missing, err := evalAll(ev, "growth_rate", args)
	if err != nil || missing {
		return model.Missing(), err
	}
	diff, err := ev.apply(tokMinus, vals[0], vals[1])
	if err != nil {
		return model.Value{}, err
	}
	return ev.apply(tokSlash, diff, vals[1])
}

// ratio(a, b) = a / b
func fnRatio(ev *evaluator, args []node) (model.Value, error) {
	vals, missing, err := evalAll(ev, "ratio", args)
	if err != nil || missing {
		return model.Missing(), err
	}
	return ev.apply(tokSlash, vals[0], vals[1])
}

func fnSum(ev *evaluator, args []node) (model.Value, error) {
	vals, missing, err := evalAll(ev, "sum", args)
	if err != nil || missing {
		return model.Missing(), err
	}
	unit, currency, err := ev.sameUnit("sum", vals...)
	if err != nil {
		return model.Value{}, err
	}
	total := decimal.Zero
	for _, v := range vals {
		total = total.Add(v.Amount)
	}
	return model.NumericWithCurrency(total, unit, currency), nil
}

func fnAvg(ev *evaluator, args []node) (model.Value, error) {
	total, err := fnSum(ev, args)
	if err != nil || total.IsMissing() {
		return total, err
	}
	total.Amount = total.Amount.DivRound(decimal.NewFromInt(int64(len(args))), ev.precision)
	return total, nil
}

func fnMin(ev *evaluator, args []node) (model.Value, error) {
	return extreme(ev, "min", args, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
}

func fnMax(ev *evaluator, args []node) (model.Value, error) {
	return extreme(ev, "max", args, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

func extreme(ev *evaluator, name string, args []node, better func(a, b decimal.Decimal) bool) (model.Value, error) {
	vals, missing, err := evalAll(ev, name, args)
	if err != nil || missing {
		return model.Missing(), err
	}
	unit, currency, err := ev.sameUnit(name, vals...)
	if err != nil {
		return model.Value{}, err
	}
	best := vals[0].Amount
	for _, v := range vals[1:] {
		if better(v.Amount, best) {
			best = v.Amount
		}
	}
	return model.NumericWithCurrency(best, unit, currency), nil
}

func fnAbs(ev *evaluator, args []node) (model.Value, error) {
	vals, missing, err := evalAll(ev, "abs", args)
	if err != nil || missing {
		return model.Missing(), err
	}
	v := vals[0]
	v.Amount = v.Amount.Abs()
	return v, nil
}

// default(x, d) yields d when x is Missing. It is the only construct that
// stops Missing from propagating.
func fnDefault(ev *evaluator, args []node) (model.Value, error) {
	v, err := args[0].eval(ev)
	if err != nil {
		return model.Value{}, err
	}
	if !v.IsMissing() {
		return v, nil
	}
	return args[1].eval(ev)
}
