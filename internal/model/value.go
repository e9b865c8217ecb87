package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	ValueMissing ValueKind = "missing"
	ValueNumeric ValueKind = "numeric"
	ValueText    ValueKind = "text"
)

// Value is a cell in a dataset or the result of a formula. The zero Value is Missing.
type Value struct {
	Kind     ValueKind
	Amount   decimal.Decimal
	Unit     string
	Currency string
	Text     string
}

// Numeric returns a numeric value with the given unit.
func Numeric(amount decimal.Decimal, unit string) Value {
	return Value{Kind: ValueNumeric, Amount: amount, Unit: unit}
}

// NumericWithCurrency returns a numeric value tagged with a currency code.
func NumericWithCurrency(amount decimal.Decimal, unit, currency string) Value {
	return Value{Kind: ValueNumeric, Amount: amount, Unit: unit, Currency: currency}
}

// Text returns a text value.
func Text(s string) Value {
	return Value{Kind: ValueText, Text: s}
}

// Missing returns the explicit missing marker.
func Missing() Value {
	return Value{Kind: ValueMissing}
}

// IsMissing reports whether v holds no data.
func (v Value) IsMissing() bool {
	return v.Kind == "" || v.Kind == ValueMissing
}

// IsNumeric reports whether v holds an amount.
func (v Value) IsNumeric() bool {
	return v.Kind == ValueNumeric
}

// Equal compares kind, amount (by numeric value, not scale), unit, currency and text.
func (v Value) Equal(o Value) bool {
	if v.IsMissing() || o.IsMissing() {
		return v.IsMissing() && o.IsMissing()
	}
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == ValueText {
		return v.Text == o.Text
	}
	return v.Amount.Equal(o.Amount) && v.Unit == o.Unit && v.Currency == o.Currency
}

// String returns the display form used when a reference is rendered, e.g. "100 USD".
func (v Value) String() string {
	switch v.Kind {
	case ValueNumeric:
		s := v.Amount.String()
		switch {
		case v.Unit == "%":
			return s + "%"
		case v.Unit != "":
			return s + " " + v.Unit
		case v.Currency != "":
			return s + " " + v.Currency
		}
		return s
	case ValueText:
		return v.Text
	default:
		return "Missing"
	}
}

type valueJSON struct {
	Kind     ValueKind `json:"kind"`
	Amount   string    `json:"amount,omitempty"`
	Unit     string    `json:"unit,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Text     string    `json:"text,omitempty"`
}

// MarshalJSON encodes amounts as decimal strings so no precision is lost.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.Kind}
	switch v.Kind {
	case ValueNumeric:
		out.Amount = v.Amount.String()
		out.Unit = v.Unit
		out.Currency = v.Currency
	case ValueText:
		out.Text = v.Text
	default:
		out.Kind = ValueMissing
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return eris.Wrap(err, "value: unmarshal")
	}
	switch in.Kind {
	case ValueNumeric:
		amt, err := decimal.NewFromString(in.Amount)
		if err != nil {
			return eris.Wrapf(err, "value: parse amount %q", in.Amount)
		}
		*v = NumericWithCurrency(amt, in.Unit, in.Currency)
	case ValueText:
		*v = Text(in.Text)
	case ValueMissing, "":
		*v = Missing()
	default:
		return eris.Errorf("value: unknown kind %q", in.Kind)
	}
	return nil
}

// scaleWords maps unit scale qualifiers to their multiplier exponent.
var scaleWords = map[string]int32{
	"thousand":  3,
	"thousands": 3,
	"k":         3,
	"000s":      3,
	"'000":      3,
	"million":   6,
	"millions":  6,
	"m":         6,
	"mm":        6,
	"mn":        6,
	"billion":   9,
	"billions":  9,
	"b":         9,
	"bn":        9,
}

// NormalizeUnit folds a scale qualifier in the unit into the amount, so
// 1.5 "USD millions" becomes 1500000 "USD". Non-numeric values and units
// without a scale word are returned unchanged.
func NormalizeUnit(v Value) Value {
	if !v.IsNumeric() || v.Unit == "" {
		return v
	}
	words := strings.Fields(strings.ToLower(v.Unit))
	var exp int32
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if e, ok := scaleWords[w]; ok && exp == 0 {
			exp = e
			continue
		}
		kept = append(kept, w)
	}
	if exp == 0 {
		return v
	}
	out := v
	out.Amount = v.Amount.Shift(exp)
	out.Unit = restoreCase(v.Unit, kept)
	return out
}

// restoreCase returns the original-cased words of unit that survived scale stripping.
func restoreCase(unit string, kept []string) string {
	var out []string
	i := 0
	for _, w := range strings.Fields(unit) {
		if i < len(kept) && strings.ToLower(w) == kept[i] {
			out = append(out, w)
			i++
		}
	}
	return strings.Join(out, " ")
}
