package benchmark

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/model"
)

var presets = map[string]Definition{
	"gross_margin": {
		Name:        "gross_margin",
		Description: "Gross profit as a share of revenue",
		Formula:     "ratio(gross_profit, revenue)",
		Direction:   model.Descending,
		Inputs: map[string]InputSpec{
			"gross_profit": {Field: "Gross Profit"},
			"revenue":      {Field: "Total Revenue"},
		},
	},
	"net_margin": {
		Name:        "net_margin",
		Description: "Net income as a share of revenue",
		Formula:     "ratio(net_income, revenue)",
		Direction:   model.Descending,
		Inputs: map[string]InputSpec{
			"net_income": {Field: "Net Income"},
			"revenue":    {Field: "Total Revenue"},
		},
	},
	"operating_margin": {
		Name:        "operating_margin",
		Description: "Operating income as a share of revenue",
		Formula:     "ratio(operating_income, revenue)",
		Direction:   model.Descending,
		Inputs: map[string]InputSpec{
			"operating_income": {Field: "Operating Income"},
			"revenue":          {Field: "Total Revenue"},
		},
	},
	"revenue_growth": {
		Name:        "revenue_growth",
		Description: "Revenue growth over the prior period",
		Formula:     "growth_rate(revenue, revenue_prior)",
		Direction:   model.Descending,
		Inputs: map[string]InputSpec{
			"revenue":       {Field: "Total Revenue"},
			"revenue_prior": {Field: "Total Revenue", Offset: -1},
		},
	},
}

// PresetNames lists the built-in metric definitions.
func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for n := range presets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Preset returns the built-in definition called name bound to period and
// entities.
func Preset(name, period string, entities []Entity) (Definition, error) {
	p, ok := presets[name]
	if !ok {
		return Definition{}, eris.Errorf("benchmark: unknown preset %q", name)
	}
	def := p
	def.Period = period
	def.Entities = append([]Entity(nil), entities...)
	def.Inputs = make(map[string]InputSpec, len(p.Inputs))
	for k, v := range p.Inputs {
		def.Inputs[k] = v
	}
	return def, def.Validate()
}
