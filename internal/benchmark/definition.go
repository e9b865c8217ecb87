package benchmark

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lineage-cli/internal/formula"
	"github.com/sells-group/lineage-cli/internal/index"
	"github.com/sells-group/lineage-cli/internal/model"
)

// Catalog resolves datapoints for benchmark inputs. *index.Index satisfies it.
type Catalog interface {
	Periods(dataset string, version int) ([]string, int, error)
	Lookup(dataset, field, period string, opts ...index.LookupOption) (model.Datapoint, error)
}

// InputSpec names the field bound to a formula input. Offset selects a
// period relative to the definition's period in dataset order, so -1 is
// the prior period. Period, when set, wins over Offset.
type InputSpec struct {
	Field  string `yaml:"field" json:"field"`
	Period string `yaml:"period,omitempty" json:"period,omitempty"`
	Offset int    `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// UnmarshalYAML accepts either a bare field label or a mapping.
func (s *InputSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.Field = n.Value
		return nil
	}
	type plain InputSpec
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = InputSpec(p)
	return nil
}

// Entity is one benchmarked company and the dataset holding its statements.
type Entity struct {
	Name    string `yaml:"name" json:"name"`
	Dataset string `yaml:"dataset" json:"dataset"`
	Period  string `yaml:"period,omitempty" json:"period,omitempty"`
}

// Definition declares a metric: the formula, how each input name maps to a
// dataset field, the period to read and the entities to compare.
type Definition struct {
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Formula     string               `yaml:"formula" json:"formula"`
	Direction   model.Direction      `yaml:"direction,omitempty" json:"direction,omitempty"`
	Period      string               `yaml:"period" json:"period"`
	Inputs      map[string]InputSpec `yaml:"inputs" json:"inputs"`
	Entities    []Entity             `yaml:"entities" json:"entities"`
}

// Validate checks the definition is runnable.
func (d Definition) Validate() error {
	if d.Name == "" {
		return eris.New("benchmark: definition has no name")
	}
	if strings.Contains(d.Name, ".") {
		return eris.Errorf("benchmark: name %q must not contain '.'", d.Name)
	}
	switch d.Direction {
	case "", model.Descending, model.Ascending:
	default:
		return eris.Errorf("benchmark %s: unknown direction %q", d.Name, d.Direction)
	}
	expr, err := formula.Parse(d.Formula)
	if err != nil {
		return err
	}
	for _, name := range expr.Names() {
		if _, ok := d.Inputs[name]; !ok {
			return eris.Errorf("benchmark %s: formula input %q has no field mapping", d.Name, name)
		}
	}
	seen := make(map[string]bool, len(d.Entities))
	for _, e := range d.Entities {
		if e.Name == "" || e.Dataset == "" {
			return eris.Errorf("benchmark %s: entity needs name and dataset", d.Name)
		}
		if seen[e.Name] {
			return eris.Errorf("benchmark %s: entity %q listed twice", d.Name, e.Name)
		}
		seen[e.Name] = true
		if e.Period == "" && d.Period == "" {
			return eris.Errorf("benchmark %s: no period for entity %q", d.Name, e.Name)
		}
	}
	return nil
}

// EntityNames lists entity names in declaration order.
func (d Definition) EntityNames() []string {
	out := make([]string, len(d.Entities))
	for i, e := range d.Entities {
		out[i] = e.Name
	}
	return out
}

// inputNames returns the mapped input names in sorted order so bound
// inputs, and therefore node ids, are deterministic.
func (d Definition) inputNames() []string {
	names := make([]string, 0, len(d.Inputs))
	for n := range d.Inputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bind looks up every entity's inputs at the latest version of its dataset.
// All lookups for one entity are pinned to the same version.
func (d Definition) Bind(cat Catalog) (map[string][]formula.Input, map[string]error) {
	inputs := make(map[string][]formula.Input, len(d.Entities))
	failures := make(map[string]error)
	for _, ent := range d.Entities {
		in, err := d.bindEntity(cat, ent)
		if err != nil {
			failures[ent.Name] = err
			continue
		}
		inputs[ent.Name] = in
	}
	return inputs, failures
}

func (d Definition) bindEntity(cat Catalog, ent Entity) ([]formula.Input, error) {
	periods, version, err := cat.Periods(ent.Dataset, 0)
	if err != nil {
		return nil, err
	}
	base := ent.Period
	if base == "" {
		base = d.Period
	}

	var out []formula.Input
	for _, name := range d.inputNames() {
		spec := d.Inputs[name]
		period, err := resolvePeriod(ent.Dataset, version, periods, base, spec)
		if err != nil {
			return nil, err
		}
		dp, err := cat.Lookup(ent.Dataset, spec.Field, period, index.WithVersion(version))
		if err != nil {
			return nil, err
		}
		out = append(out, formula.DatapointInput(name, dp))
	}
	return out, nil
}

func resolvePeriod(dataset string, version int, periods []string, base string, spec InputSpec) (string, error) {
	if spec.Period != "" {
		return spec.Period, nil
	}
	if spec.Offset == 0 {
		return base, nil
	}
	want := model.NormalizePeriod(base)
	for i, p := range periods {
		if model.NormalizePeriod(p) != want {
			continue
		}
		j := i + spec.Offset
		if j < 0 || j >= len(periods) {
			return "", &model.PeriodNotFoundError{
				Dataset:   dataset,
				Version:   version,
				Period:    fmt.Sprintf("%s%+d", base, spec.Offset),
				Available: periods,
			}
		}
		return periods[j], nil
	}
	return "", &model.PeriodNotFoundError{Dataset: dataset, Version: version, Period: base, Available: periods}
}

// ParseDefinitions decodes one definition or a list of them from YAML.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var list []Definition
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, validateAll(list)
	}
	var one Definition
	if err := yaml.Unmarshal(data, &one); err != nil {
		return nil, eris.Wrap(err, "benchmark: parse definitions")
	}
	list = []Definition{one}
	return list, validateAll(list)
}

// LoadDefinitions reads ParseDefinitions input from a file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: read %s", path)
	}
	return ParseDefinitions(data)
}

func validateAll(defs []Definition) error {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
