// Package index resolves (dataset, field, period) lookups against the
// dataset store, with tolerant field-name matching.
package index

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/metrics"
	"github.com/sells-group/lineage-cli/internal/model"
)

// Datasets is the read side of the dataset store.
type Datasets interface {
	Get(name string, version int) (*model.Dataset, error)
}

type cacheKey struct {
	dataset string
	version int
}

// Index is built lazily per dataset version. Dataset versions are
// immutable, so a prepared entry never needs invalidation.
type Index struct {
	store   Datasets
	policy  FuzzyPolicy
	metrics *metrics.Recorder
	log     *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey][]label
}

// New creates an Index over store.
func New(store Datasets, policy FuzzyPolicy, m *metrics.Recorder) *Index {
	return &Index{
		store:   store,
		policy:  policy,
		metrics: m,
		log:     zap.L().With(zap.String("component", "index")),
		cache:   make(map[cacheKey][]label),
	}
}

type lookupOptions struct {
	version int
}

// LookupOption adjusts a single Lookup.
type LookupOption func(*lookupOptions)

// WithVersion pins the lookup to a dataset version instead of the latest.
func WithVersion(v int) LookupOption {
	return func(o *lookupOptions) { o.version = v }
}

// Lookup resolves one datapoint. A Missing cell is a successful lookup.
func (ix *Index) Lookup(dataset, field, period string, opts ...LookupOption) (model.Datapoint, error) {
	dp, err := ix.lookup(dataset, field, period, opts...)
	ix.metrics.Lookup(result(dp, err))
	return dp, err
}

func (ix *Index) lookup(dataset, field, period string, opts ...LookupOption) (model.Datapoint, error) {
	var o lookupOptions
	for _, fn := range opts {
		fn(&o)
	}

	ds, err := ix.store.Get(dataset, o.version)
	if err != nil {
		return model.Datapoint{}, err
	}

	periodLabel, ok := ds.PeriodLabel(period)
	if !ok {
		return model.Datapoint{}, &model.PeriodNotFoundError{
			Dataset:   ds.Name,
			Version:   ds.Version,
			Period:    period,
			Available: ds.Periods,
		}
	}

	prov := model.DatapointProvenance{
		SourceIdentity: ds.SourceIdentity,
		IngestedAt:     ds.IngestedAt,
		RequestedField: field,
		Match:          model.MatchExact,
	}

	fieldLabel, ok := ds.FieldLabel(model.NormalizeField(field))
	if !ok {
		match, err := ix.fuzzy(ds, field)
		if err != nil {
			return model.Datapoint{}, err
		}
		fieldLabel = match.Field
		prov.Match = model.MatchFuzzy
		prov.MatchScore = match.Score
		ix.log.Debug("fuzzy field match",
			zap.String("dataset", ds.Name),
			zap.Int("version", ds.Version),
			zap.String("requested", field),
			zap.String("matched", match.Field),
			zap.Int("score", match.Score),
		)
	}

	return model.Datapoint{
		DatasetName:    ds.Name,
		DatasetVersion: ds.Version,
		Field:          fieldLabel,
		Period:         periodLabel,
		Value:          ds.Cell(fieldLabel, periodLabel),
		Provenance:     prov,
	}, nil
}

// Periods returns the period labels and version of a dataset; version <= 0
// means latest.
func (ix *Index) Periods(dataset string, version int) ([]string, int, error) {
	ds, err := ix.store.Get(dataset, version)
	if err != nil {
		return nil, 0, err
	}
	return ds.Periods, ds.Version, nil
}

func (ix *Index) fuzzy(ds *model.Dataset, field string) (model.FieldCandidate, error) {
	ranked := rank(newLabel(field), ix.labels(ds))
	var eligible []model.FieldCandidate
	for _, c := range ranked {
		if c.Score >= ix.policy.MinScore {
			eligible = append(eligible, c)
		}
	}

	if !ix.policy.Enabled || len(eligible) == 0 {
		return model.FieldCandidate{}, &model.FieldNotFoundError{
			Dataset:     ds.Name,
			Version:     ds.Version,
			Field:       field,
			Suggestions: suggestions(ranked),
		}
	}

	best := eligible[0]
	if len(eligible) == 1 || best.Score > eligible[1].Score+ix.policy.Margin {
		return best, nil
	}

	var tied []model.FieldCandidate
	for _, c := range eligible {
		if c.Score >= best.Score-ix.policy.Margin {
			tied = append(tied, c)
		}
	}
	return model.FieldCandidate{}, &model.AmbiguousFieldError{
		Dataset:    ds.Name,
		Version:    ds.Version,
		Field:      field,
		Candidates: tied,
	}
}

func (ix *Index) labels(ds *model.Dataset) []label {
	key := cacheKey{dataset: ds.Name, version: ds.Version}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if l, ok := ix.cache[key]; ok {
		return l
	}
	l := make([]label, len(ds.Fields))
	for i, f := range ds.Fields {
		l[i] = newLabel(f)
	}
	ix.cache[key] = l
	return l
}

func result(dp model.Datapoint, err error) string {
	if err == nil {
		return string(dp.Provenance.Match)
	}
	var (
		dnf *model.DatasetNotFoundError
		pnf *model.PeriodNotFoundError
		fnf *model.FieldNotFoundError
		amb *model.AmbiguousFieldError
	)
	switch {
	case errors.As(err, &dnf):
		return "dataset_not_found"
	case errors.As(err, &pnf):
		return "period_not_found"
	case errors.As(err, &fnf):
		return "field_not_found"
	case errors.As(err, &amb):
		return "ambiguous"
	default:
		return "error"
	}
}
