package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/model"
)

// datasetRecord is the serialized form of a dataset version.
type datasetRecord struct {
	Name           string          `json:"name"`
	Version        int             `json:"version"`
	SourceIdentity string          `json:"source_identity"`
	Fields         []string        `json:"fields"`
	Periods        []string        `json:"periods"`
	Rows           [][]model.Value `json:"rows"`
	IngestedAt     time.Time       `json:"ingested_at"`
}

func encodeDataset(ds *model.Dataset) ([]byte, error) {
	b, err := json.Marshal(datasetRecord{
		Name:           ds.Name,
		Version:        ds.Version,
		SourceIdentity: ds.SourceIdentity,
		Fields:         ds.Fields,
		Periods:        ds.Periods,
		Rows:           ds.Rows(),
		IngestedAt:     ds.IngestedAt,
	})
	return b, eris.Wrapf(err, "store: marshal dataset %s v%d", ds.Name, ds.Version)
}

func decodeDataset(b []byte) (*model.Dataset, error) {
	var rec datasetRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal dataset")
	}
	return rec.dataset()
}

func (rec datasetRecord) dataset() (*model.Dataset, error) {
	if len(rec.Rows) != len(rec.Fields) {
		return nil, eris.Errorf("store: dataset %s v%d has %d rows for %d fields",
			rec.Name, rec.Version, len(rec.Rows), len(rec.Fields))
	}
	for i, row := range rec.Rows {
		if len(row) != len(rec.Periods) {
			return nil, eris.Errorf("store: dataset %s v%d field %q has %d values for %d periods",
				rec.Name, rec.Version, rec.Fields[i], len(row), len(rec.Periods))
		}
	}
	return model.NewDataset(rec.Name, rec.Version, rec.SourceIdentity,
		rec.Fields, rec.Periods, rec.Rows, rec.IngestedAt), nil
}

func encodeNode(n *model.ProvenanceNode) ([]byte, error) {
	b, err := json.Marshal(n)
	return b, eris.Wrapf(err, "store: marshal node %s", n.ID)
}

func decodeNode(b []byte) (*model.ProvenanceNode, error) {
	var n model.ProvenanceNode
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal node")
	}
	return &n, nil
}

func encodeReference(ref model.Reference) ([]byte, error) {
	b, err := json.Marshal(ref)
	return b, eris.Wrapf(err, "store: marshal reference %s", ref.TokenID)
}

func decodeReference(b []byte) (model.Reference, error) {
	var ref model.Reference
	if err := json.Unmarshal(b, &ref); err != nil {
		return ref, eris.Wrap(err, "store: unmarshal reference")
	}
	return ref, nil
}
