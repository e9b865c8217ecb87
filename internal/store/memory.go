package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sells-group/lineage-cli/internal/model"
)

// Memory is a process-local Repository. Records are stored serialized so
// callers can never share mutable state with it.
type Memory struct {
	mu         sync.Mutex
	datasets   map[string][]byte
	dsOrder    []string
	nodes      map[string][]byte
	nodeOrder  []string
	references map[string][]byte
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		datasets:   make(map[string][]byte),
		nodes:      make(map[string][]byte),
		references: make(map[string][]byte),
	}
}

func datasetKey(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}

func (m *Memory) Migrate(context.Context) error { return nil }
func (m *Memory) Close() error                  { return nil }

func (m *Memory) SaveDataset(_ context.Context, ds *model.Dataset) error {
	b, err := encodeDataset(ds)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := datasetKey(ds.Name, ds.Version)
	if _, ok := m.datasets[key]; !ok {
		m.dsOrder = append(m.dsOrder, key)
	}
	m.datasets[key] = b
	return nil
}

func (m *Memory) LoadDatasets(context.Context) ([]*model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Dataset, 0, len(m.dsOrder))
	for _, key := range m.dsOrder {
		ds, err := decodeDataset(m.datasets[key])
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

func (m *Memory) AppendNode(_ context.Context, n *model.ProvenanceNode) error {
	b, err := encodeNode(n)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[n.ID]; ok {
		return nil
	}
	m.nodes[n.ID] = b
	m.nodeOrder = append(m.nodeOrder, n.ID)
	return nil
}

func (m *Memory) LoadNodes(context.Context) ([]*model.ProvenanceNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ProvenanceNode, 0, len(m.nodeOrder))
	for _, id := range m.nodeOrder {
		n, err := decodeNode(m.nodes[id])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *Memory) SaveReference(_ context.Context, ref model.Reference) error {
	b, err := encodeReference(ref)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references[ref.TokenID] = b
	return nil
}

func (m *Memory) DeleteReference(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.references, tokenID)
	return nil
}

func (m *Memory) LoadReferences(context.Context) ([]model.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Reference, 0, len(m.references))
	for _, b := range m.references {
		ref, err := decodeReference(b)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out, nil
}
