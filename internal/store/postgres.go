package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/db"
	"github.com/sells-group/lineage-cli/internal/model"
)

// PostgresStore implements Repository using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	nodeUpsert = db.UpsertConfig{
		Table:        "lineage_nodes",
		Columns:      []string{"id", "kind", "body"},
		ConflictKeys: []string{"id"},
		DoNothing:    true,
	}
	referenceUpsert = db.UpsertConfig{
		Table:        "lineage_references",
		Columns:      []string{"token_id", "document_id", "body", "created_at", "updated_at"},
		ConflictKeys: []string{"token_id"},
		UpdateCols:   []string{"body", "updated_at"},
	}
	cellColumns = []string{"dataset", "version", "field_idx", "period_idx", "value"}
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lineage_datasets (
	name            TEXT NOT NULL,
	version         INTEGER NOT NULL,
	source_identity TEXT NOT NULL DEFAULT '',
	fields          JSONB NOT NULL,
	periods         JSONB NOT NULL,
	ingested_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS lineage_cells (
	dataset    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	field_idx  INTEGER NOT NULL,
	period_idx INTEGER NOT NULL,
	value      JSONB NOT NULL,
	PRIMARY KEY (dataset, version, field_idx, period_idx),
	FOREIGN KEY (dataset, version) REFERENCES lineage_datasets(name, version)
);

CREATE TABLE IF NOT EXISTS lineage_nodes (
	seq  BIGSERIAL,
	id   TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	body JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS lineage_references (
	token_id    TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	body        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lineage_nodes_seq ON lineage_nodes(seq);
CREATE INDEX IF NOT EXISTS idx_lineage_references_document ON lineage_references(document_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveDataset writes the header row and copies every cell in one transaction.
func (s *PostgresStore) SaveDataset(ctx context.Context, ds *model.Dataset) error {
	fields, err := json.Marshal(ds.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	periods, err := json.Marshal(ds.Periods)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal periods")
	}

	var cells [][]any
	for i, row := range ds.Rows() {
		for j, v := range row {
			b, err := json.Marshal(v)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal cell %s/%s", ds.Fields[i], ds.Periods[j])
			}
			cells = append(cells, []any{ds.Name, ds.Version, i, j, b})
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin dataset tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO lineage_datasets (name, version, source_identity, fields, periods, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ds.Name, ds.Version, ds.SourceIdentity, fields, periods, ds.IngestedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert dataset %s v%d", ds.Name, ds.Version)
	}
	if _, err := db.CopyFrom(ctx, tx, "lineage_cells", cellColumns, cells); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit dataset")
}

func (s *PostgresStore) LoadDatasets(ctx context.Context) ([]*model.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, version, source_identity, fields, periods, ingested_at
		 FROM lineage_datasets ORDER BY name, version`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query datasets")
	}
	var recs []*datasetRecord
	byKey := make(map[string]*datasetRecord)
	for rows.Next() {
		var (
			rec             datasetRecord
			fields, periods []byte
		)
		if err := rows.Scan(&rec.Name, &rec.Version, &rec.SourceIdentity, &fields, &periods, &rec.IngestedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan dataset")
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "postgres: unmarshal fields of %s", rec.Name)
		}
		if err := json.Unmarshal(periods, &rec.Periods); err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "postgres: unmarshal periods of %s", rec.Name)
		}
		rec.Rows = make([][]model.Value, len(rec.Fields))
		for i := range rec.Rows {
			rec.Rows[i] = make([]model.Value, len(rec.Periods))
		}
		recs = append(recs, &rec)
		byKey[datasetKey(rec.Name, rec.Version)] = &rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate datasets")
	}

	if err := s.loadCells(ctx, byKey); err != nil {
		return nil, err
	}

	out := make([]*model.Dataset, 0, len(recs))
	for _, rec := range recs {
		ds, err := rec.dataset()
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

func (s *PostgresStore) loadCells(ctx context.Context, byKey map[string]*datasetRecord) error {
	if len(byKey) == 0 {
		return nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT dataset, version, field_idx, period_idx, value FROM lineage_cells`)
	if err != nil {
		return eris.Wrap(err, "postgres: query cells")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name       string
			version    int
			fi, pi     int
			valueBytes []byte
		)
		if err := rows.Scan(&name, &version, &fi, &pi, &valueBytes); err != nil {
			return eris.Wrap(err, "postgres: scan cell")
		}
		rec, ok := byKey[datasetKey(name, version)]
		if !ok || fi < 0 || fi >= len(rec.Rows) || pi < 0 || pi >= len(rec.Periods) {
			return eris.Errorf("postgres: cell (%d,%d) of %s v%d has no dataset slot", fi, pi, name, version)
		}
		if err := json.Unmarshal(valueBytes, &rec.Rows[fi][pi]); err != nil {
			return eris.Wrapf(err, "postgres: unmarshal cell of %s v%d", name, version)
		}
	}
	return eris.Wrap(rows.Err(), "postgres: iterate cells")
}

func (s *PostgresStore) AppendNode(ctx context.Context, n *model.ProvenanceNode) error {
	body, err := encodeNode(n)
	if err != nil {
		return err
	}
	_, err = db.Upsert(ctx, s.pool, nodeUpsert, n.ID, string(n.Kind), body)
	return eris.Wrapf(err, "postgres: append node %s", n.ID)
}

func (s *PostgresStore) LoadNodes(ctx context.Context) ([]*model.ProvenanceNode, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM lineage_nodes ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query nodes")
	}
	defer rows.Close()

	var out []*model.ProvenanceNode
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan node")
		}
		n, err := decodeNode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate nodes")
}

func (s *PostgresStore) SaveReference(ctx context.Context, ref model.Reference) error {
	body, err := encodeReference(ref)
	if err != nil {
		return err
	}
	_, err = db.Upsert(ctx, s.pool, referenceUpsert,
		ref.TokenID, ref.DocumentID, body, ref.CreatedAt, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save reference %s", ref.TokenID)
}

func (s *PostgresStore) DeleteReference(ctx context.Context, tokenID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM lineage_references WHERE token_id = $1`, tokenID)
	return eris.Wrapf(err, "postgres: delete reference %s", tokenID)
}

func (s *PostgresStore) LoadReferences(ctx context.Context) ([]model.Reference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM lineage_references ORDER BY created_at, token_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query references")
	}
	defer rows.Close()

	var out []model.Reference
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reference")
		}
		ref, err := decodeReference(body)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate references")
}
