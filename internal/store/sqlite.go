package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lineage-cli/internal/model"
)

// sqliteTime sorts lexically in time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Repository using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	name        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	body        TEXT NOT NULL,
	ingested_at TEXT NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS provenance_nodes (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	id   TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS doc_references (
	token_id    TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	body        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_doc_references_document ON doc_references(document_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, ds *model.Dataset) error {
	body, err := encodeDataset(ds)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO datasets (name, version, body, ingested_at) VALUES (?, ?, ?, ?)`,
		ds.Name, ds.Version, string(body), ds.IngestedAt.UTC().Format(sqliteTime),
	)
	return eris.Wrapf(err, "sqlite: insert dataset %s v%d", ds.Name, ds.Version)
}

func (s *SQLiteStore) LoadDatasets(ctx context.Context) ([]*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM datasets ORDER BY name, version`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.Dataset
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset")
		}
		ds, err := decodeDataset([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func (s *SQLiteStore) AppendNode(ctx context.Context, n *model.ProvenanceNode) error {
	body, err := encodeNode(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provenance_nodes (id, kind, body) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		n.ID, string(n.Kind), string(body),
	)
	return eris.Wrapf(err, "sqlite: append node %s", n.ID)
}

func (s *SQLiteStore) LoadNodes(ctx context.Context) ([]*model.ProvenanceNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM provenance_nodes ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query nodes")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.ProvenanceNode
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan node")
		}
		n, err := decodeNode([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate nodes")
}

func (s *SQLiteStore) SaveReference(ctx context.Context, ref model.Reference) error {
	body, err := encodeReference(ref)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO doc_references (token_id, document_id, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(token_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		ref.TokenID, ref.DocumentID, string(body),
		ref.CreatedAt.UTC().Format(sqliteTime), time.Now().UTC().Format(sqliteTime),
	)
	return eris.Wrapf(err, "sqlite: save reference %s", ref.TokenID)
}

func (s *SQLiteStore) DeleteReference(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM doc_references WHERE token_id = ?`, tokenID)
	return eris.Wrapf(err, "sqlite: delete reference %s", tokenID)
}

func (s *SQLiteStore) LoadReferences(ctx context.Context) ([]model.Reference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM doc_references ORDER BY created_at, token_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query references")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Reference
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reference")
		}
		ref, err := decodeReference([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate references")
}
