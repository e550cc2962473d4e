package shadow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema creates the cluster_state table on first use. Attribute
// values are stored pre-encoded as the same self-describing TLV blob used
// in memory (pkg/shadow/datavalue.go), so a row round-trips through
// EncodeDataValue/DecodeDataValue exactly like the in-memory cache does.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cluster_state (
	node_id      INTEGER NOT NULL,
	endpoint_id  INTEGER NOT NULL,
	cluster_id   INTEGER NOT NULL,
	attribute_id INTEGER NOT NULL,
	data_version INTEGER,
	value        BLOB NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (node_id, endpoint_id, cluster_id, attribute_id)
);
`

// SQLiteStorage persists cluster state in a SQLite database, following the
// same database/sql query style as the project's other SQLite-backed
// repositories: parameterized queries, ExecContext/QueryContext, RFC3339
// timestamp columns.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps an already-open SQLite connection and ensures the
// backing table exists.
func NewSQLiteStorage(ctx context.Context, db *sql.DB) (*SQLiteStorage, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("shadow: create cluster_state table: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Load implements Storage.
func (s *SQLiteStorage) Load(node NodeID, endpoint EndpointID, cluster ClusterID) (ClusterData, bool, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT attribute_id, data_version, value FROM cluster_state
		 WHERE node_id = ? AND endpoint_id = ? AND cluster_id = ?`,
		int64(node), int64(endpoint), int64(cluster),
	)
	if err != nil {
		return ClusterData{}, false, fmt.Errorf("shadow: query cluster_state: %w", err)
	}
	defer rows.Close()

	cd := ClusterData{Attributes: make(map[AttributeID]DataValue)}
	found := false
	for rows.Next() {
		var attrID int64
		var dataVersion sql.NullInt64
		var blob []byte
		if err := rows.Scan(&attrID, &dataVersion, &blob); err != nil {
			return ClusterData{}, false, fmt.Errorf("shadow: scan cluster_state row: %w", err)
		}
		value, err := DecodeDataValue(blob)
		if err != nil {
			return ClusterData{}, false, fmt.Errorf("shadow: decode stored attribute value: %w", err)
		}
		cd.Attributes[AttributeID(attrID)] = value
		if dataVersion.Valid {
			v := DataVersion(dataVersion.Int64)
			cd.DataVersion = &v
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return ClusterData{}, false, fmt.Errorf("shadow: iterate cluster_state rows: %w", err)
	}
	return cd, found, nil
}

// Store implements Storage.
func (s *SQLiteStorage) Store(node NodeID, data map[ClusterPath]ClusterData) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("shadow: begin cluster_state transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for path, cd := range data {
		var dataVersion sql.NullInt64
		if cd.DataVersion != nil {
			dataVersion = sql.NullInt64{Int64: int64(*cd.DataVersion), Valid: true}
		}
		for attrID, value := range cd.Attributes {
			blob, err := EncodeDataValue(value)
			if err != nil {
				return fmt.Errorf("shadow: encode attribute value for storage: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO cluster_state (node_id, endpoint_id, cluster_id, attribute_id, data_version, value, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (node_id, endpoint_id, cluster_id, attribute_id)
				 DO UPDATE SET data_version = excluded.data_version, value = excluded.value, updated_at = excluded.updated_at`,
				int64(node), int64(path.Endpoint), int64(path.Cluster), int64(attrID), dataVersion, blob, now,
			)
			if err != nil {
				return fmt.Errorf("shadow: upsert cluster_state row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("shadow: commit cluster_state transaction: %w", err)
	}
	return nil
}

var _ Storage = (*SQLiteStorage)(nil)
