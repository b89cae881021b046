package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"brokerhub/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ConnectionStore = (*SQLiteStore)(nil)

// SQLiteStore implements ConnectionStore backed by a SQLite database.
// Credentials are stored as an opaque JSON blob; the schema never inspects
// the variant.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS broker_connections (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	broker_type TEXT NOT NULL,
	credentials TEXT NOT NULL,
	is_paper    INTEGER NOT NULL,
	is_active   INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_user
	ON broker_connections (user_id, created_at DESC);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ConnectionStore implementation
// ---------------------------------------------------------------------------

// SaveConnection inserts or replaces a connection record. CreatedAt and
// UpdatedAt are filled in when zero.
func (s *SQLiteStore) SaveConnection(ctx context.Context, conn *domain.BrokerConnection) error {
	if conn.ID == "" {
		return fmt.Errorf("connection id is required")
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	creds, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO broker_connections
			(id, user_id, broker_type, credentials, is_paper, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.UserID, string(conn.BrokerType), string(creds),
		boolToInt(conn.IsPaper), boolToInt(conn.IsActive),
		conn.CreatedAt.Format(time.RFC3339Nano), conn.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// GetConnection retrieves a single connection by ID.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*domain.BrokerConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, broker_type, credentials, is_paper, is_active, created_at, updated_at
		FROM broker_connections WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no connection %q", id)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ListConnections returns connections for a user, newest first. An empty
// userID returns every connection.
func (s *SQLiteStore) ListConnections(ctx context.Context, userID string) ([]domain.BrokerConnection, error) {
	query := `
		SELECT id, user_id, broker_type, credentials, is_paper, is_active, created_at, updated_at
		FROM broker_connections`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BrokerConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

// UpdateCredentials replaces the credential snapshot for a connection.
func (s *SQLiteStore) UpdateCredentials(ctx context.Context, id string, creds domain.Credentials) error {
	blob, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	return s.update(ctx, id, `
		UPDATE broker_connections SET credentials = ?, updated_at = ? WHERE id = ?`,
		string(blob), time.Now().UTC().Format(time.RFC3339Nano), id)
}

// SetActive flips the active flag for a connection.
func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, id, `
		UPDATE broker_connections SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339Nano), id)
}

// DeleteConnection removes a connection record.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, id string) error {
	return s.update(ctx, id, `DELETE FROM broker_connections WHERE id = ?`, id)
}

// update runs a statement expected to touch exactly one row and reports a
// missing connection as an error.
func (s *SQLiteStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no connection %q", id)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*domain.BrokerConnection, error) {
	var (
		conn              domain.BrokerConnection
		brokerType, creds string
		isPaper, isActive int
		created, updated  string
	)
	err := row.Scan(&conn.ID, &conn.UserID, &brokerType, &creds,
		&isPaper, &isActive, &created, &updated)
	if err != nil {
		return nil, err
	}
	conn.BrokerType = domain.BrokerType(brokerType)
	conn.IsPaper = isPaper != 0
	conn.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(creds), &conn.Credentials); err != nil {
		return nil, fmt.Errorf("decoding credentials for %s: %w", conn.ID, err)
	}
	if conn.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", conn.ID, err)
	}
	if conn.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", conn.ID, err)
	}
	return &conn, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
