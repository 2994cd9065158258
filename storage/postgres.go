package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tryfix/schemaregistry/v3/compatibility"
)

var _ Store = (*PostgresStore)(nil)

const pgUniqueViolation = `23505`

var pgMigrations = []string{
	`CREATE TABLE IF NOT EXISTS schemas (
		name           TEXT PRIMARY KEY,
		format         TEXT NOT NULL,
		compatibility  TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		tags           JSONB NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		latest_version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS schema_versions (
		id          VARCHAR(36) PRIMARY KEY,
		schema_name TEXT NOT NULL REFERENCES schemas (name) ON DELETE CASCADE,
		number      INTEGER NOT NULL,
		definition  BYTEA NOT NULL,
		format      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (schema_name, number)
	)`,
}

const (
	pgSchemaColumns  = `name, format, compatibility, description, tags, created_at, updated_at, latest_version`
	pgVersionColumns = `id, schema_name, number, definition, format, created_at`
)

// PostgresStore keeps schemas in PostgreSQL. Version appends lock the schema
// row so that concurrent registrars across processes serialize per schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. Call Migrate before first use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgresStore connects to url and creates the tables when missing
func OpenPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Migrate creates the store tables
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range pgMigrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	return nil
}

type pgRow interface {
	Scan(dest ...interface{}) error
}

func scanSchema(row pgRow) (*SchemaRecord, error) {
	var (
		rec                   SchemaRecord
		format, compatibility string
		tags                  []byte
	)

	err := row.Scan(&rec.Name, &format, &compatibility, &rec.Description, &tags,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.LatestVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schema: %w", err)
	}

	rec.Format = compatibilityFormat(format)
	rec.Compatibility = compatibilityMode(compatibility)

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		if len(rec.Tags) == 0 {
			rec.Tags = nil
		}
	}

	return &rec, nil
}

func scanVersion(row pgRow) (*VersionRecord, error) {
	var (
		rec        VersionRecord
		id, format string
	)

	err := row.Scan(&id, &rec.SchemaName, &rec.Number, &rec.Definition, &format, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version id: %w", err)
	}
	rec.Format = compatibilityFormat(format)

	return &rec, nil
}

func encodeTags(tags map[string]string) ([]byte, error) {
	if tags == nil {
		tags = map[string]string{}
	}

	return json.Marshal(tags)
}

func (s *PostgresStore) CreateSchema(ctx context.Context, rec *SchemaRecord, initial ...*VersionRecord) error {
	if err := checkInitial(rec.Name, initial); err != nil {
		return err
	}

	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO schemas (`+pgSchemaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Name, string(rec.Format), string(rec.Compatibility), rec.Description, tags,
		rec.CreatedAt, rec.UpdatedAt, len(initial),
	)
	if isUniqueViolation(err) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert schema: %w", err)
	}

	for _, v := range initial {
		if err := insertVersion(ctx, tx, v); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	return nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, rec *VersionRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO schema_versions (`+pgVersionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID.String(), rec.SchemaName, rec.Number, rec.Definition, string(rec.Format), rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == `schema_versions_pkey` {
			return ErrExists
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetSchema(ctx context.Context, name string) (*SchemaRecord, error) {
	return scanSchema(s.pool.QueryRow(ctx, `SELECT `+pgSchemaColumns+` FROM schemas WHERE name = $1`, name))
}

func (s *PostgresStore) UpdateSchema(ctx context.Context, rec *SchemaRecord) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE schemas SET description = $2, tags = $3, compatibility = $4, updated_at = $5
		WHERE name = $1`,
		rec.Name, rec.Description, tags, string(rec.Compatibility), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update schema: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) DeleteSchema(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schemas WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete schema: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) ListSchemas(ctx context.Context, prefix string) ([]*SchemaRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgSchemaColumns+` FROM schemas
		WHERE left(name, length($1::text)) = $1::text
		ORDER BY name`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	var recs []*SchemaRecord
	for rows.Next() {
		rec, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

func (s *PostgresStore) AppendVersion(ctx context.Context, rec *VersionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var latest int
	err = tx.QueryRow(ctx, `SELECT latest_version FROM schemas WHERE name = $1 FOR UPDATE`, rec.SchemaName).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock schema: %w", err)
	}

	if rec.Number != latest+1 {
		return ErrVersionConflict
	}

	if err := insertVersion(ctx, tx, rec); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE schemas SET latest_version = $2 WHERE name = $1`, rec.SchemaName, rec.Number)
	if err != nil {
		return fmt.Errorf("failed to advance latest version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, name string, number int) (*VersionRecord, error) {
	return scanVersion(s.pool.QueryRow(ctx, `
		SELECT `+pgVersionColumns+` FROM schema_versions
		WHERE schema_name = $1 AND number = $2`, name, number))
}

func (s *PostgresStore) GetVersionByID(ctx context.Context, id uuid.UUID) (*VersionRecord, error) {
	return scanVersion(s.pool.QueryRow(ctx, `
		SELECT `+pgVersionColumns+` FROM schema_versions WHERE id = $1`, id.String()))
}

func (s *PostgresStore) ListVersions(ctx context.Context, name string) ([]*VersionRecord, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schemas WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check schema existence: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgVersionColumns+` FROM schema_versions
		WHERE schema_name = $1 ORDER BY number`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	recs := []*VersionRecord{}
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

func (s *PostgresStore) DeleteVersions(ctx context.Context, name string, numbers []int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var latest int
	err = tx.QueryRow(ctx, `SELECT latest_version FROM schemas WHERE name = $1 FOR UPDATE`, name).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock schema: %w", err)
	}

	unique := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		unique[n] = true
	}

	for n := range unique {
		tag, err := tx.Exec(ctx, `DELETE FROM schema_versions WHERE schema_name = $1 AND number = $2`, name, n)
		if err != nil {
			return fmt.Errorf("failed to delete version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit version delete: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func compatibilityFormat(s string) compatibility.Format {
	return compatibility.Format(s)
}

func compatibilityMode(s string) compatibility.Mode {
	return compatibility.Mode(s)
}
