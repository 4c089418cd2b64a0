package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, so tests can substitute
// pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// copyThreshold is the batch size above which appends switch from row-by-row
// inserts to the COPY protocol.
const copyThreshold = 100

var variantColumns = []string{"id", "parameter", "value", "unit", "source_type", "origin", "raw", "uploaded_at"}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"insert_variant": `INSERT INTO variants (id, parameter, value, unit, source_type, origin, raw, uploaded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"list_variants":  `SELECT id, parameter, value, unit, source_type, origin, raw, uploaded_at FROM variants WHERE parameter = $1 ORDER BY uploaded_at, id`,
	"get_override":   `SELECT id, parameter, value, unit, saved_at FROM overrides WHERE parameter = $1`,
}

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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS variants (
	id          TEXT PRIMARY KEY,
	parameter   TEXT NOT NULL,
	value       TEXT NOT NULL,
	unit        TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL,
	origin      TEXT NOT NULL DEFAULT '',
	raw         TEXT NOT NULL DEFAULT '',
	uploaded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS overrides (
	parameter TEXT PRIMARY KEY,
	id        TEXT NOT NULL,
	value     TEXT NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	saved_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS defect_results (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_variants_parameter ON variants(parameter);
CREATE INDEX IF NOT EXISTS idx_variants_uploaded_at ON variants(uploaded_at);
CREATE INDEX IF NOT EXISTS idx_defect_results_batch ON defect_results(batch_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendVariants(ctx context.Context, variants []model.Variant) (int, error) {
	if len(variants) == 0 {
		return 0, nil
	}
	if len(variants) >= copyThreshold {
		return s.copyVariants(ctx, variants)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin append")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var n int
	for _, v := range variants {
		id := v.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO variants (id, parameter, value, unit, source_type, origin, raw, uploaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, v.Parameter, v.Value, v.Unit, string(v.SourceType), v.Origin, v.Raw, v.UploadedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert variant %s", v.Parameter)
		}
		n++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit append")
	}
	return n, nil
}

// copyVariants bulk-inserts a large batch over the COPY protocol.
func (s *PostgresStore) copyVariants(ctx context.Context, variants []model.Variant) (int, error) {
	rows := make([][]any, 0, len(variants))
	for _, v := range variants {
		id := v.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, v.Parameter, v.Value, v.Unit, string(v.SourceType), v.Origin, v.Raw, v.UploadedAt.UTC()})
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"variants"}, variantColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: copy variants")
	}
	return int(n), nil
}

func (s *PostgresStore) ListVariants(ctx context.Context, parameter string) ([]model.Variant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, parameter, value, unit, source_type, origin, raw, uploaded_at
		 FROM variants WHERE parameter = $1 ORDER BY uploaded_at, id`,
		parameter,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list variants %s", parameter)
	}
	defer rows.Close()
	return collectPgxVariants(rows)
}

func (s *PostgresStore) SaveOverride(ctx context.Context, ov model.Override) (bool, error) {
	id := ov.ID
	if id == "" {
		id = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO overrides (parameter, id, value, unit, saved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (parameter) DO UPDATE SET
			id = EXCLUDED.id,
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			saved_at = EXCLUDED.saved_at
		 WHERE EXCLUDED.saved_at > overrides.saved_at`,
		ov.Parameter, id, ov.Value, ov.Unit, ov.SavedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: save override %s", ov.Parameter)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetOverride(ctx context.Context, parameter string) (*model.Override, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, parameter, value, unit, saved_at FROM overrides WHERE parameter = $1`,
		parameter,
	)
	var ov model.Override
	err := row.Scan(&ov.ID, &ov.Parameter, &ov.Value, &ov.Unit, &ov.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get override %s", parameter)
	}
	return &ov, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snap := &Snapshot{
		Variants:  make(map[string][]model.Variant),
		Overrides: make(map[string]model.Override),
	}

	rows, err := tx.Query(ctx,
		`SELECT id, parameter, value, unit, source_type, origin, raw, uploaded_at
		 FROM variants ORDER BY parameter, uploaded_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot variants")
	}
	variants, err := collectPgxVariants(rows)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		snap.Variants[v.Parameter] = append(snap.Variants[v.Parameter], v)
	}

	ovRows, err := tx.Query(ctx,
		`SELECT id, parameter, value, unit, saved_at FROM overrides`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot overrides")
	}
	defer ovRows.Close()
	for ovRows.Next() {
		var ov model.Override
		if err := ovRows.Scan(&ov.ID, &ov.Parameter, &ov.Value, &ov.Unit, &ov.SavedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		snap.Overrides[ov.Parameter] = ov
	}
	if err := ovRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot overrides iterate")
	}

	return snap, nil
}

func (s *PostgresStore) SaveDefectResults(ctx context.Context, results []model.ClassifiedDefect) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin defect results")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM defect_results`); err != nil {
		return eris.Wrap(err, "postgres: clear defect results")
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()
	for i, r := range results {
		recordJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal defect result")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO defect_results (id, batch_id, seq, record, created_at) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), batchID, i, string(recordJSON), now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert defect result")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit defect results")
}

func (s *PostgresStore) LatestDefectResults(ctx context.Context) ([]model.ClassifiedDefect, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM defect_results ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list defect results")
	}
	defer rows.Close()

	var results []model.ClassifiedDefect
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan defect result")
		}
		var r model.ClassifiedDefect
		if err := json.Unmarshal(recordJSON, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal defect result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: defect results iterate")
}

func collectPgxVariants(rows pgx.Rows) ([]model.Variant, error) {
	var variants []model.Variant
	for rows.Next() {
		var v model.Variant
		var sourceType string
		if err := rows.Scan(&v.ID, &v.Parameter, &v.Value, &v.Unit, &sourceType, &v.Origin, &v.Raw, &v.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan variant")
		}
		v.SourceType = model.SourceType(sourceType)
		variants = append(variants, v)
	}
	return variants, eris.Wrap(rows.Err(), "postgres: variants iterate")
}
