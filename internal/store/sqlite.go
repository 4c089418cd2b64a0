package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
CREATE TABLE IF NOT EXISTS variants (
	id          TEXT PRIMARY KEY,
	parameter   TEXT NOT NULL,
	value       TEXT NOT NULL,
	unit        TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL,
	origin      TEXT NOT NULL DEFAULT '',
	raw         TEXT NOT NULL DEFAULT '',
	uploaded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS overrides (
	parameter TEXT PRIMARY KEY,
	id        TEXT NOT NULL,
	value     TEXT NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	saved_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS defect_results (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_variants_parameter ON variants(parameter);
CREATE INDEX IF NOT EXISTS idx_variants_uploaded_at ON variants(uploaded_at);
CREATE INDEX IF NOT EXISTS idx_defect_results_batch ON defect_results(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendVariants inserts all variants in one transaction. Rows are never
// updated: repeated extractions accumulate as history.
func (s *SQLiteStore) AppendVariants(ctx context.Context, variants []model.Variant) (int, error) {
	if len(variants) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	for _, v := range variants {
		id := v.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO variants (id, parameter, value, unit, source_type, origin, raw, uploaded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, v.Parameter, v.Value, v.Unit, string(v.SourceType), v.Origin, v.Raw, v.UploadedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert variant %s", v.Parameter)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append")
	}
	return n, nil
}

func (s *SQLiteStore) ListVariants(ctx context.Context, parameter string) ([]model.Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parameter, value, unit, source_type, origin, raw, uploaded_at
		 FROM variants WHERE parameter = ? ORDER BY uploaded_at, id`,
		parameter,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list variants %s", parameter)
	}
	defer rows.Close()
	return collectVariants(rows)
}

// SaveOverride upserts the override for a parameter. The write only lands
// when its saved_at is newer than the stored one, so a slow request cannot
// clobber a later correction. Returns whether the write was applied.
func (s *SQLiteStore) SaveOverride(ctx context.Context, ov model.Override) (bool, error) {
	id := ov.ID
	if id == "" {
		id = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO overrides (parameter, id, value, unit, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(parameter) DO UPDATE SET
			id = excluded.id,
			value = excluded.value,
			unit = excluded.unit,
			saved_at = excluded.saved_at
		 WHERE excluded.saved_at > overrides.saved_at`,
		ov.Parameter, id, ov.Value, ov.Unit, ov.SavedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: save override %s", ov.Parameter)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetOverride(ctx context.Context, parameter string) (*model.Override, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, parameter, value, unit, saved_at FROM overrides WHERE parameter = ?`,
		parameter,
	)
	var ov model.Override
	err := row.Scan(&ov.ID, &ov.Parameter, &ov.Value, &ov.Unit, &ov.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get override %s", parameter)
	}
	return &ov, nil
}

// Snapshot reads both tables inside one read transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &Snapshot{
		Variants:  make(map[string][]model.Variant),
		Overrides: make(map[string]model.Override),
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, parameter, value, unit, source_type, origin, raw, uploaded_at
		 FROM variants ORDER BY parameter, uploaded_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot variants")
	}
	variants, err := collectVariants(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		snap.Variants[v.Parameter] = append(snap.Variants[v.Parameter], v)
	}

	ovRows, err := tx.QueryContext(ctx,
		`SELECT id, parameter, value, unit, saved_at FROM overrides`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot overrides")
	}
	defer ovRows.Close()
	for ovRows.Next() {
		var ov model.Override
		if err := ovRows.Scan(&ov.ID, &ov.Parameter, &ov.Value, &ov.Unit, &ov.SavedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan override")
		}
		snap.Overrides[ov.Parameter] = ov
	}
	if err := ovRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot overrides iterate")
	}

	return snap, nil
}

// SaveDefectResults replaces the stored classification batch with a new one.
func (s *SQLiteStore) SaveDefectResults(ctx context.Context, results []model.ClassifiedDefect) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin defect results")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM defect_results`); err != nil {
		return eris.Wrap(err, "sqlite: clear defect results")
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()
	for i, r := range results {
		recordJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal defect result")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO defect_results (id, batch_id, seq, record, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), batchID, i, string(recordJSON), now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert defect result")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit defect results")
}

func (s *SQLiteStore) LatestDefectResults(ctx context.Context) ([]model.ClassifiedDefect, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM defect_results ORDER BY seq`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list defect results")
	}
	defer rows.Close()

	var results []model.ClassifiedDefect
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan defect result")
		}
		var r model.ClassifiedDefect
		if err := json.Unmarshal([]byte(recordJSON), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal defect result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: defect results iterate")
}

// helpers

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectVariants(rows rowScanner) ([]model.Variant, error) {
	var variants []model.Variant
	for rows.Next() {
		var v model.Variant
		var sourceType string
		if err := rows.Scan(&v.ID, &v.Parameter, &v.Value, &v.Unit, &sourceType, &v.Origin, &v.Raw, &v.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan variant")
		}
		v.SourceType = model.SourceType(sourceType)
		variants = append(variants, v)
	}
	return variants, eris.Wrap(rows.Err(), "sqlite: variants iterate")
}
