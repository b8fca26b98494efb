package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AnTengye/contractrisk/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const analysesSchema = `
CREATE TABLE IF NOT EXISTS analyses (
    id                 TEXT PRIMARY KEY,
    document_id        TEXT NOT NULL UNIQUE,
    filename           TEXT NOT NULL,
    document_type      TEXT NOT NULL,
    overall_risk_score REAL NOT NULL,
    created_at         TEXT NOT NULL,
    record             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);
`

// SQLiteStore keeps each analysis as one row: indexed columns plus the full
// record as JSON. created_at is fixed-width ISO-8601 UTC text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open analyses db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping analyses db: %w", err)
	}
	if _, err := db.ExecContext(ctx, analysesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create analyses schema: %w", err)
	}
	slog.Info("analysis store initialized", "backend", "sqlite", "path", path)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, a *model.DocumentAnalysis) error {
	record, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshal analysis: %w", ErrStorage, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, document_id, filename, document_type, overall_risk_score, created_at, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.Filename, string(a.DocumentType), a.OverallRiskScore,
		model.FormatTimestamp(a.CreatedAt), string(record),
	)
	if err != nil {
		return fmt.Errorf("%w: insert analysis %s: %w", ErrStorage, a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.DocumentAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT created_at, record FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*model.DocumentAnalysis, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, record FROM analyses ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list analyses: %w", ErrStorage, err)
	}
	defer rows.Close()

	result := make([]*model.DocumentAnalysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list analyses: %w", ErrStorage, err)
	}
	return result, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete analysis %s: %w", ErrStorage, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete analysis %s: %w", ErrStorage, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*model.DocumentAnalysis, error) {
	var createdAt, record string
	if err := row.Scan(&createdAt, &record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan analysis: %w", ErrStorage, err)
	}

	var a model.DocumentAnalysis
	if err := json.Unmarshal([]byte(record), &a); err != nil {
		return nil, fmt.Errorf("%w: decode analysis: %w", ErrStorage, err)
	}
	ts, err := model.ParseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	a.CreatedAt = ts
	return &a, nil
}
