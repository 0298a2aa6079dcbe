package history

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists execution records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, amount, tier, strategy, partial, signatures,
		       estimated_savings, protection_cost, failure_reason, created_at`

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	sigsJSON, _ := json.Marshal(r.Signatures)
	if r.Signatures == nil {
		sigsJSON = []byte("[]")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, amount, tier, strategy, partial, signatures,
			estimated_savings, protection_cost, failure_reason, created_at
		) VALUES (
			$1, $2::NUMERIC(30,0), $3, $4, $5, $6,
			$7::NUMERIC(30,0), $8::NUMERIC(30,0), $9, $10
		)`,
		r.ID, r.Amount, r.Tier, r.Strategy, r.Partial, sigsJSON,
		r.EstimatedSavings, r.ProtectionCost, nullString(r.FailureReason), r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM executions WHERE id = $1`, id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM executions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var r Record
	var sigsJSON []byte
	var failureReason sql.NullString

	err := row.Scan(
		&r.ID, &r.Amount, &r.Tier, &r.Strategy, &r.Partial, &sigsJSON,
		&r.EstimatedSavings, &r.ProtectionCost, &failureReason, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(sigsJSON) > 0 {
		_ = json.Unmarshal(sigsJSON, &r.Signatures)
	}
	r.FailureReason = failureReason.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
