package contracts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/database"
)

// Repository persists contracts in ledger.db. Contracts are written once and
// never updated; settlement state lives in settlement_records.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a contract repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "contracts").Logger(),
	}
}

// Create validates the spec, allocates an id and persists the contract.
func (r *Repository) Create(ctx context.Context, spec Spec) (Contract, error) {
	now := time.Now().UTC()
	if err := spec.Validate(now); err != nil {
		return Contract{}, fmt.Errorf("invalid contract spec: %w", err)
	}

	c := NewContract(spec, now)

	// Timestamps are stored as second-precision RFC 3339 in UTC so that SQL
	// string comparison orders chronologically.
	c.ExpiryUTC = c.ExpiryUTC.Truncate(time.Second)
	c.CreatedAt = c.CreatedAt.Truncate(time.Second)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contracts (id, h3_cell, metric, threshold, unit, window_hours, expiry_utc, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.H3Cell, string(c.Metric), c.Threshold, c.Unit, c.WindowHours,
		c.ExpiryUTC.Format(time.RFC3339), c.Description, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Contract{}, fmt.Errorf("failed to insert contract: %w", err)
	}

	r.log.Info().
		Str("contract_id", c.ID).
		Str("cell", c.H3Cell).
		Str("metric", string(c.Metric)).
		Float64("threshold", c.Threshold).
		Time("expiry", c.ExpiryUTC).
		Msg("Contract created")

	return c, nil
}

// Get returns the contract with the given id, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (Contract, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, h3_cell, metric, threshold, unit, window_hours, expiry_utc, description, created_at
		FROM contracts WHERE id = ?
	`, id)

	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return Contract{}, ErrNotFound
	}
	if err != nil {
		return Contract{}, fmt.Errorf("failed to load contract %s: %w", id, err)
	}
	return c, nil
}

// List returns all contracts, most recently created first.
func (r *Repository) List(ctx context.Context) ([]Contract, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, h3_cell, metric, threshold, unit, window_hours, expiry_utc, description, created_at
		FROM contracts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListExpiredUnsettled returns contracts whose expiry has passed and which
// have no settlement record, oldest expiry first. The LEFT JOIN form keeps
// the result stable under concurrent cron ticks: a contract disappears from
// the set exactly when its record commits.
func (r *Repository) ListExpiredUnsettled(ctx context.Context, now time.Time) ([]Contract, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.h3_cell, c.metric, c.threshold, c.unit, c.window_hours, c.expiry_utc, c.description, c.created_at
		FROM contracts c
		LEFT JOIN settlement_records s ON s.contract_id = c.id
		WHERE s.id IS NULL AND c.expiry_utc <= ?
		ORDER BY c.expiry_utc ASC
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired contracts: %w", err)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StatusOf returns the derived lifecycle state of a contract, joining against
// the settlement record if one exists.
func (r *Repository) StatusOf(ctx context.Context, id string) (Status, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}

	var outcome string
	err = r.db.QueryRowContext(ctx,
		`SELECT outcome FROM settlement_records WHERE contract_id = ?`, id).Scan(&outcome)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to load settlement outcome for %s: %w", id, err)
	}

	return c.DeriveStatus(outcome, time.Now().UTC()), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (Contract, error) {
	var (
		c          Contract
		metric     string
		expiryRaw  string
		createdRaw string
	)
	if err := row.Scan(&c.ID, &c.H3Cell, &metric, &c.Threshold, &c.Unit,
		&c.WindowHours, &expiryRaw, &c.Description, &createdRaw); err != nil {
		return Contract{}, err
	}
	c.Metric = Metric(metric)

	expiry, err := time.Parse(time.RFC3339, expiryRaw)
	if err != nil {
		return Contract{}, fmt.Errorf("malformed expiry_utc %q: %w", expiryRaw, err)
	}
	c.ExpiryUTC = expiry.UTC()

	created, err := time.Parse(time.RFC3339, createdRaw)
	if err != nil {
		return Contract{}, fmt.Errorf("malformed created_at %q: %w", createdRaw, err)
	}
	c.CreatedAt = created.UTC()

	return c, nil
}
