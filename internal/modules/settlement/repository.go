package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/database"
)

// Repository persists settlement records in ledger.db. The table is
// append-only: rows are inserted exactly once and never touched again. The
// UNIQUE constraints on contract_id and record_hash are the store-level
// enforcement of the chain invariants.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a settlement record repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settlement_records").Logger(),
	}
}

// GetByContract returns the settlement record for a contract, or
// ErrRecordNotFound.
func (r *Repository) GetByContract(ctx context.Context, contractID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, selectRecordSQL+` WHERE contract_id = ?`, contractID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load settlement record for contract %s: %w", contractID, err)
	}
	return rec, nil
}

// ListAll returns every settlement record in chain order (insertion order).
func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecordSQL+` ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestHash returns the record_hash of the most recently appended record, or
// "" when the store is empty.
func (r *Repository) LatestHash(ctx context.Context) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT record_hash FROM settlement_records ORDER BY rowid DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest record hash: %w", err)
	}
	return hash, nil
}

// Append inserts a finished record. The caller must have chained it to the
// current latest hash inside the same logical append (see Engine.Settle).
// IsDuplicateContract distinguishes the benign race where another driver
// settled the same contract first.
func (r *Repository) Append(ctx context.Context, rec Record) error {
	readings, err := json.Marshal(rec.StationReadings)
	if err != nil {
		return fmt.Errorf("failed to encode station readings: %w", err)
	}

	var evidence []byte
	if rec.Evidence != nil {
		evidence, err = json.Marshal(rec.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence payload: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settlement_records
			(id, contract_id, outcome, observed_value, threshold, unit, stations_used,
			 station_readings, evidence_payload, dispute_reason, previous_hash, record_hash, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ContractID, string(rec.Outcome), nullableFloat(rec.ObservedValue),
		rec.Threshold, rec.Unit, rec.StationsUsed, string(readings), nullableString(string(evidence)),
		nullableString(rec.DisputeReason), nullableString(rec.PreviousHash), rec.RecordHash,
		rec.SettledAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append settlement record for contract %s: %w", rec.ContractID, err)
	}

	r.log.Info().
		Str("record_id", rec.ID).
		Str("contract_id", rec.ContractID).
		Str("outcome", string(rec.Outcome)).
		Str("record_hash", rec.RecordHash).
		Msg("Settlement record appended")

	return nil
}

// IsDuplicateContract reports whether err is the UNIQUE(contract_id)
// violation raised when two drivers race on the same contract.
func IsDuplicateContract(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), "contract_id")
}

const selectRecordSQL = `
	SELECT id, contract_id, outcome, observed_value, threshold, unit, stations_used,
	       station_readings, evidence_payload, dispute_reason, previous_hash, record_hash, settled_at
	FROM settlement_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		outcome     string
		observed    sql.NullFloat64
		readingsRaw sql.NullString
		evidenceRaw sql.NullString
		disputeRaw  sql.NullString
		prevHashRaw sql.NullString
		settledRaw  string
	)
	if err := row.Scan(&rec.ID, &rec.ContractID, &outcome, &observed, &rec.Threshold,
		&rec.Unit, &rec.StationsUsed, &readingsRaw, &evidenceRaw, &disputeRaw,
		&prevHashRaw, &rec.RecordHash, &settledRaw); err != nil {
		return Record{}, err
	}

	rec.Outcome = Outcome(outcome)
	if observed.Valid {
		v := observed.Float64
		rec.ObservedValue = &v
	}
	if readingsRaw.Valid && readingsRaw.String != "" {
		if err := json.Unmarshal([]byte(readingsRaw.String), &rec.StationReadings); err != nil {
			return Record{}, fmt.Errorf("malformed station readings for record %s: %w", rec.ID, err)
		}
	}
	if evidenceRaw.Valid && evidenceRaw.String != "" {
		rec.Evidence = &Evidence{}
		if err := json.Unmarshal([]byte(evidenceRaw.String), rec.Evidence); err != nil {
			return Record{}, fmt.Errorf("malformed evidence payload for record %s: %w", rec.ID, err)
		}
	}
	rec.DisputeReason = disputeRaw.String
	rec.PreviousHash = prevHashRaw.String

	settledAt, err := time.Parse(time.RFC3339, settledRaw)
	if err != nil {
		return Record{}, fmt.Errorf("malformed settled_at %q: %w", settledRaw, err)
	}
	rec.SettledAt = settledAt.UTC()

	return rec, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
