package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/metrics"
	"github.com/atmx/atmx/internal/modules/contracts"
	"github.com/atmx/atmx/internal/modules/hashchain"
	"github.com/atmx/atmx/internal/modules/observations"
)

// BundleProvider supplies the observations for a cell and window.
type BundleProvider interface {
	CellObservations(ctx context.Context, cell string, start, end time.Time) (*observations.CellObservationBundle, error)
}

// Engine drives a contract through settlement: load, observe, resolve, hash,
// append. Settle is idempotent; calling it again for a settled contract
// returns the stored record unchanged.
type Engine struct {
	contracts *contracts.Repository
	records   *Repository
	bundles   BundleProvider
	opts      Options
	log       zerolog.Logger

	// appendMu serializes latest-hash reads with appends so the chain stays
	// linear even if multiple drivers run in one process.
	appendMu sync.Mutex
}

// NewEngine creates a settlement engine.
func NewEngine(contractRepo *contracts.Repository, recordRepo *Repository, bundles BundleProvider, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		contracts: contractRepo,
		records:   recordRepo,
		bundles:   bundles,
		opts:      opts,
		log:       log.With().Str("service", "settlement_engine").Logger(),
	}
}

// Settle resolves and records the outcome for a contract. When injected is
// non-nil it is used instead of fetching observations; manual settlement and
// tests use this path.
func (e *Engine) Settle(ctx context.Context, contractID string, injected *observations.CellObservationBundle) (Record, error) {
	start := time.Now()

	contract, err := e.contracts.Get(ctx, contractID)
	if err != nil {
		return Record{}, err
	}

	// Idempotent re-entry: an existing record is the answer.
	if existing, err := e.records.GetByContract(ctx, contractID); err == nil {
		e.log.Debug().Str("contract_id", contractID).Msg("Contract already settled, returning existing record")
		return existing, nil
	} else if err != ErrRecordNotFound {
		return Record{}, err
	}

	windowStart, windowEnd := contract.Window()

	bundle := injected
	if bundle == nil {
		bundle, err = e.bundles.CellObservations(ctx, contract.H3Cell, windowStart, windowEnd)
		if err != nil {
			return Record{}, fmt.Errorf("failed to gather observations for contract %s: %w", contractID, err)
		}
	}

	resolution := Resolve(contract, bundle, e.opts)

	stationsUsed := 0
	for _, v := range resolution.StationReadings {
		if v != nil {
			stationsUsed++
		}
	}

	rec := Record{
		ID:              uuid.New().String(),
		ContractID:      contract.ID,
		Outcome:         resolution.Outcome,
		ObservedValue:   resolution.ObservedValue,
		Threshold:       contract.Threshold,
		Unit:            contract.Unit,
		StationsUsed:    stationsUsed,
		StationReadings: resolution.StationReadings,
		DisputeReason:   resolution.DisputeReason,
		SettledAt:       time.Now().UTC().Truncate(time.Second),
		Evidence: &Evidence{
			Contract:     snapshotContract(contract),
			WindowStart:  windowStart,
			WindowEnd:    windowEnd,
			Observations: bundle.Observations,
			Determination: Determination{
				Outcome:         resolution.Outcome,
				ObservedValue:   resolution.ObservedValue,
				StationReadings: resolution.StationReadings,
				StationsUsed:    stationsUsed,
				DisputeReason:   resolution.DisputeReason,
			},
		},
	}

	if err := e.appendChained(ctx, &rec); err != nil {
		if IsDuplicateContract(err) {
			// Another driver won the race. Return its record.
			e.log.Info().Str("contract_id", contractID).Msg("Lost settlement race, returning winning record")
			return e.records.GetByContract(ctx, contractID)
		}
		return Record{}, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(rec.Outcome)).Inc()
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	e.log.Info().
		Str("contract_id", contract.ID).
		Str("outcome", string(rec.Outcome)).
		Int("stations_used", stationsUsed).
		Dur("took", time.Since(start)).
		Msg("Contract settled")

	return rec, nil
}

// appendChained links the record to the current chain head and appends it.
// The mutex keeps the read-head/compute-hash/insert sequence atomic within
// this process; the UNIQUE constraints guard against anything else.
func (e *Engine) appendChained(ctx context.Context, rec *Record) error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	previousHash, err := e.records.LatestHash(ctx)
	if err != nil {
		return err
	}
	rec.PreviousHash = previousHash

	hash, err := hashchain.ComputeRecordHash(hashPayload(*rec), previousHash)
	if err != nil {
		return fmt.Errorf("failed to compute record hash for contract %s: %w", rec.ContractID, err)
	}
	rec.RecordHash = hash

	return e.records.Append(ctx, *rec)
}
