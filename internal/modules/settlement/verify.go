package settlement

import (
	"context"
	"fmt"

	"github.com/atmx/atmx/internal/modules/hashchain"
)

// ChainReport is the result of a full chain verification pass.
type ChainReport struct {
	Valid        bool         `json:"valid"`
	RecordsTotal int          `json:"records_total"`
	Breaks       []ChainBreak `json:"breaks,omitempty"`
}

// ChainBreak describes one integrity failure found during verification.
type ChainBreak struct {
	RecordID   string `json:"record_id"`
	ContractID string `json:"contract_id"`
	Position   int    `json:"position"`
	Problem    string `json:"problem"`
}

// VerifyChain recomputes every record hash from stored fields alone and
// checks the previous-hash linkage across the whole store. Any mismatch is
// reported; verification never stops at the first break so a report covers
// the full extent of the damage.
func (r *Repository) VerifyChain(ctx context.Context) (ChainReport, error) {
	records, err := r.ListAll(ctx)
	if err != nil {
		return ChainReport{}, err
	}

	report := ChainReport{Valid: true, RecordsTotal: len(records)}
	expectedPrev := ""

	for i, rec := range records {
		if rec.PreviousHash != expectedPrev {
			report.Breaks = append(report.Breaks, ChainBreak{
				RecordID:   rec.ID,
				ContractID: rec.ContractID,
				Position:   i,
				Problem: fmt.Sprintf("previous_hash mismatch: stored %q, chain head was %q",
					rec.PreviousHash, expectedPrev),
			})
		}

		ok, err := hashchain.VerifyRecordHash(hashPayload(rec), rec.PreviousHash, rec.RecordHash)
		if err != nil {
			return ChainReport{}, fmt.Errorf("failed to recompute hash for record %s: %w", rec.ID, err)
		}
		if !ok {
			report.Breaks = append(report.Breaks, ChainBreak{
				RecordID:   rec.ID,
				ContractID: rec.ContractID,
				Position:   i,
				Problem:    "record_hash does not match stored fields",
			})
		}

		expectedPrev = rec.RecordHash
	}

	report.Valid = len(report.Breaks) == 0
	return report, nil
}
