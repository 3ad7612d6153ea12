package observations

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/metrics"
)

// Fetcher retrieves raw observations for a single station over a window.
type Fetcher interface {
	FetchObservations(ctx context.Context, station Station, start, end time.Time) ([]StationObservation, error)
}

// Aggregator assembles per-cell observation bundles by fanning out to every
// station in the cell. A cached bundle is served when fresh.
type Aggregator struct {
	catalogue *Catalogue
	fetcher   Fetcher
	cache     *BundleCache
	log       zerolog.Logger
}

// NewAggregator creates a cell observation aggregator.
func NewAggregator(catalogue *Catalogue, fetcher Fetcher, cache *BundleCache, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		catalogue: catalogue,
		fetcher:   fetcher,
		cache:     cache,
		log:       log.With().Str("component", "obs_aggregator").Logger(),
	}
}

// CellObservations returns every observation for the given cell and window.
// Errors from a single station are logged and skipped; they do not fail the
// bundle. A cell with no known stations yields an empty bundle, which the
// settlement engine treats as a dispute condition, not an error.
func (a *Aggregator) CellObservations(ctx context.Context, cell string, start, end time.Time) (*CellObservationBundle, error) {
	if a.cache != nil {
		if bundle, ok := a.cache.Get(cell, start, end); ok {
			a.log.Debug().Str("cell", cell).Msg("Serving observation bundle from cache")
			return bundle, nil
		}
	}

	bundle := &CellObservationBundle{
		H3Cell:      cell,
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
	}

	for _, station := range a.catalogue.StationsInCell(cell) {
		obs, err := a.fetcher.FetchObservations(ctx, station, start, end)
		if err != nil {
			metrics.UpstreamFetchErrors.WithLabelValues("asos").Inc()
			a.log.Warn().
				Err(err).
				Str("station", station.ID).
				Str("cell", cell).
				Msg("Station fetch failed, continuing with remaining stations")
			continue
		}
		for _, o := range obs {
			if inWindow(o.ObservedAt, start, end) {
				bundle.Observations = append(bundle.Observations, o)
			}
		}
	}

	if a.cache != nil {
		a.cache.Put(bundle)
	}

	a.log.Info().
		Str("cell", cell).
		Int("stations", bundle.StationCount()).
		Int("observations", len(bundle.Observations)).
		Msg("Assembled observation bundle")

	return bundle, nil
}

// inWindow reports whether t falls inside [start, end].
func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
