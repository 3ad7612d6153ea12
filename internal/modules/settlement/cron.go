package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/metrics"
	"github.com/atmx/atmx/internal/modules/contracts"
	"github.com/atmx/atmx/internal/modules/pricing"
	"github.com/atmx/atmx/internal/modules/webhooks"
)

// EventDispatcher delivers a settlement event to webhook subscribers.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event webhooks.Event) (int, error)
}

// Broadcaster pushes a settlement event to live stream clients.
type Broadcaster interface {
	Broadcast(v interface{})
}

// CronService discovers expired contracts and drives them through the
// engine. Contracts settle sequentially within a tick so the hash chain
// grows linearly.
type CronService struct {
	contracts  *contracts.Repository
	engine     *Engine
	dispatcher EventDispatcher
	hub        Broadcaster
	log        zerolog.Logger
}

// NewCronService creates the settlement cron service. dispatcher and hub may
// be nil; settlement itself never depends on delivery.
func NewCronService(contractRepo *contracts.Repository, engine *Engine, dispatcher EventDispatcher, hub Broadcaster, log zerolog.Logger) *CronService {
	return &CronService{
		contracts:  contractRepo,
		engine:     engine,
		dispatcher: dispatcher,
		hub:        hub,
		log:        log.With().Str("job", "settlement_cron").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (s *CronService) Name() string {
	return "settlement_cron"
}

// Run executes one tick. Per-contract failures are logged and skipped; the
// contract stays expired-without-settlement and is retried next tick. Run
// itself only errors when the expired set cannot even be listed.
func (s *CronService) Run() error {
	ctx := context.Background()
	return s.Tick(ctx, time.Now().UTC())
}

// Tick settles everything expired as of now.
func (s *CronService) Tick(ctx context.Context, now time.Time) error {
	expired, err := s.contracts.ListExpiredUnsettled(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list expired contracts")
		return err
	}

	metrics.ExpiredContractsPending.Set(float64(len(expired)))
	if len(expired) == 0 {
		return nil
	}

	s.log.Info().Int("expired", len(expired)).Msg("Settling expired contracts")

	settled := 0
	for _, contract := range expired {
		if ctx.Err() != nil {
			s.log.Warn().Msg("Settlement tick interrupted, remaining contracts deferred to next tick")
			break
		}

		record, err := s.engine.Settle(ctx, contract.ID, nil)
		if err != nil {
			s.log.Error().
				Err(err).
				Str("contract_id", contract.ID).
				Msg("Settlement failed, will retry next tick")
			continue
		}
		settled++

		s.publish(ctx, contract, record)
	}

	s.log.Info().
		Int("settled", settled).
		Int("skipped", len(expired)-settled).
		Msg("Settlement tick complete")

	return nil
}

// publish classifies the outcome into an event type and hands the event to
// the dispatcher and the live stream. Delivery failures never unwind a
// settlement.
func (s *CronService) publish(ctx context.Context, contract contracts.Contract, record Record) {
	event := webhooks.Event{
		EventID:       uuid.New().String(),
		EventType:     classifyOutcome(record.Outcome),
		Timestamp:     time.Now().UTC(),
		ContractID:    contract.ID,
		H3Index:       contract.H3Cell,
		RiskType:      string(pricing.RiskTypeFor(contract.Metric, contract.Threshold)),
		Outcome:       string(record.Outcome),
		ObservedValue: record.ObservedValue,
		SettledAt:     record.SettledAt,
		RecordHash:    record.RecordHash,
	}

	if s.hub != nil {
		s.hub.Broadcast(event)
	}

	if s.dispatcher != nil {
		if _, err := s.dispatcher.Dispatch(ctx, event); err != nil {
			s.log.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("contract_id", contract.ID).
				Msg("Event dispatch failed")
		}
	}
}

// classifyOutcome maps a settlement outcome to the event type subscribers
// see. Anything unexpected falls back to the expired event so the contract's
// terminal state is still announced.
func classifyOutcome(outcome Outcome) string {
	switch outcome {
	case OutcomeYes, OutcomeNo:
		return webhooks.EventContractSettled
	case OutcomeDisputed:
		return webhooks.EventContractDisputed
	}
	return webhooks.EventContractExpired
}
