package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/database"
)

// Store persists webhook registrations in registry.db. Secrets live in their
// own table so a plain SELECT over webhooks can never leak them.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a webhook store.
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repository", "webhooks").Logger(),
	}
}

// Register creates a subscription. secret may be empty, in which case
// deliveries to this endpoint are unsigned.
func (s *Store) Register(ctx context.Context, callbackURL string, events []string, secret string) (Webhook, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Webhook{}, fmt.Errorf("callback_url must be an absolute http(s) URL")
	}
	for _, e := range events {
		if e != EventContractSettled && e != EventContractDisputed && e != EventContractExpired {
			return Webhook{}, fmt.Errorf("unknown event type %q", e)
		}
	}

	hook := Webhook{
		ID:          uuid.New().String(),
		CallbackURL: callbackURL,
		Events:      events,
		Active:      true,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return Webhook{}, fmt.Errorf("failed to encode event list: %w", err)
	}

	err = database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO webhooks (id, callback_url, events, active, created_at)
			VALUES (?, ?, ?, 1, ?)
		`, hook.ID, hook.CallbackURL, string(eventsJSON), hook.CreatedAt.Format(time.RFC3339)); err != nil {
			return err
		}
		if secret != "" {
			if _, err := tx.Exec(`
				INSERT INTO webhook_secrets (webhook_id, secret) VALUES (?, ?)
			`, hook.ID, secret); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Webhook{}, fmt.Errorf("failed to register webhook: %w", err)
	}

	s.log.Info().
		Str("webhook_id", hook.ID).
		Str("url", hook.CallbackURL).
		Strs("events", events).
		Bool("signed", secret != "").
		Msg("Webhook registered")

	return hook, nil
}

// Get returns an active webhook by id.
func (s *Store) Get(ctx context.Context, id string) (Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, callback_url, events, active, created_at
		FROM webhooks WHERE id = ? AND active = 1
	`, id)
	hook, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return Webhook{}, ErrNotFound
	}
	if err != nil {
		return Webhook{}, fmt.Errorf("failed to load webhook %s: %w", id, err)
	}
	return hook, nil
}

// ListActive returns all active webhooks.
func (s *Store) ListActive(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, callback_url, events, active, created_at
		FROM webhooks WHERE active = 1 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook row: %w", err)
		}
		out = append(out, hook)
	}
	return out, rows.Err()
}

// ListForEvent returns the active webhooks subscribed to eventType.
func (s *Store) ListForEvent(ctx context.Context, eventType string) ([]Webhook, error) {
	hooks, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []Webhook
	for _, h := range hooks {
		if h.WantsEvent(eventType) {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetSecret returns the signing secret for a webhook, or "" when the
// endpoint registered without one.
func (s *Store) GetSecret(ctx context.Context, id string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx,
		`SELECT secret FROM webhook_secrets WHERE webhook_id = ?`, id).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load webhook secret: %w", err)
	}
	return secret, nil
}

// Remove deactivates a webhook. The row is kept as a tombstone so delivery
// history stays attributable; the secret is deleted outright.
func (s *Store) Remove(ctx context.Context, id string) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE webhooks SET active = 0 WHERE id = ? AND active = 1`, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(`DELETE FROM webhook_secrets WHERE webhook_id = ?`, id)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row rowScanner) (Webhook, error) {
	var (
		hook       Webhook
		eventsRaw  string
		active     int
		createdRaw string
	)
	if err := row.Scan(&hook.ID, &hook.CallbackURL, &eventsRaw, &active, &createdRaw); err != nil {
		return Webhook{}, err
	}
	hook.Active = active == 1

	if eventsRaw != "" {
		if err := json.Unmarshal([]byte(eventsRaw), &hook.Events); err != nil {
			return Webhook{}, fmt.Errorf("malformed event list for webhook %s: %w", hook.ID, err)
		}
	}

	created, err := time.Parse(time.RFC3339, createdRaw)
	if err != nil {
		return Webhook{}, fmt.Errorf("malformed created_at %q: %w", createdRaw, err)
	}
	hook.CreatedAt = created.UTC()

	return hook, nil
}
