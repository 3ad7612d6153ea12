package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/metrics"
)

const (
	headerEvent     = "X-ATMX-Event"
	headerDelivery  = "X-ATMX-Delivery"
	headerSignature = "X-ATMX-Signature"

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Dispatcher fans settlement events out to subscribed endpoints. Delivery is
// at-least-once: transient failures are retried with doubling backoff. The
// delivery id is the event id, so a receiver that has already seen it must
// treat any redelivery as a no-op.
type Dispatcher struct {
	store      *Store
	httpClient *http.Client
	maxRetries int
	log        zerolog.Logger
}

// NewDispatcher creates an event dispatcher.
func NewDispatcher(store *Store, httpClient *http.Client, maxRetries int, log zerolog.Logger) *Dispatcher {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Dispatcher{
		store:      store,
		httpClient: httpClient,
		maxRetries: maxRetries,
		log:        log.With().Str("service", "webhook_dispatcher").Logger(),
	}
}

// Dispatch delivers event to every subscriber of its type concurrently and
// returns the number of successful deliveries. A dispatcher-level error is
// returned only when the subscriber list cannot be loaded; per-endpoint
// failures are logged and counted, not propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) (int, error) {
	hooks, err := d.store.ListForEvent(ctx, event.EventType)
	if err != nil {
		return 0, fmt.Errorf("failed to load subscribers for %s: %w", event.EventType, err)
	}
	if len(hooks) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, hook := range hooks {
		wg.Add(1)
		go func(hook Webhook) {
			defer wg.Done()
			if d.deliver(ctx, hook, event, body) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(hook)
	}
	wg.Wait()

	d.log.Info().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Int("subscribers", len(hooks)).
		Int("delivered", succeeded).
		Msg("Event dispatched")

	return succeeded, nil
}

// deliver posts the event to one endpoint, retrying transient failures.
// 2xx succeeds. A 4xx other than 429 is permanent: the endpoint rejected the
// payload and retrying cannot help. 429, 5xx and transport errors retry with
// backoff 1s, 2s, 4s... capped at 30s.
func (d *Dispatcher) deliver(ctx context.Context, hook Webhook, event Event, body []byte) bool {
	secret, err := d.store.GetSecret(ctx, hook.ID)
	if err != nil {
		d.log.Error().Err(err).Str("webhook_id", hook.ID).Msg("Failed to load signing secret, skipping delivery")
		return false
	}

	backoff := initialBackoff
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		status, err := d.post(ctx, hook, event, body, secret)

		if err == nil && status >= 200 && status < 300 {
			metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			return true
		}

		if err == nil && status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			metrics.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
			d.log.Warn().
				Str("webhook_id", hook.ID).
				Str("event_id", event.EventID).
				Int("status", status).
				Msg("Endpoint rejected delivery, not retrying")
			return false
		}

		logEvent := d.log.Warn().
			Str("webhook_id", hook.ID).
			Str("event_id", event.EventID).
			Int("attempt", attempt)
		if err != nil {
			logEvent = logEvent.Err(err)
		} else {
			logEvent = logEvent.Int("status", status)
		}
		logEvent.Msg("Delivery attempt failed")

		if attempt == d.maxRetries {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			metrics.WebhookDeliveriesTotal.WithLabelValues("exhausted").Inc()
			return false
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("exhausted").Inc()
	d.log.Error().
		Str("webhook_id", hook.ID).
		Str("event_id", event.EventID).
		Int("attempts", d.maxRetries).
		Msg("Delivery failed after all retries")
	return false
}

func (d *Dispatcher) post(ctx context.Context, hook Webhook, event Event, body []byte, secret string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, event.EventType)
	req.Header.Set(headerDelivery, event.EventID)
	if secret != "" {
		req.Header.Set(headerSignature, Sign(secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// Sign computes the delivery signature header value for a payload:
// "sha256=" followed by the hex HMAC-SHA256 of the body under the secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the payload.
// Exported for receiver implementations and tests.
func VerifySignature(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
