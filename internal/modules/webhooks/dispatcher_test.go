package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() Event {
	observed := 30.0
	return Event{
		EventID:       "evt-1",
		EventType:     EventContractSettled,
		Timestamp:     time.Now().UTC(),
		ContractID:    "c-1",
		H3Index:       "872a100d2ffffff",
		RiskType:      "precip_heavy",
		Outcome:       "YES",
		ObservedValue: &observed,
		SettledAt:     time.Now().UTC(),
		RecordHash:    "abc123",
	}
}

type capturedDelivery struct {
	event     string
	delivery  string
	signature string
	body      []byte
}

func TestDispatchFansOutToAllSubscribers(t *testing.T) {
	var (
		mu         sync.Mutex
		deliveries []capturedDelivery
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		deliveries = append(deliveries, capturedDelivery{
			event:     r.Header.Get("X-ATMX-Event"),
			delivery:  r.Header.Get("X-ATMX-Delivery"),
			signature: r.Header.Get("X-ATMX-Signature"),
			body:      body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	srvA := httptest.NewServer(handler)
	defer srvA.Close()
	srvB := httptest.NewServer(handler)
	defer srvB.Close()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Register(ctx, srvA.URL, nil, "shh")
	require.NoError(t, err)
	_, err = store.Register(ctx, srvB.URL, nil, "")
	require.NoError(t, err)

	dispatcher := NewDispatcher(store, &http.Client{Timeout: 5 * time.Second}, 3, zerolog.Nop())
	delivered, err := dispatcher.Dispatch(ctx, testEvent())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveries, 2)

	// The delivery id is the event id, so receivers can deduplicate.
	assert.Equal(t, "evt-1", deliveries[0].delivery)
	assert.Equal(t, "evt-1", deliveries[1].delivery)

	for _, d := range deliveries {
		assert.Equal(t, EventContractSettled, d.event)
	}

	// Exactly one endpoint registered with a secret.
	signatures := 0
	for _, d := range deliveries {
		if d.signature != "" {
			assert.Equal(t, Sign("shh", d.body), d.signature)
			assert.True(t, VerifySignature("shh", d.body, d.signature))
			signatures++
		}
	}
	assert.Equal(t, 1, signatures)
}

func TestRedeliveryKeepsDeliveryID(t *testing.T) {
	var (
		mu          sync.Mutex
		deliveryIDs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveryIDs = append(deliveryIDs, r.Header.Get("X-ATMX-Delivery"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Register(ctx, srv.URL, nil, "")
	require.NoError(t, err)

	dispatcher := NewDispatcher(store, &http.Client{Timeout: 5 * time.Second}, 3, zerolog.Nop())
	event := testEvent()

	// Dispatching the same event twice models a cron redelivery after a
	// partial failure. Both deliveries must carry the event id so the
	// receiver can recognize the repeat.
	for i := 0; i < 2; i++ {
		delivered, err := dispatcher.Dispatch(ctx, event)
		require.NoError(t, err)
		require.Equal(t, 1, delivered)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveryIDs, 2)
	assert.Equal(t, event.EventID, deliveryIDs[0])
	assert.Equal(t, event.EventID, deliveryIDs[1])
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n < 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Register(ctx, srv.URL, nil, "")
	require.NoError(t, err)

	dispatcher := NewDispatcher(store, &http.Client{Timeout: 5 * time.Second}, 4, zerolog.Nop())

	start := time.Now()
	delivered, err := dispatcher.Dispatch(ctx, testEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	mu.Lock()
	defer mu.Unlock()

	// Three 503s then success on the fourth attempt, with doubling backoff
	// between attempts: ~1s, ~2s, ~4s.
	require.Len(t, attempts, 4)
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 900*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 1800*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[3].Sub(attempts[2]), 3600*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 6300*time.Millisecond)
}

func TestDispatchPermanentFailureNotRetried(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Register(ctx, srv.URL, nil, "")
	require.NoError(t, err)

	dispatcher := NewDispatcher(store, &http.Client{Timeout: 5 * time.Second}, 3, zerolog.Nop())
	delivered, err := dispatcher.Dispatch(ctx, testEvent())
	require.NoError(t, err)
	assert.Zero(t, delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "4xx other than 429 is permanent")
}

func TestDispatchExhaustsRetries(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Register(ctx, srv.URL, nil, "")
	require.NoError(t, err)

	dispatcher := NewDispatcher(store, &http.Client{Timeout: 5 * time.Second}, 2, zerolog.Nop())
	delivered, err := dispatcher.Dispatch(ctx, testEvent())
	require.NoError(t, err)
	assert.Zero(t, delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestDispatchNoSubscribers(t *testing.T) {
	dispatcher := NewDispatcher(newTestStore(t), http.DefaultClient, 3, zerolog.Nop())

	delivered, err := dispatcher.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestSignatureFormat(t *testing.T) {
	sig := Sign("shh", []byte(`{"hello":"world"}`))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)

	assert.True(t, VerifySignature("shh", []byte(`{"hello":"world"}`), sig))
	assert.False(t, VerifySignature("wrong", []byte(`{"hello":"world"}`), sig))
	assert.False(t, VerifySignature("shh", []byte(`tampered`), sig))
}
