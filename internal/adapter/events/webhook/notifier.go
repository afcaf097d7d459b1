// Package webhook delivers signed reconciliation events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EventReconciled is the event_type of every delivery.
const EventReconciled = "wallet.reconciled"

// Headers set on each delivery.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// ErrClosed is returned by PublishReconciled after Close.
var ErrClosed = errors.New("webhook notifier closed")

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config addresses the receiving endpoint.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration   // per attempt
	Retries []time.Duration // wait before each retry; empty means a single attempt
}

// Payload is the JSON body POSTed to the endpoint. Wallet's JSON form omits key material.
type Payload struct {
	EventType string         `json:"event_type"`
	Timestamp int64          `json:"timestamp"`
	Data      *domain.Wallet `json:"data"`
}

// Notifier implements ports.EventPublisher. Deliveries run in the background so a slow
// receiver never holds up reconciliation.
type Notifier struct {
	cfg    Config
	signer ports.SignatureService
	client HTTPClient
	now    func() time.Time
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier. A nil client uses a plain http.Client.
func NewNotifier(cfg Config, signer ports.SignatureService, client HTTPClient, log zerolog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		signer: signer,
		client: client,
		now:    time.Now,
		log:    log.With().Str("component", "webhook").Logger(),
		done:   make(chan struct{}),
	}
}

// SigningPayload is the string a signature covers: "<unix seconds>.<body>". Receivers
// rebuild it from the timestamp header and the raw body.
func SigningPayload(timestamp int64, body []byte) string {
	return strconv.FormatInt(timestamp, 10) + "." + string(body)
}

// PublishReconciled signs the event and queues its delivery. The returned error covers
// encoding only; delivery failures are logged.
func (n *Notifier) PublishReconciled(ctx context.Context, w *domain.Wallet) error {
	ts := n.now().Unix()
	body, err := json.Marshal(Payload{EventType: EventReconciled, Timestamp: ts, Data: w})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	signature := n.signer.Sign(n.cfg.Secret, SigningPayload(ts, body))

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.wg.Add(1)
	n.mu.Unlock()

	// keep trace values but not the caller's deadline
	base := context.WithoutCancel(ctx)
	go func() {
		defer n.wg.Done()
		n.deliverWithRetries(base, w.Address, body, ts, signature)
	}()
	return nil
}

// Close stops pending retries and waits for in-flight attempts until ctx ends.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.done)
	}
	n.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) deliverWithRetries(ctx context.Context, address string, body []byte, ts int64, signature string) {
	log := n.log.With().Str("address", address).Logger()

	for attempt := 0; attempt <= len(n.cfg.Retries); attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(n.cfg.Retries[attempt-1])
			select {
			case <-timer.C:
			case <-n.done:
				timer.Stop()
				log.Warn().Int("attempt", attempt).Msg("webhook: shutting down, delivery abandoned")
				return
			}
		}

		status, err := n.attempt(ctx, body, ts, signature)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("webhook: delivery failed")
			continue
		}
		if status >= 200 && status < 300 {
			log.Debug().Int("attempt", attempt+1).Int("status", status).Msg("webhook: delivered")
			return
		}
		log.Warn().Int("attempt", attempt+1).Int("status", status).Msg("webhook: non-2xx response")
	}

	log.Error().Int("attempts", len(n.cfg.Retries)+1).Msg("webhook: all retry attempts exhausted")
}

func (n *Notifier) attempt(ctx context.Context, body []byte, ts int64, signature string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, EventReconciled)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
