// Package webhooks provides event notifications to external services.
//
// Participants register webhook URLs to receive notifications about:
// - Escrow lifecycle (created, completed, cancelled)
// - Reputation point awards
// - Deposits credited to their balance
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/consignio/consign/internal/metrics"
	"github.com/consignio/consign/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventEscrowCreated   EventType = "escrow.created"
	EventEscrowCompleted EventType = "escrow.completed"
	EventEscrowCancelled EventType = "escrow.cancelled"
	EventPointsUpdated   EventType = "points.updated"
	EventBalanceDeposit  EventType = "balance.deposit"
)

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	Address             string      `json:"address"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"-"`
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByAddress(ctx context.Context, address string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// RetryConfig controls delivery retries and the failure threshold at which
// a subscription is automatically disabled.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxFailures int
}

// DefaultRetryConfig returns the delivery policy used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxFailures: 25,
	}
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	retry        RetryConfig
	urlValidator func(string) error
	mu           sync.RWMutex
}

// NewDispatcher creates a new webhook dispatcher with the default retry policy
func NewDispatcher(store Store) *Dispatcher {
	return NewDispatcherWithRetry(store, DefaultRetryConfig())
}

// NewDispatcherWithRetry creates a dispatcher with a custom retry policy
func NewDispatcherWithRetry(store Store, retry RetryConfig) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry:        retry,
		urlValidator: security.ValidateEndpointURL,
	}
}

// Dispatch sends an event to all relevant subscribers
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Send async to avoid blocking
		go d.send(ctx, sub, event)
	}

	return nil
}

// DispatchToAddress sends an event to one participant's webhooks
func (d *Dispatcher) DispatchToAddress(ctx context.Context, address string, event *Event) error {
	subs, err := d.store.GetByAddress(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Check if subscribed to this event type
		for _, et := range sub.Events {
			if et == event.Type {
				go d.send(ctx, sub, event)
				break
			}
		}
	}

	return nil
}

// deliveryTimeout bounds one subscription delivery including retries.
const deliveryTimeout = 60 * time.Second

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	// Delivery runs async and must outlive the triggering request, so
	// detach from the caller's cancellation and apply our own window.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	if err := d.urlValidator(sub.URL); err != nil {
		d.updateError(ctx, sub, fmt.Sprintf("blocked URL: %v", err))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	delay := d.retry.BaseDelay
	var lastErr string
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				d.updateError(ctx, sub, "delivery cancelled")
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > d.retry.MaxDelay {
				delay = d.retry.MaxDelay
			}
		}

		status, err := d.attempt(ctx, sub, event, payload)
		if err == nil && status >= 200 && status < 300 {
			d.updateSuccess(ctx, sub)
			return
		}
		if err != nil {
			lastErr = fmt.Sprintf("request failed: %v", err)
		} else {
			lastErr = fmt.Sprintf("status %d", status)
		}
	}

	d.updateError(ctx, sub, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, event *Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Consign-Event", string(event.Type))
	req.Header.Set("X-Consign-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		req.Header.Set("X-Consign-Signature", d.sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
	if d.retry.MaxFailures > 0 && sub.ConsecutiveFailures >= d.retry.MaxFailures {
		sub.Active = false
	}
	d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByAddress(ctx context.Context, address string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Address == address {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
