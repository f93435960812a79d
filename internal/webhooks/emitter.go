package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/consignio/consign/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consign",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consign",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(address string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	// This context covers the subscription lookup only; the dispatcher
	// detaches and runs each delivery under its own window.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.d.DispatchToAddress(ctx, address, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "address", address, "error", err)
	}
}

// --- Escrow events ---

// EmitEscrowCreated notifies both parties of a new consignment.
func (e *Emitter) EmitEscrowCreated(escrowID, seller, buyer, price string) {
	data := map[string]interface{}{
		"escrowId": escrowID,
		"seller":   seller,
		"buyer":    buyer,
		"price":    price,
	}
	e.emit(seller, EventEscrowCreated, data)
	e.emit(buyer, EventEscrowCreated, data)
}

// EmitEscrowCompleted notifies both parties of a completed sale.
func (e *Emitter) EmitEscrowCompleted(escrowID, seller, buyer, price, fee string) {
	data := map[string]interface{}{
		"escrowId": escrowID,
		"seller":   seller,
		"buyer":    buyer,
		"price":    price,
		"fee":      fee,
	}
	e.emit(seller, EventEscrowCompleted, data)
	e.emit(buyer, EventEscrowCompleted, data)
}

// EmitEscrowCancelled notifies both parties of a withdrawn consignment.
func (e *Emitter) EmitEscrowCancelled(escrowID, seller, buyer string) {
	data := map[string]interface{}{
		"escrowId": escrowID,
		"seller":   seller,
		"buyer":    buyer,
	}
	e.emit(seller, EventEscrowCancelled, data)
	e.emit(buyer, EventEscrowCancelled, data)
}

// --- Reputation events ---

// EmitPointsUpdated emits a points.updated event to the scored participant.
func (e *Emitter) EmitPointsUpdated(address string, gained, total uint64, rank int) {
	e.emit(address, EventPointsUpdated, map[string]interface{}{
		"address": address,
		"gained":  gained,
		"total":   total,
		"rank":    rank,
	})
}

// --- Ledger events ---

// EmitBalanceDeposit emits a balance.deposit event.
func (e *Emitter) EmitBalanceDeposit(address, amount, reference string) {
	e.emit(address, EventBalanceDeposit, map[string]interface{}{
		"address":   address,
		"amount":    amount,
		"reference": reference,
	})
}
