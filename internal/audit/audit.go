// Package audit publishes entity lifecycle events for offline consumers.
// Publishing is best-effort and optional: services hold a nil-safe Emitter
// and keep working when no broker is configured.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is a single lifecycle fact about a directory entity.
type Event struct {
	Type    string            `json:"type"`
	Actor   string            `json:"actor,omitempty"`
	Subject string            `json:"subject"`
	At      time.Time         `json:"at"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Event types emitted by the services.
const (
	TypeDomainRegistered  = "domain.registered"
	TypeDomainVerified    = "domain.verified"
	TypeDomainUpdated     = "domain.updated"
	TypeDomainDeleted     = "domain.deleted"
	TypeWaliasClaimed     = "walias.claimed"
	TypeWaliasReplaced    = "walias.replaced"
	TypeWaliasTransferred = "walias.transferred"
	TypeWaliasDeleted     = "walias.deleted"
	TypeWalletCreated     = "wallet.created"
	TypeWalletDeleted     = "wallet.deleted"
)

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter wraps a Publisher so services never branch on its presence.
// A publish failure is logged and swallowed: audit must not fail the
// user-facing operation.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	return &Emitter{publisher: publisher, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil || e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "audit publish failed",
			"type", event.Type,
			"subject", event.Subject,
			"error", err,
		)
	}
}
