package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openclaw/screenless/internal/action"
	apperrors "github.com/openclaw/screenless/internal/platform/errors"
	"github.com/openclaw/screenless/internal/storage"
)

// Deduper marks webhook deliveries and reports first sightings.
type Deduper interface {
	MarkWebhookEvent(ctx context.Context, record storage.WebhookEventRecord) (bool, error)
}

// RateLimiter admits or rejects an event for a sender key at an instant.
type RateLimiter interface {
	Allow(key string, now time.Time) bool
}

// Delivery is one raw inbound transport event.
type Delivery struct {
	Provider string
	EventID  string
	Sender   Sender
	Message  string
	Role     action.Role
	Execute  bool
}

// ErrDuplicateDelivery reports a webhook event that was already processed.
// Callers drop duplicates silently instead of surfacing a failure.
var ErrDuplicateDelivery = errors.New("duplicate delivery")

// Gateway screens inbound deliveries before they become action requests.
type Gateway struct {
	auth    AuthConfig
	limiter RateLimiter
	deduper Deduper
	clock   func() time.Time
	newID   func() string
}

// NewGateway constructs an inbound gateway. limiter and deduper are optional;
// a nil collaborator skips that screen.
func NewGateway(auth AuthConfig, limiter RateLimiter, deduper Deduper, clock func() time.Time, newID func() string) *Gateway {
	if clock == nil {
		clock = time.Now
	}
	return &Gateway{auth: auth, limiter: limiter, deduper: deduper, clock: clock, newID: newID}
}

// Screen rate-limits, authorizes, and dedupes one delivery, then extracts its
// command and renders an action request. The delivery's idempotency key falls
// back to a generated one when the command carries none.
func (g *Gateway) Screen(ctx context.Context, delivery Delivery) (json.RawMessage, error) {
	if g.limiter != nil && !g.limiter.Allow(g.senderKey(delivery.Sender), g.clock()) {
		return nil, apperrors.Validation("sender rate limit exceeded")
	}
	if !Authorize(delivery.Sender, g.auth) {
		return nil, apperrors.Permission("inbound sender is not authorized")
	}

	if g.deduper != nil && delivery.Provider != "" && delivery.EventID != "" {
		fresh, err := g.deduper.MarkWebhookEvent(ctx, storage.WebhookEventRecord{
			Provider:    delivery.Provider,
			EventID:     delivery.EventID,
			PayloadJSON: marshalPayload(delivery),
			ReceivedAt:  g.clock(),
		})
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, ErrDuplicateDelivery
		}
	}

	cmd, err := ExtractCommand(delivery.Message)
	if err != nil {
		return nil, err
	}

	role := delivery.Role
	if role == "" {
		role = action.RoleAssistant
	}
	return cmd.RequestJSON(g.fallbackKey(), role, delivery.Execute, g.fallbackKey(), g.clock())
}

func (g *Gateway) senderKey(sender Sender) string {
	if sender.Phone != "" {
		return sender.Phone
	}
	if sender.Email != "" {
		return sender.Email
	}
	return "anonymous"
}

func (g *Gateway) fallbackKey() string {
	if g.newID != nil {
		return g.newID()
	}
	return ""
}

func marshalPayload(delivery Delivery) string {
	raw, err := json.Marshal(map[string]string{
		"provider":  delivery.Provider,
		"eventId":   delivery.EventID,
		"fromEmail": delivery.Sender.Email,
		"fromPhone": delivery.Sender.Phone,
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}
