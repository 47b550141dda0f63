// Package storage defines the durable records behind the action engine: the
// idempotency cache, the identity cache, the outbound message log, and the
// webhook-dedupe ledger.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// IdempotencyRecord maps a caller-supplied key to the recorded outcome of its
// first execution. Records are read-only once written.
type IdempotencyRecord struct {
	Key           string
	Action        string
	CorrelationID string
	ResultJSON    string
	CreatedAt     time.Time
}

// IdentityCacheEntry maps a normalized external key (e.g. "email:x@y.com") to
// a canonical person id. Writes are last-writer-wins.
type IdentityCacheEntry struct {
	ExternalKey string
	PersonID    int64
	UpdatedAt   time.Time
}

// MessageLogRecord audits one dispatched outbound message. Never mutated.
type MessageLogRecord struct {
	IdempotencyKey    string
	CorrelationID     string
	Channel           string
	Provider          string
	ProviderMessageID string
	Recipient         string
	BodyHash          string
	PersonID          int64 // zero when the message was not tied to a contact
	SentAt            time.Time
	ContentEncrypted  string
}

// WebhookEventRecord dedupes inbound provider deliveries by
// (provider, external event id).
type WebhookEventRecord struct {
	Provider    string
	EventID     string
	PayloadJSON string
	ReceivedAt  time.Time
}
