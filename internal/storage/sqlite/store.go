// Package sqlite provides SQLite-backed persistence for the action engine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/screenless/internal/platform/storage/sqlitemigrate"
	"github.com/openclaw/screenless/internal/storage"
	"github.com/openclaw/screenless/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for engine state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens an engine SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetIdempotency loads the recorded outcome for a key.
func (s *Store) GetIdempotency(ctx context.Context, key string) (storage.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdempotencyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.IdempotencyRecord{}, fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.IdempotencyRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT key, action, correlation_id, result_json, created_at
FROM idempotency_keys
WHERE key = ?
`, key)
	var record storage.IdempotencyRecord
	var createdAt int64
	if err := row.Scan(&record.Key, &record.Action, &record.CorrelationID, &record.ResultJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.IdempotencyRecord{}, storage.ErrNotFound
		}
		return storage.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutIdempotency persists a recorded outcome. The insert is first-write-wins:
// a concurrent duplicate of the same key leaves the stored record untouched.
func (s *Store) PutIdempotency(ctx context.Context, record storage.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.Key = strings.TrimSpace(record.Key)
	if record.Key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if record.Action == "" {
		return fmt.Errorf("action is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO idempotency_keys (key, action, correlation_id, result_json, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO NOTHING
`,
		record.Key,
		record.Action,
		record.CorrelationID,
		record.ResultJSON,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

// GetCachedPerson loads a canonical person id by normalized external key.
func (s *Store) GetCachedPerson(ctx context.Context, externalKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	externalKey = strings.TrimSpace(externalKey)
	if externalKey == "" {
		return 0, storage.ErrNotFound
	}

	var personID int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT person_id FROM contact_cache WHERE external_key = ?
`, externalKey).Scan(&personID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get cached person: %w", err)
	}
	return personID, nil
}

// PutCachedPerson upserts one identity-cache entry, last writer wins.
func (s *Store) PutCachedPerson(ctx context.Context, entry storage.IdentityCacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	entry.ExternalKey = strings.TrimSpace(entry.ExternalKey)
	if entry.ExternalKey == "" {
		return fmt.Errorf("external key is required")
	}
	if entry.PersonID <= 0 {
		return fmt.Errorf("person id is required")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO contact_cache (external_key, person_id, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(external_key) DO UPDATE SET
	person_id = excluded.person_id,
	updated_at = excluded.updated_at
`,
		entry.ExternalKey,
		entry.PersonID,
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put cached person: %w", err)
	}
	return nil
}

// PutMessageLog appends one outbound message audit row.
func (s *Store) PutMessageLog(ctx context.Context, record storage.MessageLogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.IdempotencyKey = strings.TrimSpace(record.IdempotencyKey)
	if record.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if record.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if record.SentAt.IsZero() {
		return fmt.Errorf("sent_at is required")
	}

	var personID sql.NullInt64
	if record.PersonID > 0 {
		personID = sql.NullInt64{Int64: record.PersonID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO message_logs (
	idempotency_key, correlation_id, channel, provider, provider_message_id,
	recipient, body_hash, person_id, sent_at, content_encrypted
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.IdempotencyKey,
		record.CorrelationID,
		record.Channel,
		record.Provider,
		record.ProviderMessageID,
		record.Recipient,
		record.BodyHash,
		personID,
		toMillis(record.SentAt),
		record.ContentEncrypted,
	)
	if err != nil {
		return fmt.Errorf("put message log: %w", err)
	}
	return nil
}

// ListMessageLogs lists audit rows for one idempotency key, oldest first.
func (s *Store) ListMessageLogs(ctx context.Context, idempotencyKey string) ([]storage.MessageLogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT idempotency_key, correlation_id, channel, provider, provider_message_id,
       recipient, body_hash, person_id, sent_at, content_encrypted
FROM message_logs
WHERE idempotency_key = ?
ORDER BY id ASC
`, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("list message logs: %w", err)
	}
	defer rows.Close()

	var records []storage.MessageLogRecord
	for rows.Next() {
		var record storage.MessageLogRecord
		var personID sql.NullInt64
		var sentAt int64
		if err := rows.Scan(
			&record.IdempotencyKey,
			&record.CorrelationID,
			&record.Channel,
			&record.Provider,
			&record.ProviderMessageID,
			&record.Recipient,
			&record.BodyHash,
			&personID,
			&sentAt,
			&record.ContentEncrypted,
		); err != nil {
			return nil, fmt.Errorf("scan message log row: %w", err)
		}
		if personID.Valid {
			record.PersonID = personID.Int64
		}
		record.SentAt = fromMillis(sentAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message log rows: %w", err)
	}
	return records, nil
}

// MarkWebhookEvent records one inbound delivery and reports whether it was
// the first time the (provider, event id) pair was seen.
func (s *Store) MarkWebhookEvent(ctx context.Context, record storage.WebhookEventRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	record.Provider = strings.TrimSpace(record.Provider)
	record.EventID = strings.TrimSpace(record.EventID)
	if record.Provider == "" {
		return false, fmt.Errorf("provider is required")
	}
	if record.EventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	if record.PayloadJSON == "" {
		record.PayloadJSON = "{}"
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO webhook_events (provider, event_id, payload_json, received_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(provider, event_id) DO NOTHING
`,
		record.Provider,
		record.EventID,
		record.PayloadJSON,
		toMillis(record.ReceivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("mark webhook event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark webhook event rows affected: %w", err)
	}
	return affected > 0, nil
}
