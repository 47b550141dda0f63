// Package engine orchestrates action execution: validation, idempotency,
// permission and safety gating, collaborator dispatch, auditing, and the
// response envelope.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaw/screenless/internal/action"
	"github.com/openclaw/screenless/internal/adapter"
	"github.com/openclaw/screenless/internal/encrypt"
	"github.com/openclaw/screenless/internal/permission"
	"github.com/openclaw/screenless/internal/person"
	apperrors "github.com/openclaw/screenless/internal/platform/errors"
	"github.com/openclaw/screenless/internal/redact"
	"github.com/openclaw/screenless/internal/safety"
	"github.com/openclaw/screenless/internal/storage"
)

// Store is the engine's durable state seam.
type Store interface {
	GetIdempotency(ctx context.Context, key string) (storage.IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, record storage.IdempotencyRecord) error
	PutMessageLog(ctx context.Context, record storage.MessageLogRecord) error
}

// Resolver maps person references to canonical CRM records.
type Resolver interface {
	Resolve(ctx context.Context, ref action.PersonRef) (adapter.Person, error)
	ResolveOrUpsert(ctx context.Context, ref action.PersonRef) (adapter.Person, error)
}

// Config carries the engine policy knobs.
type Config struct {
	Safety           safety.Config
	EncryptionSecret string
}

// Deps are the engine's constructor-injected collaborators. CRM, Listings,
// and Store are required; channel senders are optional and their absence is
// reported per request.
type Deps struct {
	Config    Config
	Store     Store
	Resolver  Resolver
	CRM       adapter.CRM
	Listings  adapter.Listings
	SMS       adapter.SMSSender
	Email     adapter.EmailSender
	Voice     adapter.VoiceSender
	Outbound  adapter.OutboundTransport
	Voicemail adapter.Voicemail
	Clock     func() time.Time
	Logger    *log.Logger
}

// Engine executes action requests with at-most-once side effects.
type Engine struct {
	deps   Deps
	tracer trace.Tracer
}

// New constructs an engine over its collaborators.
func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Engine{
		deps:   deps,
		tracer: otel.Tracer("screenless/engine"),
	}
}

// Run executes one raw action request and always returns a response envelope;
// failures are normalized into the envelope, never propagated. Requests
// replaying a known idempotency key return the stored envelope verbatim.
func (e *Engine) Run(ctx context.Context, raw json.RawMessage) action.Result {
	ctx, span := e.tracer.Start(ctx, "engine.run")
	defer span.End()

	request, err := action.ParseRequest(raw)
	if err != nil {
		appErr := apperrors.Normalize(err)
		e.deps.Logger.Printf("request rejected: %v", appErr)
		// No trusted idempotency key yet, so the rejection is not recorded.
		return rejectionEnvelope(raw, appErr)
	}
	span.SetAttributes(
		attribute.String("action.name", string(request.Input.Action())),
		attribute.String("correlation.id", request.Audit.CorrelationID),
	)

	stored, err := e.deps.Store.GetIdempotency(ctx, request.IdempotencyKey)
	if err == nil {
		if replay, ok := decodeStored(stored.ResultJSON); ok {
			span.SetAttributes(attribute.Bool("idempotency.replay", true))
			return replay
		}
		e.deps.Logger.Printf("corrupt idempotency record for key %q, re-executing", request.IdempotencyKey)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return e.failure(request, apperrors.Provider("idempotency lookup failed", err))
	}

	result := e.dispatch(ctx, request)
	return e.persist(ctx, request, result)
}

func (e *Engine) dispatch(ctx context.Context, request action.Request) action.Result {
	if err := permission.AssertAllowed(request.Role, request.Input.Action()); err != nil {
		return e.failure(request, apperrors.Normalize(err))
	}
	if err := safety.Enforce(request.Input, e.deps.Config.Safety); err != nil {
		return e.failure(request, apperrors.Normalize(err))
	}

	if !request.Execute() {
		return e.success(request, previewData(request.Input))
	}

	data, err := e.execute(ctx, request)
	if err != nil {
		return e.failure(request, apperrors.Normalize(err))
	}
	return e.success(request, data)
}

// execute invokes the single collaborator capability each action needs. Every
// input variant is matched here; an unhandled variant is a bug.
func (e *Engine) execute(ctx context.Context, request action.Request) (any, error) {
	meta := adapter.EventMeta{
		Source:        request.Audit.Source,
		CorrelationID: request.Audit.CorrelationID,
	}

	switch in := request.Input.(type) {
	case *action.PersonFindInput:
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		return e.deps.CRM.SearchPeople(ctx, in.Query)

	case *action.PersonUpsertInput:
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		if in.Person.Empty() {
			return nil, apperrors.Validation("person reference required")
		}
		return e.deps.CRM.UpsertPerson(ctx, adapter.UpsertPersonInput{
			PersonLookup: adapter.PersonLookup{
				Email: in.Person.Email,
				Phone: in.Person.Phone,
				Name:  in.Person.Name,
			},
			PersonID:     in.Person.PersonID,
			Tags:         in.Person.Tags,
			Stage:        in.Person.Stage,
			CustomFields: in.Person.CustomFields,
		})

	case *action.PersonTagAddInput:
		person, err := e.resolveOrUpsert(ctx, in.Person)
		if err != nil {
			return nil, err
		}
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		if err := e.deps.CRM.AddTag(ctx, person.ID, in.Tag); err != nil {
			return nil, err
		}
		return map[string]any{"personId": person.ID, "tag": in.Tag}, nil

	case *action.PersonTagRemoveInput:
		person, err := e.resolveOrUpsert(ctx, in.Person)
		if err != nil {
			return nil, err
		}
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		if err := e.deps.CRM.RemoveTag(ctx, person.ID, in.Tag); err != nil {
			return nil, err
		}
		return map[string]any{"personId": person.ID, "tag": in.Tag}, nil

	case *action.NoteCreateInput:
		person, err := e.resolveOrUpsert(ctx, in.Person)
		if err != nil {
			return nil, err
		}
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		return e.deps.CRM.CreateNote(ctx, person.ID, in.Text, meta)

	case *action.TaskCreateInput:
		person, err := e.resolveOrUpsert(ctx, in.Person)
		if err != nil {
			return nil, err
		}
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		return e.deps.CRM.CreateTask(ctx, person.ID, in.Title, in.DueAt, in.Description, meta)

	case *action.TaskCompleteInput:
		if e.deps.CRM == nil {
			return nil, apperrors.Validation("crm collaborator not configured")
		}
		if err := e.deps.CRM.CompleteTask(ctx, in.TaskID); err != nil {
			return nil, err
		}
		return map[string]any{"taskId": in.TaskID, "complete": true}, nil

	case *action.MessageSendInput:
		return e.sendMessage(ctx, request, in)

	case *action.MessageLogInput:
		return e.mirrorMessage(ctx, request, in)

	case *action.VoicemailDropInput:
		if e.deps.Voicemail == nil {
			return nil, apperrors.Validation("voicemail collaborator not configured")
		}
		return e.deps.Voicemail.DropVoicemail(ctx, adapter.VoicemailDropRequest{
			PhoneNumbers: in.PhoneNumbers,
			AudioURL:     in.Audio.AudioURL,
			AudioName:    in.Audio.SlyAudioName,
			CampaignName: in.CampaignName,
			CallerID:     in.CallerID,
			SendDate:     in.SendDate,
			SendTime:     in.SendTime,
			Timezone:     in.Timezone,
			RepeatDays:   in.RepeatDays,
		})

	case *action.VoicemailAudioListInput:
		if e.deps.Voicemail == nil {
			return nil, apperrors.Validation("voicemail collaborator not configured")
		}
		return e.deps.Voicemail.ListAudioFiles(ctx)

	case *action.VoicemailCampaignStatusInput:
		if e.deps.Voicemail == nil {
			return nil, apperrors.Validation("voicemail collaborator not configured")
		}
		return e.deps.Voicemail.CampaignStatus(ctx, in.CampaignID)

	case *action.ListingSearchInput:
		if e.deps.Listings == nil {
			return nil, apperrors.Validation("listing collaborator not configured")
		}
		return e.deps.Listings.SearchListings(ctx, in.Query)

	case *action.ListingGetInput:
		if e.deps.Listings == nil {
			return nil, apperrors.Validation("listing collaborator not configured")
		}
		if in.MLSID != "" {
			return e.deps.Listings.GetListingByMLSID(ctx, in.MLSID)
		}
		return e.deps.Listings.GetListingByAddress(ctx, in.Address)

	case *action.SummaryGenerateInput:
		return map[string]any{"summary": summarize(in)}, nil
	}
	return nil, apperrors.Validationf("unsupported action %q", request.Input.Action())
}

func (e *Engine) resolveOrUpsert(ctx context.Context, ref action.PersonRef) (adapter.Person, error) {
	if ref.Empty() {
		return adapter.Person{}, apperrors.Validation("person reference required")
	}
	if e.deps.Resolver == nil {
		return adapter.Person{}, apperrors.Validation("person resolver not configured")
	}
	return e.deps.Resolver.ResolveOrUpsert(ctx, ref)
}

func (e *Engine) sendMessage(ctx context.Context, request action.Request, in *action.MessageSendInput) (any, error) {
	sent, err := e.dispatchChannel(ctx, in.Channel, adapter.OutboundMessage{
		To:      in.To,
		Body:    in.Body,
		Subject: in.Subject,
		From:    in.From,
	})
	if err != nil {
		return nil, err
	}

	// The message has left the system from here on. Audit and CRM mirroring
	// are best effort; a failure below still reports the attempt.
	var personID int64
	if in.Person != nil && !in.Person.Empty() && e.deps.Resolver != nil {
		person, resolveErr := e.deps.Resolver.Resolve(ctx, *in.Person)
		switch {
		case resolveErr == nil:
			personID = person.ID
		case isNotFound(resolveErr):
			// Unknown person; the message log row records the raw recipient.
		default:
			return nil, resolveErr
		}
	}

	encrypted, err := e.encryptBody(in.Body)
	if err != nil {
		return nil, err
	}
	if err := e.deps.Store.PutMessageLog(ctx, storage.MessageLogRecord{
		IdempotencyKey:    request.IdempotencyKey,
		CorrelationID:     request.Audit.CorrelationID,
		Channel:           string(in.Channel),
		Provider:          sent.Provider,
		ProviderMessageID: sent.ProviderMessageID,
		Recipient:         sent.To,
		BodyHash:          safety.HashContent(in.Body),
		PersonID:          personID,
		SentAt:            sent.SentAt,
		ContentEncrypted:  encrypted,
	}); err != nil {
		return nil, err
	}

	if in.LogToCRM && personID > 0 {
		if err := e.logToTimeline(ctx, in.Channel, personID, in.Body, in.Subject, sent.To, sent.ProviderMessageID, request.Audit, sent.SentAt); err != nil {
			return nil, err
		}
	}
	return sent, nil
}

func (e *Engine) mirrorMessage(ctx context.Context, request action.Request, in *action.MessageLogInput) (any, error) {
	person, err := e.resolveOrUpsert(ctx, in.Person)
	if err != nil {
		return nil, err
	}

	sentAt := e.deps.Clock()
	if in.SentAt != "" {
		parsed, err := time.Parse(time.RFC3339, in.SentAt)
		if err != nil {
			return nil, apperrors.Validation("sentAt must be an RFC 3339 timestamp")
		}
		sentAt = parsed
	}
	if err := e.logToTimeline(ctx, in.Channel, person.ID, in.Body, "", in.To, in.ProviderMessageID, request.Audit, sentAt); err != nil {
		return nil, err
	}
	return map[string]any{"personId": person.ID, "channel": in.Channel}, nil
}

func (e *Engine) dispatchChannel(ctx context.Context, channel action.Channel, message adapter.OutboundMessage) (adapter.OutboundResult, error) {
	switch channel {
	case action.ChannelSMS:
		if e.deps.SMS == nil {
			return adapter.OutboundResult{}, apperrors.Validation("sms collaborator not configured")
		}
		return e.deps.SMS.SendSMS(ctx, message)
	case action.ChannelEmail:
		if e.deps.Email == nil {
			return adapter.OutboundResult{}, apperrors.Validation("email collaborator not configured")
		}
		return e.deps.Email.SendEmail(ctx, message)
	case action.ChannelVoice:
		if e.deps.Voice == nil {
			return adapter.OutboundResult{}, apperrors.Validation("voice collaborator not configured")
		}
		return e.deps.Voice.SendVoiceMessage(ctx, message)
	case action.ChannelIMessage, action.ChannelWhatsApp:
		if e.deps.Outbound == nil {
			return adapter.OutboundResult{}, apperrors.Validation("outbound transport not configured")
		}
		return e.deps.Outbound.Send(ctx, string(channel), message)
	}
	return adapter.OutboundResult{}, apperrors.Validationf("unsupported channel %q", channel)
}

// logToTimeline mirrors a delivered message into the CRM by channel kind.
func (e *Engine) logToTimeline(ctx context.Context, channel action.Channel, personID int64, body, subject, to, providerMessageID string, audit action.Audit, at time.Time) error {
	if e.deps.CRM == nil {
		return apperrors.Validation("crm collaborator not configured")
	}
	meta := adapter.EventMeta{
		Source:        audit.Source,
		CorrelationID: audit.CorrelationID,
		Extra:         map[string]string{"providerMessageId": orUnknown(providerMessageID)},
	}

	switch channel {
	case action.ChannelSMS, action.ChannelIMessage, action.ChannelWhatsApp:
		_, err := e.deps.CRM.LogText(ctx, personID, body, at, to, meta)
		return err
	case action.ChannelEmail:
		_, err := e.deps.CRM.LogEmail(ctx, personID, subject, body, at, to, meta)
		return err
	default:
		_, err := e.deps.CRM.LogCall(ctx, personID, body, at, meta)
		return err
	}
}

func (e *Engine) encryptBody(body string) (string, error) {
	if e.deps.Config.EncryptionSecret == "" {
		return "", apperrors.Validation("encryption secret not configured")
	}
	encrypted, err := encrypt.EncryptText(body, e.deps.Config.EncryptionSecret)
	if err != nil {
		return "", apperrors.Provider("encrypt message body", err)
	}
	return encrypted, nil
}

// success canonicalizes data through a JSON round trip so a freshly computed
// envelope and its later replay are structurally identical, then applies
// redaction unless verbose output was requested.
func (e *Engine) success(request action.Request, data any) action.Result {
	canonical, err := canonicalize(data)
	if err != nil {
		return e.failure(request, apperrors.Unexpected(fmt.Errorf("encode result data: %w", err)))
	}
	if !request.Verbose {
		canonical = redact.Redact(canonical)
	}
	return action.Result{
		OK:            true,
		DryRun:        request.DryRun,
		CorrelationID: request.Audit.CorrelationID,
		Action:        request.Input.Action(),
		Redacted:      !request.Verbose,
		Data:          canonical,
	}
}

func (e *Engine) failure(request action.Request, appErr *apperrors.Error) action.Result {
	e.deps.Logger.Printf("action failed correlation_id=%s action=%s code=%s: %s",
		request.Audit.CorrelationID, request.Input.Action(), appErr.Code, appErr.Message)
	return action.Result{
		OK:            false,
		DryRun:        request.DryRun,
		CorrelationID: request.Audit.CorrelationID,
		Action:        request.Input.Action(),
		Redacted:      !request.Verbose,
		Error: &action.ErrorInfo{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		},
	}
}

// persist records the envelope under the idempotency key and returns the
// stored winner, so concurrent duplicates of one key converge on a single
// envelope.
func (e *Engine) persist(ctx context.Context, request action.Request, result action.Result) action.Result {
	raw, err := json.Marshal(result)
	if err != nil {
		e.deps.Logger.Printf("encode result for key %q: %v", request.IdempotencyKey, err)
		return result
	}
	if err := e.deps.Store.PutIdempotency(ctx, storage.IdempotencyRecord{
		Key:           request.IdempotencyKey,
		Action:        string(request.Input.Action()),
		CorrelationID: request.Audit.CorrelationID,
		ResultJSON:    string(raw),
		CreatedAt:     e.deps.Clock(),
	}); err != nil {
		e.deps.Logger.Printf("persist result for key %q: %v", request.IdempotencyKey, err)
		return result
	}

	stored, err := e.deps.Store.GetIdempotency(ctx, request.IdempotencyKey)
	if err != nil {
		return result
	}
	if winner, ok := decodeStored(stored.ResultJSON); ok {
		return winner
	}
	return result
}

// previewData echoes the input fields under a would marker without touching
// any collaborator.
func previewData(input action.Input) map[string]any {
	data := map[string]any{"would": string(input.Action())}
	raw, err := json.Marshal(input)
	if err != nil {
		return data
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return data
	}
	for key, value := range fields {
		data[key] = value
	}
	return data
}

func summarize(in *action.SummaryGenerateInput) string {
	keys := ""
	if fields, ok := in.Data.(map[string]any); ok {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		keys = strings.Join(names, ", ")
	}
	return fmt.Sprintf("Summary: %s | keys: %s", in.Topic, keys)
}

func canonicalize(data any) (any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStored(resultJSON string) (action.Result, bool) {
	var result action.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return action.Result{}, false
	}
	return result, true
}

// rejectionEnvelope builds a validation-failure envelope from whatever
// provenance the malformed request carried.
func rejectionEnvelope(raw json.RawMessage, appErr *apperrors.Error) action.Result {
	var peek struct {
		DryRun  *bool `json:"dryRun"`
		Verbose bool  `json:"verbose"`
		Audit   struct {
			CorrelationID string `json:"correlationId"`
		} `json:"audit"`
		Input struct {
			Action action.Name `json:"action"`
		} `json:"input"`
	}
	_ = json.Unmarshal(raw, &peek)

	dryRun := true
	if peek.DryRun != nil {
		dryRun = *peek.DryRun
	}
	return action.Result{
		OK:            false,
		DryRun:        dryRun,
		CorrelationID: peek.Audit.CorrelationID,
		Action:        peek.Input.Action,
		Redacted:      !peek.Verbose,
		Error: &action.ErrorInfo{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		},
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, person.ErrNotFound)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
