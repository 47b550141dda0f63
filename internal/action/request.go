package action

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/openclaw/screenless/internal/platform/errors"
)

const (
	// DefaultSource tags records created on behalf of the engine.
	DefaultSource = "OpenClawScreenless"
	// DefaultActor is recorded when a caller supplies no actor identity.
	DefaultActor = "system"

	minIdempotencyKeyLen = 8
)

// Audit carries request provenance for logging and CRM mirroring.
type Audit struct {
	Source        string    `json:"source"`
	Actor         string    `json:"actor"`
	CorrelationID string    `json:"correlationId"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// Request is one validated action request.
type Request struct {
	IdempotencyKey  string
	PermissionScope string
	Role            Role
	DryRun          bool
	Confirm         bool
	Verbose         bool
	Audit           Audit
	Input           Input
}

// ErrorInfo is the wire shape of a failure inside a Result envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Result is the response envelope returned for every request.
type Result struct {
	OK            bool       `json:"ok"`
	DryRun        bool       `json:"dryRun"`
	CorrelationID string     `json:"correlationId"`
	Action        Name       `json:"action"`
	Redacted      bool       `json:"redacted"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
}

type wireRequest struct {
	IdempotencyKey  string          `json:"idempotencyKey"`
	PermissionScope string          `json:"permissionScope"`
	Role            string          `json:"role"`
	DryRun          *bool           `json:"dryRun"`
	Confirm         *bool           `json:"confirm"`
	Verbose         *bool           `json:"verbose"`
	Audit           wireAudit       `json:"audit"`
	Input           json.RawMessage `json:"input"`
}

type wireAudit struct {
	Source        string `json:"source"`
	Actor         string `json:"actor"`
	CorrelationID string `json:"correlationId"`
	RequestedAt   string `json:"requestedAt"`
}

// ParseRequest decodes and validates a raw wire request into a typed Request.
// It never partially accepts: any constraint violation fails the whole
// request with a validation error naming every offending field.
func ParseRequest(raw []byte) (Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Request{}, apperrors.Validationf("malformed request JSON: %v", err)
	}

	var bad []string

	request := Request{
		IdempotencyKey:  strings.TrimSpace(wire.IdempotencyKey),
		PermissionScope: strings.TrimSpace(wire.PermissionScope),
		Role:            RoleAssistant,
		DryRun:          true,
	}
	if len(request.IdempotencyKey) < minIdempotencyKeyLen {
		bad = append(bad, "idempotencyKey")
	}
	if request.PermissionScope == "" {
		bad = append(bad, "permissionScope")
	}
	if wire.Role != "" {
		request.Role = Role(wire.Role)
		if !request.Role.Valid() {
			bad = append(bad, "role")
		}
	}
	if wire.DryRun != nil {
		request.DryRun = *wire.DryRun
	}
	if wire.Confirm != nil {
		request.Confirm = *wire.Confirm
	}
	if wire.Verbose != nil {
		request.Verbose = *wire.Verbose
	}

	request.Audit = Audit{
		Source:        strings.TrimSpace(wire.Audit.Source),
		Actor:         strings.TrimSpace(wire.Audit.Actor),
		CorrelationID: strings.TrimSpace(wire.Audit.CorrelationID),
	}
	if request.Audit.Source == "" {
		request.Audit.Source = DefaultSource
	}
	if request.Audit.Actor == "" {
		request.Audit.Actor = DefaultActor
	}
	if request.Audit.CorrelationID == "" {
		bad = append(bad, "audit.correlationId")
	}
	if wire.Audit.RequestedAt == "" {
		bad = append(bad, "audit.requestedAt")
	} else {
		requestedAt, err := time.Parse(time.RFC3339, wire.Audit.RequestedAt)
		if err != nil {
			bad = append(bad, "audit.requestedAt")
		} else {
			request.Audit.RequestedAt = requestedAt.UTC()
		}
	}

	if len(wire.Input) == 0 {
		bad = append(bad, "input")
	} else {
		input, inputBad, err := DecodeInput(wire.Input)
		if err != nil {
			bad = append(bad, inputBad...)
		} else {
			request.Input = input
		}
	}

	if len(bad) > 0 {
		return Request{}, apperrors.Validationf("invalid request fields: %s", strings.Join(bad, ", "))
	}
	return request, nil
}

// Execute reports whether the request asks for real side effects rather than
// a preview. dryRun=true or confirm=false always yields a preview.
func (r Request) Execute() bool {
	return r.Confirm && !r.DryRun
}
