// Package safety enforces static guardrails on outbound content and
// destinations. Rules are role-independent and evaluated before any
// collaborator call.
package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/openclaw/screenless/internal/action"
	apperrors "github.com/openclaw/screenless/internal/platform/errors"
)

// Config holds the policy knobs.
type Config struct {
	// AllowNonUSCA permits destinations without the "+1" prefix.
	AllowNonUSCA bool
}

var (
	secretPattern    = regexp.MustCompile(`(?i)(api[_-]?key|password|token|secret|bearer\s+[a-z0-9\-._~+/]+=*)`)
	directivePattern = regexp.MustCompile(`(?i)BEGIN_FUB_CMD|END_FUB_CMD|/fub\s+`)
)

// HashContent returns the hex-encoded SHA-256 digest of the value.
func HashContent(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Enforce rejects inputs that violate the content and destination policy.
// Violations are validation errors and are not retryable.
func Enforce(input action.Input, cfg Config) error {
	switch in := input.(type) {
	case *action.VoicemailDropInput:
		if cfg.AllowNonUSCA {
			return nil
		}
		for _, phone := range in.PhoneNumbers {
			if !strings.HasPrefix(phone, "+1") {
				return apperrors.Validationf("destination outside allowed regions: %s", phone)
			}
		}
		return nil

	case *action.MessageSendInput:
		if secretPattern.MatchString(in.Body) {
			return apperrors.Validation("message blocked by safety policy: possible secret disclosure")
		}
		if directivePattern.MatchString(in.Body) {
			return apperrors.Validation("message body cannot contain command directives")
		}
		if !cfg.AllowNonUSCA && !strings.HasPrefix(in.To, "+1") {
			return apperrors.Validation("destination outside allowed regions")
		}
		// A comma would fan one send out to multiple recipients on some
		// providers; mass messaging stays blocked by default.
		if strings.Contains(in.To, ",") {
			return apperrors.Validation("mass messaging is blocked by default")
		}
		return nil
	}
	return nil
}
