// Package inbound turns raw transport text (SMS, email, voice transcripts)
// into typed action intents, after sender authorization and delivery dedupe.
package inbound

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/screenless/internal/action"
	apperrors "github.com/openclaw/screenless/internal/platform/errors"
)

const (
	beginSentinel = "BEGIN_FUB_CMD"
	endSentinel   = "END_FUB_CMD"
	slashPrefix   = "/fub "

	minIdempotencyKeyLen = 8
)

// Command is one extracted inbound intent, ready to become an action request.
type Command struct {
	Action         action.Name    `json:"action"`
	Input          map[string]any `json:"input"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// tokenPattern treats key:"quoted value" pairs, bare quoted segments, and
// whitespace-delimited words as single tokens.
var tokenPattern = regexp.MustCompile(`[\w.-]+:"[^"]*"|[\w.-]+:'[^']*'|"[^"]*"|'[^']*'|\S+`)

// ExtractCommand parses one inbound message. A sentinel-delimited JSON
// envelope wins over the slash grammar; when neither matches the message
// carries no executable command.
func ExtractCommand(message string) (Command, error) {
	if body, ok := extractDelimited(message); ok {
		return parseEnvelope(body)
	}
	if line, ok := findSlashLine(message); ok {
		return parseSlashCommand(line)
	}
	return Command{}, apperrors.Validation("no executable command found")
}

func extractDelimited(message string) (string, bool) {
	start := strings.Index(message, beginSentinel)
	finish := strings.Index(message, endSentinel)
	if start == -1 || finish == -1 || finish <= start {
		return "", false
	}
	return strings.TrimSpace(message[start+len(beginSentinel) : finish]), true
}

func parseEnvelope(body string) (Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(body), &cmd); err != nil {
		return Command{}, apperrors.Validationf("invalid command JSON: %v", err)
	}
	if !cmd.Action.Valid() {
		return Command{}, apperrors.Validationf("unknown action %q", cmd.Action)
	}
	if cmd.Input == nil {
		return Command{}, apperrors.Validation("command input is required")
	}
	if cmd.IdempotencyKey != "" && len(cmd.IdempotencyKey) < minIdempotencyKeyLen {
		return Command{}, apperrors.Validationf("idempotency key must be at least %d characters", minIdempotencyKeyLen)
	}
	return cmd, nil
}

func findSlashLine(message string) (string, bool) {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, slashPrefix) {
			return line, true
		}
	}
	return "", false
}

func parseSlashCommand(line string) (Command, error) {
	tokens := tokenPattern.FindAllString(line, -1)
	if len(tokens) < 3 {
		return Command{}, apperrors.Validation("slash command too short")
	}

	name := action.Name(tokens[1] + "." + tokens[2])
	if !name.Valid() {
		return Command{}, apperrors.Validationf("unknown action %q", name)
	}

	input := map[string]any{}
	var freeText []string
	for _, token := range tokens[3:] {
		key, value, ok := splitPair(token)
		if !ok {
			freeText = append(freeText, stripQuotes(token))
			continue
		}
		assignField(name, input, key, value)
	}
	if len(freeText) > 0 {
		input[freeTextField(name)] = strings.Join(freeText, " ")
	}
	return Command{Action: name, Input: input}, nil
}

// splitPair splits a key:value token. Tokens that open with a quote are free
// text even when they contain a colon.
func splitPair(token string) (string, string, bool) {
	if strings.HasPrefix(token, `"`) || strings.HasPrefix(token, "'") {
		return "", "", false
	}
	key, value, found := strings.Cut(token, ":")
	if !found || key == "" || value == "" {
		return "", "", false
	}
	return key, stripQuotes(value), true
}

func stripQuotes(value string) string {
	value = strings.TrimPrefix(value, `"`)
	value = strings.TrimSuffix(value, `"`)
	value = strings.TrimPrefix(value, "'")
	return strings.TrimSuffix(value, "'")
}

// assignField maps one key:value pair to an input field, applying per-action
// aliases so the slash grammar lines up with the wire schema.
func assignField(name action.Name, input map[string]any, key, value string) {
	switch key {
	case "person":
		input["person"] = personField(value)
		return
	case "due":
		if name == action.TaskCreate {
			input["dueAt"] = value
			return
		}
	}
	input[key] = value
}

// personField shapes a person token into a reference, picking the field by
// the value's form.
func personField(value string) map[string]any {
	switch {
	case strings.Contains(value, "@"):
		return map[string]any{"email": value}
	case strings.HasPrefix(value, "+"):
		return map[string]any{"phone": value}
	default:
		return map[string]any{"name": value}
	}
}

// freeTextField picks where unpaired tokens accumulate for each action.
func freeTextField(name action.Name) string {
	switch name {
	case action.TaskCreate:
		return "title"
	case action.NoteCreate:
		return "text"
	case action.PersonFind:
		return "query"
	case action.MessageSend:
		return "body"
	case action.SummaryGenerate:
		return "topic"
	default:
		return "text"
	}
}

// RequestJSON renders the command as a raw action request, filling the
// idempotency key when the command did not carry one.
func (c Command) RequestJSON(fallbackKey string, role action.Role, execute bool, correlationID string, requestedAt time.Time) (json.RawMessage, error) {
	key := c.IdempotencyKey
	if key == "" {
		key = fallbackKey
	}
	inputBody := map[string]any{"action": string(c.Action)}
	for k, v := range c.Input {
		inputBody[k] = v
	}
	payload := map[string]any{
		"idempotencyKey":  key,
		"permissionScope": "inbound",
		"role":            string(role),
		"dryRun":          !execute,
		"confirm":         execute,
		"audit": map[string]any{
			"correlationId": correlationID,
			"requestedAt":   requestedAt.UTC().Format(time.RFC3339),
		},
		"input": inputBody,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal inbound request: %w", err)
	}
	return raw, nil
}
