// Package permission maps caller roles to the actions they may invoke.
package permission

import (
	"github.com/openclaw/screenless/internal/action"
	apperrors "github.com/openclaw/screenless/internal/platform/errors"
)

// Allowed reports whether the role is entitled to the action.
//
// The switch is written per action so that a newly added action kind must be
// classified here before any role can execute it.
func Allowed(role action.Role, name action.Name) bool {
	if !role.Valid() {
		return false
	}

	switch name {
	// Read-only surface: every role, including readonly.
	case action.PersonFind,
		action.ListingSearch,
		action.ListingGet,
		action.SummaryGenerate,
		action.VoicemailAudioList,
		action.VoicemailCampaignStatus:
		return true

	// Tag removal is reserved for operators.
	case action.PersonTagRemove:
		return role == action.RoleOperator

	// Operational surface: operators, assistants, and automations.
	case action.PersonUpsert,
		action.PersonTagAdd,
		action.NoteCreate,
		action.TaskCreate,
		action.TaskComplete,
		action.MessageSend,
		action.MessageLogToCRM,
		action.VoicemailDrop:
		return role != action.RoleReadonly
	}
	return false
}

// AssertAllowed returns a permission error when the role may not invoke the
// action.
func AssertAllowed(role action.Role, name action.Name) error {
	if Allowed(role, name) {
		return nil
	}
	return apperrors.Permission("role " + string(role) + " cannot execute " + string(name))
}
