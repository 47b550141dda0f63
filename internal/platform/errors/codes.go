// Package errors provides the structured error taxonomy for action execution.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeValidation marks malformed input or a safety-policy violation.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodePermission marks a role not entitled to the requested action.
	CodePermission Code = "PERMISSION_DENIED"
	// CodeProvider marks a collaborator or upstream failure.
	CodeProvider Code = "PROVIDER_ERROR"
	// CodeUnexpected marks an unclassified failure.
	CodeUnexpected Code = "UNEXPECTED_ERROR"
)
