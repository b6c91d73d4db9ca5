package services

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. Handlers map these onto HTTP
// status codes.
var (
	// Test errors
	ErrTestNotFound       = errors.New("test not found")
	ErrTestNotPublished   = errors.New("test is not published")
	ErrTestHasNoQuestions = errors.New("test has no questions")

	// Attempt errors
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptAccessDenied     = errors.New("attempt access denied")
	ErrAttemptNotActive        = errors.New("attempt is not active")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptLimitExceeded    = errors.New("maximum attempts exceeded")
	ErrAttemptTimeExpired      = errors.New("attempt time has expired")
	ErrAttemptAlreadyActive    = errors.New("an attempt is already in progress")
	ErrInvalidAnswer           = errors.New("invalid answer submission")

	// Internal errors, never shown to end users directly
	ErrEvaluationUnavailable = errors.New("automatic evaluation unavailable")
	ErrStatsUpdateConflict   = errors.New("statistics update conflict")

	// Generic errors
	ErrValidationFailed = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrUserNotFound     = errors.New("user not found")
)

// BusinessRuleError carries the rule that was violated for diagnostics.
type BusinessRuleError struct {
	Message string
	Rule    string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

func NewBusinessRuleError(message, rule string) *BusinessRuleError {
	return &BusinessRuleError{
		Message: message,
		Rule:    rule,
		Context: make(map[string]interface{}),
	}
}

// PermissionError describes a denied action on a resource.
type PermissionError struct {
	UserID   string
	ID       uint
	Resource string
	Action   string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ID, e.Reason)
}

func NewPermissionError(userID string, id uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:   userID,
		ID:       id,
		Resource: resource,
		Action:   action,
		Reason:   reason,
	}
}
