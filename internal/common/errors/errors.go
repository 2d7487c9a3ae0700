// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Tenant setup errors. The first two are user-correctable, the rest are fatal
// infrastructure errors except ErrCodeAdminGroupAssignmentFailed, which is
// only ever recorded on the setup outcome.
const (
	ErrCodeTenantAlreadyExists ErrorCode = "TENANT_ALREADY_EXISTS"
	ErrCodeInvalidSetupRequest ErrorCode = "INVALID_SETUP_REQUEST"

	ErrCodeIdentityOrgCreationFailed ErrorCode = "IDENTITY_ORG_CREATION_FAILED"
	ErrCodeIdentityInconsistent      ErrorCode = "IDENTITY_INCONSISTENT"
	ErrCodeMembershipFailed          ErrorCode = "MEMBERSHIP_FAILED"
	ErrCodeTenantCreationFailed      ErrorCode = "TENANT_CREATION_FAILED"

	ErrCodeAdminGroupAssignmentFailed ErrorCode = "ADMIN_GROUP_ASSIGNMENT_FAILED"
)

// Provisioning progress errors.
const (
	ErrCodeProvisioningFailed      ErrorCode = "TENANT_PROVISIONING_FAILED"
	ErrCodeProvisioningPollTimeout ErrorCode = "PROVISIONING_POLL_TIMEOUT"
)

// Transport and client errors.
const (
	ErrCodeIdentityAuthFailed  ErrorCode = "KEYCLOAK_AUTH_ERROR"
	ErrCodeIdentityAPIError    ErrorCode = "KEYCLOAK_API_ERROR"
	ErrCodeIdentityConflict    ErrorCode = "KEYCLOAK_CONFLICT"
	ErrCodeApplicationAPIError ErrorCode = "APPLICATION_SERVICE_ERROR"
	ErrCodeTransportTimeout    ErrorCode = "TRANSPORT_TIMEOUT"
	ErrCodeNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrCodeInputParsingFailed  ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is reports whether target is a StandardError carrying the same code, so the
// exported sentinels below can be used with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is matching. Never return these directly; use the
// constructors so Details and Timestamp are populated.
var (
	ErrTenantAlreadyExists       = &StandardError{Code: ErrCodeTenantAlreadyExists}
	ErrInvalidSetupRequest       = &StandardError{Code: ErrCodeInvalidSetupRequest}
	ErrIdentityOrgCreationFailed = &StandardError{Code: ErrCodeIdentityOrgCreationFailed}
	ErrIdentityInconsistent      = &StandardError{Code: ErrCodeIdentityInconsistent}
	ErrMembershipFailed          = &StandardError{Code: ErrCodeMembershipFailed}
	ErrTenantCreationFailed      = &StandardError{Code: ErrCodeTenantCreationFailed}
	ErrProvisioningFailed        = &StandardError{Code: ErrCodeProvisioningFailed}
	ErrIdentityConflict          = &StandardError{Code: ErrCodeIdentityConflict}
	ErrTransportTimeout          = &StandardError{Code: ErrCodeTransportTimeout}
)

// CodeOf returns the code of the first StandardError in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewTenantAlreadyExistsError creates a non-retryable name collision error.
// The caller has to pick a different tenant name.
func NewTenantAlreadyExistsError(tenantName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTenantAlreadyExists,
		Message:   "Tenant name is already taken",
		Details:   fmt.Sprintf("tenantName: %s", tenantName),
		Retryable: false,
		Metadata:  map[string]interface{}{"tenantName": tenantName},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidSetupRequestError creates a non-retryable request validation error.
func NewInvalidSetupRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidSetupRequest,
		Message:   "Invalid tenant setup request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIdentityOrgCreationFailedError wraps a non-conflict failure of the
// create-organization call.
func NewIdentityOrgCreationFailedError(tenantName string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdentityOrgCreationFailed,
		Message:   "Failed to create identity organization",
		Details:   fmt.Sprintf("tenantName: %s, error: %s", tenantName, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIdentityInconsistentError is returned when an organization was created
// but cannot be found afterwards.
func NewIdentityInconsistentError(tenantName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdentityInconsistent,
		Message:   "Created organization not found in identity service",
		Details:   fmt.Sprintf("tenantName: %s", tenantName),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMembershipFailedError creates a fatal membership binding error.
func NewMembershipFailedError(orgID, principalID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMembershipFailed,
		Message:   "Failed to add acting principal to organization",
		Details:   fmt.Sprintf("orgId: %s, principalId: %s, error: %s", orgID, principalID, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"orgId": orgID},
		Timestamp: time.Now().UTC(),
	}
}

// NewTenantCreationFailedError carries the application service's reason.
func NewTenantCreationFailedError(tenantName, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTenantCreationFailed,
		Message:   "Application service rejected tenant creation",
		Details:   reason,
		Retryable: false,
		Metadata:  map[string]interface{}{"tenantName": tenantName},
		Timestamp: time.Now().UTC(),
	}
}

// NewAdminGroupAssignmentFailedError describes a degraded admin group step.
func NewAdminGroupAssignmentFailedError(groupName string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAdminGroupAssignmentFailed,
		Message:   "Admin privileges not assigned, fix later",
		Details:   fmt.Sprintf("group: %s, error: %s", groupName, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProvisioningFailedError reports a FAILED terminal progress signal.
func NewProvisioningFailedError(tenantName, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProvisioningFailed,
		Message:   "Tenant provisioning failed",
		Details:   reason,
		Retryable: false,
		Metadata:  map[string]interface{}{"tenantName": tenantName},
		Timestamp: time.Now().UTC(),
	}
}

// NewProvisioningPollTimeoutError is returned when polling stops before a
// terminal phase was observed. Retryable: polling again is always safe.
func NewProvisioningPollTimeoutError(tenantName string, percent int) *StandardError {
	return &StandardError{
		Code:      ErrCodeProvisioningPollTimeout,
		Message:   "Provisioning did not reach a terminal phase in time",
		Details:   fmt.Sprintf("tenantName: %s, lastPercent: %d", tenantName, percent),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportTimeoutError marks a call whose outcome is unknown.
func NewTransportTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportTimeout,
		Message:   fmt.Sprintf("Service '%s' did not answer before the deadline", service),
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConflictError creates a non-retryable conflict (HTTP 409) error.
func NewConflictError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdentityConflict,
		Message:   fmt.Sprintf("Resource already exists in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "TIMEOUT_ERROR",
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      "AUTHENTICATION_ERROR",
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewBusinessRuleError(message, details string) *StandardError {
	return &StandardError{
		Code:      "BUSINESS_RULE_VIOLATION",
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the error codes caught by
// boundary events in the tenant onboarding process.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeTenantAlreadyExists:       "TENANT_ALREADY_EXISTS",
	ErrCodeInvalidSetupRequest:       "INVALID_SETUP_REQUEST",
	ErrCodeIdentityOrgCreationFailed: "IDENTITY_SETUP_FAILED",
	ErrCodeIdentityInconsistent:      "IDENTITY_SETUP_FAILED",
	ErrCodeMembershipFailed:          "MEMBERSHIP_FAILED",
	ErrCodeTenantCreationFailed:      "TENANT_CREATION_FAILED",
	ErrCodeProvisioningFailed:        "TENANT_PROVISIONING_FAILED",
	ErrCodeProvisioningPollTimeout:   "PROVISIONING_POLL_TIMEOUT",
	ErrCodeInputParsingFailed:        "INVALID_SETUP_REQUEST",
	ErrCodeValidationFailed:          "INVALID_SETUP_REQUEST",
}

// GetRetryCount returns the recommended job retry count for an error code.
//
// Saga errors never retry at the job level: the identity organization already
// exists after the first step, so a replay would hit TENANT_ALREADY_EXISTS or,
// worse, create the application tenant twice.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeProvisioningPollTimeout:
		return 3 // Polling is idempotent

	case ErrCodeIdentityAuthFailed,
		ErrCodeNetworkError:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code) // Fallback
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// GetErrorCategory returns the category of the error code, matching the
// taxonomy the caller branches on.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeTenantAlreadyExists, ErrCodeInvalidSetupRequest,
		ErrCodeInputParsingFailed, ErrCodeValidationFailed:
		return "USER_CORRECTABLE"
	case ErrCodeAdminGroupAssignmentFailed:
		return "DEGRADED"
	case ErrCodeTransportTimeout:
		return "AMBIGUOUS"
	}

	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "KEYCLOAK") || strings.Contains(codeStr, "IDENTITY") ||
		strings.Contains(codeStr, "MEMBERSHIP"):
		return "IDENTITY"
	case strings.Contains(codeStr, "TENANT") || strings.Contains(codeStr, "APPLICATION") ||
		strings.Contains(codeStr, "PROVISIONING"):
		return "APPLICATION"
	case strings.Contains(codeStr, "TIMEOUT") || strings.Contains(codeStr, "NETWORK"):
		return "TRANSPORT"
	default:
		return "OTHER"
	}
}
