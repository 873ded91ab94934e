package errors

import "net/http"

// Code classifies a failure so the transport layer can map it to an HTTP
// status without inspecting messages.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeInternal           Code = "INTERNAL"
)

// ToHTTPStatus maps an error code to its HTTP status. Unknown codes are
// treated as internal faults.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeVerificationFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
