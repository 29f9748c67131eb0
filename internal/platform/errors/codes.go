// Package errors provides structured error handling for the client SDK.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Token errors
	CodeTokenMalformed     Code = "TOKEN_MALFORMED"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenReissueFailed Code = "TOKEN_REISSUE_FAILED"

	// Session errors
	CodeSessionMissing Code = "SESSION_MISSING"
	CodeSessionExpired Code = "SESSION_EXPIRED"
	CodeSessionInvalid Code = "SESSION_INVALID"

	// Credential errors
	CodeCredentialsInvalid Code = "CREDENTIALS_INVALID"
	CodeAccountInactive    Code = "ACCOUNT_INACTIVE"
	CodeEmailTaken         Code = "EMAIL_TAKEN"

	// Transport errors
	CodeNetworkUnavailable Code = "NETWORK_UNAVAILABLE"
	CodeServerUnavailable  Code = "SERVER_UNAVAILABLE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeRefreshExhausted   Code = "REFRESH_EXHAUSTED"

	// Storage errors
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

// HTTPStatus maps an error code to the HTTP status it corresponds to on the
// wire. Codes without a wire equivalent map to 500.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeTokenMalformed, CodeSessionInvalid:
		return http.StatusBadRequest
	case CodeTokenExpired, CodeSessionExpired, CodeSessionMissing,
		CodeCredentialsInvalid, CodeRefreshExhausted:
		return http.StatusUnauthorized
	case CodeEmailTaken:
		return http.StatusConflict
	case CodeAccountInactive:
		return http.StatusLocked
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNetworkUnavailable, CodeServerUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeForHTTPStatus classifies a response status from the auth API into the
// closest error code. Bodies may refine the classification; this is the
// fallback used when they do not.
func CodeForHTTPStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodeCredentialsInvalid
	case status == http.StatusConflict:
		return CodeEmailTaken
	case status == http.StatusLocked:
		return CodeAccountInactive
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeServerUnavailable
	default:
		return CodeUnknown
	}
}
