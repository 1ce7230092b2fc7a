package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrorCodeInvalidResponse = "invalid_response"
	ErrorCodeServerError     = "server_error"
)

var (
	// ErrInvalidResponse is returned when a 2xx body cannot be used, e.g. a
	// token response without tokens.
	ErrInvalidResponse = errors.New("authsdk: invalid response")

	// ErrMissingCredentials is returned before any request is made when a
	// call is missing the token or credentials it needs.
	ErrMissingCredentials = errors.New("authsdk: missing credentials")
)

// APIError is a non-2xx answer from the auth API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authsdk: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("authsdk: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthorized reports whether err is an API rejection of the presented
// credentials (401 or 403).
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// parseErrorResponse turns a non-2xx response body into an *APIError,
// falling back to the status text when the body is not the usual shape.
func parseErrorResponse(resp *http.Response, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg := errResp.Message
		if msg == "" {
			msg = errResp.ErrorDescription
		}
		return &APIError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: msg}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       ErrorCodeServerError,
		Message:    http.StatusText(resp.StatusCode),
	}
}
