package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/paralyuzov/raven-client/internal/domain"
)

const fallbackErrorMessage = "An error occurred"

// StatusError is a non-2xx answer from the backend. Message is the server's
// human-readable message when it sent one.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%s %s: status %d)", e.Message, e.Method, e.Path, e.StatusCode)
}

// Is lets a 401 match domain.ErrUnauthenticated.
func (e *StatusError) Is(target error) bool {
	return target == domain.ErrUnauthenticated && e.StatusCode == http.StatusUnauthorized
}

func newStatusError(method string, path string, resp *Response) *StatusError {
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    serverMessage(resp.Body),
	}
}

func serverMessage(body []byte) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Message) == 0 {
		return fallbackErrorMessage
	}

	var text string
	if err := json.Unmarshal(payload.Message, &text); err == nil && text != "" {
		return text
	}

	// Validation errors arrive as a list of messages.
	var list []string
	if err := json.Unmarshal(payload.Message, &list); err == nil && len(list) > 0 {
		return list[0]
	}

	return fallbackErrorMessage
}

// Message returns the user-facing text of err: the server message for status
// errors, the error text otherwise.
func Message(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
