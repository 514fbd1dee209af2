package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"vn.io.arda/realtime/internal/messages"
)

// Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// IsRetryable reports whether err is a transient failure worth queueing for
// another attempt: transport errors, timeouts, 408, 429 and 5xx.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusRequestTimeout ||
			apiErr.Status == http.StatusTooManyRequests ||
			apiErr.Status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsValidation reports whether the server rejected the input itself.
func IsValidation(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnprocessableEntity ||
		(apiErr.Status == http.StatusBadRequest && len(apiErr.Fields) > 0)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UserMessage maps err to text suitable for showing to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsValidation(err) {
		var apiErr *Error
		errors.As(err, &apiErr)
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return messages.ErrInvalidInput
	}
	switch status := StatusOf(err); {
	case status == http.StatusUnauthorized:
		return messages.ErrSessionExpired
	case status == http.StatusForbidden:
		return messages.ErrForbidden
	case status == http.StatusNotFound:
		return messages.ErrNotFound
	case status == http.StatusConflict:
		return messages.ErrConflict
	case status == http.StatusTooManyRequests:
		return messages.ErrTooManyRequests
	case status >= http.StatusInternalServerError:
		return messages.ErrServer
	case status == 0 && IsRetryable(err):
		return messages.ErrOffline
	}
	return messages.ErrUnknown
}
