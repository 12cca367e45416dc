package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
)

const maxErrorBody = 1 << 16

type envelopeError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// returns an error carrying its meaning. Bodies in the {error:{code,message}}
// envelope keep their code; anything else is reported verbatim.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", upstream, resp.StatusCode, err)
	}

	var env envelopeError
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return mapStatus(resp.StatusCode, env.Error.Code, fmt.Sprintf("%s: %s", upstream, env.Error.Message))
	}
	return mapStatus(resp.StatusCode, "", fmt.Sprintf("%s returned status %d: %s", upstream, resp.StatusCode, body))
}

func mapStatus(status int, code, message string) error {
	switch {
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(message)
	case status == http.StatusConflict:
		return apperrors.Conflict(message)
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return apperrors.Unavailable(message)
	case status >= 500:
		return fmt.Errorf("upstream error %d: %s", status, message)
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return &apperrors.AppError{Code: code, Message: message, Status: status}
}
