package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/authority/pkg/errors"
)

// errorBody matches the {"error":{"code","message"}} envelope.
type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response and converts it
// into an error. Envelope-shaped bodies keep their code and message.
func ParseResponseError(resp *http.Response, target string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", target, resp.StatusCode, err)
	}

	code, message := "", string(raw)
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		code, message = body.Error.Code, body.Error.Message
	}
	message = fmt.Sprintf("%s: %s", target, message)

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(message)
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.Forbidden(message)
	case resp.StatusCode == http.StatusConflict:
		return apperrors.Conflict(message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.TooManyRequests(message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return &apperrors.AppError{Code: "UPSTREAM_ERROR", Message: message, Status: http.StatusBadGateway, Err: apperrors.ErrServiceUnavail}
	default:
		if code == "" {
			code = "UPSTREAM_ERROR"
		}
		return &apperrors.AppError{Code: code, Message: message, Status: resp.StatusCode}
	}
}
