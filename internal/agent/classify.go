package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"eldritch/internal/narrative"
)

// StatusError is a non-2xx reply from an agent endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.Code, body)
}

// ErrEmptyResponse is returned when an endpoint answers with no text.
var ErrEmptyResponse = errors.New("empty response from agent")

// Classify maps an agent error onto the client status taxonomy.
func Classify(err error) narrative.ErrorKind {
	if err == nil {
		return ""
	}

	var ne *narrative.Error
	if errors.As(err, &ne) && ne.Kind != "" {
		return ne.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return narrative.KindTimeout
	}

	var se *StatusError
	if errors.As(err, &se) {
		return kindForStatus(se.Code, se.Body)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return narrative.KindTimeout
		}
		return narrative.KindConnection
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, ErrEmptyResponse) {
		return narrative.KindInvalidResponse
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return narrative.KindConnection
	case strings.Contains(msg, "quota"):
		return narrative.KindQuotaExceeded
	}
	return narrative.KindUnknown
}

func kindForStatus(code int, body string) narrative.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(body), "quota") {
			return narrative.KindQuotaExceeded
		}
		return narrative.KindRateLimited
	case code == http.StatusPaymentRequired:
		return narrative.KindQuotaExceeded
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return narrative.KindAuthentication
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return narrative.KindTimeout
	case code >= 500:
		return narrative.KindServer
	}
	return narrative.KindUnknown
}

// Wrap classifies err as a failure of agentID: malformed for unusable
// replies, transport otherwise. Already classified errors pass through.
func Wrap(agentID string, err error) error {
	if err == nil {
		return nil
	}
	var ne *narrative.Error
	if errors.As(err, &ne) {
		return err
	}
	kind := Classify(err)
	class := narrative.ClassTransport
	if kind == narrative.KindInvalidResponse {
		class = narrative.ClassMalformed
	}
	return narrative.NewError(class, kind, agentID, err)
}
