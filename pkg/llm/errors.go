package llm

import (
	"encoding/json"
	"fmt"
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// ParseAPIError builds an APIError from an OpenAI-style error body
// ({"error":{"message":..,"type":..,"code":..}}), keeping the raw body as
// the message when it is not in that shape.
func ParseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body)}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
		if env.Error.Code != nil {
			apiErr.Code = fmt.Sprint(env.Error.Code)
		}
	}
	return apiErr
}
