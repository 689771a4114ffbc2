package llmclient

import "fmt"

// StatusError is a provider failure normalised to an HTTP status and an
// optional provider error code.
type StatusError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s API error: %d (%s) - %s", e.Provider, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, msg)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus exposes the status code to the failure classifier.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ErrorCode exposes the provider code to the failure classifier.
func (e *StatusError) ErrorCode() string { return e.Code }

// ErrEmptyResponse is returned when a provider answers without text.
type ErrEmptyResponse struct {
	Provider string
}

func (e *ErrEmptyResponse) Error() string {
	return fmt.Sprintf("no text content in %s response", e.Provider)
}
