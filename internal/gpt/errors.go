package gpt

import "fmt"

// UpstreamError is a failure to reach the model service or an error
// response from it. The conversation did not advance.
type UpstreamError struct {
	Err       error
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model service: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ProtocolError is a model reply that could not be turned into a valid
// TurnResult. TurnID is the identity the service assigned to that reply,
// which stays usable for threading.
type ProtocolError struct {
	TurnID string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected model response (turn %s): %v", e.TurnID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
