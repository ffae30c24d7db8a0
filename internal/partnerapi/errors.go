package partnerapi

import "fmt"

// TransportError marks a network-level or server-side failure (connection
// errors, 5xx). Retryable at the orchestrator's discretion; the client
// itself never retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks a response the client cannot act on: a 4xx status or
// a body that does not decode. Not retryable; retrying the same request
// yields the same answer.
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Msg)
}
