package types

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by transport operations issued before Connect
// or after Disconnect.
var ErrNotConnected = errors.New("transport is not connected")

// Transport operations.
const (
	OpConnect   = "connect"
	OpSubscribe = "subscribe"
	OpPublish   = "publish"
)

// TransportError is a connect, subscribe or publish failure. It is surfaced to
// the direct caller and never retried by the core.
type TransportError struct {
	Op    string
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("mqtt %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqtt %s on %s failed: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError marks an inbound payload that could not be turned into a Reading.
type ParseError struct {
	Topic string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed payload on %s: %v", e.Topic, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SinkError is a persistence sink failure.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ObserverError is a registered callback that failed or panicked.
type ObserverError struct {
	Topic string
	Index int
	Err   error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %d on %s: %v", e.Index, e.Topic, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }
