package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying on a later cycle: network
	// errors, timeouts, rate limiting, server errors and open circuit breakers.
	ErrTransient = errors.New("transient fetch error")
	// ErrDataShape marks responses that could not be interpreted.
	ErrDataShape = errors.New("unexpected response shape")

	ErrUnknownExchange = errors.New("unknown exchange")

	errEmptyBook = errors.New("empty order book")
)

// FetchError describes a failed call to an exchange API.
type FetchError struct {
	Exchange  string
	Op        string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "data shape"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Exchange, e.Op, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient
	case ErrDataShape:
		return !e.Transient
	}
	return false
}

func transientErr(exchange, op string, err error) error {
	return &FetchError{Exchange: exchange, Op: op, Transient: true, Err: err}
}

func shapeErr(exchange, op string, err error) error {
	return &FetchError{Exchange: exchange, Op: op, Err: err}
}
