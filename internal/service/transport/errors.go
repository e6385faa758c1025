package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed remote call.
type Kind int

const (
	// KindUnexpected covers non-2xx statuses outside 4xx/5xx and 2xx bodies
	// that could not be decoded.
	KindUnexpected Kind = iota
	// KindNetworkUnreachable means no response was received.
	KindNetworkUnreachable
	// KindClientRequest is a 4xx response.
	KindClientRequest
	// KindServerProcessing is a 5xx response.
	KindServerProcessing
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network-unreachable"
	case KindClientRequest:
		return "client-error"
	case KindServerProcessing:
		return "server-error"
	default:
		return "unexpected"
	}
}

// TransportError reports a failed call to the assistant service.
type TransportError struct {
	Op     string
	Kind   Kind
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindForStatus maps a non-2xx HTTP status onto a Kind.
func KindForStatus(status int) Kind {
	switch {
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return KindClientRequest
	case status >= http.StatusInternalServerError && status < 600:
		return KindServerProcessing
	default:
		return KindUnexpected
	}
}

// KindOf extracts the Kind from err, or KindUnexpected when err is not a
// TransportError.
func KindOf(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnexpected
}
