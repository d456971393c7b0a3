package transport

import "fmt"

// Kind classifies a transport failure. Classification happens once, in the
// channel that observed the failure; everything downstream branches on data.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindConnection  Kind = "connection"
	KindServer      Kind = "server" // 5xx-equivalent
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindDisabled    Kind = "disabled" // primary channel administratively disabled
	KindUnreachable Kind = "unreachable"
	KindUnsupported Kind = "unsupported" // operation the channel cannot serve
)

// Error is the typed transport error. Retryable is decided at classification
// time and never re-derived downstream.
type Error struct {
	Kind      Kind
	Channel   string
	Operation string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Channel, e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Channel, e.Operation, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a typed error with retryability derived from the kind.
func newError(kind Kind, channel, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		Channel:   channel,
		Operation: op,
		Retryable: kind == KindTimeout || kind == KindConnection || kind == KindServer,
		Err:       err,
	}
}

// fallbackEligible reports whether a read that failed with this kind may be
// served by the command channel instead.
func fallbackEligible(kind Kind) bool {
	switch kind {
	case KindTimeout, KindServer, KindDisabled:
		return true
	}
	return false
}
