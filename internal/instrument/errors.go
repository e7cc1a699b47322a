package instrument

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrClosed          = errors.New("instrument: connection closed")
	ErrTimeout         = errors.New("instrument: read timeout")
	ErrNotConfigured   = errors.New("instrument: session not configured")
	ErrStopped         = errors.New("instrument: session stopped")
	ErrResponseTooLong = errors.New("instrument: response exceeds limit")
	ErrDesync          = errors.New("instrument: reply stream out of step")
)

// ConnectKind classifies why a connection attempt failed.
type ConnectKind int

const (
	KindOther ConnectKind = iota
	KindRefused
	KindUnreachable
)

func (k ConnectKind) String() string {
	switch k {
	case KindRefused:
		return "connection refused"
	case KindUnreachable:
		return "no route to host"
	default:
		return "socket error"
	}
}

// ConnectError is returned by Dial. It is always fatal for the session.
type ConnectError struct {
	Address string
	Kind    ConnectKind
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Address, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Hint is the operator facing diagnosis for the failure.
func (e *ConnectError) Hint() string {
	switch e.Kind {
	case KindRefused:
		return fmt.Sprintf("wrong port? (the counter listens for SCPI on %d)", DefaultPort)
	case KindUnreachable:
		return "wrong address? (check the counter's LAN settings)"
	default:
		return "unable to reach the counter"
	}
}

func classifyDialError(err error) ConnectKind {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindUnreachable
	default:
		return KindOther
	}
}
