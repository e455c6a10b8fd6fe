package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure of a send run.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBind
	KindBroadcastSetup
	KindSend
	KindReceive
	KindDecode
	KindNoPeerFound
	KindFileOpen
	KindConnect
	KindRead
	KindWrite
	KindCanceled
)

var (
	ErrNoPeerFound       = errors.New("no response received from loader")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrShortWrite        = errors.New("short write")
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindBind:           "bind",
	KindBroadcastSetup: "broadcast setup",
	KindSend:           "send",
	KindReceive:        "receive",
	KindDecode:         "decode",
	KindNoPeerFound:    "no peer found",
	KindFileOpen:       "file open",
	KindConnect:        "connect",
	KindRead:           "read",
	KindWrite:          "write",
	KindCanceled:       "canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Fatal reports whether the run aborted abnormally.
// NoPeerFound is the only expected failure.
func (k Kind) Fatal() bool {
	return k != KindNoPeerFound
}

// ExitCode maps a kind to the process exit status.
func (k Kind) ExitCode() int {
	switch k {
	case KindNoPeerFound:
		return 2
	case KindBind:
		return 10
	case KindBroadcastSetup:
		return 11
	case KindSend:
		return 12
	case KindReceive:
		return 13
	case KindDecode:
		return 14
	case KindFileOpen:
		return 20
	case KindConnect:
		return 21
	case KindRead:
		return 22
	case KindWrite:
		return 23
	case KindCanceled:
		return 130
	default:
		return 1
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind carried by err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, ErrNoPeerFound) {
		return KindNoPeerFound
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindUnknown
}
