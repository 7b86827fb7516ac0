package apperror

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindTransfer      Kind = "transfer"
	KindRemoteService Kind = "remote_service"
	KindCleanup       Kind = "cleanup"
	KindConfig        Kind = "config"
)

// Sentinels for errors.Is checks against an *Error of the same kind.
var (
	ErrAuth          = stderrors.New("authentication failed")
	ErrTransfer      = stderrors.New("object transfer failed")
	ErrRemoteService = stderrors.New("remote service error")
	ErrCleanup       = stderrors.New("cleanup failed")
	ErrConfig        = stderrors.New("invalid configuration")
)

var sentinels = map[Kind]error{
	KindAuth:          ErrAuth,
	KindTransfer:      ErrTransfer,
	KindRemoteService: ErrRemoteService,
	KindCleanup:       ErrCleanup,
	KindConfig:        ErrConfig,
}

type Error struct {
	Kind   Kind
	Op     string
	Key    string // object-store key, transfer and cleanup only
	Status int    // HTTP status, remote service only
	Body   string // response body, remote service only
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, sentinels[e.Kind])
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Kind == KindRemoteService && e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: withStack(err)}
}

func Transfer(op, key string, err error) *Error {
	return &Error{Kind: KindTransfer, Op: op, Key: key, Err: withStack(err)}
}

func RemoteService(op string, status int, body string) *Error {
	return &Error{Kind: KindRemoteService, Op: op, Status: status, Body: body}
}

// RemoteTransport is a remote service failure where no response was received.
func RemoteTransport(op string, err error) *Error {
	return &Error{Kind: KindRemoteService, Op: op, Err: withStack(err)}
}

func Cleanup(key string, err error) *Error {
	return &Error{Kind: KindCleanup, Op: "delete", Key: key, Err: withStack(err)}
}

func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: withStack(err)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func withStack(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}
