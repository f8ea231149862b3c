// Package bridgeerr holds the error taxonomy shared by every bridge component.
// Each error carries a machine-readable reason that callers can match on and
// that is surfaced to operators unmodified.
package bridgeerr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindConfiguration Kind = iota + 1
	KindAuthorization
	KindProtocolViolation
	KindSequenceBreak
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindSequenceBreak:
		return "SequenceBreak"
	default:
		return "UnknownError"
	}
}

const (
	ReasonUnauthorized             = "Unauthorized"
	ReasonProxyCallReverted        = "ProxyCallReverted"
	ReasonBaseTokenImmutable       = "BaseTokenImmutable"
	ReasonBaseTokenMismatch        = "BaseTokenMismatch"
	ReasonDirectDepositDisallowed  = "DirectDepositDisallowed"
	ReasonWrongMessageLength       = "WrongMessageLength"
	ReasonUnknownSelector          = "UnknownSelector"
	ReasonInvalidProof             = "InvalidProof"
	ReasonAlreadyFinalized         = "AlreadyFinalized"
	ReasonChainNotRegistered       = "ChainNotRegistered"
	ReasonInsufficientBalance      = "InsufficientBalance"
	ReasonInsufficientChainBalance = "InsufficientChainBalance"
	ReasonZeroAmount               = "ZeroAmount"
	ReasonAmountOverflow           = "AmountOverflow"
	ReasonMissingSalt              = "MissingSalt"
	ReasonSaltReuse                = "SaltReuse"
	ReasonCodeMismatch             = "CodeMismatch"
	ReasonUnknownContract          = "UnknownContract"
	ReasonZeroAddress              = "ZeroAddress"
	ReasonSequenceInProgress       = "SequenceInProgress"
	ReasonSequenceBreak            = "SequenceBreak"
	ReasonResumeMismatch           = "ResumeMismatch"
)

// Sentinels for errors.Is. Matching compares kind and reason only, so an
// error built with New(...) and extra detail still matches its sentinel.
var (
	ErrUnauthorized             = &Error{Kind: KindAuthorization, Reason: ReasonUnauthorized}
	ErrProxyCallReverted        = &Error{Kind: KindProtocolViolation, Reason: ReasonProxyCallReverted}
	ErrBaseTokenImmutable       = &Error{Kind: KindProtocolViolation, Reason: ReasonBaseTokenImmutable}
	ErrBaseTokenMismatch        = &Error{Kind: KindProtocolViolation, Reason: ReasonBaseTokenMismatch}
	ErrDirectDepositDisallowed  = &Error{Kind: KindProtocolViolation, Reason: ReasonDirectDepositDisallowed}
	ErrWrongMessageLength       = &Error{Kind: KindProtocolViolation, Reason: ReasonWrongMessageLength}
	ErrUnknownSelector          = &Error{Kind: KindProtocolViolation, Reason: ReasonUnknownSelector}
	ErrInvalidProof             = &Error{Kind: KindProtocolViolation, Reason: ReasonInvalidProof}
	ErrAlreadyFinalized         = &Error{Kind: KindProtocolViolation, Reason: ReasonAlreadyFinalized}
	ErrChainNotRegistered       = &Error{Kind: KindProtocolViolation, Reason: ReasonChainNotRegistered}
	ErrInsufficientBalance      = &Error{Kind: KindProtocolViolation, Reason: ReasonInsufficientBalance}
	ErrInsufficientChainBalance = &Error{Kind: KindProtocolViolation, Reason: ReasonInsufficientChainBalance}
	ErrZeroAmount               = &Error{Kind: KindProtocolViolation, Reason: ReasonZeroAmount}
	ErrAmountOverflow           = &Error{Kind: KindProtocolViolation, Reason: ReasonAmountOverflow}
	ErrMissingSalt              = &Error{Kind: KindConfiguration, Reason: ReasonMissingSalt}
	ErrSaltReuse                = &Error{Kind: KindConfiguration, Reason: ReasonSaltReuse}
	ErrCodeMismatch             = &Error{Kind: KindConfiguration, Reason: ReasonCodeMismatch}
	ErrUnknownContract          = &Error{Kind: KindConfiguration, Reason: ReasonUnknownContract}
	ErrZeroAddress              = &Error{Kind: KindConfiguration, Reason: ReasonZeroAddress}
	ErrSequenceInProgress       = &Error{Kind: KindConfiguration, Reason: ReasonSequenceInProgress}
	ErrResumeMismatch           = &Error{Kind: KindConfiguration, Reason: ReasonResumeMismatch}
	ErrSequenceBreak            = &Error{Kind: KindSequenceBreak, Reason: ReasonSequenceBreak}
)

// Error is a classified bridge failure.
type Error struct {
	Kind   Kind
	Reason string
	Detail string
	Err    error
}

// New returns a copy of the sentinel with a formatted detail message attached.
func New(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:   sentinel.Kind,
		Reason: sentinel.Reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Wrap returns a copy of the sentinel carrying cause as the underlying error.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{
		Kind:   sentinel.Kind,
		Reason: sentinel.Reason,
		Err:    cause,
	}
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// ReasonOf returns the reason of the outermost classified error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// RevertError is a revert raised by a downstream contract. Reason is the
// decoded Error(string) payload, or empty when the revert carried none.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// RevertReason extracts the downstream revert reason from err, if any.
func RevertReason(err error) (string, bool) {
	var r *RevertError
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}
