package domain

import "errors"

// ErrorKind labels a failure in results, logs and API error bodies.
type ErrorKind string

const (
	KindInvalidAddress      ErrorKind = "InvalidAddress"
	KindDisposableAddress   ErrorKind = "DisposableAddress"
	KindTemplateNotFound    ErrorKind = "TemplateNotFound"
	KindHourlyLimitExceeded ErrorKind = "HourlyLimitExceeded"
	KindDailyLimitExceeded  ErrorKind = "DailyLimitExceeded"
	KindTransportFailure    ErrorKind = "TransportFailure"
	KindValidationFailure   ErrorKind = "ValidationFailure"
	KindCanceled            ErrorKind = "Canceled"
	KindNotFound            ErrorKind = "NotFound"
)

func (k ErrorKind) String() string { return string(k) }

var (
	ErrValidation          = errors.New("validation failure")
	ErrInvalidAddress      = errors.New("invalid email address")
	ErrDisposableAddress   = errors.New("disposable email address")
	ErrTemplateNotFound    = errors.New("template not found")
	ErrHourlyLimitExceeded = errors.New("hourly send limit exceeded")
	ErrDailyLimitExceeded  = errors.New("daily send limit exceeded")
	ErrTransportFailure    = errors.New("transport failure")
	ErrCanceled            = errors.New("dispatch canceled")
	ErrNotFound            = errors.New("not found")
)

// KindOf maps an error chain to its kind. Unknown errors are transport failures
// since every other kind originates from a sentinel above.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidationFailure
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrDisposableAddress):
		return KindDisposableAddress
	case errors.Is(err, ErrTemplateNotFound):
		return KindTemplateNotFound
	case errors.Is(err, ErrHourlyLimitExceeded):
		return KindHourlyLimitExceeded
	case errors.Is(err, ErrDailyLimitExceeded):
		return KindDailyLimitExceeded
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindTransportFailure
	}
}
