package parse

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a telegram could not be fully decoded.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTooShort
	KindBadMagic
	KindUnsupportedCommand
	KindTruncatedModule
	KindTruncatedMeasurement
	KindInconsistentLayout
)

var kindNames = [...]string{
	KindNone:                 "none",
	KindTooShort:             "too_short",
	KindBadMagic:             "bad_magic",
	KindUnsupportedCommand:   "unsupported_command",
	KindTruncatedModule:      "truncated_module",
	KindTruncatedMeasurement: "truncated_measurement",
	KindInconsistentLayout:   "inconsistent_layout",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// FailureKinds lists every kind a decode can fail with, in declaration order.
func FailureKinds() []ErrorKind {
	return []ErrorKind{
		KindTooShort,
		KindBadMagic,
		KindUnsupportedCommand,
		KindTruncatedModule,
		KindTruncatedMeasurement,
		KindInconsistentLayout,
	}
}

// Sentinel errors for errors.Is matching against a *DecodeError.
var (
	ErrTooShort             = errors.New("telegram shorter than frame header")
	ErrBadMagic             = errors.New("bad start-of-frame marker")
	ErrUnsupportedCommand   = errors.New("unsupported command id")
	ErrTruncatedModule      = errors.New("module metadata truncated")
	ErrTruncatedMeasurement = errors.New("measurement data truncated")
	ErrInconsistentLayout   = errors.New("inconsistent module layout")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTooShort:
		return ErrTooShort
	case KindBadMagic:
		return ErrBadMagic
	case KindUnsupportedCommand:
		return ErrUnsupportedCommand
	case KindTruncatedModule:
		return ErrTruncatedModule
	case KindTruncatedMeasurement:
		return ErrTruncatedMeasurement
	case KindInconsistentLayout:
		return ErrInconsistentLayout
	}
	return nil
}

// DecodeError reports a decoding failure with its position in the telegram.
// Module is -1 for header failures.
type DecodeError struct {
	Kind   ErrorKind
	Module int
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	where := "header"
	if e.Module >= 0 {
		where = fmt.Sprintf("module %d", e.Module)
	}
	msg := fmt.Sprintf("compact: %v in %s at offset %d", e.Kind.sentinel(), where, e.Offset)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the sentinel for e.Kind.
func (e *DecodeError) Unwrap() error { return e.Kind.sentinel() }

// KindOf returns the ErrorKind carried by err, or KindNone.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindNone
}

func newError(kind ErrorKind, offset int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Module: -1, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// inModule rebases a module-relative error onto the telegram.
func inModule(err error, index, base int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		de.Module = index
		de.Offset += base
	}
	return err
}
