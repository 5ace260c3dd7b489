package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by DecodeError through errors.Is.
var (
	// ErrMalformed is returned when a frame fails length or structural checks.
	ErrMalformed = errors.New("codec: malformed frame")

	// ErrUnrecognized is returned when a frame is well formed but belongs to
	// an unknown device family, version or service.
	ErrUnrecognized = errors.New("codec: unrecognized frame")

	// ErrChecksumMismatch is returned when a frame's checksum does not match
	// its contents.
	ErrChecksumMismatch = errors.New("codec: checksum mismatch")

	// ErrUnknownCodec is returned by New for an unsupported codec name.
	ErrUnknownCodec = errors.New("codec: unknown codec")
)

// ErrorKind classifies a decode failure.
type ErrorKind int

// Decode failure classes.
const (
	KindNone ErrorKind = iota
	KindMalformed
	KindUnrecognized
	KindChecksumMismatch
)

// String returns the metric-friendly name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformed:
		return "malformed"
	case KindUnrecognized:
		return "unrecognized"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DecodeError describes why a frame was rejected.
type DecodeError struct {
	// Codec is the name of the codec that rejected the frame.
	Codec string

	// Kind is the failure class.
	Kind ErrorKind

	// Reason is a short human-readable explanation.
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Codec, e.Kind, e.Reason)
}

// Unwrap returns the sentinel error for the failure class.
func (e *DecodeError) Unwrap() error {
	switch e.Kind {
	case KindMalformed:
		return ErrMalformed
	case KindUnrecognized:
		return ErrUnrecognized
	case KindChecksumMismatch:
		return ErrChecksumMismatch
	default:
		return nil
	}
}

// KindOf returns the failure class of err, KindNone for a nil error and
// KindMalformed for errors that did not come from a codec.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindMalformed
}

func malformed(codec, format string, args ...any) error {
	return &DecodeError{Codec: codec, Kind: KindMalformed, Reason: fmt.Sprintf(format, args...)}
}

func unrecognized(codec, format string, args ...any) error {
	return &DecodeError{Codec: codec, Kind: KindUnrecognized, Reason: fmt.Sprintf(format, args...)}
}

func checksumMismatch(codec string, got, want uint16) error {
	return &DecodeError{
		Codec:  codec,
		Kind:   KindChecksumMismatch,
		Reason: fmt.Sprintf("got 0x%04X, want 0x%04X", got, want),
	}
}
