package inbound

import "fmt"

// Kind classifies a recovered decode failure.
type Kind string

// Recovered failure kinds. Each one maps to a fixed default value.
const (
	KindAddress        Kind = "address"
	KindEnvelope       Kind = "envelope"
	KindCharsets       Kind = "charsets"
	KindAttachmentInfo Kind = "attachment-info"
)

// DecodeError describes a malformed field that was replaced by its default.
// It is recorded on the Message and never returned from Normalize.
type DecodeError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("failed to decode %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("failed to decode %s field %q: %v", e.Kind, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
