package signature

import (
	"errors"
	"fmt"
)

var (
	// ErrSignature is the base error for malformed or unsupported stored signatures.
	ErrSignature = errors.New("invalid signature")
	// ErrMissingSignature is returned by required lookups that find nothing.
	ErrMissingSignature = errors.New("missing signature")
)

// SignatureError describes a signature that could not be loaded.
type SignatureError struct {
	Msg string
}

func (e *SignatureError) Error() string {
	return e.Msg
}

// Is reports whether target is ErrSignature.
func (e *SignatureError) Is(target error) bool {
	return target == ErrSignature
}

func signatureErrorf(format string, args ...any) error {
	return &SignatureError{Msg: fmt.Sprintf(format, args...)}
}

// MissingSignatureError is returned when a required app, model or field
// signature lookup fails.
type MissingSignatureError struct {
	Kind string
	Name string
}

func (e *MissingSignatureError) Error() string {
	return fmt.Sprintf("the %s signature for %q could not be found", e.Kind, e.Name)
}

// Is reports whether target is ErrMissingSignature.
func (e *MissingSignatureError) Is(target error) bool {
	return target == ErrMissingSignature
}
