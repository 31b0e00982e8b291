package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidInput is the root of every validation failure. Inputs that
	// fail validation are rejected before any computation starts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClockSkew is reported when asOf is earlier than a stored LastProcessed.
	ErrClockSkew = errors.New("clock skew: asOf precedes last processed occurrence")

	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrInvalidInput)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", ErrInvalidInput)
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the struct tag checks and folds the result into a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, toSnake(fe.Field()))
		if fe.Param() != "" {
			reasons = append(reasons, fe.Tag()+"="+fe.Param())
		} else {
			reasons = append(reasons, fe.Tag())
		}
	}
	return &ValidationError{
		Field:  strings.Join(fields, ","),
		Reason: "failed " + strings.Join(reasons, ","),
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
