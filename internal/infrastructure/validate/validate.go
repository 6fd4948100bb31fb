// Package validate holds small composable string validators used by the
// domain constructors and the inbound frame decoders.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validator checks one string value.
type Validator func(value string) error

// FieldError names the field a validator rejected.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Field labels the first failing validator's error with the field name. An
// error that already names a field is returned unchanged.
func Field(name string, validators ...Validator) Validator {
	return func(value string) error {
		for _, v := range validators {
			err := v(value)
			if err == nil {
				continue
			}
			var fe *FieldError
			if errors.As(err, &fe) {
				return err
			}
			return &FieldError{Field: name, Err: err}
		}
		return nil
	}
}

// Required rejects blank values.
func Required() Validator {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("this field is required")
		}
		return nil
	}
}

// MaxLength counts characters, not bytes.
func MaxLength(max int) Validator {
	return func(v string) error {
		if utf8.RuneCountInString(v) > max {
			return fmt.Errorf("must be no more than %d characters", max)
		}
		return nil
	}
}

// UUID accepts the canonical 36 character form only, so ids are always safe
// to use as a single routing key segment.
func UUID() Validator {
	return func(v string) error {
		if len(v) != 36 {
			return fmt.Errorf("must be a valid UUID")
		}
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("must be a valid UUID")
		}
		return nil
	}
}

// Each applies v to every element and reports the first failing index.
func Each(values []string, v Validator) error {
	for i, value := range values {
		if err := v(value); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}
