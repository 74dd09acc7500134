package position

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})

	return validate
}

// Validate checks the envelope invariants: non-empty vehicle id, a position inside
// WGS84 bounds and a timestamp. Failures are returned as *ValidationError.
func Validate(envelope Envelope) error {
	if envelope.Position == nil {
		return &ValidationError{Field: "position", Reason: "is required", Err: ErrNoPosition}
	}

	if err := getValidator().Struct(envelope); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			fieldError := fieldErrors[0]

			return &ValidationError{
				Field:  fieldError.Field(),
				Reason: reasonForTag(fieldError.Tag()),
				Err:    err,
			}
		}

		return &ValidationError{Field: "envelope", Reason: err.Error(), Err: err}
	}

	if envelope.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}

	return nil
}

func reasonForTag(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	default:
		return "failed " + tag
	}
}
