package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-trustgate/internal/domain"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON key so messages match the request body.
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return val
}

// Struct validates s by its validate tags. Failures wrap domain.ErrBadRequest
// and read like "email is required; code is required".
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, message(fe))
	}
	return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), domain.ErrBadRequest)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	default:
		return fe.Field() + " is invalid"
	}
}

// Message strips the wrapped sentinel so the text can be sent to clients.
func Message(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+domain.ErrBadRequest.Error())
}
