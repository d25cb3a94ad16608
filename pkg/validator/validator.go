package validator

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
)

var messages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email",
	"uuid":     "must be a valid uuid",
	"e164":     "must be an E.164 phone number",
	"oneof":    "must be one of: %s",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
}

// Register reports fields by their json name instead of the Go field name.
func Register(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Fields turns a binding error into a client facing field list. ok is false when
// err did not come from struct validation or JSON decoding.
func Fields(err error) ([]apperrors.FieldError, bool) {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		out := make([]apperrors.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, apperrors.FieldError{
				Field:   fe.Field(),
				Message: message(fe),
			})
		}
		return out, true
	}

	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return []apperrors.FieldError{{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("must be a %s", typeErr.Type.String()),
		}}, true
	}

	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return []apperrors.FieldError{{Field: "body", Message: "malformed JSON"}}, true
	}
	if stderrors.Is(err, io.EOF) {
		return []apperrors.FieldError{{Field: "body", Message: "is required"}}, true
	}

	return nil, false
}

// Bind converts a gin binding error into a validation AppError.
func Bind(err error) *apperrors.AppError {
	if fields, ok := Fields(err); ok {
		return apperrors.NewValidation(fields)
	}
	return apperrors.NewBadRequest("invalid request body", err)
}

func message(fe validator.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
