package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/repurpose/internal/domain"
)

// MaxBodyBytes bounds request bodies. Pasted text sources are the largest
// payloads the API accepts.
const MaxBodyBytes = 1 << 20

// Global validator instance for reuse. Field errors are reported by their
// JSON name.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// DecodeJSON decodes the request body into v. Malformed bodies and trailing
// data are reported as *domain.ValidationError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.NewValidationError("", fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return domain.NewValidationError("", "request body is empty")
		default:
			return domain.NewValidationError("", "request body is not valid JSON")
		}
	}
	if dec.More() {
		return domain.NewValidationError("", "request body has trailing data")
	}
	return nil
}

// ValidateRequest validates v with its struct tags. The first failing field
// is reported as *domain.ValidationError.
func ValidateRequest(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("", "invalid request")
	}
	fe := fieldErrs[0]
	return domain.NewValidationError(fieldPath(fe), tagMessage(fe))
}

// fieldPath strips the struct name from the namespace
// ("CreateConversionRequest.topics[2]" -> "topics[2]").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
