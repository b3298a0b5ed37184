package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode JSON-decodes r's body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// Validate runs struct tag validation over dst.
func Validate(dst any) error {
	if err := validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// DecodeAndValidate decodes r's body into dst and validates it, returning
// false after writing a 400 response on a decode failure or a 422 response
// on a validation failure.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := Decode(r, dst); err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	if err := Validate(dst); err != nil {
		RespondValidationError(w, dst, err)
		return false
	}
	return true
}

// RespondValidationError writes a 422 response describing every failed
// validation rule as a field -> message map.
func RespondValidationError(w http.ResponseWriter, dst any, err error) {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		RespondError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	fields := make(map[string]string, len(verrs))
	t := reflect.TypeOf(dst)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for _, fe := range verrs {
		name := jsonFieldName(t, fe.StructField())
		fields[name] = fieldErrorMessage(fe)
	}

	Respond(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  "validation_failed",
		"fields": fields,
	})
}

func jsonFieldName(t reflect.Type, structField string) string {
	f, ok := t.FieldByName(structField)
	if !ok {
		return toSnakeCase(structField)
	}
	tag := f.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || name == "-" {
		return toSnakeCase(structField)
	}
	return name
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
