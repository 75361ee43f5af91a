// Package form binds posted HTML forms onto tagged structs and validates them.
//
// Field names come from the `form` tag. A `message` tag overrides the generated
// message for every rule failing on that field.
package form

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Errors maps a form field name to the message shown under it.
type Errors map[string]string

func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

func (e Errors) Get(field string) string {
	return e[field]
}

type FieldError struct {
	Field   string
	Rule    string
	Param   string
	Message string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	return v
}

func fieldName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("form"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

// Decode copies the posted string values onto the `form` tagged fields of out.
// out must be a pointer to a struct whose tagged fields have a string kind.
func Decode(r *http.Request, out any) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}

	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a pointer to a struct, got %T", out)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag := sf.Tag.Get("form")
		if tag == "" || tag == "-" {
			continue
		}
		fv := rv.Field(i)
		if fv.Kind() != reflect.String || !fv.CanSet() {
			return fmt.Errorf("form field %s must be a settable string", sf.Name)
		}
		fv.SetString(r.PostForm.Get(tag))
	}
	return nil
}

// Validate runs the validate tags of v. It returns nil when v is valid.
func Validate(v any) Errors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return Errors{"_": err.Error()}
	}

	rootType := reflect.TypeOf(v)
	for rootType.Kind() == reflect.Pointer {
		rootType = rootType.Elem()
	}

	out := make(Errors, len(validationErrors))
	for _, fe := range validationErrors {
		if out.Has(fe.Field()) {
			continue
		}
		out[fe.Field()] = messageFor(rootType, fe)
	}
	return out
}

// Details lists the failures of v with their rule and parameter.
func Details(v any) []FieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(validate.Struct(v), &validationErrors) {
		return nil
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Param:   fe.Param(),
			Message: validationMessage(fe.Tag(), fe.Param()),
		})
	}
	return fields
}

func messageFor(rootType reflect.Type, fe validator.FieldError) string {
	if rootType.Kind() == reflect.Struct {
		if sf, ok := rootType.FieldByName(fe.StructField()); ok {
			if msg := sf.Tag.Get("message"); msg != "" {
				return msg
			}
		}
	}
	return validationMessage(fe.Tag(), fe.Param())
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + param + " characters"
	case "max":
		return "must be at most " + param + " characters"
	case "len":
		return "must be exactly " + param + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}
