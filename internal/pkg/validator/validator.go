package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func oneOf(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

func registerCustomValidations() {
	validate.RegisterValidation("submission_type", oneOf("lead", "note", "comment"))
	validate.RegisterValidation("decision", oneOf("approve", "reject"))
	validate.RegisterValidation("tx_status", oneOf("pending", "paid", ""))
	validate.RegisterValidation("content_hash", func(fl validator.FieldLevel) bool {
		return sha256Hex.MatchString(fl.Field().String())
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := strings.TrimPrefix(err.Namespace(), rootName(err))
		if field == "" {
			field = err.Field()
		}
		switch err.Tag() {
		case "required", "required_if":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt", "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "url":
			errors[field] = "Invalid URL format"
		case "uuid":
			errors[field] = "Invalid id"
		case "submission_type":
			errors[field] = "Invalid submission type. Must be: lead, note, or comment"
		case "decision":
			errors[field] = "Invalid decision. Must be: approve or reject"
		case "tx_status":
			errors[field] = "Invalid status. Must be: pending or paid"
		case "content_hash":
			errors[field] = "Invalid content hash"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// rootName returns the "Struct." prefix of a namespace so nested fields keep their path.
func rootName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i+1]
	}
	return ""
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
