package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

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

func registerCustomValidations() {
	// Credit status validation
	validate.RegisterValidation("credit_status", func(fl validator.FieldLevel) bool {
		status := fl.Field().String()
		validStatuses := []string{"available", "reserved", "used", ""}
		for _, s := range validStatuses {
			if status == s {
				return true
			}
		}
		return false
	})

	// Source type validation
	validate.RegisterValidation("source_type", func(fl validator.FieldLevel) bool {
		source := fl.Field().String()
		validSources := []string{"refund", "cancellation", "goodwill", "promotion", "adjustment"}
		for _, s := range validSources {
			if source == s {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "uuid":
			errors[field] = "Invalid UUID format"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "len":
			errors[field] = "Value must be exactly " + err.Param() + " characters"
		case "credit_status":
			errors[field] = "Invalid status. Must be: available, reserved, or used"
		case "source_type":
			errors[field] = "Invalid source type. Must be: refund, cancellation, goodwill, promotion, or adjustment"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
