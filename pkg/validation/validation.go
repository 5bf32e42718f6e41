package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// AllowedExtensions lists the spreadsheet extensions accepted for upload, in
// the order they are reported to callers.
var AllowedExtensions = []string{".xlsx", ".xls", ".xlsm"}

var (
	v    *validator.Validate
	once sync.Once
)

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		// Custom: filename must carry a supported spreadsheet extension
		_ = v.RegisterValidation("excel_ext", func(fl validator.FieldLevel) bool {
			return IsAllowedExtension(Extension(fl.Field().String()))
		})
		// Custom: LLM driver name
		_ = v.RegisterValidation("llm_driver", func(fl validator.FieldLevel) bool {
			switch strings.TrimSpace(fl.Field().String()) {
			case "langchain", "openai-sdk":
				return true
			}
			return false
		})
	})
	return v
}

// Extension returns the lowercased extension of name, including the dot.
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
}

// IsAllowedExtension reports whether ext is one of AllowedExtensions.
func IsAllowedExtension(ext string) bool {
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// ValidateStruct validates a struct and returns a user-friendly error string.
// Returns empty string when valid.
func ValidateStruct(s any) string {
	if err := Validator().Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				return fmt.Sprintf("%s is required", field)
			case "excel_ext":
				return fmt.Sprintf("%s must be a spreadsheet (%s)", field, strings.Join(AllowedExtensions, ", "))
			case "llm_driver":
				return fmt.Sprintf("%s must be one of: langchain, openai-sdk", field)
			case "url", "http_url":
				return fmt.Sprintf("%s must be a valid URL", field)
			case "min", "max", "gte", "lte":
				return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
			}
			return fmt.Sprintf("invalid %s", field)
		}
		return "invalid inputs"
	}
	return ""
}

// ValidateVar checks a single value against a tag and returns the same style
// of message as ValidateStruct, using name as the field label.
func ValidateVar(name string, value any, tag string) string {
	if err := Validator().Var(value, tag); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			switch ve[0].Tag() {
			case "required":
				return fmt.Sprintf("%s is required", name)
			case "excel_ext":
				return fmt.Sprintf("%s must be a spreadsheet (%s)", name, strings.Join(AllowedExtensions, ", "))
			}
		}
		return fmt.Sprintf("invalid %s", name)
	}
	return ""
}
