package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUsernameLength bounds usernames accepted at login
const MaxUsernameLength = 64

// ValidateStruct validates a struct based on validate tags.
// Supported rules: required, min=N, max=N (string length in runes) and
// oneof=a b c.
func ValidateStruct(s interface{}) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return errors.New("not a struct")
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		tag := field.Tag.Get("validate")

		if tag == "" {
			continue
		}

		name := field.Name
		if jsonName, _, _ := strings.Cut(field.Tag.Get("json"), ","); jsonName != "" && jsonName != "-" {
			name = jsonName
		}

		for _, rule := range strings.Split(tag, ",") {
			if err := validateField(name, value, rule); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateField validates a single field based on a rule
func validateField(fieldName string, value reflect.Value, rule string) error {
	if rule == "required" {
		if isZero(value) {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}

	key, arg, _ := strings.Cut(rule, "=")
	if value.Kind() != reflect.String {
		return nil
	}
	s := value.String()

	switch key {
	case "min", "max":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid rule %q on %s", rule, fieldName)
		}
		length := utf8.RuneCountInString(s)
		if key == "min" && length < n {
			return fmt.Errorf("%s must be at least %d characters", fieldName, n)
		}
		if key == "max" && length > n {
			return fmt.Errorf("%s must be at most %d characters", fieldName, n)
		}
	case "oneof":
		if s == "" {
			return nil
		}
		for _, allowed := range strings.Fields(arg) {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("%s must be one of: %s", fieldName, strings.Join(strings.Fields(arg), ", "))
	}
	return nil
}

// isZero checks if a value is zero/empty
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return strings.TrimSpace(v.String()) == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// ValidateUsername checks a username is printable and of sane length
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return fmt.Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	for _, r := range username {
		if !unicode.IsPrint(r) {
			return errors.New("username contains invalid characters")
		}
	}
	return nil
}

// SanitizeString removes null bytes and surrounding whitespace
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	return s
}
