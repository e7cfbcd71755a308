package arbiter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
)

// Field limits for a claimant.
const (
	MaxNameLen  = 100
	MaxEmailLen = 254
	MaxPhoneLen = 40
	MaxNotesLen = 1000
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateClaimant checks the required fields after trimming. Notes are optional.
func ValidateClaimant(c model.Claimant) []FieldError {
	var errs []FieldError

	required := func(field, value string, max int) string {
		v := strings.TrimSpace(value)
		if v == "" {
			errs = append(errs, FieldError{field, "required"})
		} else if utf8.RuneCountInString(v) > max {
			errs = append(errs, FieldError{field, fmt.Sprintf("max length %d", max)})
		}
		return v
	}

	required("firstName", c.FirstName, MaxNameLen)
	required("lastName", c.LastName, MaxNameLen)
	if email := required("email", c.Email, MaxEmailLen); email != "" && !isValidEmail(email) {
		errs = append(errs, FieldError{"email", "must be a valid email address"})
	}
	required("phone", c.Phone, MaxPhoneLen)

	if utf8.RuneCountInString(strings.TrimSpace(c.Notes)) > MaxNotesLen {
		errs = append(errs, FieldError{"notes", fmt.Sprintf("max length %d", MaxNotesLen)})
	}
	return errs
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
