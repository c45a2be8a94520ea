package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("someone@example.com"))
	assert.False(t, ValidateEmail("someone@example"))
	assert.False(t, ValidateEmail("some one@example.com"))
	assert.False(t, ValidateEmail("a@"))
}

func TestValidatePassword(t *testing.T) {
	ok, errs := ValidatePassword("12345")
	assert.False(t, ok)
	assert.Equal(t, []string{"Password must be at least 6 characters long"}, errs)

	ok, errs = ValidatePassword("123456")
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestFormatValidationErrors(t *testing.T) {
	type payload struct {
		Email  string `validate:"required,email"`
		Format string `validate:"oneof=auto png"`
	}

	err := NewValidator().ValidateStruct(payload{Format: "gif"})
	got := FormatValidationErrors(err)

	assert.Equal(t, "Email is required", got["email"])
	assert.Equal(t, "Format must be one of: auto png", got["format"])
	assert.Empty(t, FormatValidationErrors(nil))
}
