package domain

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"example.com/backstage/services/shortage/internal/models"
)

// ErrValidation wraps every command validation failure
var ErrValidation = errors.New("validation failed")

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// ValidateStruct validates a command using its validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}
	return nil
}

// IsInvalid reports whether err is a rejection of the request itself rather than an
// infrastructure failure
func IsInvalid(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrUnknownStatus,
		ErrSameStatus,
		ErrNoTransition,
		ErrUnmappedReason,
		ErrMissingPartName,
		models.ErrInvalidPatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
