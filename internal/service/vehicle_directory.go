package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
)

// VehicleDirectory validates license plates before they enter the core.
// Implementations backed by a vehicle registry may also check existence.
type VehicleDirectory interface {
	// ValidatePlate returns the normalized plate or an InvalidFormat /
	// NotFound error.
	ValidatePlate(ctx context.Context, plate string) (string, error)
}

// Old (ABC123) and Mercosur (AB123CD) plate formats.
var platePattern = regexp.MustCompile(`^([A-Z]{3}[0-9]{3}|[A-Z]{2}[0-9]{3}[A-Z]{2})$`)

// Validate is the shared validator instance with the domain tags registered:
// "plate" for license plates and "sticker_number" for normalized numbers.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("plate", func(fl validator.FieldLevel) bool {
		return platePattern.MatchString(NormalizePlate(fl.Field().String()))
	})
	_ = v.RegisterValidation("sticker_number", func(fl validator.FieldLevel) bool {
		n := fl.Field().String()
		return n != "" && len(n) <= 64 && v.Var(n, "alphanum") == nil
	})
	return v
}

// NormalizePlate upper-cases plate and strips spaces, dots and hyphens.
func NormalizePlate(plate string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(plate)))
}

// FormatDirectory accepts any plate in a known format.
type FormatDirectory struct{}

// ValidatePlate implements VehicleDirectory.
func (FormatDirectory) ValidatePlate(_ context.Context, plate string) (string, error) {
	normalized := NormalizePlate(plate)
	if err := Validate.Var(normalized, "required,plate"); err != nil {
		return "", apperr.InvalidFormat("license_plate", plate, "license plate must look like ABC123 or AB123CD")
	}
	return normalized, nil
}
