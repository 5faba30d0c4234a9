package service

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
)

// NewValidator returns a validator with the portal's custom rules registered.
func NewValidator() *validator.Validate {
	return registerRules(validator.New())
}

func registerRules(v *validator.Validate) *validator.Validate {
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("docstatus", func(fl validator.FieldLevel) bool {
		switch models.DocumentStatus(fl.Field().String()) {
		case models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusUnderReview, models.StatusMissing:
			return true
		default:
			return false
		}
	})
	_ = v.RegisterValidation("reportformat", func(fl validator.FieldLevel) bool {
		switch models.ReportFormat(strings.ToLower(fl.Field().String())) {
		case models.ReportFormatCSV, models.ReportFormatPDF:
			return true
		default:
			return false
		}
	})
	return v
}

// ensureValidator registers the custom rules on v, creating one when nil.
func ensureValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return NewValidator()
	}
	return registerRules(v)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
