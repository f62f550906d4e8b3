package providers

import (
	"github.com/ttacon/libphonenumber"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
)

// NormalizePhone parses raw in region and returns it in E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	p, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", apperrors.NewValidationError("customer.phone", "cannot parse %q: %v", raw, err)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", apperrors.NewValidationError("customer.phone", "%q is not a valid phone number", raw)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
