package mpesa

import (
	"fmt"
	"regexp"
	"strings"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
)

var phonePattern = regexp.MustCompile(`^254[17]\d{8}$`)

// FormatPhone normalizes a Kenyan mobile number to the 254XXXXXXXXX form
// the gateway expects. Spaces, dashes and a leading + are stripped; a
// leading 0 or a bare local number gets the 254 country code.
func FormatPhone(phone string) (string, error) {
	formatted := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(phone)

	switch {
	case strings.HasPrefix(formatted, "0"):
		formatted = "254" + formatted[1:]
	case !strings.HasPrefix(formatted, "254"):
		formatted = "254" + formatted
	}

	if !phonePattern.MatchString(formatted) {
		return "", domainErrors.NewValidation(fmt.Sprintf("invalid phone number format: %s", phone))
	}
	return formatted, nil
}
