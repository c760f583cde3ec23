package mailprobe

import "github.com/studiocloud/mailprobe/types"

// Invalid builds a terminal negative result with every check false.
func Invalid(email, reason string) types.ValidationResult {
	return types.ValidationResult{Email: email, Valid: false, Reason: reason}
}
