// Package mailprobe verifies whether an email address is deliverable by
// progressively probing the recipient's mail infrastructure: syntactic
// form, domain existence, mail-exchanger advertisement, sender-policy
// record, and finally a live SMTP conversation up to the RCPT stage,
// without sending a message.
//
// Basic usage:
//
//	v, err := mailprobe.New(mailprobe.Options{HeloHost: "verify.myapp.com"})
//	result, err := v.Validate(ctx, "user@example.com")
//
// Bulk inputs go through the batch scheduler:
//
//	results := v.ValidateMany(ctx, emails)
//	events := v.ValidateStream(ctx, emails)
package mailprobe

import "github.com/studiocloud/mailprobe/types"

// ValidationResult is a re-export from the types package so that
// consumers don't need to import the types package directly.
type ValidationResult = types.ValidationResult

// Checks is a re-export.
type Checks = types.Checks

// ProgressEvent is a re-export.
type ProgressEvent = types.ProgressEvent

// MXRecord is a re-export.
type MXRecord = types.MXRecord
