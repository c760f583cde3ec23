// Package parse turns raw input strings into addresses the pipeline
// can work with.
package parse

import (
	"regexp"
	"strings"
)

// RFC 5321 size caps, in octets.
const (
	MaxLocalLen  = 64
	MaxDomainLen = 255
)

// addressRE accepts an alphanumeric-delimited local part of at most 64
// octets, then a dotted domain whose labels start and end alphanumeric,
// with an alphabetic TLD of at least two characters.
var addressRE = regexp.MustCompile(
	`^[A-Za-z0-9](?:[A-Za-z0-9._%+-]{0,62}[A-Za-z0-9])?` +
		`@` +
		`(?:[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?\.)+` +
		`[A-Za-z]{2,}$`)

// Address is the internal representation of a parsed email address.
type Address struct {
	Raw    string // the original, trimmed input
	Local  string // the part before @
	Domain string // the part after @, lowercased
	Valid  bool   // false if Raw does not parse as an address
}

// NewAddress attempts to parse the given email string.
// If parsing fails, Valid=false but Raw is always populated.
// Addresses are ASCII only; internationalized local parts and IDN
// domains are rejected.
func NewAddress(raw string) Address {
	raw = strings.TrimSpace(raw)

	if !addressRE.MatchString(raw) {
		return Address{Raw: raw, Valid: false}
	}

	at := strings.LastIndex(raw, "@")
	local, domain := raw[:at], raw[at+1:]

	if len(local) > MaxLocalLen || len(domain) > MaxDomainLen {
		return Address{Raw: raw, Valid: false}
	}

	return Address{
		Raw:    raw,
		Local:  local,
		Domain: strings.ToLower(domain),
		Valid:  true,
	}
}
