// Package provider maps a recipient domain to the profile that governs
// how its mail infrastructure is probed: timeouts, TLS policy, response
// code sets and the retry strategy.
package provider

import (
	"strings"
	"time"

	"github.com/studiocloud/mailprobe/types"
)

// RetryDelay is the base delay between verification attempts.
const RetryDelay = 2 * time.Second

// Profile describes how one provider's mail servers are probed.
// Profiles are immutable after program start.
type Profile struct {
	Name             string
	Timeout          time.Duration
	RequireTLS       bool
	RejectCatchAll   bool
	AcceptCodes      []int
	RejectCodes      []int
	RetryAttempts    int
	HeloHost         string
	CustomValidation bool

	// MXDomains are the provider's exchanger domains, matched by
	// suffix on a DNS label boundary against the recipient's MX hosts.
	MXDomains []string
}

// Accepts reports whether code is in the profile's accept set.
func (p Profile) Accepts(code int) bool { return containsCode(p.AcceptCodes, code) }

// Rejects reports whether code is in the profile's reject set.
func (p Profile) Rejects(code int) bool { return containsCode(p.RejectCodes, code) }

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// RetryStrategy carries the attempt budget and per-attempt backoff of
// one profile, isolating provider quirks from the SMTP dialog.
type RetryStrategy struct {
	Attempts int
	Backoff  func(attempt int) time.Duration
}

// Retry returns the profile's retry strategy. Providers flagged with
// CustomValidation (the Outlook family) get a larger budget with
// exponential backoff; everyone else backs off linearly.
func (p Profile) Retry() RetryStrategy {
	if p.CustomValidation {
		attempts := p.RetryAttempts
		if attempts < 5 {
			attempts = 5
		}
		return RetryStrategy{
			Attempts: attempts,
			Backoff: func(attempt int) time.Duration {
				return RetryDelay << attempt
			},
		}
	}
	return RetryStrategy{
		Attempts: p.RetryAttempts,
		Backoff: func(attempt int) time.Duration {
			return RetryDelay * time.Duration(attempt)
		},
	}
}

// Registry holds the provider table and the generic fallback.
type Registry struct {
	byDomain map[string]Profile
	ordered  []Profile
	generic  Profile
}

// NewRegistry builds the registry with the built-in provider table.
func NewRegistry() *Registry {
	accept := []int{250, 251, 252}
	reject := []int{550, 551, 552, 553, 554}

	generic := Profile{
		Name:           "generic",
		Timeout:        10 * time.Second,
		RequireTLS:     false,
		RejectCatchAll: true,
		AcceptCodes:    accept,
		RejectCodes:    reject,
		RetryAttempts:  2,
	}

	r := &Registry{
		byDomain: make(map[string]Profile),
		generic:  generic,
	}

	r.add("gmail.com", Profile{
		Name:           "gmail",
		Timeout:        15 * time.Second,
		RequireTLS:     true,
		RejectCatchAll: true,
		AcceptCodes:    accept,
		RejectCodes:    reject,
		RetryAttempts:  2,
		MXDomains:      []string{"google.com", "googlemail.com"},
	})
	r.add("outlook.com", Profile{
		Name:             "outlook",
		Timeout:          30 * time.Second,
		RequireTLS:       false,
		RejectCatchAll:   true,
		AcceptCodes:      accept,
		RejectCodes:      reject,
		RetryAttempts:    3,
		CustomValidation: true,
		MXDomains:        []string{"outlook.com", "protection.outlook.com", "hotmail.com"},
	})
	r.add("yahoo.com", Profile{
		Name:           "yahoo",
		Timeout:        12 * time.Second,
		RequireTLS:     true,
		RejectCatchAll: true,
		AcceptCodes:    accept,
		RejectCodes:    reject,
		RetryAttempts:  2,
		MXDomains:      []string{"yahoodns.net", "yahoo.com"},
	})

	return r
}

func (r *Registry) add(domain string, p Profile) {
	r.byDomain[strings.ToLower(domain)] = p
	r.ordered = append(r.ordered, p)
}

// Generic returns the fallback profile.
func (r *Registry) Generic() Profile { return r.generic }

// Lookup returns the profile for the given recipient domain. An exact
// domain match wins; failing that, the recipient's MX hosts are matched
// against each profile's exchanger domains by suffix on a label
// boundary. The generic profile is the fallback.
func (r *Registry) Lookup(domain string, mxs []types.MXRecord) Profile {
	if p, ok := r.byDomain[strings.ToLower(domain)]; ok {
		return p
	}

	for _, p := range r.ordered {
		for _, mx := range mxs {
			host := strings.ToLower(mx.Exchange)
			for _, d := range p.MXDomains {
				if hostInDomain(host, d) {
					return p
				}
			}
		}
	}

	return r.generic
}

// hostInDomain reports whether host equals domain or is a subdomain of
// it. Matching respects label boundaries, so "notgmail.com" does not
// match "gmail.com".
func hostInDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
