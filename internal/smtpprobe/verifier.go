package smtpprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studiocloud/mailprobe/internal/parse"
	"github.com/studiocloud/mailprobe/internal/provider"
	"github.com/studiocloud/mailprobe/internal/proxypool"
	"github.com/studiocloud/mailprobe/types"
)

// ErrProxyExhausted is returned by a probe attempt when the pool has
// proxies but none is currently eligible.
var ErrProxyExhausted = errors.New("smtpprobe: proxy pool exhausted")

// VerifyResult is the mailbox verifier's verdict for one address.
type VerifyResult struct {
	// Completed is true once any SMTP dialog reached the RCPT stage,
	// whether the mailbox was accepted or not.
	Completed bool
	// MailboxExists is true when some exchanger accepted the recipient
	// (or answered with a transient greylist/quota code).
	MailboxExists bool
	// CatchAll is true when the same exchanger also accepted a random
	// local part.
	CatchAll bool
	Code     int
	Message  string
}

// Verifier orchestrates SMTP dialogs over the MX list for one address,
// with provider-specific retry and catch-all detection. Proxies come
// from the pool; an empty pool means direct dialing.
type Verifier struct {
	pool     *proxypool.Pool
	heloHost string
	log      *logrus.Logger

	// dial overrides the direct-dial path, for tests.
	dial DialFunc
	// sleep is injectable so retry backoff is testable.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewVerifier creates a mailbox verifier. heloHost is presented in
// EHLO/HELO; pool may be empty but not nil.
func NewVerifier(pool *proxypool.Pool, heloHost string, log *logrus.Logger) *Verifier {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Verifier{
		pool:     pool,
		heloHost: heloHost,
		log:      log,
		sleep:    sleepCtx,
	}
}

// SetDial overrides the direct-dial function (for tests).
func (v *Verifier) SetDial(dial DialFunc) { v.dial = dial }

// Verify walks the MX list in priority order and probes each exchanger
// under the profile's retry strategy. A clear acceptance returns after
// the catch-all probe; a clear 5xx rejection short-circuits the rest of
// the list, since lower-priority exchangers share policy. Transport
// failures advance to the next exchanger.
func (v *Verifier) Verify(ctx context.Context, addr parse.Address, mxs []types.MXRecord, prof provider.Profile) VerifyResult {
	strategy := prof.Retry()
	helo := prof.HeloHost
	if helo == "" {
		helo = v.heloHost
	}

	var res VerifyResult
	for _, mx := range mxs {
		for attempt := 1; attempt <= strategy.Attempts; attempt++ {
			if ctx.Err() != nil {
				return res
			}

			out, err := v.probeOnce(ctx, prof, helo, mx.Exchange, addr.Raw)
			if err != nil {
				v.log.WithFields(logrus.Fields{
					"mx":      mx.Exchange,
					"attempt": attempt,
				}).WithError(err).Debug("smtp probe failed")
				if attempt < strategy.Attempts {
					if v.sleep(ctx, strategy.Backoff(attempt)) != nil {
						return res
					}
					continue
				}
				break // budget spent, next MX
			}

			res.Completed = true
			res.Code = out.Code
			res.Message = out.Message

			switch {
			case prof.Accepts(out.Code) || out.Code == 451 || out.Code == 452:
				res.MailboxExists = true
				res.CatchAll = v.probeCatchAll(ctx, prof, helo, mx.Exchange, addr.Domain)
				return res

			case prof.Rejects(out.Code):
				// Definitive rejection; lower-priority exchangers
				// share the same policy.
				res.MailboxExists = false
				return res

			default:
				// Ambiguous code (other 4xx). Retry within budget,
				// then move on.
				res.MailboxExists = false
				if attempt < strategy.Attempts {
					if v.sleep(ctx, strategy.Backoff(attempt)) != nil {
						return res
					}
				}
			}
		}
	}

	return res
}

// probeOnce runs a single dialog, acquiring and settling a proxy slot
// around it. The proxy is marked failed unless the dialog completed a
// clean cycle.
func (v *Verifier) probeOnce(ctx context.Context, prof provider.Profile, helo, mxHost, rcpt string) (Outcome, error) {
	dial := v.dial
	var entry *proxypool.Entry

	if v.pool.Size() > 0 {
		entry = v.pool.Acquire()
		if entry == nil {
			return Outcome{}, ErrProxyExhausted
		}
		pd, err := proxypool.Dialer(entry, ConnectTimeout)
		if err != nil {
			v.pool.MarkFailure(entry)
			return Outcome{}, err
		}
		dial = pd.DialContext
	}

	cfg := DialogConfig{
		HeloHost:        helo,
		MailFrom:        SynthesizeSender(),
		ResponseTimeout: prof.Timeout,
		RequireTLS:      prof.RequireTLS,
		Dial:            dial,
	}

	out, err := Probe(ctx, cfg, mxHost, rcpt)
	if entry != nil {
		if err != nil {
			v.pool.MarkFailure(entry)
		} else {
			v.pool.MarkSuccess(entry)
			v.pool.Release(entry)
		}
	}
	return out, err
}

// probeCatchAll repeats the RCPT probe against the same exchanger with
// a random local part. Only an outright 2xx acceptance of the random
// recipient marks the domain catch-all; probe failures leave the
// verdict at false.
func (v *Verifier) probeCatchAll(ctx context.Context, prof provider.Profile, helo, mxHost, domain string) bool {
	rcpt := fmt.Sprintf("%s@%s", RandomLocalPart(), domain)
	out, err := v.probeOnce(ctx, prof, helo, mxHost, rcpt)
	if err != nil {
		return false
	}
	return out.Code >= 200 && out.Code < 300
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
