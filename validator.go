package mailprobe

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/studiocloud/mailprobe/internal/dnsx"
	"github.com/studiocloud/mailprobe/internal/parse"
	"github.com/studiocloud/mailprobe/internal/provider"
	"github.com/studiocloud/mailprobe/internal/proxypool"
	"github.com/studiocloud/mailprobe/internal/smtpprobe"
	"github.com/studiocloud/mailprobe/types"
)

// Validator runs the staged validation pipeline: format, DNS, MX, SPF,
// provider lookup, SMTP mailbox verification. Stages short-circuit: the
// first failed stage's reason is the result's reason and no later stage
// runs.
type Validator struct {
	resolver  *dnsx.Facade
	providers *provider.Registry
	pool      *proxypool.Pool
	verifier  *smtpprobe.Verifier
	log       *logrus.Logger
}

// New creates a Validator. The proxy pool is loaded once from
// Options.ProxiesFile; an unreadable file is an error, while an empty
// pool just means direct dialing.
func New(opts Options) (*Validator, error) {
	opts.applyDefaults()

	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	pool := proxypool.New(log)
	if opts.ProxiesFile != "" {
		var err error
		pool, err = proxypool.Load(opts.ProxiesFile, log)
		if err != nil {
			return nil, err
		}
		log.WithField("proxies", pool.Size()).Info("proxy pool loaded")
	}

	return &Validator{
		resolver:  dnsx.New(opts.DNSTimeout, opts.DNSCacheTTL),
		providers: provider.NewRegistry(),
		pool:      pool,
		verifier:  smtpprobe.NewVerifier(pool, opts.HeloHost, log),
		log:       log,
	}, nil
}

// Validate runs the full pipeline for one address. The returned error
// is non-nil only when the context was cancelled before a verdict;
// every other failure is a structured reason on the result.
func (v *Validator) Validate(ctx context.Context, email string) (types.ValidationResult, error) {
	res := types.ValidationResult{Email: email}

	addr := parse.NewAddress(email)
	if !addr.Valid {
		res.Reason = ReasonInvalidFormat
		return res, nil
	}
	res.Checks.Format = true

	if ctx.Err() != nil {
		res.Reason = ReasonCancelled
		return res, ctx.Err()
	}

	if !v.resolver.HasAddress(ctx, addr.Domain) {
		res.Reason = ReasonNoDomain
		return res, ctx.Err()
	}
	res.Checks.DNS = true

	mxs := v.resolver.MX(ctx, addr.Domain)
	if len(mxs) == 0 {
		res.Reason = ReasonNoMailServers
		return res, ctx.Err()
	}
	res.Checks.MX = true
	res.Details.MXRecords = mxs

	// SPF is recorded but never gates the pipeline.
	if spf := v.resolver.SPF(ctx, addr.Domain); spf != "" {
		res.Checks.SPF = true
		res.Details.SPFRecord = spf
	}

	prof := v.providers.Lookup(addr.Domain, mxs)

	verdict := v.verifier.Verify(ctx, addr, mxs, prof)
	res.Checks.SMTP = verdict.Completed
	res.Checks.Mailbox = verdict.MailboxExists
	res.Checks.CatchAll = verdict.CatchAll
	if verdict.Code != 0 {
		res.Details.SMTPResponse = fmt.Sprintf("%d %s", verdict.Code, verdict.Message)
	}

	if ctx.Err() != nil {
		res.Reason = ReasonCancelled
		return res, ctx.Err()
	}

	switch {
	case verdict.MailboxExists && verdict.CatchAll && prof.RejectCatchAll:
		res.Reason = ReasonCatchAll
	case verdict.MailboxExists:
		res.Valid = true
		res.Reason = ReasonValid
	default:
		res.Reason = ReasonVerifyFailed
	}
	return res, nil
}
