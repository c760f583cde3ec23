package mailprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocloud/mailprobe/internal/dnsx"
	"github.com/studiocloud/mailprobe/internal/provider"
	"github.com/studiocloud/mailprobe/internal/proxypool"
	"github.com/studiocloud/mailprobe/internal/smtpprobe"
)

// fakeDNS implements dnsx.Lookuper.
type fakeDNS struct {
	addrs []net.IPAddr
	mx    []*net.MX
	txt   []string
}

func (f *fakeDNS) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	if len(f.addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", IsNotFound: true}
	}
	return f.addrs, nil
}

func (f *fakeDNS) LookupCNAME(_ context.Context, _ string) (string, error) {
	return "", &net.DNSError{Err: "no such host", IsNotFound: true}
}

func (f *fakeDNS) LookupMX(_ context.Context, _ string) ([]*net.MX, error) {
	if len(f.mx) == 0 {
		return nil, errors.New("no MX records")
	}
	return f.mx, nil
}

func (f *fakeDNS) LookupTXT(_ context.Context, _ string) ([]string, error) {
	return f.txt, nil
}

func resolvingDNS() *fakeDNS {
	return &fakeDNS{
		addrs: []net.IPAddr{{IP: net.ParseIP("192.0.2.10")}},
		mx:    []*net.MX{{Host: "mx.example.com.", Pref: 10}},
		txt:   []string{"v=spf1 mx -all"},
	}
}

// smtpFake dials a scripted SMTP server whose RCPT verdict depends on
// the recipient.
func smtpFake(verdict func(rcpt string) string) smtpprobe.DialFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer func() { _ = server.Close() }()
			_, _ = fmt.Fprintf(server, "220 mx.example.com ESMTP\r\n")
			r := bufio.NewReader(server)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				cmd := strings.TrimRight(line, "\r\n")
				switch {
				case strings.HasPrefix(cmd, "QUIT"):
					_, _ = fmt.Fprintf(server, "221 Bye\r\n")
					return
				case strings.HasPrefix(cmd, "EHLO"):
					_, _ = fmt.Fprintf(server, "250 mx.example.com\r\n")
				case strings.HasPrefix(cmd, "MAIL FROM"):
					_, _ = fmt.Fprintf(server, "250 OK\r\n")
				case strings.HasPrefix(cmd, "RCPT TO"):
					rcpt := strings.TrimSuffix(strings.TrimPrefix(cmd, "RCPT TO:<"), ">")
					_, _ = fmt.Fprintf(server, "%s\r\n", verdict(rcpt))
				default:
					_, _ = fmt.Fprintf(server, "500 unrecognised\r\n")
				}
			}
		}()
		return client, nil
	}
}

func newTestValidator(dns dnsx.Lookuper, dial smtpprobe.DialFunc) *Validator {
	log := logrus.New()
	log.SetOutput(io.Discard)

	pool := proxypool.New(log)
	verifier := smtpprobe.NewVerifier(pool, "probe.test", log)
	if dial != nil {
		verifier.SetDial(dial)
	}

	return &Validator{
		resolver:  dnsx.NewWithLookuper(time.Second, time.Minute, dns),
		providers: provider.NewRegistry(),
		pool:      pool,
		verifier:  verifier,
		log:       log,
	}
}

func TestValidate_InvalidFormat(t *testing.T) {
	v := newTestValidator(&fakeDNS{}, nil)

	res, err := v.Validate(context.Background(), "not-an-email")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonInvalidFormat, res.Reason)
	assert.Equal(t, Checks{}, res.Checks, "a format failure leaves every check false")
}

func TestValidate_DomainDoesNotExist(t *testing.T) {
	v := newTestValidator(&fakeDNS{}, nil)

	res, err := v.Validate(context.Background(), "a@nonexistent.invalid")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNoDomain, res.Reason)
	assert.True(t, res.Checks.Format)
	assert.False(t, res.Checks.DNS)
	assert.False(t, res.Checks.MX)
	assert.False(t, res.Checks.SMTP)
}

func TestValidate_NoMailServers(t *testing.T) {
	dns := &fakeDNS{addrs: []net.IPAddr{{IP: net.ParseIP("192.0.2.10")}}}
	v := newTestValidator(dns, nil)

	res, err := v.Validate(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNoMailServers, res.Reason)
	assert.True(t, res.Checks.DNS)
	assert.False(t, res.Checks.MX)
}

func TestValidate_MailboxRejectedEverywhere(t *testing.T) {
	v := newTestValidator(resolvingDNS(), smtpFake(func(string) string {
		return "550 5.1.1 User unknown"
	}))

	res, err := v.Validate(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonVerifyFailed, res.Reason)
	assert.True(t, res.Checks.MX)
	assert.True(t, res.Checks.SMTP)
	assert.False(t, res.Checks.Mailbox)
	assert.Contains(t, res.Details.SMTPResponse, "550")
}

func TestValidate_CatchAllRejected(t *testing.T) {
	v := newTestValidator(resolvingDNS(), smtpFake(func(string) string {
		return "250 OK" // accepts any recipient
	}))

	res, err := v.Validate(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonCatchAll, res.Reason)
	assert.True(t, res.Checks.Mailbox)
	assert.True(t, res.Checks.CatchAll)
}

func TestValidate_ValidMailbox(t *testing.T) {
	v := newTestValidator(resolvingDNS(), smtpFake(func(rcpt string) string {
		if rcpt == "user@example.com" {
			return "250 OK"
		}
		return "550 no such user"
	}))

	res, err := v.Validate(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, ReasonValid, res.Reason)
	assert.True(t, res.Checks.Mailbox)
	assert.False(t, res.Checks.CatchAll)

	// valid implies the whole stage chain passed.
	assert.True(t, res.Checks.Format)
	assert.True(t, res.Checks.DNS)
	assert.True(t, res.Checks.MX)
	assert.True(t, res.Checks.SMTP)
}

func TestValidate_SPFRecordedNotGating(t *testing.T) {
	dns := resolvingDNS()
	v := newTestValidator(dns, smtpFake(func(rcpt string) string {
		if strings.HasPrefix(rcpt, "user@") {
			return "250 OK"
		}
		return "550 no"
	}))

	res, _ := v.Validate(context.Background(), "user@example.com")
	assert.True(t, res.Checks.SPF)
	assert.Equal(t, "v=spf1 mx -all", res.Details.SPFRecord)

	// No SPF record: everything else still passes.
	dns2 := resolvingDNS()
	dns2.txt = nil
	v2 := newTestValidator(dns2, smtpFake(func(rcpt string) string {
		if strings.HasPrefix(rcpt, "user@") {
			return "250 OK"
		}
		return "550 no"
	}))
	res2, _ := v2.Validate(context.Background(), "user@example.com")
	assert.False(t, res2.Checks.SPF)
	assert.True(t, res2.Valid)
}

func TestValidateMany_OrderAndLengthPreserved(t *testing.T) {
	v := newTestValidator(&fakeDNS{}, nil)

	emails := []string{"bad-1", "bad-2", "bad-3", "bad-4", "bad-5", "bad-6"}
	results := v.ValidateMany(context.Background(), emails)

	require.Len(t, results, len(emails))
	for i, r := range results {
		assert.Equal(t, emails[i], r.Email)
		assert.False(t, r.Valid)
	}
}

func TestValidateMany_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newTestValidator(&fakeDNS{}, nil)
	emails := []string{"a@example.com", "b@example.com"}
	results := v.ValidateMany(ctx, emails)

	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, emails[i], r.Email)
		assert.False(t, r.Valid)
	}
}

func TestValidateStream_EmitsProgressAndComplete(t *testing.T) {
	v := newTestValidator(&fakeDNS{}, nil)

	emails := []string{"bad-1", "bad-2", "bad-3"}
	var events []ProgressEvent
	for ev := range v.ValidateStream(context.Background(), emails) {
		events = append(events, ev)
	}

	require.GreaterOrEqual(t, len(events), 2)

	last := events[len(events)-1]
	assert.Equal(t, "complete", last.Type)
	assert.Len(t, last.Results, 3)

	prev := 0.0
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, "progress", ev.Type)
		assert.GreaterOrEqual(t, ev.Progress, prev, "progress must be monotone")
		prev = ev.Progress
	}
	assert.InDelta(t, 1.0, events[len(events)-2].Progress, 1e-9)
}
