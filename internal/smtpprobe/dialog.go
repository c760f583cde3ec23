// Package smtpprobe drives SMTP conversations against a recipient's
// mail exchangers up to the RCPT stage, without sending mail, and
// interprets the responses into a mailbox-existence verdict.
package smtpprobe

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DialFunc establishes the TCP leg of a dialog. Injectable for tests
// and for routing through a SOCKS5 proxy.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Timeouts not governed by the provider profile.
const (
	ConnectTimeout = 10 * time.Second
	quitTimeout    = 1 * time.Second
	smtpPort       = "25"
)

// State tracks the progress of one SMTP conversation. Any protocol or
// transport error transitions straight to StateClosed.
type State int

const (
	StateDialing State = iota
	StateGreeted
	StateHeloed
	StateMailFromAccepted
	StateRcptEvaluated
	StateClosed
)

// respRE matches a complete SMTP response line: three digits followed
// by nothing, a space, or a dash (multi-line continuation).
var respRE = regexp.MustCompile(`^[0-9]{3}([ -].*)?$`)

// DialogConfig carries the per-conversation knobs, derived from the
// effective provider profile.
type DialogConfig struct {
	// HeloHost is the hostname presented in EHLO/HELO.
	HeloHost string
	// MailFrom is the synthesised sender; see SynthesizeSender.
	MailFrom string
	// ResponseTimeout is the read deadline for each SMTP response.
	ResponseTimeout time.Duration
	// RequireTLS upgrades the connection via STARTTLS when the server
	// advertises it.
	RequireTLS bool
	// Dial defaults to a direct net.Dialer with ConnectTimeout.
	Dial DialFunc
}

// Outcome is the result of a completed dialog: the conversation reached
// RCPT and got a code back, whether the mailbox was accepted or not.
type Outcome struct {
	MailboxExists bool
	Code          int
	Message       string
}

// dialog is one conversation over one connection.
type dialog struct {
	cfg   DialogConfig
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	state State
	tls   bool
}

// Probe runs a full dialog against mxHost for the given recipient:
// greeting, EHLO/HELO, optional STARTTLS, MAIL FROM, RCPT TO, QUIT.
// A non-nil error means the dialog did not complete (transport or
// protocol failure); an Outcome is returned even when the mailbox was
// rejected.
func Probe(ctx context.Context, cfg DialogConfig, mxHost, rcpt string) (Outcome, error) {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: ConnectTimeout}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", net.JoinHostPort(mxHost, smtpPort))
	if err != nil {
		return Outcome{}, fmt.Errorf("smtpprobe: connect %s: %w", mxHost, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}

	d := &dialog{
		cfg:   cfg,
		conn:  conn,
		r:     bufio.NewReader(conn),
		w:     bufio.NewWriter(conn),
		state: StateDialing,
	}

	// Close the socket when the caller cancels so blocked reads and
	// writes return immediately.
	watchdog := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchdog:
		}
	}()

	out, err := d.run(rcpt)

	close(watchdog)
	d.close()

	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return out, err
}

func (d *dialog) run(rcpt string) (Outcome, error) {
	code, msg, err := d.readResponse()
	if err != nil {
		return Outcome{}, fmt.Errorf("smtpprobe: read greeting: %w", err)
	}
	if code != 220 {
		return Outcome{}, fmt.Errorf("smtpprobe: unexpected greeting %d %s", code, msg)
	}
	d.state = StateGreeted

	caps, err := d.hello()
	if err != nil {
		return Outcome{}, err
	}
	d.state = StateHeloed

	if d.cfg.RequireTLS && strings.Contains(strings.ToUpper(caps), "STARTTLS") {
		if err := d.startTLS(); err != nil {
			return Outcome{}, err
		}
	}

	code, msg, err = d.command("MAIL FROM:<" + d.cfg.MailFrom + ">")
	if err != nil {
		return Outcome{}, fmt.Errorf("smtpprobe: MAIL FROM: %w", err)
	}
	if code != 250 {
		return Outcome{}, fmt.Errorf("smtpprobe: MAIL FROM rejected: %d %s", code, msg)
	}
	d.state = StateMailFromAccepted

	code, msg, err = d.command("RCPT TO:<" + rcpt + ">")
	if err != nil {
		return Outcome{}, fmt.Errorf("smtpprobe: RCPT TO: %w", err)
	}
	d.state = StateRcptEvaluated

	// 421 closes the transmission channel; the server never evaluated
	// the recipient, so this is a transport-level failure, not a
	// mailbox verdict.
	if code == 421 {
		return Outcome{}, fmt.Errorf("smtpprobe: server closing channel: %d %s", code, msg)
	}

	return interpret(code, msg), nil
}

// hello issues EHLO and falls back to HELO when the server does not
// speak ESMTP. Returns the capability text from a successful EHLO.
func (d *dialog) hello() (string, error) {
	host := d.cfg.HeloHost
	code, msg, err := d.command("EHLO " + host)
	if err != nil {
		return "", fmt.Errorf("smtpprobe: EHLO: %w", err)
	}
	if code == 250 {
		return msg, nil
	}

	code, msg, err = d.command("HELO " + host)
	if err != nil {
		return "", fmt.Errorf("smtpprobe: HELO: %w", err)
	}
	if code != 250 {
		return "", fmt.Errorf("smtpprobe: HELO rejected: %d %s", code, msg)
	}
	return "", nil
}

// startTLS upgrades the connection in place and repeats EHLO on the
// encrypted channel. Certificate verification is intentionally off:
// the probe needs RCPT reachability, not server authentication, and
// this connection is never reused for authenticated mail.
func (d *dialog) startTLS() error {
	code, msg, err := d.command("STARTTLS")
	if err != nil {
		return fmt.Errorf("smtpprobe: STARTTLS: %w", err)
	}
	if code != 220 {
		return fmt.Errorf("smtpprobe: STARTTLS rejected: %d %s", code, msg)
	}

	tlsConn := tls.Client(d.conn, &tls.Config{InsecureSkipVerify: true})
	d.conn = tlsConn
	d.r = bufio.NewReader(tlsConn)
	d.w = bufio.NewWriter(tlsConn)
	d.tls = true

	if _, err := d.hello(); err != nil {
		return err
	}
	return nil
}

// command sends one SMTP command line and reads the response.
func (d *dialog) command(cmd string) (int, string, error) {
	if _, err := d.w.WriteString(cmd + "\r\n"); err != nil {
		return 0, "", err
	}
	if err := d.w.Flush(); err != nil {
		return 0, "", err
	}
	return d.readResponse()
}

// readResponse consumes one full SMTP response: any number of NNN-
// continuation lines followed by the terminating NNN line, whose code
// and remainder are returned.
func (d *dialog) readResponse() (int, string, error) {
	_ = d.conn.SetDeadline(time.Now().Add(d.cfg.ResponseTimeout))

	var parts []string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return 0, "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if !respRE.MatchString(line) {
			return 0, "", fmt.Errorf("malformed response line %q", line)
		}

		rest := ""
		if len(line) > 4 {
			rest = line[4:]
		}
		parts = append(parts, rest)

		if len(line) == 3 || line[3] != '-' {
			code, _ := strconv.Atoi(line[:3])
			return code, strings.Join(parts, "\n"), nil
		}
	}
}

// close sends a best-effort QUIT and tears the socket down. The QUIT
// response is read with a short timeout and any error ignored.
func (d *dialog) close() {
	if d.state != StateClosed {
		_ = d.conn.SetDeadline(time.Now().Add(quitTimeout))
		if _, err := d.w.WriteString("QUIT\r\n"); err == nil {
			if err := d.w.Flush(); err == nil {
				_, _, _ = d.readResponseQuiet()
			}
		}
	}
	_ = d.conn.Close()
	d.state = StateClosed
}

func (d *dialog) readResponseQuiet() (int, string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return 0, "", err
	}
	return 0, strings.TrimRight(line, "\r\n"), nil
}

// interpret maps an RCPT response code to a mailbox verdict. 451 and
// 452 are transient quota and greylisting signals that many providers
// return for mailboxes that do exist, so they count as positive; the
// raw code is surfaced so callers can decide otherwise.
func interpret(code int, msg string) Outcome {
	exists := false
	switch {
	case code >= 200 && code < 300:
		exists = true
	case code == 451 || code == 452:
		exists = true
	}
	return Outcome{MailboxExists: exists, Code: code, Message: msg}
}

// senderDomains are known-clean domains used to synthesise the probe's
// MAIL FROM address.
var senderDomains = []string{
	"salesforce.com",
	"sendgrid.net",
	"mailchimp.com",
	"amazonses.com",
	"postmarkapp.com",
}

// SynthesizeSender builds a verify.<token>@<domain> sender with a
// random token and a domain drawn uniformly from senderDomains.
func SynthesizeSender() string {
	id := uuid.New()
	token := strings.ReplaceAll(id.String(), "-", "")[:12]
	domain := senderDomains[int(id[0])%len(senderDomains)]
	return fmt.Sprintf("verify.%s@%s", token, domain)
}

// RandomLocalPart returns a 16-hex-char local part for catch-all
// probing.
func RandomLocalPart() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
