// Package proxypool owns the process-wide list of SOCKS5 proxies and
// hands out entries under round-robin rotation with cooldown, failure
// accounting and per-proxy connection caps.
package proxypool

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Pool tuning. A proxy is eligible for Acquire only while it is under
// all three limits.
const (
	MaxFailures    = 3
	MaxConnections = 3
	Cooldown       = 30 * time.Second
)

// Entry is one SOCKS5 proxy with its mutable usage state. All state
// mutations go through the owning Pool's lock.
type Entry struct {
	Host string
	Port int
	User string
	Pass string

	failures int
	active   int
	lastUsed time.Time
}

// Addr returns the host:port dial address of the proxy.
func (e *Entry) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Pool serialises all proxy state mutations behind one mutex so that
// no invariant is observable in a torn state.
type Pool struct {
	mu      sync.Mutex
	entries []*Entry
	cursor  int
	now     func() time.Time // injectable for tests
	log     *logrus.Logger
}

// New creates an empty pool. An empty pool is legal; callers then dial
// directly.
func New(log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Pool{now: time.Now, log: log}
}

// Load reads proxies from a text file, one host:port[:user[:pass]] per
// line. Blank lines and lines beginning with '#' are ignored; malformed
// lines are skipped with a warning.
func Load(path string, log *logrus.Logger) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("proxypool: open %s: %w", path, err)
	}
	defer f.Close()
	return FromReader(f, log), nil
}

// FromReader parses proxy lines from r. See Load.
func FromReader(r io.Reader, log *logrus.Logger) *Pool {
	p := New(log)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			p.log.WithField("line", line).Warn("skipping malformed proxy line")
			continue
		}
		p.entries = append(p.entries, e)
	}

	return p
}

func parseLine(line string) (*Entry, error) {
	parts := strings.Split(line, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, fmt.Errorf("want host:port[:user[:pass]], got %d fields", len(parts))
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("empty host")
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("bad port %q", parts[1])
	}

	e := &Entry{Host: parts[0], Port: port}
	if len(parts) > 2 {
		e.User = parts[2]
	}
	if len(parts) > 3 {
		e.Pass = parts[3]
	}
	return e, nil
}

// Size returns the number of proxies in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Acquire returns the next eligible proxy, marking it used and counting
// the connection, or nil when the pool is empty or exhausted. When
// every proxy has hit MaxFailures, the pool resets all usage state once
// and retries the scan.
func (p *Pool) Acquire() *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return nil
	}

	if e := p.scanLocked(); e != nil {
		return e
	}

	if p.allFailedLocked() {
		p.log.Warn("all proxies exhausted, resetting failure counts")
		p.resetLocked()
		return p.scanLocked()
	}

	return nil
}

// scanLocked walks at most one full cycle from the cursor and claims
// the first eligible entry.
func (p *Pool) scanLocked() *Entry {
	now := p.now()
	for i := 0; i < len(p.entries); i++ {
		idx := (p.cursor + i) % len(p.entries)
		e := p.entries[idx]
		if e.failures >= MaxFailures || e.active >= MaxConnections {
			continue
		}
		if !e.lastUsed.IsZero() && now.Sub(e.lastUsed) < Cooldown {
			continue
		}
		p.cursor = idx + 1
		e.lastUsed = now
		e.active++
		return e
	}
	return nil
}

func (p *Pool) allFailedLocked() bool {
	for _, e := range p.entries {
		if e.failures < MaxFailures {
			return false
		}
	}
	return true
}

func (p *Pool) resetLocked() {
	for _, e := range p.entries {
		e.failures = 0
		e.active = 0
		e.lastUsed = time.Time{}
	}
}

// MarkSuccess records a clean dialog on the proxy. The connection count
// is left to Release.
func (p *Pool) MarkSuccess(e *Entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e.failures = 0
}

// MarkFailure records a failed dialog and returns the connection slot.
func (p *Pool) MarkFailure(e *Entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e.failures++
	if e.active > 0 {
		e.active--
	}
}

// Release returns the connection slot after a clean dialog.
func (p *Pool) Release(e *Entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.active > 0 {
		e.active--
	}
}

// ActiveConnections returns the sum of outstanding connection slots
// (for diagnostics and tests).
func (p *Pool) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, e := range p.entries {
		total += e.active
	}
	return total
}

// Dialer builds a SOCKS5 context dialer through the given proxy entry.
// The connect timeout bounds the TCP leg to the proxy itself.
func Dialer(e *Entry, connectTimeout time.Duration) (proxy.ContextDialer, error) {
	var auth *proxy.Auth
	if e.User != "" {
		auth = &proxy.Auth{User: e.User, Password: e.Pass}
	}

	d, err := proxy.SOCKS5("tcp", e.Addr(), auth, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("proxypool: socks5 dialer for %s: %w", e.Addr(), err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxypool: socks5 dialer for %s does not support context", e.Addr())
	}
	return cd, nil
}
