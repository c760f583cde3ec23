// Package dnsx is a thin facade over system DNS for the three queries
// the validation pipeline needs: address presence, mail exchangers and
// the SPF policy record. Lookup failures are part of the contract and
// map to false / empty / "" rather than errors.
//
// Results are cached with a TTL, and concurrent lookups for the same
// key are deduplicated: only one actual DNS query is performed, and
// all waiters receive the result.
package dnsx

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studiocloud/mailprobe/types"
)

const spfPrefix = "v=spf1"

// Lookuper is the slice of *net.Resolver the facade depends on,
// injectable for testing.
type Lookuper interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Facade resolves domains with a fixed per-query timeout and a
// TTL-based cache.
type Facade struct {
	mu       sync.Mutex
	entries  map[string]*entry
	timeout  time.Duration
	cacheTTL time.Duration
	lookup   Lookuper
}

var _ Lookuper = &net.Resolver{}

type entry struct {
	has     bool
	mx      []types.MXRecord
	spf     string
	expires time.Time
	done    chan struct{} // closed when lookup is complete
}

// New creates a facade with the given per-query timeout and cache TTL.
func New(timeout, cacheTTL time.Duration) *Facade {
	return &Facade{
		entries:  make(map[string]*entry),
		timeout:  timeout,
		cacheTTL: cacheTTL,
		lookup:   &net.Resolver{},
	}
}

// NewWithLookuper creates a facade with a custom lookuper (for testing).
func NewWithLookuper(timeout, cacheTTL time.Duration, l Lookuper) *Facade {
	f := New(timeout, cacheTTL)
	f.lookup = l
	return f
}

// HasAddress reports whether the domain resolves to anything at all:
// A, AAAA or CNAME. The queries are issued in parallel and any success
// wins.
func (f *Facade) HasAddress(ctx context.Context, domain string) bool {
	e := f.do(ctx, "a:"+domain, func(ctx context.Context, e *entry) {
		found := make(chan bool, 2)
		go func() {
			addrs, err := f.lookup.LookupIPAddr(ctx, domain)
			found <- err == nil && len(addrs) > 0
		}()
		go func() {
			cname, err := f.lookup.LookupCNAME(ctx, domain)
			found <- err == nil && cname != ""
		}()
		for i := 0; i < 2; i++ {
			if <-found {
				e.has = true
				return
			}
		}
	})
	return e.has
}

// MX returns the domain's mail exchangers sorted ascending by priority,
// or an empty slice. The sort is stable: exchangers sharing a priority
// keep resolver order.
func (f *Facade) MX(ctx context.Context, domain string) []types.MXRecord {
	e := f.do(ctx, "mx:"+domain, func(ctx context.Context, e *entry) {
		mxs, err := f.lookup.LookupMX(ctx, domain)
		if err != nil {
			return
		}
		records := make([]types.MXRecord, 0, len(mxs))
		for _, m := range mxs {
			host := strings.TrimSuffix(m.Host, ".")
			if host == "" {
				continue
			}
			records = append(records, types.MXRecord{Exchange: host, Priority: m.Pref})
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Priority < records[j].Priority
		})
		e.mx = records
	})

	// Copy so callers cannot mutate cached data.
	out := make([]types.MXRecord, len(e.mx))
	copy(out, e.mx)
	return out
}

// SPF returns the first TXT record beginning with "v=spf1", or "".
func (f *Facade) SPF(ctx context.Context, domain string) string {
	e := f.do(ctx, "spf:"+domain, func(ctx context.Context, e *entry) {
		records, err := f.lookup.LookupTXT(ctx, domain)
		if err != nil {
			return
		}
		for _, r := range records {
			if strings.HasPrefix(r, spfPrefix) {
				e.spf = r
				return
			}
		}
	})
	return e.spf
}

// do returns the cached entry for key, performing the fill under
// singleflight when the entry is missing or expired.
func (f *Facade) do(ctx context.Context, key string, fill func(context.Context, *entry)) *entry {
	f.mu.Lock()

	if e, ok := f.entries[key]; ok {
		select {
		case <-e.done:
			if time.Now().Before(e.expires) {
				f.mu.Unlock()
				return e
			}
			// Expired, fall through to refresh.
		default:
			// Lookup in progress - wait for it.
			f.mu.Unlock()
			<-e.done
			return e
		}
	}

	e := &entry{done: make(chan struct{})}
	f.entries[key] = e
	f.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	fill(qctx, e)
	e.expires = time.Now().Add(f.cacheTTL)
	close(e.done)

	return e
}

// Len returns the number of entries in the cache (for diagnostics).
func (f *Facade) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
