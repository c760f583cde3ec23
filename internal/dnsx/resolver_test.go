package dnsx_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studiocloud/mailprobe/internal/dnsx"
)

// fakeLookuper implements dnsx.Lookuper for tests.
type fakeLookuper struct {
	addrs    []net.IPAddr
	addrErr  error
	cname    string
	cnameErr error
	mx       []*net.MX
	mxErr    error
	txt      []string
	txtErr   error

	mxCalls atomic.Int32
}

func (f *fakeLookuper) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	return f.addrs, f.addrErr
}

func (f *fakeLookuper) LookupCNAME(_ context.Context, _ string) (string, error) {
	return f.cname, f.cnameErr
}

func (f *fakeLookuper) LookupMX(_ context.Context, _ string) ([]*net.MX, error) {
	f.mxCalls.Add(1)
	return f.mx, f.mxErr
}

func (f *fakeLookuper) LookupTXT(_ context.Context, _ string) ([]string, error) {
	return f.txt, f.txtErr
}

func newFacade(l *fakeLookuper) *dnsx.Facade {
	return dnsx.NewWithLookuper(2*time.Second, time.Minute, l)
}

func TestHasAddress_AnySuccessWins(t *testing.T) {
	ctx := context.Background()

	// A record present, CNAME failing.
	f := newFacade(&fakeLookuper{
		addrs:    []net.IPAddr{{IP: net.ParseIP("192.0.2.1")}},
		cnameErr: errors.New("no cname"),
	})
	assert.True(t, f.HasAddress(ctx, "example.com"))

	// CNAME present, A failing.
	f = newFacade(&fakeLookuper{
		addrErr: errors.New("no such host"),
		cname:   "target.example.net.",
	})
	assert.True(t, f.HasAddress(ctx, "alias.example.com"))

	// Everything failing.
	f = newFacade(&fakeLookuper{
		addrErr:  errors.New("no such host"),
		cnameErr: errors.New("no such host"),
	})
	assert.False(t, f.HasAddress(ctx, "nonexistent.invalid"))
}

func TestMX_SortedByPriority(t *testing.T) {
	f := newFacade(&fakeLookuper{mx: []*net.MX{
		{Host: "backup.example.com.", Pref: 20},
		{Host: "primary.example.com.", Pref: 5},
		{Host: "secondary.example.com.", Pref: 10},
	}})

	records := f.MX(context.Background(), "example.com")
	assert.Len(t, records, 3)
	assert.Equal(t, "primary.example.com", records[0].Exchange)
	assert.Equal(t, "secondary.example.com", records[1].Exchange)
	assert.Equal(t, "backup.example.com", records[2].Exchange)
}

func TestMX_StableOnEqualPriorities(t *testing.T) {
	f := newFacade(&fakeLookuper{mx: []*net.MX{
		{Host: "mx1.example.com.", Pref: 10},
		{Host: "mx2.example.com.", Pref: 10},
		{Host: "mx3.example.com.", Pref: 10},
	}})

	records := f.MX(context.Background(), "example.com")
	assert.Equal(t, "mx1.example.com", records[0].Exchange)
	assert.Equal(t, "mx2.example.com", records[1].Exchange)
	assert.Equal(t, "mx3.example.com", records[2].Exchange)
}

func TestMX_FailureMapsToEmpty(t *testing.T) {
	f := newFacade(&fakeLookuper{mxErr: &net.DNSError{Err: "no such host"}})
	assert.Empty(t, f.MX(context.Background(), "example.com"))
}

func TestMX_Cached(t *testing.T) {
	l := &fakeLookuper{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}
	f := newFacade(l)

	ctx := context.Background()
	f.MX(ctx, "example.com")
	f.MX(ctx, "example.com")
	f.MX(ctx, "example.com")

	assert.Equal(t, int32(1), l.mxCalls.Load())
}

func TestSPF_FirstSPFRecordWins(t *testing.T) {
	f := newFacade(&fakeLookuper{txt: []string{
		"google-site-verification=abc123",
		"v=spf1 include:_spf.example.com ~all",
		"v=spf1 -all",
	}})

	spf := f.SPF(context.Background(), "example.com")
	assert.Equal(t, "v=spf1 include:_spf.example.com ~all", spf)
}

func TestSPF_NoneMapsToEmpty(t *testing.T) {
	f := newFacade(&fakeLookuper{txt: []string{"not-an-spf-record"}})
	assert.Equal(t, "", f.SPF(context.Background(), "example.com"))

	f = newFacade(&fakeLookuper{txtErr: errors.New("timeout")})
	assert.Equal(t, "", f.SPF(context.Background(), "example.com"))
}
