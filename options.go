package mailprobe

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a Validator.
type Options struct {
	// HeloHost is the hostname presented in EHLO/HELO when the
	// effective provider profile does not override it. Default:
	// "localhost".
	HeloHost string
	// ProxiesFile is the path to a text file of SOCKS5 proxies, one
	// host:port[:user[:pass]] per line. Empty means no proxies: all
	// probes dial directly.
	ProxiesFile string
	// DNSTimeout bounds each DNS query. Default: 10s.
	DNSTimeout time.Duration
	// DNSCacheTTL is how long DNS answers are reused. Default: 5m.
	DNSCacheTTL time.Duration
	// Logger receives structured engine logs. Default: discard.
	Logger *logrus.Logger
}

func (o *Options) applyDefaults() {
	if o.HeloHost == "" {
		o.HeloHost = "localhost"
	}
	if o.DNSTimeout <= 0 {
		o.DNSTimeout = 10 * time.Second
	}
	if o.DNSCacheTTL <= 0 {
		o.DNSCacheTTL = 5 * time.Minute
	}
}
