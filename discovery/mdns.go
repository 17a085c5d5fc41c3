// Package discovery locates a message relay on the local network via
// mDNS, for deployments where the relay address is not configured.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_gowhisper._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultScanTimeout bounds each relay lookup.
	DefaultScanTimeout = 3 * time.Second
)

// ErrNoRelayFound indicates no relay answered the mDNS lookup.
var ErrNoRelayFound = errors.New("discovery: no relay found")

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls relay lookup behavior.
type Config struct {
	Service     string
	Domain      string
	Version     int
	ScanTimeout time.Duration

	browseFn browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.browseFn == nil {
		out.browseFn = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return err
			}
			return resolver.Browse(ctx, service, domain, entries)
		}
	}
	return out
}

// Relay is one advertised relay endpoint.
type Relay struct {
	Instance string
	Address  string
	Version  int
}

// LocateRelay scans for advertised relays and returns the first usable
// one.
func LocateRelay(ctx context.Context, config Config) (Relay, error) {
	cfg := config.withDefaults()

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- cfg.browseFn(scanCtx, cfg.Service, cfg.Domain, entries)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Relay{}, ErrNoRelayFound
			}
			relay, ok := relayFromEntry(entry, cfg.Version)
			if !ok {
				continue
			}
			return relay, nil
		case err := <-browseErr:
			if err != nil {
				return Relay{}, fmt.Errorf("browse mDNS: %w", err)
			}
		case <-scanCtx.Done():
			return Relay{}, ErrNoRelayFound
		}
	}
}

func relayFromEntry(entry *zeroconf.ServiceEntry, wantVersion int) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}

	version := 0
	for _, txt := range entry.Text {
		if value, ok := strings.CutPrefix(txt, "version="); ok {
			parsed, err := strconv.Atoi(value)
			if err == nil {
				version = parsed
			}
		}
	}
	if version != wantVersion {
		return Relay{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return Relay{}, false
	}

	return Relay{
		Instance: entry.Instance,
		Address:  net.JoinHostPort(host, strconv.Itoa(entry.Port)),
		Version:  version,
	}, true
}
