// Package discovery locates the lighting controller on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/luxor"
)

// ErrNoController is returned when no candidate answered as a controller.
var ErrNoController = errors.New("no controller found")

// Defaults for Options.
const (
	DefaultService      = "_http._tcp"
	DefaultMDNSTimeout  = 3 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Result is a discovered controller.
type Result struct {
	IP   string
	Name string
	Kind luxor.Kind
}

// BrowseFunc lists candidate addresses ("host" or "host:port").
type BrowseFunc func(ctx context.Context) ([]string, error)

// Options configures a Discoverer.
type Options struct {
	IP           string // probed first when set
	MDNS         bool
	Service      string
	MDNSTimeout  time.Duration
	ProbeTimeout time.Duration
	HTTPClient   *http.Client
	Logger       *zerolog.Logger

	// Browse overrides the mDNS browse.
	Browse BrowseFunc
}

// Discoverer finds a controller by probing ControllerName on candidates.
type Discoverer struct {
	opts       Options
	httpClient *http.Client
	logger     zerolog.Logger
	browse     BrowseFunc
}

// New creates a Discoverer.
func New(opts Options) *Discoverer {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.MDNSTimeout == 0 {
		opts.MDNSTimeout = DefaultMDNSTimeout
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.ProbeTimeout}
	}

	d := &Discoverer{
		opts:       opts,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "discovery").Logger(),
		browse:     opts.Browse,
	}
	if d.browse == nil {
		d.browse = d.browseMDNS
	}
	return d
}

// Discover returns the first candidate that reports a controller name.
// The configured IP is tried before mDNS.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	if d.opts.IP != "" {
		res, err := d.probe(ctx, d.opts.IP)
		if err == nil {
			return res, nil
		}
		d.logger.Warn().Err(err).Str("ip", d.opts.IP).Msg("Configured controller did not answer")
	}

	if !d.opts.MDNS {
		return Result{}, ErrNoController
	}

	candidates, err := d.browse(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to browse for controllers: %w", err)
	}
	d.logger.Debug().Int("candidates", len(candidates)).Msg("mDNS browse finished")

	for _, addr := range candidates {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if addr == d.opts.IP {
			continue
		}
		res, err := d.probe(ctx, addr)
		if err != nil {
			d.logger.Debug().Err(err).Str("ip", addr).Msg("Candidate is not a controller")
			continue
		}
		return res, nil
	}
	return Result{}, ErrNoController
}

func (d *Discoverer) probe(ctx context.Context, addr string) (Result, error) {
	name, err := luxor.ControllerName(ctx, d.httpClient, addr)
	if err != nil {
		return Result{}, err
	}

	kind := luxor.KindFromName(name, d.logger)
	d.logger.Info().
		Str("ip", addr).
		Str("name", name).
		Str("dialect", string(kind)).
		Msg("Controller found")
	return Result{IP: addr, Name: name, Kind: kind}, nil
}

func (d *Discoverer) browseMDNS(ctx context.Context) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	errc := make(chan error, 1)

	go func() {
		params := &mdns.QueryParam{
			Service:             d.opts.Service,
			Domain:              "local",
			Timeout:             d.opts.MDNSTimeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		errc <- mdns.Query(params)
		close(entries)
	}()

	seen := make(map[string]bool)
	var out []string
	for entry := range entries {
		if ctx.Err() != nil {
			// keep draining so the query goroutine can finish
			continue
		}
		if entry.AddrV4 == nil {
			continue
		}
		addr := entry.AddrV4.String()
		if entry.Port != 0 && entry.Port != 80 {
			addr = net.JoinHostPort(addr, strconv.Itoa(entry.Port))
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		d.logger.Debug().Str("name", entry.Name).Str("addr", addr).Msg("mDNS entry")
		out = append(out, addr)
	}

	if err := <-errc; err != nil {
		return out, err
	}
	return out, ctx.Err()
}
