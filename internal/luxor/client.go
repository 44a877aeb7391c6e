// Package luxor talks to Luxor landscape-lighting controllers over their
// HTTP/JSON API.
//
// A Client owns the conversation with one controller: every request goes
// through a serial queue, group/theme/color lists are cached for a short
// window, and a poll loop keeps the cache warm and notifies registered
// callbacks when tracked values change. The differences between the ZD, ZDC
// and ZDTWO firmware generations live behind the Dialect interface.
package luxor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/metrics"
	"github.com/tagyoureit/luxord/internal/queue"
)

const (
	endpointControllerName  = "ControllerName"
	endpointGroupListGet    = "GroupListGet"
	endpointThemeListGet    = "ThemeListGet"
	endpointColorListGet    = "ColorListGet"
	endpointColorListSet    = "ColorListSet"
	endpointIlluminateGroup = "IlluminateGroup"
	endpointIlluminateTheme = "IlluminateTheme"
	endpointIlluminateAll   = "IlluminateAll"
	endpointExtinguishAll   = "ExtinguishAll"
	endpointGroupListEdit   = "GroupListEdit"
)

// Defaults for Options.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultCacheTTL     = 2 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultRefreshDelay = 250 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	IP   string
	Name string

	Timeout      time.Duration // per-request HTTP timeout
	CacheTTL     time.Duration // how long fetched lists are served without a request
	PollInterval time.Duration // steady-state poll cadence
	RefreshDelay time.Duration // delay of the one-shot refresh after a mutation

	// NoAllThemes suppresses the synthetic "illuminate all"/"extinguish all" themes.
	NoAllThemes bool

	// Queue serializes requests. When nil the client creates its own and
	// drains it from Run.
	Queue    *queue.Queue
	Cooldown time.Duration

	HTTPClient *http.Client
	Logger     *zerolog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

func (o *Options) setDefaults() {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RefreshDelay == 0 {
		o.RefreshDelay = DefaultRefreshDelay
	}
	if o.Name == "" {
		o.Name = o.IP
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Client is the connection to one controller.
type Client struct {
	opts       Options
	dialect    Dialect
	httpClient *http.Client
	queue      *queue.Queue
	ownsQueue  bool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	callbacks  *Callbacks
	now        func() time.Time

	mu       sync.RWMutex
	groups   map[int]*Group
	themes   []Theme // controller themes only
	colors   map[int]Color
	groupsAt time.Time
	themesAt time.Time
	colorsAt time.Time

	refresh chan struct{}
}

func newClient(dialect Dialect, opts Options) *Client {
	opts.setDefaults()

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("controller", opts.Name).Str("dialect", string(dialect.Kind())).Logger()

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	q := opts.Queue
	ownsQueue := false
	if q == nil {
		q = queue.New(opts.Cooldown)
		ownsQueue = true
	}

	return &Client{
		opts:       opts,
		dialect:    dialect,
		httpClient: httpClient,
		queue:      q,
		ownsQueue:  ownsQueue,
		logger:     logger,
		metrics:    opts.Metrics,
		callbacks:  NewCallbacks(),
		now:        opts.Now,
		groups:     make(map[int]*Group),
		colors:     make(map[int]Color),
		refresh:    make(chan struct{}, 1),
	}
}

// Name returns the controller name.
func (c *Client) Name() string {
	return c.opts.Name
}

// IP returns the controller address.
func (c *Client) IP() string {
	return c.opts.IP
}

// Kind returns the controller dialect.
func (c *Client) Kind() Kind {
	return c.dialect.Kind()
}

// SupportsColor reports whether groups on this controller have colors.
func (c *Client) SupportsColor() bool {
	return c.dialect.SupportsColor()
}

// Callbacks returns the client's callback registry.
func (c *Client) Callbacks() *Callbacks {
	return c.callbacks
}

// Queue returns the request queue used by the client.
func (c *Client) Queue() *queue.Queue {
	return c.queue
}

// Close releases idle HTTP connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Snapshot returns a copy of the cached state, synthetic themes included.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Groups: sortedGroups(c.groups),
		Themes: c.themeListLocked(),
		Colors: sortedColors(c.colors),
	}
}

func (c *Client) themeListLocked() []Theme {
	themes := make([]Theme, 0, len(c.themes)+2)
	themes = append(themes, c.themes...)
	if !c.opts.NoAllThemes {
		themes = append(themes,
			Theme{ThemeIndex: ThemeIlluminateAll, Name: "Illuminate all", Type: TypeTheme, Synthetic: true},
			Theme{ThemeIndex: ThemeExtinguishAll, Name: "Extinguish all", Type: TypeTheme, Synthetic: true},
		)
	}
	return themes
}

func (c *Client) url(endpoint string) string {
	return fmt.Sprintf("http://%s/%s.json", c.opts.IP, endpoint)
}

// reply is the tagged outcome of one exchange. resp is only set for
// SourceNetwork.
type reply struct {
	resp   *response
	source Source
	reason string
}

// exchange performs one controller request. Cacheable list endpoints are
// answered from cache while fresh, without touching the queue.
func (c *Client) exchange(ctx context.Context, endpoint string, body any, tolerateReset bool) (reply, error) {
	if rep, ok := c.fromCache(endpoint); ok {
		return rep, nil
	}

	return queue.Do(ctx, c.queue, func(ctx context.Context) (reply, error) {
		// another request may have refreshed the cache while this one waited
		if rep, ok := c.fromCache(endpoint); ok {
			return rep, nil
		}
		return c.post(ctx, endpoint, body, tolerateReset)
	})
}

func (c *Client) fromCache(endpoint string) (reply, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var at time.Time
	switch endpoint {
	case endpointGroupListGet:
		at = c.groupsAt
	case endpointThemeListGet:
		at = c.themesAt
	case endpointColorListGet:
		at = c.colorsAt
	default:
		return reply{}, false
	}

	if !c.fresh(at) {
		return reply{}, false
	}
	c.logger.Debug().Str("endpoint", endpoint).Msg("Serving from cache")
	return reply{source: SourceCache, reason: "Cached"}, true
}

func (c *Client) fresh(at time.Time) bool {
	return !at.IsZero() && c.now().Sub(at) < c.opts.CacheTTL
}

func (c *Client) post(ctx context.Context, endpoint string, body any, tolerateReset bool) (reply, error) {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return reply{}, fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), bytes.NewReader(payload))
	if err != nil {
		return reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportFailure(endpoint, err, tolerateReset)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.ObserveTransportError(endpoint)
		return reply{}, fmt.Errorf("%s returned HTTP %d: %s", endpoint, resp.StatusCode, string(text))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if isTimeout(err) || (tolerateReset && isConnectionReset(err)) {
			return c.transportFailure(endpoint, err, tolerateReset)
		}
		c.metrics.ObserveTransportError(endpoint)
		return reply{}, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	text := StatusText(r.Status)
	c.metrics.ObserveRequest(endpoint, text)
	if r.Status != StatusOK {
		return c.fallback(endpoint, text), nil
	}

	r.StatusStr = text
	return reply{resp: &r, source: SourceNetwork}, nil
}

func (c *Client) transportFailure(endpoint string, err error, tolerateReset bool) (reply, error) {
	switch {
	case tolerateReset && isConnectionReset(err):
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Connection reset by controller, treating as success")
		c.metrics.ObserveResetSuppressed()
		return reply{resp: &response{Status: StatusOK, StatusStr: statusTextOK}, source: SourceNetwork}, nil
	case isTimeout(err):
		return c.fallback(endpoint, "timeout: "+err.Error()), nil
	}

	if errors.Is(err, context.Canceled) {
		c.logger.Debug().Str("endpoint", endpoint).Msg("Controller request cancelled")
		return reply{}, fmt.Errorf("failed to call %s on %s: %w", endpoint, c.opts.Name, err)
	}

	c.metrics.ObserveTransportError(endpoint)
	c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Controller request failed")
	return reply{}, fmt.Errorf("failed to call %s on %s: %w", endpoint, c.opts.Name, err)
}

// fallback answers a failed request with last-known state instead of an error.
func (c *Client) fallback(endpoint, reason string) reply {
	c.logger.Warn().
		Str("endpoint", endpoint).
		Str("reason", reason).
		Msg("Controller request failed, using last known state")
	c.metrics.ObserveFallback(endpoint)
	return reply{source: SourceFallback, reason: reason}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
