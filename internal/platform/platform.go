// Package platform drives one controller: it discovers it, reconciles its
// groups and themes into persisted accessories and keeps those accessories
// in sync with the controller.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tagyoureit/luxord/internal/accessory"
	"github.com/tagyoureit/luxord/internal/discovery"
	"github.com/tagyoureit/luxord/internal/eventbus"
	"github.com/tagyoureit/luxord/internal/luxor"
	"github.com/tagyoureit/luxord/internal/metrics"
)

var (
	ErrNotReady         = errors.New("controller not ready")
	ErrUnknownAccessory = errors.New("unknown accessory")
	ErrThrottled        = errors.New("refresh throttled")
	ErrNotApplied       = errors.New("controller did not apply the command")
	ErrInvalidValue     = errors.New("invalid characteristic value")
	ErrPersistence      = errors.New("accessory store failed")
)

const (
	DefaultRetryInterval   = 30 * time.Second
	DefaultRefreshInterval = time.Second
)

// Discoverer finds the controller.
type Discoverer interface {
	Discover(ctx context.Context) (discovery.Result, error)
}

// Store persists accessory records.
type Store interface {
	Load() ([]accessory.Record, error)
	Apply(plan accessory.Plan) error
}

// Publisher receives platform events. *eventbus.Bus implements it.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Options configures a Platform.
type Options struct {
	Discoverer Discoverer
	Store      Store
	Bus        Publisher
	Metrics    *metrics.Metrics

	// Client is the template for the controller client; IP and (when empty)
	// Name are filled in from discovery.
	Client luxor.Options

	HideGroups bool
	Remove     []string
	RemoveAll  bool

	RetryInterval   time.Duration // pacing of discovery and sync retries
	RefreshInterval time.Duration // minimum spacing of forced refreshes
	Now             func() time.Time
}

// Platform owns the controller client and the accessory set.
type Platform struct {
	opts    Options
	retry   *rate.Limiter
	refresh *rate.Limiter

	mu         sync.RWMutex
	client     *luxor.Client
	controller discovery.Result
	records    map[string]accessory.Record
	levels     map[string]int // last non-zero brightness per group accessory

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a Platform.
func New(opts Options) *Platform {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Platform{
		opts:    opts,
		retry:   rate.NewLimiter(rate.Every(opts.RetryInterval), 1),
		refresh: rate.NewLimiter(rate.Every(opts.RefreshInterval), 1),
		records: make(map[string]accessory.Record),
		levels:  make(map[string]int),
		ready:   make(chan struct{}),
	}
}

// Run discovers the controller, reconciles accessories and keeps the client
// polling until ctx is cancelled. Controller failures are retried; a failing
// accessory store stops Run with an error wrapping ErrPersistence.
func (p *Platform) Run(ctx context.Context) error {
	res, err := p.discover(ctx)
	if err != nil {
		return nil // cancelled
	}

	clientOpts := p.opts.Client
	clientOpts.IP = res.IP
	if clientOpts.Name == "" {
		clientOpts.Name = res.Name
	}
	if clientOpts.Metrics == nil {
		clientOpts.Metrics = p.opts.Metrics
	}
	client := luxor.New(res.Kind, clientOpts)
	defer client.Close()
	p.opts.Metrics.RegisterQueueDepth(client.Queue().Len)

	p.setClient(client, res)

	p.publish(eventbus.Event{
		Type:       eventbus.EventControllerDiscovered,
		Controller: client.Name(),
		Data:       map[string]any{"ip": res.IP, "name": res.Name, "dialect": string(res.Kind)},
	})

	pollCtx, stopPolling := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(pollCtx)
	}()
	defer func() {
		stopPolling()
		<-done
	}()

	for {
		err := p.Sync(ctx)
		if err == nil {
			p.readyOnce.Do(func() { close(p.ready) })
			break
		}
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, ErrPersistence) {
			return err
		}
		log.Error().Err(err).Dur("retry_in", p.opts.RetryInterval).Msg("Accessory sync failed")
		if err := p.retry.Wait(ctx); err != nil {
			break
		}
	}

	<-ctx.Done()
	return nil
}

func (p *Platform) discover(ctx context.Context) (discovery.Result, error) {
	for {
		if err := p.retry.Wait(ctx); err != nil {
			return discovery.Result{}, err
		}
		res, err := p.opts.Discoverer.Discover(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return discovery.Result{}, ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", p.opts.RetryInterval).Msg("Controller discovery failed")
	}
}

func (p *Platform) setClient(client *luxor.Client, res discovery.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
	p.controller = res
}

// Ready is closed after the first successful sync.
func (p *Platform) Ready() <-chan struct{} {
	return p.ready
}

// IsReady reports whether the first sync has completed.
func (p *Platform) IsReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// Controller returns the discovered controller.
func (p *Platform) Controller() (discovery.Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.controller, p.client != nil
}

// Records returns the current accessories ordered by id.
func (p *Platform) Records() []accessory.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]accessory.Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

func (p *Platform) currentClient() (*luxor.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, ErrNotReady
	}
	return p.client, nil
}

// Refresh forces a poll of the controller. Calls closer together than
// RefreshInterval return ErrThrottled.
func (p *Platform) Refresh(ctx context.Context) error {
	client, err := p.currentClient()
	if err != nil {
		return err
	}
	if !p.refresh.Allow() {
		return ErrThrottled
	}
	return client.UpdateLights(ctx, true)
}

func (p *Platform) publish(e eventbus.Event) {
	if p.opts.Bus != nil {
		p.opts.Bus.Publish(e)
	}
}

func stale(source luxor.Source, what string, reason string) error {
	if source == luxor.SourceFallback {
		return fmt.Errorf("%s list is stale: %s", what, reason)
	}
	return nil
}
