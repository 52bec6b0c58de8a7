// Package price provides a SOL/USD quote that never fails: sources are tried
// in order and the last good value is kept when all of them are down.
package price

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultBootstrap     = 105.0
	DefaultSourceTimeout = 3 * time.Second
	SourceBootstrap      = "bootstrap"
)

// Quote is a price with provenance.
type Quote struct {
	Value     float64
	Source    string
	FetchedAt time.Time
}

// Age is how old the quote is at now. Bootstrap quotes have age zero.
func (q Quote) Age(now time.Time) time.Duration {
	if q.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(q.FetchedAt)
}

// Observer receives oracle outcomes; used for metrics.
type Observer interface {
	SourceFailed(source string)
	QuoteServed(q Quote, live bool)
}

// Option configures Oracle.
type Option func(*Oracle)

// WithSourceTimeout bounds every individual source fetch.
func WithSourceTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.sourceTimeout = d
		}
	}
}

// WithMaxAge serves the cached quote without fetching while it is younger
// than d. Zero fetches on every call.
func WithMaxAge(d time.Duration) Option {
	return func(o *Oracle) { o.maxAge = d }
}

// WithBootstrap sets the value served before any source succeeded.
func WithBootstrap(v float64) Option {
	return func(o *Oracle) {
		if Valid(v) {
			o.bootstrap = v
		}
	}
}

// WithObserver attaches an observer.
func WithObserver(obs Observer) Option {
	return func(o *Oracle) { o.obs = obs }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Oracle) { o.log = l }
}

// Oracle owns the last-known-good quote.
type Oracle struct {
	sources       []Source
	sourceTimeout time.Duration
	maxAge        time.Duration
	bootstrap     float64
	obs           Observer
	log           *zap.SugaredLogger
	now           func() time.Time

	mu   sync.RWMutex
	last *Quote
}

// NewOracle returns an oracle over sources, tried in the given order.
func NewOracle(sources []Source, opts ...Option) *Oracle {
	o := &Oracle{
		sources:       sources,
		sourceTimeout: DefaultSourceTimeout,
		bootstrap:     DefaultBootstrap,
		log:           zap.NewNop().Sugar(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Quote returns a positive quote. It never fails and returns after at most
// len(sources) * source timeout.
func (o *Oracle) Quote(ctx context.Context) Quote {
	if q, ok := o.fresh(); ok {
		return q
	}

	for _, src := range o.sources {
		if ctx.Err() != nil {
			break
		}
		sctx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
		v, err := src.Fetch(sctx)
		cancel()
		if err != nil || !Valid(v) {
			o.log.Debugw("price source failed", "source", src.Name(), "error", err)
			if o.obs != nil {
				o.obs.SourceFailed(src.Name())
			}
			continue
		}

		q := Quote{Value: v, Source: src.Name(), FetchedAt: o.now()}
		o.mu.Lock()
		o.last = &q
		o.mu.Unlock()
		if o.obs != nil {
			o.obs.QuoteServed(q, true)
		}
		return q
	}

	q := o.LastKnownGood()
	o.log.Debugw("all price sources failed, serving cached quote", "source", q.Source, "value", q.Value)
	if o.obs != nil {
		o.obs.QuoteServed(q, false)
	}
	return q
}

// Value is Quote(ctx).Value.
func (o *Oracle) Value(ctx context.Context) float64 {
	return o.Quote(ctx).Value
}

// LastKnownGood returns the cached quote or the bootstrap value, without
// fetching.
func (o *Oracle) LastKnownGood() Quote {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last != nil {
		return *o.last
	}
	return Quote{Value: o.bootstrap, Source: SourceBootstrap}
}

func (o *Oracle) fresh() (Quote, bool) {
	if o.maxAge <= 0 {
		return Quote{}, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil || o.now().Sub(o.last.FetchedAt) >= o.maxAge {
		return Quote{}, false
	}
	return *o.last, true
}
