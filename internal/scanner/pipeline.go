package scanner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/classifier"
	"github.com/0xsamyy/killerwhale/internal/dedupe"
	"github.com/0xsamyy/killerwhale/internal/ledger"
	"github.com/0xsamyy/killerwhale/internal/price"
	"github.com/0xsamyy/killerwhale/internal/store"
)

// QuoteSource never fails; see price.Oracle.
type QuoteSource interface {
	Quote(ctx context.Context) price.Quote
}

// Watchlist is the store surface the pipeline reads and writes.
type Watchlist interface {
	Subscribers(ctx context.Context, mint string) ([]int64, error)
	RecordAlpha(ctx context.Context, s store.AlphaSighting) (store.AlphaCandidate, error)
}

// SymbolResolver names a mint. It falls back to a short address.
type SymbolResolver interface {
	Symbol(ctx context.Context, mint string) string
}

// Alerter queues an event for delivery without blocking.
type Alerter interface {
	Dispatch(ev *classifier.Event, watchers ...int64) bool
}

// Archive persists events. Failures are handled inside.
type Archive interface {
	Record(ctx context.Context, ev *classifier.Event)
}

// EventObserver counts pipeline decisions.
type EventObserver interface {
	EventClassified(signal, tag string)
	DuplicateSuppressed()
}

// Pipeline classifies every transaction of a block and routes the events.
// It implements BlockHandler.
type Pipeline struct {
	classifier *classifier.Classifier
	quotes     QuoteSource
	alerts     Alerter

	dedupe    dedupe.Filter
	watchlist Watchlist
	symbols   SymbolResolver
	archive   Archive
	obs       EventObserver
	log       *zap.SugaredLogger

	symbolTimeout time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDedupe suppresses repeated signatures.
func WithDedupe(f dedupe.Filter) PipelineOption { return func(p *Pipeline) { p.dedupe = f } }

// WithWatchlist enables alpha recording and subscriber routing.
func WithWatchlist(w Watchlist) PipelineOption { return func(p *Pipeline) { p.watchlist = w } }

func WithSymbols(r SymbolResolver) PipelineOption { return func(p *Pipeline) { p.symbols = r } }

func WithArchive(a Archive) PipelineOption { return func(p *Pipeline) { p.archive = a } }

func WithEventObserver(o EventObserver) PipelineOption { return func(p *Pipeline) { p.obs = o } }

func WithPipelineLogger(l *zap.SugaredLogger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline builds the block handler. Optional collaborators are off
// unless configured.
func NewPipeline(c *classifier.Classifier, quotes QuoteSource, alerts Alerter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		classifier:    c,
		quotes:        quotes,
		alerts:        alerts,
		log:           zap.NewNop().Sugar(),
		symbolTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleBlock fetches one quote for the block and classifies every
// transaction in ledger order.
func (p *Pipeline) HandleBlock(ctx context.Context, block *ledger.Block) {
	if block == nil || len(block.Transactions) == 0 {
		return
	}
	quote := p.quotes.Quote(ctx)

	var blockTime *time.Time
	if block.BlockTime != nil {
		t := time.Unix(*block.BlockTime, 0).UTC()
		blockTime = &t
	}

	for i := range block.Transactions {
		if ctx.Err() != nil {
			return
		}
		ev, ok := p.classifier.Classify(&block.Transactions[i], quote)
		if !ok {
			continue
		}
		ev.BlockTime = blockTime
		p.route(ctx, ev)
	}
}

func (p *Pipeline) route(ctx context.Context, ev *classifier.Event) {
	if p.dedupe != nil && !p.dedupe.FirstSeen(ctx, ev.Signature) {
		if p.obs != nil {
			p.obs.DuplicateSuppressed()
		}
		p.log.Debugw("duplicate signature suppressed", "signature", ev.Signature, "slot", ev.Slot)
		return
	}
	if p.obs != nil {
		p.obs.EventClassified(string(ev.Signal), string(ev.Tag))
	}

	var watchers []int64
	if ev.Alpha != nil {
		watchers = p.enrichAlpha(ctx, ev)
	}

	p.log.Infow("event",
		"signal", ev.Signal,
		"tag", ev.Tag,
		"sol", ev.Delta.String(),
		"usd", ev.FiatValue.StringFixed(2),
		"loud", ev.Loud,
		"slot", ev.Slot,
		"signature", ev.Signature,
		"watchers", len(watchers),
	)

	// Alpha-only events have no channel audience.
	if ev.Signal == classifier.SignalWhale || len(watchers) > 0 {
		if !p.alerts.Dispatch(ev, watchers...) {
			p.log.Warnw("alert dropped", "signature", ev.Signature)
		}
	}
	if p.archive != nil {
		p.archive.Record(ctx, ev)
	}
}

// enrichAlpha resolves the token symbol, records the sighting and returns
// the mint's subscribers.
func (p *Pipeline) enrichAlpha(ctx context.Context, ev *classifier.Event) []int64 {
	a := ev.Alpha
	if p.symbols != nil {
		sctx, cancel := context.WithTimeout(ctx, p.symbolTimeout)
		a.Symbol = p.symbols.Symbol(sctx, a.Mint)
		cancel()
	}
	if p.watchlist == nil {
		return nil
	}

	if _, err := p.watchlist.RecordAlpha(ctx, store.AlphaSighting{
		Mint:      a.Mint,
		Symbol:    a.Symbol,
		Signature: ev.Signature,
		Slot:      ev.Slot,
		Received:  a.Received.String(),
		SeenAt:    ev.DetectedAt,
	}); err != nil {
		p.log.Warnw("record alpha failed", "mint", a.Mint, "error", err)
	}

	subs, err := p.watchlist.Subscribers(ctx, a.Mint)
	if err != nil {
		p.log.Warnw("watchlist lookup failed", "mint", a.Mint, "error", err)
		return nil
	}
	return subs
}
