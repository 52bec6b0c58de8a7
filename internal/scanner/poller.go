// Package scanner walks the ledger slot by slot and feeds every block to
// the classification pipeline.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/ledger"
)

var (
	// ErrRPCExhausted: every endpoint failed for a slot. The slot was skipped.
	ErrRPCExhausted = errors.New("all rpc endpoints failed")

	// ErrTipUnavailable: no endpoint could report the ledger tip.
	ErrTipUnavailable = errors.New("ledger tip unavailable")
)

// Outcome is the result kind of one Advance call.
type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeEmpty          Outcome = "empty"
	OutcomeSkipped        Outcome = "skipped"
	OutcomePending        Outcome = "pending"
	OutcomeIdle           Outcome = "idle"
	OutcomeWarped         Outcome = "warped"
	OutcomeTipUnavailable Outcome = "tip-unavailable"
	OutcomeResynced       Outcome = "resynced"
)

// Moved reports whether the outcome changed the cursor.
func (o Outcome) Moved() bool {
	switch o {
	case OutcomeProcessed, OutcomeEmpty, OutcomeSkipped, OutcomeWarped, OutcomeResynced:
		return true
	}
	return false
}

// RPC is one ledger endpoint.
type RPC interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, slot uint64) (*ledger.Block, error)
	Endpoint() string
}

// TipHint is an optional secondary tip source, used when every RPC
// endpoint fails getSlot.
type TipHint interface {
	Latest(maxAge time.Duration) (uint64, bool)
}

// BlockHandler consumes a fetched block. It must not fail: whatever it
// cannot handle it logs and drops.
type BlockHandler interface {
	HandleBlock(ctx context.Context, block *ledger.Block)
}

// FetchObserver receives per-endpoint getBlock timings.
type FetchObserver interface {
	BlockFetched(endpoint string, d time.Duration, err error)
}

// Result describes one Advance call.
type Result struct {
	Outcome Outcome
	Slot    uint64 // slot the call worked on, zero for idle/warp
	Cursor  uint64 // cursor after the call
	Tip     uint64
	Block   *ledger.Block
}

// PollerConfig bounds lag handling.
type PollerConfig struct {
	LagBound           uint64
	SafetyMargin       uint64
	MaxPendingAttempts int
	TipMaxAge          time.Duration
}

// Validate rejects configurations where a warp could move the cursor back.
func (c PollerConfig) Validate() error {
	if c.LagBound == 0 {
		return errors.New("lag bound must be positive")
	}
	if c.SafetyMargin >= c.LagBound {
		return fmt.Errorf("safety margin (%d) must be below lag bound (%d)", c.SafetyMargin, c.LagBound)
	}
	return nil
}

// Poller owns the fetch side of the scan loop.
type Poller struct {
	state     *ScannerState
	endpoints []RPC
	labels    []string
	handler   BlockHandler
	hint      TipHint
	cfg       PollerConfig
	obs       FetchObserver
	log       *zap.SugaredLogger

	pendingSlot     uint64
	pendingAttempts int
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTipHint adds a fallback tip source.
func WithTipHint(h TipHint) PollerOption { return func(p *Poller) { p.hint = h } }

// WithFetchObserver reports getBlock timings.
func WithFetchObserver(o FetchObserver) PollerOption { return func(p *Poller) { p.obs = o } }

// WithPollerLogger sets the logger.
func WithPollerLogger(l *zap.SugaredLogger) PollerOption { return func(p *Poller) { p.log = l } }

// NewPoller returns a poller over endpoints, primary first.
func NewPoller(state *ScannerState, endpoints []RPC, handler BlockHandler, cfg PollerConfig, opts ...PollerOption) (*Poller, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one rpc endpoint is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPendingAttempts <= 0 {
		cfg.MaxPendingAttempts = 5
	}
	if cfg.TipMaxAge <= 0 {
		cfg.TipMaxAge = 5 * time.Second
	}
	p := &Poller{
		state:     state,
		endpoints: endpoints,
		handler:   handler,
		cfg:       cfg,
		log:       zap.NewNop().Sugar(),
	}
	for _, e := range endpoints {
		p.labels = append(p.labels, endpointLabel(e.Endpoint()))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// endpointLabel strips paths and query strings, which often carry API keys.
func endpointLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// Advance performs one step: warp, idle, or resolve slot cursor+1.
// The returned error is non-nil only when the caller should back off.
func (p *Poller) Advance(ctx context.Context) (Result, error) {
	tip, err := p.tip(ctx)
	cursor := p.state.Cursor()
	if err != nil {
		return Result{Outcome: OutcomeTipUnavailable, Cursor: cursor}, err
	}

	if tip > cursor && tip-cursor > p.cfg.LagBound {
		target := tip - p.cfg.SafetyMargin
		if p.state.Warp(target) {
			p.log.Infow("lag bound exceeded, warping", "from", cursor, "to", target, "tip", tip, "skipped", target-cursor)
		}
		return Result{Outcome: OutcomeWarped, Cursor: p.state.Cursor(), Tip: tip}, nil
	}
	if tip <= cursor {
		return Result{Outcome: OutcomeIdle, Cursor: cursor, Tip: tip}, nil
	}

	slot := cursor + 1
	block, pending, err := p.fetch(ctx, slot)
	if ctx.Err() != nil {
		return Result{Outcome: OutcomeIdle, Cursor: cursor, Tip: tip}, ctx.Err()
	}

	if pending && err == nil {
		return Result{Outcome: OutcomePending, Slot: slot, Cursor: cursor, Tip: tip}, nil
	}
	if err != nil {
		p.state.Advance(cursor)
		p.resetPending()
		return Result{Outcome: OutcomeSkipped, Slot: slot, Cursor: p.state.Cursor(), Tip: tip},
			fmt.Errorf("slot %d: %w: %w", slot, ErrRPCExhausted, err)
	}

	p.resetPending()
	if block == nil {
		p.state.Advance(cursor)
		return Result{Outcome: OutcomeEmpty, Slot: slot, Cursor: p.state.Cursor(), Tip: tip}, nil
	}

	if p.handler != nil {
		p.handler.HandleBlock(ctx, block)
		if ctx.Err() != nil {
			// Interrupted mid-block: leave the slot for the next run.
			return Result{Outcome: OutcomeIdle, Cursor: cursor, Tip: tip}, ctx.Err()
		}
	}
	p.state.Advance(cursor)
	return Result{Outcome: OutcomeProcessed, Slot: slot, Cursor: p.state.Cursor(), Tip: tip, Block: block}, nil
}

func (p *Poller) tip(ctx context.Context) (uint64, error) {
	var errs []error
	for i, e := range p.endpoints {
		tip, err := e.GetSlot(ctx)
		if err == nil {
			return tip, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.labels[i], err))
	}
	if p.hint != nil {
		if tip, ok := p.hint.Latest(p.cfg.TipMaxAge); ok {
			return tip, nil
		}
	}
	return 0, fmt.Errorf("%w: %w", ErrTipUnavailable, errors.Join(errs...))
}

// fetch tries every endpoint in order. pending is true when the block is
// expected to appear and the attempt budget for this slot is not spent.
func (p *Poller) fetch(ctx context.Context, slot uint64) (block *ledger.Block, pending bool, err error) {
	var errs []error
	notAvailable := false

	for i, e := range p.endpoints {
		start := time.Now()
		b, ferr := e.GetBlock(ctx, slot)
		if p.obs != nil {
			p.obs.BlockFetched(p.labels[i], time.Since(start), ferr)
		}
		if ferr == nil {
			return b, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if errors.Is(ferr, ledger.ErrBlockNotAvailable) {
			notAvailable = true
		}
		p.log.Debugw("getBlock failed", "endpoint", p.labels[i], "slot", slot, "error", ferr)
		errs = append(errs, fmt.Errorf("%s: %w", p.labels[i], ferr))
	}

	if notAvailable {
		if p.pendingSlot != slot {
			p.pendingSlot, p.pendingAttempts = slot, 0
		}
		p.pendingAttempts++
		if p.pendingAttempts < p.cfg.MaxPendingAttempts {
			return nil, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}

func (p *Poller) resetPending() {
	p.pendingSlot, p.pendingAttempts = 0, 0
}
