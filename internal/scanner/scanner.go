package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/util"
)

// CursorStore persists the cursor and carries operator resync requests.
type CursorStore interface {
	SaveCursor(ctx context.Context, slot uint64) error
	TakeResync(ctx context.Context) (slot uint64, ok bool, err error)
}

// SlotObserver receives the outcome of every loop iteration.
type SlotObserver interface {
	SlotAdvanced(outcome string, cursor, tip uint64)
}

// Scanner drives the Poller until the context ends.
type Scanner struct {
	state  *ScannerState
	poller *Poller
	store  CursorStore
	obs    SlotObserver
	log    *zap.SugaredLogger

	idle    time.Duration
	pending time.Duration
	backoff *util.Backoff
	sleep   func(ctx context.Context, d time.Duration)

	lastTip atomic.Uint64
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithCursorStore persists the cursor after each move and applies resyncs.
func WithCursorStore(s CursorStore) ScannerOption { return func(sc *Scanner) { sc.store = s } }

func WithSlotObserver(o SlotObserver) ScannerOption { return func(sc *Scanner) { sc.obs = o } }

func WithScannerLogger(l *zap.SugaredLogger) ScannerOption { return func(sc *Scanner) { sc.log = l } }

// WithIdleInterval sets the sleep when the cursor has caught up.
func WithIdleInterval(d time.Duration) ScannerOption {
	return func(sc *Scanner) {
		if d > 0 {
			sc.idle = d
		}
	}
}

// NewScanner returns the run loop around poller.
func NewScanner(state *ScannerState, poller *Poller, opts ...ScannerOption) *Scanner {
	sc := &Scanner{
		state:   state,
		poller:  poller,
		log:     zap.NewNop().Sugar(),
		idle:    400 * time.Millisecond,
		pending: 200 * time.Millisecond,
		backoff: util.NewBackoff(500*time.Millisecond, 10*time.Second, 2.0, 0.2),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Cursor returns the current cursor.
func (sc *Scanner) Cursor() uint64 { return sc.state.Cursor() }

// LastTip returns the most recent ledger tip seen, zero before the first.
func (sc *Scanner) LastTip() uint64 { return sc.lastTip.Load() }

// Run loops until ctx is cancelled. It never returns an error for ledger
// failures; those are logged and backed off.
func (sc *Scanner) Run(ctx context.Context) {
	sc.log.Infow("scanner started", "cursor", sc.state.Cursor())
	for ctx.Err() == nil {
		sc.Step(ctx)
	}
	sc.log.Infow("scanner stopped", "cursor", sc.state.Cursor())
}

// Step runs one loop iteration including its sleep.
func (sc *Scanner) Step(ctx context.Context) Outcome {
	if sc.applyResync(ctx) {
		return OutcomeResynced
	}

	res, err := sc.poller.Advance(ctx)
	if ctx.Err() != nil {
		return res.Outcome
	}
	if res.Tip > 0 {
		sc.lastTip.Store(res.Tip)
	}
	sc.observe(res.Outcome, res.Cursor)
	if res.Outcome.Moved() {
		sc.persist(ctx, res.Cursor)
	}

	switch {
	case err != nil:
		wait := sc.backoff.Next()
		if errors.Is(err, ErrRPCExhausted) {
			sc.log.Warnw("slot skipped", "slot", res.Slot, "error", err, "retry_in", wait)
		} else {
			sc.log.Warnw("advance failed", "outcome", res.Outcome, "error", err, "retry_in", wait)
		}
		sc.sleep(ctx, wait)
	case res.Outcome == OutcomeIdle:
		sc.backoff.Reset()
		sc.sleep(ctx, sc.idle)
	case res.Outcome == OutcomePending:
		sc.sleep(ctx, sc.pending)
	default:
		sc.backoff.Reset()
	}
	return res.Outcome
}

func (sc *Scanner) applyResync(ctx context.Context) bool {
	if sc.store == nil {
		return false
	}
	slot, ok, err := sc.store.TakeResync(ctx)
	if err != nil {
		sc.log.Warnw("resync lookup failed", "error", err)
		return false
	}
	if !ok {
		return false
	}
	from := sc.state.Cursor()
	sc.state.Resync(slot)
	sc.log.Infow("cursor resynced", "from", from, "to", slot)
	sc.observe(OutcomeResynced, slot)
	sc.persist(ctx, slot)
	return true
}

func (sc *Scanner) observe(o Outcome, cursor uint64) {
	if sc.obs != nil {
		sc.obs.SlotAdvanced(string(o), cursor, sc.lastTip.Load())
	}
}

func (sc *Scanner) persist(ctx context.Context, cursor uint64) {
	if sc.store == nil {
		return
	}
	if err := sc.store.SaveCursor(ctx, cursor); err != nil {
		sc.log.Warnw("save cursor failed", "cursor", cursor, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
