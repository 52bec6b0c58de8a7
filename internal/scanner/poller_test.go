package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xsamyy/killerwhale/internal/ledger"
)

type fakeRPC struct {
	endpoint string

	mu     sync.Mutex
	tip    uint64
	tipErr error
	blocks map[uint64]*ledger.Block
	errs   map[uint64]error
	calls  []uint64
}

func newFakeRPC(endpoint string, tip uint64) *fakeRPC {
	return &fakeRPC{
		endpoint: endpoint,
		tip:      tip,
		blocks:   map[uint64]*ledger.Block{},
		errs:     map[uint64]error{},
	}
}

func (f *fakeRPC) Endpoint() string { return f.endpoint }

func (f *fakeRPC) GetSlot(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, f.tipErr
}

func (f *fakeRPC) GetBlock(_ context.Context, slot uint64) (*ledger.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slot)
	if err := f.errs[slot]; err != nil {
		return nil, err
	}
	return f.blocks[slot], nil
}

func (f *fakeRPC) addBlocks(slots ...uint64) {
	for _, s := range slots {
		f.blocks[s] = &ledger.Block{Slot: s, Transactions: []ledger.Transaction{{Slot: s, Signature: fmt.Sprintf("sig%d", s)}}}
	}
}

func (f *fakeRPC) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingHandler captures the cursor seen while each block is handled.
type recordingHandler struct {
	state   *ScannerState
	slots   []uint64
	cursors []uint64
}

func (h *recordingHandler) HandleBlock(_ context.Context, b *ledger.Block) {
	h.slots = append(h.slots, b.Slot)
	h.cursors = append(h.cursors, h.state.Cursor())
}

type staticHint struct {
	slot uint64
	ok   bool
}

func (h staticHint) Latest(time.Duration) (uint64, bool) { return h.slot, h.ok }

var testCfg = PollerConfig{LagBound: 50, SafetyMargin: 5, MaxPendingAttempts: 3}

func newTestPoller(t *testing.T, start uint64, endpoints []RPC, opts ...PollerOption) (*Poller, *ScannerState, *recordingHandler) {
	t.Helper()
	state := NewScannerState(start)
	h := &recordingHandler{state: state}
	p, err := NewPoller(state, endpoints, h, testCfg, opts...)
	require.NoError(t, err)
	return p, state, h
}

func TestPoller_ProcessesUntilIdle(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 105)
	rpc.addBlocks(101, 102, 104, 105) // 103 skipped by the leader
	p, state, h := newTestPoller(t, 100, []RPC{rpc})
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 6; i++ {
		res, err := p.Advance(ctx)
		require.NoError(t, err)
		outcomes = append(outcomes, res.Outcome)
	}

	assert.Equal(t, []Outcome{
		OutcomeProcessed, OutcomeProcessed, OutcomeEmpty, OutcomeProcessed, OutcomeProcessed, OutcomeIdle,
	}, outcomes)
	assert.Equal(t, uint64(105), state.Cursor())
	assert.Equal(t, []uint64{101, 102, 104, 105}, h.slots)
	// The cursor only moves after the handler returns.
	assert.Equal(t, []uint64{100, 101, 103, 104}, h.cursors)
}

func TestPoller_IdleDoesNotFetch(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 100)
	p, state, _ := newTestPoller(t, 100, []RPC{rpc})

	res, err := p.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, res.Outcome)
	assert.Equal(t, uint64(100), state.Cursor())
	assert.Zero(t, rpc.callCount())
}

func TestPoller_WarpsWhenLagExceedsBound(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 1000)
	rpc.addBlocks(996)
	p, state, h := newTestPoller(t, 100, []RPC{rpc})
	ctx := context.Background()

	res, err := p.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWarped, res.Outcome)
	assert.Equal(t, uint64(995), state.Cursor())
	assert.Nil(t, res.Block)
	assert.Zero(t, rpc.callCount(), "warp fetches nothing")

	res, err = p.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, []uint64{996}, h.slots)
}

func TestPoller_NoWarpWithinBound(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 150)
	rpc.addBlocks(101)
	p, state, _ := newTestPoller(t, 100, []RPC{rpc})

	res, err := p.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome, "lag of exactly the bound does not warp")
	assert.Equal(t, uint64(101), state.Cursor())
}

func TestPollerConfig_Validate(t *testing.T) {
	assert.NoError(t, testCfg.Validate())
	assert.Error(t, PollerConfig{LagBound: 10, SafetyMargin: 10}.Validate())
	assert.Error(t, PollerConfig{}.Validate())

	_, err := NewPoller(NewScannerState(0), nil, nil, testCfg)
	assert.Error(t, err)
}

func TestPoller_FallsBackToSecondary(t *testing.T) {
	primary := newFakeRPC("https://primary.example.com", 105)
	primary.errs[101] = errors.New("connection reset")
	secondary := newFakeRPC("https://secondary.example.com", 105)
	secondary.addBlocks(101)

	p, state, h := newTestPoller(t, 100, []RPC{primary, secondary})
	res, err := p.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, uint64(101), state.Cursor())
	assert.Equal(t, []uint64{101}, h.slots)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestPoller_SkipsAfterAllEndpointsFail(t *testing.T) {
	primary := newFakeRPC("https://primary.example.com", 105)
	primary.errs[101] = errors.New("timeout")
	secondary := newFakeRPC("https://secondary.example.com", 105)
	secondary.errs[101] = errors.New("503")
	secondary.addBlocks(102)

	p, state, h := newTestPoller(t, 100, []RPC{primary, secondary})
	ctx := context.Background()

	res, err := p.Advance(ctx)
	require.ErrorIs(t, err, ErrRPCExhausted)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, uint64(101), res.Slot)
	assert.Equal(t, uint64(101), state.Cursor(), "skip-and-advance")
	assert.Empty(t, h.slots)

	res, err = p.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, []uint64{102}, h.slots)
}

func TestPoller_PendingThenExhausted(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 105)
	rpc.errs[101] = fmt.Errorf("getBlock: %w", ledger.ErrBlockNotAvailable)
	p, state, _ := newTestPoller(t, 100, []RPC{rpc})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, res.Outcome)
		assert.Equal(t, uint64(100), state.Cursor())
	}

	res, err := p.Advance(ctx)
	require.ErrorIs(t, err, ErrRPCExhausted)
	assert.ErrorIs(t, err, ledger.ErrBlockNotAvailable)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, uint64(101), state.Cursor())
}

func TestPoller_PendingClearsWhenBlockArrives(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 105)
	rpc.errs[101] = ledger.ErrBlockNotAvailable
	p, state, _ := newTestPoller(t, 100, []RPC{rpc})
	ctx := context.Background()

	res, _ := p.Advance(ctx)
	assert.Equal(t, OutcomePending, res.Outcome)

	rpc.mu.Lock()
	delete(rpc.errs, 101)
	rpc.mu.Unlock()
	rpc.addBlocks(101)

	res, err := p.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, uint64(101), state.Cursor())
	assert.Zero(t, p.pendingAttempts)
}

func TestPoller_TipUnavailable(t *testing.T) {
	primary := newFakeRPC("https://primary.example.com", 0)
	primary.tipErr = errors.New("down")
	secondary := newFakeRPC("https://secondary.example.com", 0)
	secondary.tipErr = errors.New("down")

	p, state, _ := newTestPoller(t, 100, []RPC{primary, secondary})
	res, err := p.Advance(context.Background())
	require.ErrorIs(t, err, ErrTipUnavailable)
	assert.Equal(t, OutcomeTipUnavailable, res.Outcome)
	assert.Equal(t, uint64(100), state.Cursor())
	assert.Zero(t, primary.callCount())
}

func TestPoller_TipFromHint(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 0)
	rpc.tipErr = errors.New("down")
	rpc.addBlocks(101)

	p, _, _ := newTestPoller(t, 100, []RPC{rpc}, WithTipHint(staticHint{slot: 101, ok: true}))
	res, err := p.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, uint64(101), res.Tip)
}

func TestPoller_CancelledMidBlockKeepsCursor(t *testing.T) {
	rpc := newFakeRPC("https://rpc.example.com", 105)
	rpc.addBlocks(101)
	state := NewScannerState(100)

	ctx, cancel := context.WithCancel(context.Background())
	p, err := NewPoller(state, []RPC{rpc}, handlerFunc(func(context.Context, *ledger.Block) { cancel() }), testCfg)
	require.NoError(t, err)

	_, err = p.Advance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(100), state.Cursor())
}

type handlerFunc func(context.Context, *ledger.Block)

func (f handlerFunc) HandleBlock(ctx context.Context, b *ledger.Block) { f(ctx, b) }

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "mainnet.helius-rpc.com", endpointLabel("https://mainnet.helius-rpc.com/?api-key=secret"))
	assert.Equal(t, "rpc.example.com:8899", endpointLabel("http://rpc.example.com:8899/abc/def"))
	assert.Equal(t, "unknown", endpointLabel("not a url"))
}

func TestScannerState(t *testing.T) {
	s := NewScannerState(10)
	assert.True(t, s.Advance(10))
	assert.False(t, s.Advance(10), "stale from is ignored")
	assert.Equal(t, uint64(11), s.Cursor())

	assert.False(t, s.Warp(5))
	assert.True(t, s.Warp(50))
	assert.Equal(t, uint64(50), s.Cursor())

	s.Resync(20)
	assert.Equal(t, uint64(20), s.Cursor())
}
