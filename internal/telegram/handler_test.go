package telegram

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/0xsamyy/killerwhale/internal/health"
	"github.com/0xsamyy/killerwhale/internal/store"
)

const (
	admin = int64(42)
	user  = int64(7)
	bonk  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	usdc  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type memStore struct {
	watch  map[int64]map[string]bool
	resync []uint64
	alpha  []store.AlphaCandidate
	err    error
}

func newMemStore() *memStore { return &memStore{watch: map[int64]map[string]bool{}} }

func (m *memStore) Watch(_ context.Context, mint string, chatID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.watch[chatID] == nil {
		m.watch[chatID] = map[string]bool{}
	}
	if m.watch[chatID][mint] {
		return false, nil
	}
	m.watch[chatID][mint] = true
	return true, nil
}

func (m *memStore) Unwatch(_ context.Context, mint string, chatID int64) (bool, error) {
	if !m.watch[chatID][mint] {
		return false, nil
	}
	delete(m.watch[chatID], mint)
	return true, nil
}

func (m *memStore) WatchedBy(_ context.Context, chatID int64) ([]string, error) {
	var out []string
	for mint := range m.watch[chatID] {
		out = append(out, mint)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) RequestResync(_ context.Context, slot uint64) error {
	m.resync = append(m.resync, slot)
	return nil
}

func (m *memStore) TopAlpha(_ context.Context, limit int) ([]store.AlphaCandidate, error) {
	if len(m.alpha) > limit {
		return m.alpha[:limit], nil
	}
	return m.alpha, nil
}

type staticReport health.Report

func (r staticReport) Snapshot(context.Context) health.Report { return health.Report(r) }

type sent struct {
	chat int64
	html string
}

func newTestHandler(st Store, killFn func()) (*Handler, *[]sent) {
	h := New(nil, st, staticReport{Cursor: 100, Tip: 105, Lag: 5, Healthy: true, SlotFeed: "open", Dedupe: "ok", Price: 150, PriceSource: "binance"}, admin, killFn, nil)
	var out []sent
	h.reply = func(_ context.Context, chatID int64, html string) { out = append(out, sent{chatID, html}) }
	return h, &out
}

func last(out *[]sent) sent { return (*out)[len(*out)-1] }

func TestHandler_WatchLifecycle(t *testing.T) {
	st := newMemStore()
	h, out := newTestHandler(st, nil)
	ctx := context.Background()

	h.handleCommand(ctx, user, "/watch "+bonk)
	assert.Contains(t, last(out).html, "watching <code>"+bonk)
	assert.True(t, st.watch[user][bonk])

	h.handleCommand(ctx, user, "/watch@killerwhale_bot "+bonk)
	assert.Contains(t, last(out).html, "already watching")

	h.handleCommand(ctx, user, "/WATCH "+usdc)
	h.handleCommand(ctx, user, "/watching")
	assert.Contains(t, last(out).html, "<code>"+bonk+"</code>")
	assert.Contains(t, last(out).html, "<code>"+usdc+"</code>")

	h.handleCommand(ctx, user, "/unwatch "+bonk)
	assert.Contains(t, last(out).html, "stopped watching")
	h.handleCommand(ctx, user, "/unwatch "+bonk)
	assert.Contains(t, last(out).html, "not watching")

	for _, s := range *out {
		assert.Equal(t, user, s.chat)
	}
}

func TestHandler_WatchValidation(t *testing.T) {
	st := newMemStore()
	h, out := newTestHandler(st, nil)
	ctx := context.Background()

	h.handleCommand(ctx, user, "/watch")
	assert.Contains(t, last(out).html, "usage")

	h.handleCommand(ctx, user, "/watch <b>notamint</b>")
	assert.Contains(t, last(out).html, "&lt;b&gt;notamint&lt;/b&gt;")
	assert.Contains(t, last(out).html, "is not a valid mint")
	assert.Empty(t, st.watch[user])

	h.handleCommand(ctx, user, "/unwatch nope")
	assert.Contains(t, last(out).html, "usage")

	st.err = errors.New("bolt: database not open")
	h.handleCommand(ctx, user, "/watch "+bonk)
	assert.Contains(t, last(out).html, "watch failed")
}

func TestHandler_WatchLimit(t *testing.T) {
	st := newMemStore()
	st.watch[user] = map[string]bool{}
	for i := 0; i < maxWatchPerChat; i++ {
		st.watch[user][string(rune('a'+i%26))+string(rune('A'+i/26))] = true
	}
	h, out := newTestHandler(st, nil)

	h.handleCommand(context.Background(), user, "/watch "+bonk)
	assert.Contains(t, last(out).html, "watchlist full")
	assert.False(t, st.watch[user][bonk])
}

func TestHandler_AdminOnly(t *testing.T) {
	st := newMemStore()
	var killed atomic.Bool
	h, out := newTestHandler(st, func() { killed.Store(true) })
	ctx := context.Background()

	for _, cmd := range []string{"/health", "/resync 123", "/kill"} {
		h.handleCommand(ctx, user, cmd)
	}
	assert.Empty(t, *out, "admin commands are ignored for other chats")
	assert.Empty(t, st.resync)

	h.handleCommand(ctx, admin, "/health")
	assert.Contains(t, last(out).html, "Health Report")
	assert.Contains(t, last(out).html, "lag <code>5</code>")
	assert.Contains(t, last(out).html, "via binance")

	h.handleCommand(ctx, admin, "/resync abc")
	assert.Contains(t, last(out).html, "usage")
	h.handleCommand(ctx, admin, "/resync 250000000")
	assert.Equal(t, []uint64{250000000}, st.resync)

	h.handleCommand(ctx, admin, "/kill")
	assert.Contains(t, last(out).html, "shutting down")
	assert.Eventually(t, killed.Load, time.Second, 10*time.Millisecond)
}

func TestHandler_HelpAndUnknown(t *testing.T) {
	h, out := newTestHandler(newMemStore(), nil)
	ctx := context.Background()

	h.handleCommand(ctx, user, "/help")
	assert.Contains(t, last(out).html, "/watch")
	assert.NotContains(t, last(out).html, "/resync")

	h.handleCommand(ctx, admin, "/help")
	assert.Contains(t, last(out).html, "/resync")

	h.handleCommand(ctx, user, "/frobnicate")
	assert.Contains(t, last(out).html, "unknown command")
}

func TestHandler_Alpha(t *testing.T) {
	st := newMemStore()
	h, out := newTestHandler(st, nil)
	ctx := context.Background()

	h.handleCommand(ctx, user, "/alpha")
	assert.Contains(t, last(out).html, "No alpha candidates")

	st.alpha = []store.AlphaCandidate{
		{Mint: bonk, Symbol: "BONK", Hits: 4, LastReceived: "1234.567891", LastSlot: 99},
		{Mint: usdc, Hits: 1, LastReceived: "15", LastSlot: 98},
	}
	h.handleCommand(ctx, user, "/alpha 5")
	msg := last(out).html
	assert.Contains(t, msg, "1. <b>BONK</b>")
	assert.Contains(t, msg, "hits 4, last +1234.5679 at slot 99")
	assert.Contains(t, msg, "2. <b>EPjF...Dt1v</b>")

	h.handleCommand(ctx, user, "/alpha 0")
	assert.Contains(t, last(out).html, "usage")

	h.handleCommand(ctx, user, "/alpha 1")
	assert.NotContains(t, last(out).html, "EPjF")
}
