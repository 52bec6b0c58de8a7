package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/util"
)

// slotNotification is a `slotSubscribe` push message.
type slotNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Slot   uint64 `json:"slot"`
			Parent uint64 `json:"parent"`
			Root   uint64 `json:"root"`
		} `json:"result"`
	} `json:"params"`
}

// SlotWatcher keeps one slotSubscribe connection open and remembers the
// newest slot it was told about. It reconnects with backoff until ctx ends.
type SlotWatcher struct {
	wss string
	log *zap.SugaredLogger

	open     atomic.Bool
	slot     atomic.Uint64
	seenUnix atomic.Int64 // unix nanos of the last notification
}

// NewSlotWatcher creates a watcher. Call Run to start it.
func NewSlotWatcher(wss string, log *zap.SugaredLogger) *SlotWatcher {
	return &SlotWatcher{wss: strings.TrimSpace(wss), log: log}
}

// IsOpen reports whether the websocket is currently connected.
func (w *SlotWatcher) IsOpen() bool { return w.open.Load() }

// Latest returns the newest slot seen, if it arrived within maxAge.
func (w *SlotWatcher) Latest(maxAge time.Duration) (uint64, bool) {
	seen := w.seenUnix.Load()
	if seen == 0 {
		return 0, false
	}
	if time.Since(time.Unix(0, seen)) > maxAge {
		return 0, false
	}
	return w.slot.Load(), true
}

func (w *SlotWatcher) observe(slot uint64) {
	for {
		cur := w.slot.Load()
		if slot <= cur || w.slot.CompareAndSwap(cur, slot) {
			break
		}
	}
	w.seenUnix.Store(time.Now().UnixNano())
}

// Run blocks until ctx is cancelled.
func (w *SlotWatcher) Run(ctx context.Context) {
	bo := util.NewBackoff(1*time.Second, 30*time.Second, 2.0, 0.2)

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.wss, http.Header{})
		if err != nil {
			wait := bo.Next()
			w.log.Warnw("slot feed dial failed", "error", err, "retry_in", wait)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		w.open.Store(true)
		bo.Reset()
		w.serve(ctx, conn)
		w.open.Store(false)
	}
}

func (w *SlotWatcher) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	go func() {
		<-connCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopping"), time.Now().Add(2*time.Second))
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	sub := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "slotSubscribe"}
	if err := conn.WriteJSON(sub); err != nil {
		w.log.Warnw("slot feed subscribe failed", "error", err)
		return
	}

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warnw("slot feed read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var n slotNotification
		if err := json.Unmarshal(msg, &n); err != nil || n.Method != "slotNotification" {
			continue
		}
		w.observe(n.Params.Result.Slot)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
