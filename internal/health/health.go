package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/0xsamyy/killerwhale/internal/price"
)

// ScanStatus is the scanner's read-only view.
type ScanStatus interface {
	Cursor() uint64
	LastTip() uint64
}

// WatchCounter is the minimal interface we need from the store.
type WatchCounter interface {
	WatchStats(ctx context.Context) (mints, entries int, err error)
}

// QuoteReader returns the cached quote without fetching.
type QuoteReader interface {
	LastKnownGood() price.Quote
}

// QueueReader reports queued alerts.
type QueueReader interface {
	Pending() int
}

// FeedStatus reports whether the websocket slot feed is connected.
type FeedStatus interface {
	IsOpen() bool
}

// Pinger is an optional dependency check, e.g. Redis.
type Pinger interface {
	Health(ctx context.Context) error
}

// Health exposes a read-only snapshot of service state for /health and /healthz.
type Health struct {
	scan   ScanStatus
	store  WatchCounter
	quotes QuoteReader
	queue  QueueReader
	feed   FeedStatus
	dedupe Pinger

	maxLag  uint64
	started time.Time
	now     func() time.Time
}

// Option wires an optional source into the report.
type Option func(*Health)

func WithStore(s WatchCounter) Option { return func(h *Health) { h.store = s } }

func WithQuotes(q QuoteReader) Option { return func(h *Health) { h.quotes = q } }

func WithQueue(q QueueReader) Option { return func(h *Health) { h.queue = q } }

func WithSlotFeed(f FeedStatus) Option { return func(h *Health) { h.feed = f } }

func WithDedupe(p Pinger) Option { return func(h *Health) { h.dedupe = p } }

// WithMaxLag sets the lag above which the service reports unhealthy.
func WithMaxLag(lag uint64) Option { return func(h *Health) { h.maxLag = lag } }

// New returns a Health aggregator bound to the scanner.
func New(scan ScanStatus, opts ...Option) *Health {
	h := &Health{scan: scan, maxLag: 500, started: time.Now(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Report is returned to the Telegram handler for formatting and served
// as JSON on /healthz.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Uptime      string    `json:"uptime"`
	Healthy     bool      `json:"healthy"`

	Cursor uint64 `json:"cursor"`
	Tip    uint64 `json:"tip"`
	Lag    uint64 `json:"lag"`

	SlotFeed string `json:"slot_feed"` // open | closed | off
	Dedupe   string `json:"dedupe"`    // ok | error text | off

	WatchedMints int `json:"watched_mints"`
	WatchEntries int `json:"watch_entries"`

	Price       float64 `json:"sol_usd"`
	PriceSource string  `json:"price_source"`
	PriceAge    string  `json:"price_age,omitempty"`

	PendingAlerts int `json:"pending_alerts"`
}

// Snapshot gathers a point-in-time report. It does not block for long operations.
func (h *Health) Snapshot(ctx context.Context) Report {
	now := h.now()
	rep := Report{
		GeneratedAt: now.UTC(),
		Uptime:      now.Sub(h.started).Truncate(time.Second).String(),
		Cursor:      h.scan.Cursor(),
		Tip:         h.scan.LastTip(),
		SlotFeed:    "off",
		Dedupe:      "off",
	}
	if rep.Tip > rep.Cursor {
		rep.Lag = rep.Tip - rep.Cursor
	}
	rep.Healthy = rep.Tip > 0 && rep.Lag <= h.maxLag

	if h.feed != nil {
		rep.SlotFeed = "closed"
		if h.feed.IsOpen() {
			rep.SlotFeed = "open"
		}
	}
	if h.dedupe != nil {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		if err := h.dedupe.Health(pctx); err != nil {
			rep.Dedupe = err.Error()
		} else {
			rep.Dedupe = "ok"
		}
		cancel()
	}
	if h.store != nil {
		if mints, entries, err := h.store.WatchStats(ctx); err == nil {
			rep.WatchedMints, rep.WatchEntries = mints, entries
		}
	}
	if h.quotes != nil {
		q := h.quotes.LastKnownGood()
		rep.Price, rep.PriceSource = q.Value, q.Source
		if !q.FetchedAt.IsZero() {
			rep.PriceAge = q.Age(now).Truncate(time.Second).String()
		}
	}
	if h.queue != nil {
		rep.PendingAlerts = h.queue.Pending()
	}
	return rep
}

// ServeHTTP renders the snapshot as JSON, 503 when unhealthy.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !rep.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}
