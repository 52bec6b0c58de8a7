// Package notify formats classified events and delivers them to Telegram
// without ever blocking the scanner.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xsamyy/killerwhale/internal/classifier"
)

// Alert results reported to the Observer.
const (
	ResultSent        = "sent"
	ResultQueueFull   = "queue_full"
	ResultRateLimited = "rate_limited"
	ResultFailed      = "failed"
)

// Observer receives delivery outcomes.
type Observer interface {
	AlertResult(result string)
}

// Config tunes the Dispatcher.
type Config struct {
	ChannelID   int64
	QueueSize   int
	SendTimeout time.Duration
	MaxPause    time.Duration
	RatePerSec  float64
	Burst       int
}

// DefaultConfig returns conservative Telegram-friendly values.
func DefaultConfig(channelID int64) Config {
	return Config{
		ChannelID:   channelID,
		QueueSize:   256,
		SendTimeout: 10 * time.Second,
		MaxPause:    60 * time.Second,
		RatePerSec:  1,
		Burst:       5,
	}
}

type alert struct {
	ev       *classifier.Event
	watchers []int64
}

// Dispatcher queues alerts and delivers them on its own goroutine.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	queue   chan alert
	log     *zap.SugaredLogger
	obs     Observer
	sleep   func(ctx context.Context, d time.Duration)
}

// NewDispatcher returns a dispatcher. Call Run to start delivering.
func NewDispatcher(sender Sender, cfg Config, log *zap.SugaredLogger, obs Observer) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxPause <= 0 {
		cfg.MaxPause = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		queue:   make(chan alert, cfg.QueueSize),
		log:     log,
		obs:     obs,
		sleep:   sleepCtx,
	}
}

// Dispatch enqueues ev for the channel (whale signals) and for watchers.
// It never blocks: when the queue is full the alert is dropped and false
// is returned.
func (d *Dispatcher) Dispatch(ev *classifier.Event, watchers ...int64) bool {
	if ev == nil {
		return false
	}
	select {
	case d.queue <- alert{ev: ev, watchers: watchers}:
		return true
	default:
		d.log.Warnw("alert queue full, dropping", "signature", ev.Signature)
		d.report(ResultQueueFull)
		return false
	}
}

// Pending returns the number of queued alerts.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

func (d *Dispatcher) messages(a alert) []Message {
	var out []Message
	silent := !a.ev.Loud
	if a.ev.Signal == classifier.SignalWhale && d.cfg.ChannelID != 0 {
		out = append(out, Message{ChatID: d.cfg.ChannelID, Text: Format(a.ev), Silent: silent})
	}
	if a.ev.Alpha != nil && len(a.watchers) > 0 {
		text := FormatWatch(a.ev)
		seen := map[int64]bool{d.cfg.ChannelID: len(out) > 0}
		for _, id := range a.watchers {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, Message{ChatID: id, Text: text, Silent: false})
		}
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, a alert) {
	for _, msg := range d.messages(a) {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		d.send(ctx, msg, a.ev.Signature)
	}
}

// send makes a single attempt. A rate-limit answer pauses the worker and
// the message is dropped.
func (d *Dispatcher) send(ctx context.Context, msg Message, signature string) bool {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := d.sender.Send(sctx, msg)
	cancel()

	if err == nil {
		d.report(ResultSent)
		return true
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		pause := rl.RetryAfter
		if pause <= 0 {
			pause = time.Second
		}
		if pause > d.cfg.MaxPause {
			pause = d.cfg.MaxPause
		}
		d.log.Warnw("telegram rate limit, pausing", "pause", pause, "chat_id", msg.ChatID, "signature", signature)
		d.report(ResultRateLimited)
		d.sleep(ctx, pause)
		return false
	}

	d.log.Warnw("alert delivery failed", "error", err, "chat_id", msg.ChatID, "signature", signature)
	d.report(ResultFailed)
	return false
}

func (d *Dispatcher) report(result string) {
	if d.obs != nil {
		d.obs.AlertResult(result)
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
