package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/health"
	"github.com/0xsamyy/killerwhale/internal/store"
	"github.com/0xsamyy/killerwhale/internal/util"
)

// maxWatchPerChat caps the watchlist of a single chat.
const maxWatchPerChat = 50

// Store is everything the listener may touch. The scanner picks changes up
// from the same store; there is no other channel between the two.
type Store interface {
	Watch(ctx context.Context, mint string, chatID int64) (bool, error)
	Unwatch(ctx context.Context, mint string, chatID int64) (bool, error)
	WatchedBy(ctx context.Context, chatID int64) ([]string, error)
	RequestResync(ctx context.Context, slot uint64) error
	TopAlpha(ctx context.Context, limit int) ([]store.AlphaCandidate, error)
}

// Reporter produces the /health snapshot.
type Reporter interface {
	Snapshot(ctx context.Context) health.Report
}

// Handler turns chat commands into store mutations.
type Handler struct {
	bot     *tg.Bot
	adminID int64
	st      Store
	hlth    Reporter
	killFn  func()
	log     *zap.SugaredLogger

	reply func(ctx context.Context, chatID int64, html string)
}

// New constructs the Telegram Handler.
func New(bot *tg.Bot, st Store, hlth Reporter, adminID int64, killFn func(), log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Handler{
		bot:     bot,
		adminID: adminID,
		st:      st,
		hlth:    hlth,
		killFn:  killFn,
		log:     log,
	}
	h.reply = h.sendHTML
	return h
}

// Run starts long-polling and handles updates until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	h.bot.RegisterHandler(tg.HandlerTypeMessageText, "/", tg.MatchTypePrefix, func(c context.Context, b *tg.Bot, u *models.Update) {
		if u.Message == nil {
			return
		}
		h.handleCommand(c, u.Message.Chat.ID, u.Message.Text)
	})
	h.bot.Start(ctx)
}

func (h *Handler) isAdmin(chatID int64) bool { return chatID == h.adminID }

func (h *Handler) handleCommand(ctx context.Context, chatID int64, text string) {
	raw := strings.TrimSpace(text)
	cmd, arg, _ := strings.Cut(raw, " ")
	if idx := strings.IndexRune(cmd, '@'); idx != -1 {
		cmd = cmd[:idx]
	}
	cmd = strings.ToLower(cmd)
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help", "/start":
		h.replyHelp(ctx, chatID)

	case "/watch":
		h.watch(ctx, chatID, arg)

	case "/unwatch":
		if !util.IsPubkey(arg) {
			h.reply(ctx, chatID, "usage: <code>/unwatch &lt;mint&gt;</code>")
			return
		}
		removed, err := h.st.Unwatch(ctx, arg, chatID)
		if err != nil {
			h.log.Warnw("unwatch failed", "chat", chatID, "mint", arg, "error", err)
			h.reply(ctx, chatID, fmt.Sprintf("unwatch failed: <code>%s</code>", escapeHTML(err.Error())))
			return
		}
		if !removed {
			h.reply(ctx, chatID, "not watching <code>"+escapeHTML(arg)+"</code>")
			return
		}
		h.reply(ctx, chatID, "stopped watching <code>"+escapeHTML(arg)+"</code>")

	case "/watching":
		mints, err := h.st.WatchedBy(ctx, chatID)
		if err != nil {
			h.reply(ctx, chatID, fmt.Sprintf("list failed: <code>%s</code>", escapeHTML(err.Error())))
			return
		}
		if len(mints) == 0 {
			h.reply(ctx, chatID, "<b>No tokens watched.</b>")
			return
		}
		var b strings.Builder
		b.WriteString("📋 <b>Watched Tokens:</b>\n")
		for _, m := range mints {
			b.WriteString("- <code>")
			b.WriteString(escapeHTML(m))
			b.WriteString("</code>\n")
		}
		h.reply(ctx, chatID, b.String())

	case "/alpha":
		h.alpha(ctx, chatID, arg)

	case "/health":
		if !h.isAdmin(chatID) {
			return
		}
		h.reply(ctx, chatID, formatReport(h.hlth.Snapshot(ctx)))

	case "/resync":
		if !h.isAdmin(chatID) {
			return
		}
		slot, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || slot == 0 {
			h.reply(ctx, chatID, "usage: <code>/resync &lt;slot&gt;</code>")
			return
		}
		if err := h.st.RequestResync(ctx, slot); err != nil {
			h.reply(ctx, chatID, fmt.Sprintf("resync failed: <code>%s</code>", escapeHTML(err.Error())))
			return
		}
		h.log.Infow("resync requested", "slot", slot)
		h.reply(ctx, chatID, fmt.Sprintf("⏪ cursor will move to slot <code>%d</code> before the next block", slot))

	case "/kill":
		if !h.isAdmin(chatID) {
			return
		}
		h.reply(ctx, chatID, "🛑 shutting down...")
		go func() {
			time.Sleep(200 * time.Millisecond)
			if h.killFn != nil {
				h.killFn()
			} else {
				h.log.Warn("killFn not set")
			}
		}()

	default:
		h.reply(ctx, chatID, "unknown command. try <code>/help</code>")
	}
}

func (h *Handler) watch(ctx context.Context, chatID int64, mint string) {
	if mint == "" {
		h.reply(ctx, chatID, "usage: <code>/watch &lt;mint&gt;</code>")
		return
	}
	if !util.IsPubkey(mint) {
		h.reply(ctx, chatID, "<code>"+escapeHTML(mint)+"</code> is not a valid mint address")
		return
	}
	current, err := h.st.WatchedBy(ctx, chatID)
	if err != nil {
		h.reply(ctx, chatID, fmt.Sprintf("watch failed: <code>%s</code>", escapeHTML(err.Error())))
		return
	}
	if len(current) >= maxWatchPerChat {
		h.reply(ctx, chatID, fmt.Sprintf("watchlist full (%d tokens). <code>/unwatch</code> something first.", maxWatchPerChat))
		return
	}
	added, err := h.st.Watch(ctx, mint, chatID)
	if err != nil {
		h.log.Warnw("watch failed", "chat", chatID, "mint", mint, "error", err)
		h.reply(ctx, chatID, fmt.Sprintf("watch failed: <code>%s</code>", escapeHTML(err.Error())))
		return
	}
	if !added {
		h.reply(ctx, chatID, "already watching <code>"+escapeHTML(mint)+"</code>")
		return
	}
	h.reply(ctx, chatID, "👀 watching <code>"+escapeHTML(mint)+"</code>\nYou will get an alert when a whale buys it.")
}

func (h *Handler) alpha(ctx context.Context, chatID int64, arg string) {
	limit := 10
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 || n > 50 {
			h.reply(ctx, chatID, "usage: <code>/alpha [1-50]</code>")
			return
		}
		limit = n
	}
	top, err := h.st.TopAlpha(ctx, limit)
	if err != nil {
		h.reply(ctx, chatID, fmt.Sprintf("alpha failed: <code>%s</code>", escapeHTML(err.Error())))
		return
	}
	if len(top) == 0 {
		h.reply(ctx, chatID, "<b>No alpha candidates yet.</b>")
		return
	}
	var b strings.Builder
	b.WriteString("🎯 <b>Top Alpha Candidates</b>\n")
	for i, c := range top {
		name := c.Symbol
		if name == "" {
			name = util.ShortAddr(c.Mint)
		}
		last := c.LastReceived
		if d, err := decimal.NewFromString(c.LastReceived); err == nil {
			last = d.Round(4).String()
		}
		fmt.Fprintf(&b, "%d. <b>%s</b> <code>%s</code>\n   hits %d, last +%s at slot %d\n",
			i+1, escapeHTML(name), escapeHTML(c.Mint), c.Hits, escapeHTML(last), c.LastSlot)
	}
	h.reply(ctx, chatID, b.String())
}

func formatReport(rep health.Report) string {
	status := "✅ healthy"
	if !rep.Healthy {
		status = "⚠️ degraded"
	}
	return fmt.Sprintf(
		"📊 <b>Health Report</b> %s\n"+
			"- Cursor: <code>%d</code>\n"+
			"- Tip: <code>%d</code> (lag <code>%d</code>)\n"+
			"- Slot feed: <code>%s</code>\n"+
			"- Dedupe: <code>%s</code>\n"+
			"- Watchlist: <code>%d</code> mints, <code>%d</code> entries\n"+
			"- SOL/USD: <code>%.2f</code> via %s\n"+
			"- Pending alerts: <code>%d</code>\n"+
			"- Uptime: <code>%s</code>\n"+
			"- Time: <code>%s</code>",
		status,
		rep.Cursor,
		rep.Tip, rep.Lag,
		escapeHTML(rep.SlotFeed),
		escapeHTML(rep.Dedupe),
		rep.WatchedMints, rep.WatchEntries,
		rep.Price, escapeHTML(rep.PriceSource),
		rep.PendingAlerts,
		rep.Uptime,
		rep.GeneratedAt.Format(time.RFC3339),
	)
}

func (h *Handler) replyHelp(ctx context.Context, chatID int64) {
	help := strings.TrimSpace(`
🐋 <b>killerwhale</b>

<b>Commands:</b>
- <code>/watch &lt;mint&gt;</code> - Alert me when a whale buys this token
- <code>/unwatch &lt;mint&gt;</code> - Stop watching a token
- <code>/watching</code> - List watched tokens
- <code>/alpha [n]</code> - Tokens whales bought most often
`)
	if h.isAdmin(chatID) {
		help += "\n\n<b>Admin:</b>\n" +
			"- <code>/health</code> - Show service health\n" +
			"- <code>/resync &lt;slot&gt;</code> - Move the scan cursor\n" +
			"- <code>/kill</code> - Shutdown the service"
	}
	h.reply(ctx, chatID, help)
}

func (h *Handler) sendHTML(ctx context.Context, chatID int64, html string) {
	disable := true
	_, err := h.bot.SendMessage(ctx, &tg.SendMessageParams{
		ChatID:    chatID,
		Text:      html,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disable,
		},
	})
	if err != nil {
		h.log.Warnw("send error", "chat", chatID, "error", err)
	}
}

func escapeHTML(s string) string {
	replacer := strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}
