package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/0xsamyy/killerwhale/internal/classifier"
	"github.com/0xsamyy/killerwhale/internal/util"
)

const (
	solscanTx      = "https://solscan.io/tx/"
	solscanAccount = "https://solscan.io/account/"
	solscanToken   = "https://solscan.io/token/"
	explorerTx     = "https://explorer.solana.com/tx/"
)

func signalLabel(ev *classifier.Event) string {
	switch {
	case ev.Signal == classifier.SignalAlpha:
		return "🧪 <b>ALPHA BUY</b>"
	case ev.Loud:
		return "🚨 <b>WHALE ALERT</b>"
	default:
		return "🐋 <b>Whale movement</b>"
	}
}

func tagLine(ev *classifier.Event) string {
	switch ev.Tag {
	case classifier.TagExchangeInflow:
		return "🔴 Exchange inflow (bearish)"
	case classifier.TagExchangeOutflow:
		return "🟢 Exchange outflow (bullish)"
	case classifier.TagExchangeToExchange:
		return "🔁 Exchange to exchange"
	case classifier.TagSwap:
		if ev.DEX != "" {
			return "🔄 Swap via " + escapeHTML(ev.DEX)
		}
		return "🔄 Swap"
	default:
		return "👤 Private transfer"
	}
}

func formatAmount(d decimal.Decimal, digits int) string {
	return humanize.CommafWithDigits(d.InexactFloat64(), digits)
}

func accountLink(addr, label string) string {
	return fmt.Sprintf(`<a href="%s%s">%s</a>`, solscanAccount, addr, escapeHTML(label))
}

// Format renders ev as a Telegram HTML message.
func Format(ev *classifier.Event) string {
	var b strings.Builder

	b.WriteString(signalLabel(ev))
	b.WriteString(" · ")
	b.WriteString(tagLine(ev))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "💰 <b>%s SOL</b> (~$%s @ $%s)\n",
		formatAmount(ev.Delta, 2),
		formatAmount(ev.FiatValue, 2),
		humanize.CommafWithDigits(ev.Quote.Value, 2),
	)
	fmt.Fprintf(&b, "📤 From: %s\n", accountLink(ev.Sender, ev.SenderLabel))
	fmt.Fprintf(&b, "📥 To: %s\n", accountLink(ev.Receiver, ev.ReceiverLabel))

	if a := ev.Alpha; a != nil {
		sym := a.Symbol
		if sym == "" {
			sym = util.ShortAddr(a.Mint)
		}
		fmt.Fprintf(&b, "🧪 Bought <b>%s</b> <a href=\"%s%s\">%s</a>\n",
			formatAmount(a.Received, 4), solscanToken, a.Mint, escapeHTML(sym))
	}

	fmt.Fprintf(&b, "\n🔗 <a href=\"%s%s\">Solscan</a> | <a href=\"%s%s\">Explorer</a> · slot <code>%d</code>",
		solscanTx, ev.Signature, explorerTx, ev.Signature, ev.Slot)
	return b.String()
}

// FormatWatch renders the message sent to watchers of the alpha mint.
func FormatWatch(ev *classifier.Event) string {
	sym := ""
	if ev.Alpha != nil {
		sym = ev.Alpha.Symbol
		if sym == "" {
			sym = util.ShortAddr(ev.Alpha.Mint)
		}
	}
	return fmt.Sprintf("👀 <b>Watched token %s</b>\n\n%s", escapeHTML(sym), Format(ev))
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
