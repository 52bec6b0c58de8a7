package notify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/0xsamyy/killerwhale/internal/classifier"
)

func TestFormat_Whale(t *testing.T) {
	text := Format(whaleEvent(true))

	assert.Contains(t, text, "🚨 <b>WHALE ALERT</b>")
	assert.Contains(t, text, "Exchange inflow (bearish)")
	assert.Contains(t, text, "<b>1,500 SOL</b> (~$150,000 @ $100)")
	assert.Contains(t, text, `<a href="https://solscan.io/account/9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM">Binance</a>`)
	assert.Contains(t, text, `<a href="https://solscan.io/tx/5sig">Solscan</a>`)
	assert.Contains(t, text, `<a href="https://explorer.solana.com/tx/5sig">Explorer</a>`)
	assert.Contains(t, text, "slot <code>321</code>")
	assert.NotContains(t, text, "Bought")
}

func TestFormat_TagsAndAlpha(t *testing.T) {
	ev := whaleEvent(false)
	ev.Tag = classifier.TagSwap
	ev.DEX = "Jupiter"
	ev.SenderLabel = "<script>"
	ev.Alpha = &classifier.Alpha{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Received: decimal.RequireFromString("15.5")}

	text := Format(ev)
	assert.Contains(t, text, "🐋 <b>Whale movement</b>")
	assert.Contains(t, text, "Swap via Jupiter")
	assert.Contains(t, text, "&lt;script&gt;")
	assert.Contains(t, text, "Bought <b>15.5</b>")
	assert.Contains(t, text, ">EPjF...Dt1v</a>")

	ev.Signal = classifier.SignalAlpha
	assert.Contains(t, FormatWatch(ev), "👀 <b>Watched token EPjF...Dt1v</b>")
	assert.Contains(t, FormatWatch(ev), "ALPHA BUY")

	ev.Tag = classifier.TagExchangeOutflow
	assert.Contains(t, Format(ev), "Exchange outflow (bullish)")
	ev.Tag = classifier.TagExchangeToExchange
	assert.Contains(t, Format(ev), "Exchange to exchange")
	ev.Tag = classifier.TagPrivateTransfer
	assert.Contains(t, Format(ev), "Private transfer")
}
