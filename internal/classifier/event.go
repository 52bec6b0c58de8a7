package classifier

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xsamyy/killerwhale/internal/price"
)

// Tag describes who is on each side of a movement.
type Tag string

const (
	TagPrivateTransfer    Tag = "private-transfer"
	TagExchangeInflow     Tag = "exchange-inflow"
	TagExchangeOutflow    Tag = "exchange-outflow"
	TagExchangeToExchange Tag = "exchange-to-exchange"
	TagSwap               Tag = "swap"
)

// Bias is the conventional market reading of a tag.
func (t Tag) Bias() string {
	switch t {
	case TagExchangeInflow:
		return "bearish"
	case TagExchangeOutflow:
		return "bullish"
	default:
		return "neutral"
	}
}

// Signal is the reason an event was emitted.
type Signal string

const (
	// SignalWhale: the native delta crossed the whale threshold.
	SignalWhale Signal = "whale"
	// SignalAlpha: below the whale threshold, but a token was acquired in a
	// transaction that crossed the alpha threshold.
	SignalAlpha Signal = "alpha"
)

// Alpha is a token account that received a net-positive balance.
type Alpha struct {
	Mint     string
	Symbol   string
	Account  string
	Received decimal.Decimal
}

// Event is a classified movement. Derived, never mutated after Classify
// except for Alpha.Symbol enrichment by the pipeline.
type Event struct {
	ID        string
	Signal    Signal
	Slot      uint64
	Signature string
	BlockTime *time.Time

	DeltaLamports uint64
	Delta         decimal.Decimal // SOL
	FiatValue     decimal.Decimal // USD at Quote
	Quote         price.Quote

	Sender        string
	Receiver      string
	SenderLabel   string
	ReceiverLabel string
	Tag           Tag
	DEX           string

	Loud  bool
	Alpha *Alpha

	DetectedAt time.Time
}
