package classifier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xsamyy/killerwhale/internal/ledger"
	"github.com/0xsamyy/killerwhale/internal/price"
	"github.com/0xsamyy/killerwhale/internal/registry"
)

const (
	sol = uint64(ledger.LamportsPerSOL)

	walletA  = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	walletB  = "3N9Rq4jB5nV1mYwQb2dHsZ8Lr7kXv6tP4eCu1aGfTyWx"
	binance  = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	coinbase = "H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS"
	jupiter  = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	mintA    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	mintB    = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var quote = price.Quote{Value: 100, Source: "test"}

func newClassifier() *Classifier {
	return New(registry.Default(), Thresholds{
		Whale: 1000 * sol,
		Loud:  1500 * sol,
		Alpha: 100 * sol,
	})
}

func transfer(from, to string, pre, post []uint64) *ledger.Transaction {
	return &ledger.Transaction{
		Slot:        321,
		Signature:   "5sig",
		AccountKeys: []string{from, to},
		Meta: &ledger.TransactionMeta{
			PreBalances:  pre,
			PostBalances: post,
		},
	}
}

func TestClassify_ExchangeInflow(t *testing.T) {
	tx := transfer(walletA, binance, []uint64{5000 * sol, 100 * sol}, []uint64{3500 * sol, 1600 * sol})

	ev, ok := newClassifier().Classify(tx, quote)
	require.True(t, ok)
	assert.Equal(t, SignalWhale, ev.Signal)
	assert.Equal(t, TagExchangeInflow, ev.Tag)
	assert.Equal(t, "bearish", ev.Tag.Bias())
	assert.Equal(t, 1500*sol, ev.DeltaLamports)
	assert.Equal(t, "1500", ev.Delta.String())
	assert.Equal(t, "150000", ev.FiatValue.String())
	assert.True(t, ev.Loud)
	assert.Equal(t, walletA, ev.Sender)
	assert.Equal(t, binance, ev.Receiver)
	assert.Equal(t, "Binance", ev.ReceiverLabel)
	assert.Equal(t, "7xKX...gAsU", ev.SenderLabel)
	assert.Equal(t, uint64(321), ev.Slot)
	assert.NotEmpty(t, ev.ID)
	assert.Nil(t, ev.Alpha)
}

func TestClassify_ExchangeToExchange(t *testing.T) {
	tx := transfer(coinbase, binance, []uint64{5000 * sol, 100 * sol}, []uint64{3500 * sol, 1600 * sol})

	ev, ok := newClassifier().Classify(tx, quote)
	require.True(t, ok)
	assert.Equal(t, TagExchangeToExchange, ev.Tag)
}

func TestClassify_ExchangeOutflowWithSwappedDirection(t *testing.T) {
	// keys[0] gains: the counterparty is the sender.
	tx := transfer(walletA, binance, []uint64{10 * sol, 3000 * sol}, []uint64{1210 * sol, 1800 * sol})

	ev, ok := newClassifier().Classify(tx, quote)
	require.True(t, ok)
	assert.Equal(t, TagExchangeOutflow, ev.Tag)
	assert.Equal(t, "bullish", ev.Tag.Bias())
	assert.Equal(t, binance, ev.Sender)
	assert.Equal(t, walletA, ev.Receiver)
	assert.False(t, ev.Loud)
}

func TestClassify_PrivateTransferAndSwap(t *testing.T) {
	c := newClassifier()

	tx := transfer(walletA, walletB, []uint64{2000 * sol, 0}, []uint64{900 * sol, 1100 * sol})
	ev, ok := c.Classify(tx, quote)
	require.True(t, ok)
	assert.Equal(t, TagPrivateTransfer, ev.Tag)
	assert.Equal(t, "neutral", ev.Tag.Bias())

	tx.AccountKeys = append(tx.AccountKeys, jupiter)
	ev, ok = c.Classify(tx, quote)
	require.True(t, ok)
	assert.Equal(t, TagSwap, ev.Tag)
	assert.Equal(t, "Jupiter", ev.DEX)
}

func TestClassify_ThresholdBoundaryInclusive(t *testing.T) {
	c := newClassifier()

	at := transfer(walletA, walletB, []uint64{1000 * sol, 0}, []uint64{0, 1000 * sol})
	ev, ok := c.Classify(at, quote)
	require.True(t, ok)
	assert.Equal(t, 1000*sol, ev.DeltaLamports)

	below := transfer(walletA, walletB, []uint64{1000*sol - 1, 0}, []uint64{0, 1000*sol - 1})
	_, ok = c.Classify(below, quote)
	assert.False(t, ok)

	loudAt := transfer(walletA, walletB, []uint64{1500 * sol, 0}, []uint64{0, 1500 * sol})
	ev, ok = c.Classify(loudAt, quote)
	require.True(t, ok)
	assert.True(t, ev.Loud)
}

func TestClassify_NonFiniteQuoteLeavesFiatZero(t *testing.T) {
	tx := transfer(walletA, walletB, []uint64{2000 * sol, 0}, []uint64{0, 2000 * sol})
	for _, v := range []float64{math.NaN(), math.Inf(1), 0} {
		var ev *Event
		var ok bool
		require.NotPanics(t, func() { ev, ok = newClassifier().Classify(tx, price.Quote{Value: v}) })
		require.True(t, ok)
		assert.True(t, ev.FiatValue.IsZero())
	}
}

func TestClassify_ExecutionErrorAlwaysSkipped(t *testing.T) {
	tx := transfer(walletA, binance, []uint64{900_000 * sol, 0}, []uint64{0, 900_000 * sol})
	tx.Meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}

	ev, ok := newClassifier().Classify(tx, quote)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestClassify_MalformedSkipped(t *testing.T) {
	c := newClassifier()
	cases := map[string]*ledger.Transaction{
		"nil":          nil,
		"no meta":      {AccountKeys: []string{walletA, walletB}},
		"one key":      transfer(walletA, walletB, []uint64{5000 * sol, 0}, []uint64{0, 5000 * sol}),
		"short pre":    transfer(walletA, walletB, []uint64{5000 * sol}, []uint64{0, 5000 * sol}),
		"len mismatch": transfer(walletA, walletB, []uint64{5000 * sol, 0, 1}, []uint64{0, 5000 * sol}),
	}
	cases["one key"].AccountKeys = cases["one key"].AccountKeys[:1]

	for name, tx := range cases {
		_, ok := c.Classify(tx, quote)
		assert.False(t, ok, name)
	}
}

func withTokens(tx *ledger.Transaction, pre, post []ledger.TokenBalance) *ledger.Transaction {
	tx.Meta.PreTokenBalances = pre
	tx.Meta.PostTokenBalances = post
	return tx
}

func TestClassify_AlphaReceivedAmount(t *testing.T) {
	tx := withTokens(
		transfer(walletA, walletB, []uint64{1200 * sol, 0, 0}, []uint64{1000 * sol, 200 * sol, 0}),
		[]ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, Owner: walletA, UIAmountString: "10"}},
		[]ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, Owner: walletA, UIAmountString: "25"}},
	)
	tx.AccountKeys = append(tx.AccountKeys, "tokenAcct")

	ev, ok := newClassifier().Classify(tx, quote)
	require.True(t, ok)
	assert.Equal(t, SignalAlpha, ev.Signal)
	require.NotNil(t, ev.Alpha)
	assert.Equal(t, mintA, ev.Alpha.Mint)
	assert.Equal(t, "15", ev.Alpha.Received.String())
	assert.Equal(t, "tokenAcct", ev.Alpha.Account)
}

func TestClassify_AlphaRules(t *testing.T) {
	base := func() *ledger.Transaction {
		return transfer(walletA, walletB, []uint64{1200 * sol, 0}, []uint64{1000 * sol, 200 * sol})
	}

	t.Run("absent pre defaults to zero", func(t *testing.T) {
		tx := withTokens(base(), nil, []ledger.TokenBalance{
			{AccountIndex: 3, Mint: mintA, Amount: "5000000", Decimals: 6},
		})
		ev, ok := newClassifier().Classify(tx, quote)
		require.True(t, ok)
		assert.Equal(t, "5", ev.Alpha.Received.String())
	})

	t.Run("native mint ignored, first positive wins", func(t *testing.T) {
		tx := withTokens(base(),
			[]ledger.TokenBalance{{AccountIndex: 4, Mint: mintA, UIAmountString: "50"}},
			[]ledger.TokenBalance{
				{AccountIndex: 2, Mint: ledger.NativeMint, UIAmountString: "900"},
				{AccountIndex: 4, Mint: mintA, UIAmountString: "40"},
				{AccountIndex: 5, Mint: mintB, UIAmountString: "7"},
				{AccountIndex: 6, Mint: mintA, UIAmountString: "9"},
			})
		ev, ok := newClassifier().Classify(tx, quote)
		require.True(t, ok)
		assert.Equal(t, mintB, ev.Alpha.Mint)
		assert.Equal(t, "7", ev.Alpha.Received.String())
	})

	t.Run("owner does not matter", func(t *testing.T) {
		tx := withTokens(base(),
			[]ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, Owner: walletB, UIAmountString: "10"}},
			[]ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, Owner: walletB, UIAmountString: "25"}})
		ev, ok := newClassifier().Classify(tx, quote)
		require.True(t, ok)
		assert.Equal(t, mintA, ev.Alpha.Mint)
		assert.Equal(t, "15", ev.Alpha.Received.String())
	})

	t.Run("netted per mint across accounts", func(t *testing.T) {
		tx := withTokens(base(),
			[]ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, UIAmountString: "10"}},
			[]ledger.TokenBalance{{AccountIndex: 3, Mint: mintA, UIAmountString: "25"}})
		ev, ok := newClassifier().Classify(tx, quote)
		require.True(t, ok)
		assert.Equal(t, "15", ev.Alpha.Received.String())
	})

	t.Run("mint moved between accounts nets to zero", func(t *testing.T) {
		tx := withTokens(base(),
			[]ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, UIAmountString: "30"}},
			[]ledger.TokenBalance{
				{AccountIndex: 2, Mint: mintA, UIAmountString: "0"},
				{AccountIndex: 3, Mint: mintA, UIAmountString: "30"},
			})
		_, ok := newClassifier().Classify(tx, quote)
		assert.False(t, ok)
	})

	t.Run("below alpha threshold", func(t *testing.T) {
		tx := withTokens(
			transfer(walletA, walletB, []uint64{150 * sol, 0}, []uint64{60 * sol, 90 * sol}),
			nil, []ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, UIAmountString: "100"}})
		_, ok := newClassifier().Classify(tx, quote)
		assert.False(t, ok)
	})

	t.Run("whale carries alpha", func(t *testing.T) {
		tx := withTokens(
			transfer(walletA, walletB, []uint64{3000 * sol, 0}, []uint64{1000 * sol, 2000 * sol}),
			nil, []ledger.TokenBalance{{AccountIndex: 2, Mint: mintA, UIAmountString: "1"}})
		ev, ok := newClassifier().Classify(tx, quote)
		require.True(t, ok)
		assert.Equal(t, SignalWhale, ev.Signal)
		require.NotNil(t, ev.Alpha)
		assert.Equal(t, mintA, ev.Alpha.Mint)
	})
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, Thresholds{Whale: 10, Loud: 10, Alpha: 1}.Validate())
	assert.Error(t, Thresholds{}.Validate())
	assert.Error(t, Thresholds{Whale: 10, Loud: 5}.Validate())
	assert.Error(t, Thresholds{Whale: 10, Loud: 20, Alpha: 11}.Validate())
}
