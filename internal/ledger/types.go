package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// LamportsPerSOL is the native decimals factor.
	LamportsPerSOL = 1_000_000_000

	// NativeMint is wrapped SOL; token balances in this mint are native exposure.
	NativeMint = "So11111111111111111111111111111111111111112"
)

// Block is the content of one slot. Transient: fetched, consumed, discarded.
type Block struct {
	Slot         uint64
	BlockTime    *int64
	Transactions []Transaction
}

// Transaction is the subset of a confirmed transaction the scanner needs.
type Transaction struct {
	Slot      uint64
	Signature string

	// AccountKeys are the static keys followed by loaded writable and
	// readonly addresses, matching the indexing of the balance arrays.
	AccountKeys []string
	Meta        *TransactionMeta
}

// TransactionMeta carries execution status and balance snapshots.
type TransactionMeta struct {
	Err               any
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Failed reports whether the transaction executed with an error.
func (t *Transaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}

// HasTokenBalances reports whether any token snapshot is present.
func (t *Transaction) HasTokenBalances() bool {
	return t.Meta != nil && (len(t.Meta.PreTokenBalances) > 0 || len(t.Meta.PostTokenBalances) > 0)
}

// TokenBalance is one SPL token account snapshot.
type TokenBalance struct {
	AccountIndex   int
	Mint           string
	Owner          string
	Amount         string // raw integer amount
	Decimals       int
	UIAmountString string
}

// UIAmount returns the human amount, preferring the RPC's own rendering.
func (b TokenBalance) UIAmount() (decimal.Decimal, bool) {
	if b.UIAmountString != "" {
		if d, err := decimal.NewFromString(b.UIAmountString); err == nil {
			return d, true
		}
	}
	if b.Amount == "" {
		return decimal.Zero, false
	}
	raw, err := decimal.NewFromString(b.Amount)
	if err != nil || b.Decimals < 0 || b.Decimals > math.MaxInt32 {
		return decimal.Zero, false
	}
	return raw.Shift(-int32(b.Decimals)), true
}

// LamportsToSOL converts a lamport count to an exact SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Shift(-9)
}

// SOLToLamports converts a SOL amount to lamports, truncating dust.
func SOLToLamports(sol decimal.Decimal) uint64 {
	l := sol.Shift(9).Truncate(0)
	if l.Sign() <= 0 {
		return 0
	}
	return l.BigInt().Uint64()
}
