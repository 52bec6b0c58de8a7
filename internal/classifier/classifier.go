// Package classifier turns one ledger transaction into at most one Event.
package classifier

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/0xsamyy/killerwhale/internal/ledger"
	"github.com/0xsamyy/killerwhale/internal/price"
	"github.com/0xsamyy/killerwhale/internal/registry"
)

// Registry is the lookup surface the classifier needs.
type Registry interface {
	IsExchange(addr string) bool
	Label(addr string) string
	FindDEX(keys []string) (registry.Entry, bool)
}

// Thresholds are inclusive lower bounds in lamports.
type Thresholds struct {
	Whale uint64
	Loud  uint64
	Alpha uint64
}

// Validate checks the ordering the classifier relies on.
func (t Thresholds) Validate() error {
	if t.Whale == 0 {
		return errors.New("whale threshold must be positive")
	}
	if t.Loud < t.Whale {
		return errors.New("loud threshold must be >= whale threshold")
	}
	if t.Alpha > t.Whale {
		return errors.New("alpha threshold must be <= whale threshold")
	}
	return nil
}

// Classifier is stateless and safe for concurrent use.
type Classifier struct {
	reg Registry
	th  Thresholds
	now func() time.Time
}

// New returns a classifier.
func New(reg Registry, th Thresholds) *Classifier {
	return &Classifier{reg: reg, th: th, now: time.Now}
}

// Thresholds returns the configured bounds.
func (c *Classifier) Thresholds() Thresholds { return c.th }

// Classify returns the event for tx, or false when tx does not qualify or
// is malformed. It never fails.
func (c *Classifier) Classify(tx *ledger.Transaction, quote price.Quote) (*Event, bool) {
	if !wellFormed(tx) {
		return nil, false
	}
	m := tx.Meta
	pre, post := m.PreBalances[0], m.PostBalances[0]

	var delta uint64
	sender, receiver := tx.AccountKeys[0], tx.AccountKeys[1]
	if pre >= post {
		delta = pre - post
	} else {
		delta = post - pre
		sender, receiver = receiver, sender
	}

	whale := delta >= c.th.Whale
	var alpha *Alpha
	if delta >= c.th.Alpha && tx.HasTokenBalances() {
		alpha = detectAlpha(tx)
	}

	var signal Signal
	switch {
	case whale:
		signal = SignalWhale
	case alpha != nil:
		signal = SignalAlpha
	default:
		return nil, false
	}

	ev := &Event{
		ID:            uuid.NewString(),
		Signal:        signal,
		Slot:          tx.Slot,
		Signature:     tx.Signature,
		DeltaLamports: delta,
		Delta:         ledger.LamportsToSOL(delta),
		Quote:         quote,
		Sender:        sender,
		Receiver:      receiver,
		SenderLabel:   c.reg.Label(sender),
		ReceiverLabel: c.reg.Label(receiver),
		Loud:          delta >= c.th.Loud,
		Alpha:         alpha,
		DetectedAt:    c.now(),
	}
	if price.Valid(quote.Value) {
		ev.FiatValue = ev.Delta.Mul(decimal.NewFromFloat(quote.Value)).Round(2)
	}
	ev.Tag, ev.DEX = c.tag(sender, receiver, tx.AccountKeys)
	return ev, true
}

func (c *Classifier) tag(sender, receiver string, keys []string) (Tag, string) {
	senderEx, receiverEx := c.reg.IsExchange(sender), c.reg.IsExchange(receiver)
	switch {
	case senderEx && receiverEx:
		return TagExchangeToExchange, ""
	case receiverEx:
		return TagExchangeInflow, ""
	case senderEx:
		return TagExchangeOutflow, ""
	}
	if dex, ok := c.reg.FindDEX(keys); ok {
		return TagSwap, dex.Label
	}
	return TagPrivateTransfer, ""
}

func wellFormed(tx *ledger.Transaction) bool {
	if tx == nil || tx.Meta == nil || tx.Failed() {
		return false
	}
	m := tx.Meta
	if len(tx.AccountKeys) < 2 || len(m.PreBalances) < 2 || len(m.PostBalances) < 2 {
		return false
	}
	return len(m.PreBalances) == len(m.PostBalances)
}

// detectAlpha nets token balances per mint, pre defaulting to zero, and
// returns the first non-native mint in post-balance order whose total grew.
func detectAlpha(tx *ledger.Transaction) *Alpha {
	m := tx.Meta

	type net struct {
		amount  decimal.Decimal
		account int
	}
	byMint := make(map[string]*net, len(m.PostTokenBalances))
	var order []string

	for _, post := range m.PostTokenBalances {
		if post.Mint == "" || post.Mint == ledger.NativeMint {
			continue
		}
		amt, ok := post.UIAmount()
		if !ok {
			continue
		}
		n, seen := byMint[post.Mint]
		if !seen {
			n = &net{account: post.AccountIndex}
			byMint[post.Mint] = n
			order = append(order, post.Mint)
		}
		n.amount = n.amount.Add(amt)
	}
	for _, pre := range m.PreTokenBalances {
		n, seen := byMint[pre.Mint]
		if !seen {
			continue
		}
		if amt, ok := pre.UIAmount(); ok {
			n.amount = n.amount.Sub(amt)
		}
	}

	for _, mint := range order {
		n := byMint[mint]
		if !n.amount.IsPositive() {
			continue
		}
		a := &Alpha{Mint: mint, Received: n.amount}
		if n.account >= 0 && n.account < len(tx.AccountKeys) {
			a.Account = tx.AccountKeys[n.account]
		}
		return a
	}
	return nil
}
