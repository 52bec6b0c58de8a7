package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Default client values. Retries are few on purpose: endpoint fallback
// happens one level up, in the poller.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 1
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultBackoffMult = 2.0
	DefaultCommitment  = "confirmed"
)

// Client is a JSON-RPC 2.0 client for one ledger endpoint.
type Client struct {
	endpoint    string
	commitment  string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the HTTP timeout of a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithMaxRetries sets how many times a transport failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the first retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithCommitment sets the commitment used by getSlot and getBlock.
func WithCommitment(commitment string) Option {
	return func(c *Client) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient returns a client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		commitment:  DefaultCommitment,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs a JSON-RPC call. Transport failures, 5xx and 429 are
// retried with exponential backoff; RPC error objects are returned as is.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s: retries exhausted: %w", method, lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// GetSlot returns the latest slot at the client's commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	params := []any{map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getSlot", params, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetBlock fetches the full block at slot. A skipped slot yields (nil, nil);
// a slot not yet confirmed yields ErrBlockNotAvailable.
func (c *Client) GetBlock(ctx context.Context, slot uint64) (*Block, error) {
	params := []any{
		slot,
		map[string]any{
			"encoding":                       "json",
			"transactionDetails":             "full",
			"maxSupportedTransactionVersion": 0,
			"rewards":                        false,
			"commitment":                     c.commitment,
		},
	}

	var result *getBlockResult
	if err := c.call(ctx, "getBlock", params, &result); err != nil {
		switch {
		case skippedSlot(err):
			return nil, nil
		case notAvailable(err):
			return nil, fmt.Errorf("slot %d: %w", slot, ErrBlockNotAvailable)
		}
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	block := &Block{
		Slot:         slot,
		BlockTime:    result.BlockTime,
		Transactions: make([]Transaction, 0, len(result.Transactions)),
	}
	for _, w := range result.Transactions {
		block.Transactions = append(block.Transactions, w.toTransaction(slot))
	}
	return block, nil
}

type getBlockResult struct {
	BlockTime    *int64        `json:"blockTime"`
	BlockHeight  *uint64       `json:"blockHeight"`
	Transactions []blockTxWrap `json:"transactions"`
}

type blockTxWrap struct {
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *rawMeta `json:"meta"`
}

type rawMeta struct {
	Err               any               `json:"err"`
	Fee               uint64            `json:"fee"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
	LoadedAddresses   *struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount         string `json:"amount"`
		Decimals       int    `json:"decimals"`
		UIAmountString string `json:"uiAmountString"`
	} `json:"uiTokenAmount"`
}

func (w blockTxWrap) toTransaction(slot uint64) Transaction {
	tx := Transaction{Slot: slot}
	if len(w.Transaction.Signatures) > 0 {
		tx.Signature = w.Transaction.Signatures[0]
	}

	keys := w.Transaction.Message.AccountKeys
	if w.Meta != nil && w.Meta.LoadedAddresses != nil {
		la := w.Meta.LoadedAddresses
		merged := make([]string, 0, len(keys)+len(la.Writable)+len(la.Readonly))
		merged = append(merged, keys...)
		merged = append(merged, la.Writable...)
		merged = append(merged, la.Readonly...)
		keys = merged
	}
	tx.AccountKeys = keys

	if w.Meta != nil {
		tx.Meta = &TransactionMeta{
			Err:               w.Meta.Err,
			Fee:               w.Meta.Fee,
			PreBalances:       w.Meta.PreBalances,
			PostBalances:      w.Meta.PostBalances,
			PreTokenBalances:  convertTokenBalances(w.Meta.PreTokenBalances),
			PostTokenBalances: convertTokenBalances(w.Meta.PostTokenBalances),
		}
	}
	return tx
}

func convertTokenBalances(raw []rawTokenBalance) []TokenBalance {
	if len(raw) == 0 {
		return nil
	}
	out := make([]TokenBalance, len(raw))
	for i, r := range raw {
		out[i] = TokenBalance{
			AccountIndex:   r.AccountIndex,
			Mint:           r.Mint,
			Owner:          r.Owner,
			Amount:         r.UITokenAmount.Amount,
			Decimals:       r.UITokenAmount.Decimals,
			UIAmountString: r.UITokenAmount.UIAmountString,
		}
	}
	return out
}

// AccountInfo is the base64 view of an account.
type AccountInfo struct {
	Owner    string
	Lamports uint64
	Data     string // base64
}

// GetAccountInfo returns the account at pubkey, or nil when it does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	params := []any{pubkey, map[string]any{"encoding": "base64"}}

	var result struct {
		Value *struct {
			Owner    string   `json:"owner"`
			Lamports uint64   `json:"lamports"`
			Data     []string `json:"data"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{Owner: result.Value.Owner, Lamports: result.Value.Lamports}
	if len(result.Value.Data) > 0 {
		info.Data = result.Value.Data[0]
	}
	return info, nil
}
