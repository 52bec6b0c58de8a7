package ledger

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes the scanner distinguishes.
const (
	CodeBlockCleanedUp           = -32001
	CodeBlockNotAvailable        = -32004
	CodeSlotSkipped              = -32007
	CodeLongTermStorageSkipped   = -32009
	CodeMinContextSlotNotReached = -32016
)

var (
	// ErrBlockNotAvailable means the slot is not yet confirmed at the
	// requested commitment. The block may appear on a later attempt.
	ErrBlockNotAvailable = errors.New("block not available yet")

	// ErrRateLimited is returned for HTTP 429 after retries are spent.
	ErrRateLimited = errors.New("rpc rate limited")
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// skippedSlot reports whether the error means "no block will ever exist here".
func skippedSlot(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case CodeSlotSkipped, CodeLongTermStorageSkipped:
		return true
	}
	return false
}

// notAvailable reports whether the block may still show up.
func notAvailable(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case CodeBlockNotAvailable, CodeMinContextSlotNotReached:
		return true
	}
	return false
}
