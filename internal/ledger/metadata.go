package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mr-tron/base58"

	"github.com/0xsamyy/killerwhale/internal/util"
)

// MetaplexMetadataProgramID owns token metadata accounts.
const MetaplexMetadataProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

// AccountFetcher is the part of Client the resolver needs.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// Symbol cache bounds.
const (
	symbolCacheSize = 4096
	symbolCacheTTL  = 24 * time.Hour
)

// errNoMetadata marks a definite answer: the mint has no readable metadata.
var errNoMetadata = errors.New("no token metadata")

// MetadataResolver maps mints to token symbols. Only definite answers are
// cached; RPC failures are retried on the next lookup.
type MetadataResolver struct {
	rpc   AccountFetcher
	cache *expirable.LRU[string, string]
}

// NewMetadataResolver returns a resolver backed by rpc.
func NewMetadataResolver(rpc AccountFetcher) *MetadataResolver {
	return &MetadataResolver{
		rpc:   rpc,
		cache: expirable.NewLRU[string, string](symbolCacheSize, nil, symbolCacheTTL),
	}
}

// Symbol returns the on-chain symbol of mint, or its shortened address
// when the metadata account is missing, unreadable or unreachable.
func (r *MetadataResolver) Symbol(ctx context.Context, mint string) string {
	if sym, ok := r.cache.Get(mint); ok {
		return sym
	}

	sym, err := r.fetchSymbol(ctx, mint)
	switch {
	case err == nil && sym != "":
	case err == nil, errors.Is(err, errNoMetadata):
		sym = util.ShortAddr(mint)
	default:
		return util.ShortAddr(mint)
	}
	r.cache.Add(mint, sym)
	return sym
}

func (r *MetadataResolver) fetchSymbol(ctx context.Context, mint string) (string, error) {
	pda, err := MetadataPDA(mint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoMetadata, err)
	}
	info, err := r.rpc.GetAccountInfo(ctx, pda)
	if err != nil {
		return "", fmt.Errorf("getAccountInfo for metadata pda: %w", err)
	}
	if info == nil || info.Data == "" {
		return "", fmt.Errorf("%w: account not found", errNoMetadata)
	}
	raw, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", errNoMetadata, err)
	}
	sym, err := parseMetadataSymbol(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoMetadata, err)
	}
	return sym, nil
}

// parseMetadataSymbol reads the Borsh name and symbol strings that follow
// key(1) + update authority(32) + mint(32).
func parseMetadataSymbol(raw []byte) (string, error) {
	const headerOffset = 65
	if len(raw) < headerOffset+4 {
		return "", errors.New("metadata account data is too short")
	}

	nameLen := binary.LittleEndian.Uint32(raw[headerOffset : headerOffset+4])
	if nameLen > 200 {
		return "", errors.New("failed to parse name: implausible length")
	}
	symbolOffset := headerOffset + 4 + int(nameLen)
	if symbolOffset+4 > len(raw) {
		return "", errors.New("failed to parse name: length exceeds buffer")
	}

	symbolLen := binary.LittleEndian.Uint32(raw[symbolOffset : symbolOffset+4])
	if symbolLen > 50 {
		return "", errors.New("failed to parse symbol: implausible length")
	}
	symbolEnd := symbolOffset + 4 + int(symbolLen)
	if symbolEnd > len(raw) {
		return "", errors.New("failed to parse symbol: length exceeds buffer")
	}

	return string(bytes.TrimRight(raw[symbolOffset+4:symbolEnd], "\x00 ")), nil
}

// MetadataPDA derives the Metaplex metadata address of mint.
// Seeds: ["metadata", program id, mint].
func MetadataPDA(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return "", fmt.Errorf("invalid mint %q", mint)
	}
	programBytes, err := base58.Decode(MetaplexMetadataProgramID)
	if err != nil {
		return "", err
	}
	pda, ok := findProgramAddress([][]byte{[]byte("metadata"), programBytes, mintBytes}, programBytes)
	if !ok {
		return "", errors.New("no viable bump seed")
	}
	return pda, nil
}

func findProgramAddress(seeds [][]byte, programID []byte) (string, bool) {
	for bump := 255; bump > 0; bump-- {
		h := sha256.New()
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), true
		}
	}
	return "", false
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
