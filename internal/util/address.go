package util

import (
	"strings"

	"github.com/mr-tron/base58"
)

// IsPubkey reports whether s is a base58 encoded 32-byte Solana public key.
func IsPubkey(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}

// ShortAddr renders an address as "abcd...wxyz".
func ShortAddr(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}
