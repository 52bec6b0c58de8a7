// Package registry maps well-known addresses to human labels. A Registry is
// built once at startup and never mutated afterwards.
package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/0xsamyy/killerwhale/internal/util"
)

// Kind distinguishes custodial exchange wallets from swap programs.
type Kind string

const (
	KindExchange Kind = "exchange"
	KindDEX      Kind = "dex"
)

// Entry is one registered address.
type Entry struct {
	Address string `yaml:"address"`
	Label   string `yaml:"label"`
	Kind    Kind   `yaml:"-"`
}

// Registry is an immutable address → Entry map.
type Registry struct {
	entries map[string]Entry
}

var defaultExchanges = []Entry{
	{Address: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", Label: "Binance"},
	{Address: "5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9", Label: "Binance 2"},
	{Address: "2ojv9BAiHUrvsm9gxDe7fJSzbNZSJcxZvf8dqmWGHG8S", Label: "Binance 3"},
	{Address: "H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS", Label: "Coinbase"},
	{Address: "GJRs4FwHtemZ5ZE9x3FNvJ8TMwitKTh21yxdRPqn7npE", Label: "Coinbase 2"},
	{Address: "FWznbcNXWQuHTawe9RxvQ2LdCENssh12dsznf4RiouN5", Label: "Kraken"},
	{Address: "5VCwKtCXgCJ6kit5FybXjvriW3xELsFDhYrPSqtJNmcD", Label: "OKX"},
	{Address: "AC5RDfQFmDS1deWZos921JfqscXdByf8BKHs5ACWjtW2", Label: "Bybit"},
}

var defaultDEX = []Entry{
	{Address: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", Label: "Jupiter"},
	{Address: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", Label: "Raydium AMM"},
	{Address: "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK", Label: "Raydium CLMM"},
	{Address: "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc", Label: "Orca Whirlpool"},
	{Address: "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo", Label: "Meteora DLMM"},
	{Address: "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P", Label: "Pump.fun"},
}

// New builds a registry from exchange and DEX entries. Later entries
// override earlier ones with the same address.
func New(exchanges, dexes []Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(exchanges)+len(dexes))}
	var problems []string

	add := func(e Entry, kind Kind) {
		e.Address = strings.TrimSpace(e.Address)
		e.Label = strings.TrimSpace(e.Label)
		if !util.IsPubkey(e.Address) {
			problems = append(problems, fmt.Sprintf("invalid %s address %q", kind, e.Address))
			return
		}
		if e.Label == "" {
			e.Label = util.ShortAddr(e.Address)
		}
		e.Kind = kind
		r.entries[e.Address] = e
	}
	for _, e := range exchanges {
		add(e, KindExchange)
	}
	for _, e := range dexes {
		add(e, KindDEX)
	}

	if len(problems) > 0 {
		return nil, errors.New("registry: " + strings.Join(problems, "; "))
	}
	return r, nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := New(defaultExchanges, defaultDEX)
	if err != nil {
		panic(err) // built-in table is static
	}
	return r
}

type fileFormat struct {
	Exchanges []Entry `yaml:"exchanges"`
	DEX       []Entry `yaml:"dex"`
}

// Load returns the built-in registry extended with the entries of the YAML
// file at path. An empty path returns Default().
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return Parse(raw)
}

// Parse is Load for an in-memory document.
func Parse(raw []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}
	exchanges := append(append([]Entry{}, defaultExchanges...), f.Exchanges...)
	dexes := append(append([]Entry{}, defaultDEX...), f.DEX...)
	return New(exchanges, dexes)
}

// Lookup returns the entry for addr.
func (r *Registry) Lookup(addr string) (Entry, bool) {
	e, ok := r.entries[addr]
	return e, ok
}

// IsExchange reports whether addr is a registered exchange wallet.
func (r *Registry) IsExchange(addr string) bool {
	e, ok := r.entries[addr]
	return ok && e.Kind == KindExchange
}

// Label returns the registered label, or the shortened address.
func (r *Registry) Label(addr string) string {
	if e, ok := r.entries[addr]; ok {
		return e.Label
	}
	return util.ShortAddr(addr)
}

// FindDEX returns the first registered swap program among keys.
func (r *Registry) FindDEX(keys []string) (Entry, bool) {
	for _, k := range keys {
		if e, ok := r.entries[k]; ok && e.Kind == KindDEX {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of registered addresses.
func (r *Registry) Len() int { return len(r.entries) }
