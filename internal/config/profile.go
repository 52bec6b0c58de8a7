package config

import (
	"fmt"
	"sort"
	"strings"
)

// ScanProfile trades completeness for freshness: a smaller lag bound warps
// sooner.
type ScanProfile struct {
	Name         string
	LagBound     uint64
	SafetyMargin uint64
}

var profiles = map[string]ScanProfile{
	"realtime": {Name: "realtime", LagBound: 10, SafetyMargin: 2},
	"balanced": {Name: "balanced", LagBound: 50, SafetyMargin: 5},
	"thorough": {Name: "thorough", LagBound: 100, SafetyMargin: 10},
}

// Profile looks a profile up by case-insensitive name.
func Profile(name string) (ScanProfile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// ProfileNames lists the known profiles, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate guarantees that a warp never moves the cursor backwards.
func (p ScanProfile) Validate() error {
	if p.LagBound == 0 {
		return fmt.Errorf("scan lag bound must be positive")
	}
	if p.SafetyMargin >= p.LagBound {
		return fmt.Errorf("scan safety margin (%d) must be below lag bound (%d)", p.SafetyMargin, p.LagBound)
	}
	return nil
}
