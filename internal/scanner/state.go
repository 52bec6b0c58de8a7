package scanner

import "sync"

// ScannerState owns the cursor: the last slot whose outcome is final.
// The cursor only moves forward, except through Resync.
type ScannerState struct {
	mu     sync.Mutex
	cursor uint64
}

// NewScannerState starts the cursor at start.
func NewScannerState(start uint64) *ScannerState {
	return &ScannerState{cursor: start}
}

// Cursor returns the last processed slot.
func (s *ScannerState) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Advance moves the cursor from `from` to from+1. It is a no-op returning
// false when the cursor moved in the meantime.
func (s *ScannerState) Advance(from uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor != from {
		return false
	}
	s.cursor++
	return true
}

// Warp jumps forward to target. Targets at or behind the cursor are ignored.
func (s *ScannerState) Warp(target uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target <= s.cursor {
		return false
	}
	s.cursor = target
	return true
}

// Resync sets the cursor to slot unconditionally. Operator use only.
func (s *ScannerState) Resync(slot uint64) {
	s.mu.Lock()
	s.cursor = slot
	s.mu.Unlock()
}
