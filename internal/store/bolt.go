// Package store persists the watchlist, the scanner cursor, operator resync
// requests and alpha candidates in a single bbolt file.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketWatch = []byte("watchlist")
	bucketState = []byte("state")
	bucketAlpha = []byte("alpha_candidates")

	keyCursor = []byte("cursor")
	keyResync = []byte("resync")
)

// Bolt is a bbolt-backed store. Safe for concurrent use.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database at path.
func NewBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWatch, bucketState, bucketAlpha} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the file lock.
func (s *Bolt) Close() error { return s.db.Close() }

// ---- watchlist ----

func decodeSubs(v []byte) ([]int64, error) {
	if v == nil {
		return nil, nil
	}
	var subs []int64
	if err := json.Unmarshal(v, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Watch subscribes chatID to mint. It reports false when the entry existed.
func (s *Bolt) Watch(_ context.Context, mint string, chatID int64) (bool, error) {
	added := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWatch)
		subs, err := decodeSubs(b.Get([]byte(mint)))
		if err != nil {
			return err
		}
		for _, id := range subs {
			if id == chatID {
				return nil
			}
		}
		subs = append(subs, chatID)
		sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
		raw, err := json.Marshal(subs)
		if err != nil {
			return err
		}
		added = true
		return b.Put([]byte(mint), raw)
	})
	if err != nil {
		return false, fmt.Errorf("watch %s: %w", mint, err)
	}
	return added, nil
}

// Unwatch removes chatID from mint. It reports false when nothing was removed.
func (s *Bolt) Unwatch(_ context.Context, mint string, chatID int64) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWatch)
		subs, err := decodeSubs(b.Get([]byte(mint)))
		if err != nil {
			return err
		}
		kept := subs[:0]
		for _, id := range subs {
			if id == chatID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		if !removed {
			return nil
		}
		if len(kept) == 0 {
			return b.Delete([]byte(mint))
		}
		raw, err := json.Marshal(kept)
		if err != nil {
			return err
		}
		return b.Put([]byte(mint), raw)
	})
	if err != nil {
		return false, fmt.Errorf("unwatch %s: %w", mint, err)
	}
	return removed, nil
}

// Subscribers returns the chats watching mint.
func (s *Bolt) Subscribers(_ context.Context, mint string) ([]int64, error) {
	var subs []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		subs, err = decodeSubs(tx.Bucket(bucketWatch).Get([]byte(mint)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscribers %s: %w", mint, err)
	}
	return subs, nil
}

// WatchedBy returns the sorted mints chatID watches.
func (s *Bolt) WatchedBy(_ context.Context, chatID int64) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatch).ForEach(func(k, v []byte) error {
			subs, err := decodeSubs(v)
			if err != nil {
				return err
			}
			for _, id := range subs {
				if id == chatID {
					out = append(out, string(k))
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("watched by %d: %w", chatID, err)
	}
	sort.Strings(out)
	return out, nil
}

// WatchStats counts watched mints and total subscriptions.
func (s *Bolt) WatchStats(_ context.Context) (mints, entries int, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatch).ForEach(func(_, v []byte) error {
			subs, err := decodeSubs(v)
			if err != nil {
				return err
			}
			mints++
			entries += len(subs)
			return nil
		})
	})
	return mints, entries, err
}

// ---- scanner state ----

func putUint64(b *bolt.Bucket, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Put(key, buf[:])
}

func getUint64(b *bolt.Bucket, key []byte) (uint64, bool, error) {
	v := b.Get(key)
	if v == nil {
		return 0, false, nil
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("corrupt %s value (%d bytes)", key, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// SaveCursor persists the last processed slot.
func (s *Bolt) SaveCursor(_ context.Context, slot uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putUint64(tx.Bucket(bucketState), keyCursor, slot)
	})
}

// LoadCursor returns the persisted cursor, if any.
func (s *Bolt) LoadCursor(_ context.Context) (slot uint64, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		slot, ok, err = getUint64(tx.Bucket(bucketState), keyCursor)
		return err
	})
	return slot, ok, err
}

// RequestResync records an operator request to move the cursor to slot.
// A newer request replaces an unconsumed one.
func (s *Bolt) RequestResync(_ context.Context, slot uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putUint64(tx.Bucket(bucketState), keyResync, slot)
	})
}

// TakeResync returns and clears the pending resync request.
func (s *Bolt) TakeResync(_ context.Context) (slot uint64, ok bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		slot, ok, err = getUint64(b, keyResync)
		if err != nil || !ok {
			return err
		}
		return b.Delete(keyResync)
	})
	return slot, ok, err
}

// ---- alpha candidates ----

// AlphaCandidate aggregates alpha sightings of one mint.
type AlphaCandidate struct {
	Mint           string    `json:"mint"`
	Symbol         string    `json:"symbol"`
	FirstSignature string    `json:"first_signature"`
	LastSignature  string    `json:"last_signature"`
	LastSlot       uint64    `json:"last_slot"`
	LastReceived   string    `json:"last_received"`
	Hits           int       `json:"hits"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// AlphaSighting is one observation folded into a candidate.
type AlphaSighting struct {
	Mint      string
	Symbol    string
	Signature string
	Slot      uint64
	Received  string
	SeenAt    time.Time
}

// RecordAlpha upserts the candidate for sighting.Mint and returns it.
func (s *Bolt) RecordAlpha(_ context.Context, sighting AlphaSighting) (AlphaCandidate, error) {
	if sighting.Mint == "" {
		return AlphaCandidate{}, errors.New("record alpha: empty mint")
	}
	var c AlphaCandidate
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlpha)
		if v := b.Get([]byte(sighting.Mint)); v != nil {
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
		} else {
			c = AlphaCandidate{
				Mint:           sighting.Mint,
				FirstSignature: sighting.Signature,
				FirstSeen:      sighting.SeenAt,
			}
		}
		if sighting.Symbol != "" {
			c.Symbol = sighting.Symbol
		}
		c.LastSignature = sighting.Signature
		c.LastSlot = sighting.Slot
		c.LastReceived = sighting.Received
		c.LastSeen = sighting.SeenAt
		c.Hits++

		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(sighting.Mint), raw)
	})
	if err != nil {
		return AlphaCandidate{}, fmt.Errorf("record alpha %s: %w", sighting.Mint, err)
	}
	return c, nil
}

// TopAlpha returns up to limit candidates, most hits first.
func (s *Bolt) TopAlpha(_ context.Context, limit int) ([]AlphaCandidate, error) {
	var out []AlphaCandidate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlpha).ForEach(func(_, v []byte) error {
			var c AlphaCandidate
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list alpha: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
