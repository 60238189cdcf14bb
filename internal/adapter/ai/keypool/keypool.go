// Package keypool rotates provider credentials across a weighted pool,
// skipping keys that are cooling down after a rate-limit signal.
package keypool

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// WeightedKey is one configured credential and its share of the rotation.
type WeightedKey struct {
	Key    string
	Weight int
}

// ParseWeighted parses "k1:3,k2,k3:0" into weighted keys. Weight defaults to 1
// and never drops below 1; empty entries are ignored.
func ParseWeighted(raw string) []WeightedKey {
	var out []WeightedKey
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, w, _ := strings.Cut(entry, ":")
		weight, err := strconv.Atoi(strings.TrimSpace(w))
		if err != nil || weight < 1 {
			weight = 1
		}
		out = append(out, WeightedKey{Key: strings.TrimSpace(key), Weight: weight})
	}
	return out
}

// Expand flattens weighted keys into a rotation sequence with Weight copies of each key.
func Expand(keys []WeightedKey) []string {
	var out []string
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		for i := 0; i < k.Weight; i++ {
			out = append(out, k.Key)
		}
	}
	return out
}

// NextKey scans at most len(pool) entries starting at cursor and returns the
// first key whose cooldown has elapsed along with its index. When every key is
// cooling down it returns pool[0]. ok is false only for an empty pool.
func NextKey(pool []string, cursor int, cooldowns map[string]time.Time, now time.Time) (key string, idx int, ok bool) {
	n := len(pool)
	if n == 0 {
		return "", cursor, false
	}
	if cursor < 0 {
		cursor = 0
	}
	for i := 0; i < n; i++ {
		j := (cursor + i) % n
		k := pool[j]
		if until, cooling := cooldowns[k]; !cooling || !now.Before(until) {
			return k, j, true
		}
	}
	return pool[0], 0, true
}

// Pool owns one provider's rotation state. It is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	keys      []string
	cursor    int
	cooldowns map[string]time.Time
	now       func() time.Time
}

// New builds a pool from a raw key[:weight] list.
func New(raw string) *Pool {
	return NewFromKeys(Expand(ParseWeighted(raw)))
}

// NewFromKeys builds a pool from an already flattened rotation sequence.
func NewFromKeys(keys []string) *Pool {
	return &Pool{keys: keys, cooldowns: make(map[string]time.Time), now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
	return p
}

// Len returns the size of the flattened rotation.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Configured reports whether the pool holds at least one key.
func (p *Pool) Configured() bool { return p.Len() > 0 }

// Next returns the next usable key and advances the cursor one past it.
func (p *Pool) Next() (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, idx, ok := NextKey(p.keys, p.cursor, p.cooldowns, p.now())
	if !ok {
		return "", false
	}
	p.cursor = idx + 1
	return key, true
}

// First returns the first configured key without touching rotation state.
func (p *Pool) First() (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	return p.keys[0], true
}

// Cooldown excludes key from rotation for d.
func (p *Pool) Cooldown(key string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldowns[key] = p.now().Add(d)
}

// CoolingUntil returns the cooldown expiry recorded for key, if any.
func (p *Pool) CoolingUntil(key string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.cooldowns[key]
	return t, ok
}
