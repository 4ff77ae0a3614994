package cache

import "fmt"

// Strategy selects the eviction victim ordering. A tagged value plus a small
// table of pure comparison functions — not subclassing.
type Strategy string

const (
	StrategyLRU  Strategy = "lru"
	StrategyLFU  Strategy = "lfu"
	StrategyFIFO Strategy = "fifo"
)

// ParseStrategy maps a config string onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLRU, StrategyLFU, StrategyFIFO:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown eviction strategy %q", s)
}

// better reports whether cand is a better eviction victim than best under
// the given strategy. Final ties fall back to the smaller id so victim
// selection is deterministic regardless of map iteration order.
type better func(best, cand *entry) bool

var victimTable = map[Strategy]better{
	// Oldest last-touch loses.
	StrategyLRU: func(best, cand *entry) bool {
		if cand.lastTouch != best.lastTouch {
			return cand.lastTouch < best.lastTouch
		}
		return cand.meta.ID < best.meta.ID
	},
	// Fewest accesses loses; ties broken by oldest last-touch.
	StrategyLFU: func(best, cand *entry) bool {
		if cand.hits != best.hits {
			return cand.hits < best.hits
		}
		if cand.lastTouch != best.lastTouch {
			return cand.lastTouch < best.lastTouch
		}
		return cand.meta.ID < best.meta.ID
	},
	// Oldest insertion loses, regardless of access pattern.
	StrategyFIFO: func(best, cand *entry) bool {
		if cand.insertedAt != best.insertedAt {
			return cand.insertedAt < best.insertedAt
		}
		return cand.meta.ID < best.meta.ID
	},
}
