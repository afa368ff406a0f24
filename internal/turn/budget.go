package turn

import "sync"

// DailyBudget tracks estimated USD spend against a daily ceiling and fires
// each of the 50/75/90% warning thresholds at most once per day. The zero
// value has no ceiling (LimitUSD == 0 means unlimited).
type DailyBudget struct {
	mu       sync.Mutex
	LimitUSD float64
	spent    float64
	warned   map[int]bool // threshold percent -> already emitted
}

// NewDailyBudget returns a tracker with the given ceiling; limitUSD <= 0
// disables the budget check entirely.
func NewDailyBudget(limitUSD float64) *DailyBudget {
	return &DailyBudget{LimitUSD: limitUSD, warned: make(map[int]bool)}
}

// Exceeded reports whether estimated spend has already reached the ceiling.
func (b *DailyBudget) Exceeded() bool {
	if b == nil || b.LimitUSD <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent >= b.LimitUSD
}

// Add records additional estimated spend and returns the warning
// thresholds (50, 75, 90) newly crossed by this call, in ascending order.
func (b *DailyBudget) Add(usd float64) []int {
	if b == nil || b.LimitUSD <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.warned == nil {
		b.warned = make(map[int]bool)
	}
	b.spent += usd
	pct := (b.spent / b.LimitUSD) * 100
	var crossed []int
	for _, threshold := range []int{50, 75, 90} {
		if pct >= float64(threshold) && !b.warned[threshold] {
			b.warned[threshold] = true
			crossed = append(crossed, threshold)
		}
	}
	return crossed
}

// Spent returns the current estimated spend.
func (b *DailyBudget) Spent() float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}
