package usage

import (
	"sync"
	"sync/atomic"
	"time"
)

const sessionTTL = 24 * time.Hour

// Tracker mirrors recent per-user spend in memory for the dashboard.
// It is not the durable record; the store's ledger is. Entries idle for
// longer than a day are dropped by a background sweep.
type Tracker struct {
	sessions map[int64]*spendSession
	mu       sync.RWMutex

	// Atomic global cost accumulator, stored as cost * 1e9 (nano-dollars)
	// to use atomic int64 ops.
	globalCostNano int64
}

type spendSession struct {
	UserID       int64
	Model        string
	Usage        ModelUsage
	Cost         float64
	RequestCount int
	FirstSeen    time.Time
	LastUpdated  time.Time
}

// SpendSnapshot is a read-only copy of one user's recent spend.
type SpendSnapshot struct {
	UserID       int64     `json:"user_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	RequestCount int       `json:"request_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NewTracker creates a spend tracker and starts its background sweep.
func NewTracker() *Tracker {
	t := &Tracker{sessions: make(map[int64]*spendSession)}
	go t.cleanup()
	return t
}

// Record adds one request's token counts for a user.
func (t *Tracker) Record(userID int64, model string, inputTokens, outputTokens int) {
	cost := CalculateCost(inputTokens, outputTokens, GetModelPricing(model))

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[userID]
	if !ok {
		s = &spendSession{UserID: userID, FirstSeen: time.Now()}
		t.sessions[userID] = s
	}
	s.Usage.InputTokens += inputTokens
	s.Usage.OutputTokens += outputTokens
	s.Cost += cost
	s.RequestCount++
	s.LastUpdated = time.Now()
	if model != "" {
		s.Model = model
	}

	atomic.AddInt64(&t.globalCostNano, int64(cost*1e9))
}

// GlobalCost returns total tracked cost across all users.
func (t *Tracker) GlobalCost() float64 {
	return float64(atomic.LoadInt64(&t.globalCostNano)) / 1e9
}

// Snapshot returns a copy of all live spend sessions.
func (t *Tracker) Snapshot() []SpendSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshots := make([]SpendSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		snapshots = append(snapshots, SpendSnapshot{
			UserID:       s.UserID,
			Model:        s.Model,
			InputTokens:  s.Usage.InputTokens,
			OutputTokens: s.Usage.OutputTokens,
			Cost:         s.Cost,
			RequestCount: s.RequestCount,
			LastUpdated:  s.LastUpdated,
		})
	}
	return snapshots
}

func (t *Tracker) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		now := time.Now()
		for id, s := range t.sessions {
			if now.Sub(s.LastUpdated) > sessionTTL {
				atomic.AddInt64(&t.globalCostNano, -int64(s.Cost*1e9))
				delete(t.sessions, id)
			}
		}
		t.mu.Unlock()
	}
}
