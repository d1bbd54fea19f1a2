package incentives

import (
	"context"
	"sync"

	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/negotiation"
	tomb "gopkg.in/tomb.v2"
)

// Tracker accumulates FillRecords and QuoteRecords off the event bus so the
// leaderboard reflects live negotiation activity without the HTTP handler
// reaching into the ledger's internals.
type Tracker struct {
	bus *eventbus.Bus

	mu     sync.Mutex
	fills  []FillRecord
	quotes []QuoteRecord
}

func NewTracker(bus *eventbus.Bus) *Tracker {
	return &Tracker{bus: bus}
}

// Run consumes QuoteReceived and QuoteAccepted events until the tomb dies.
func (tr *Tracker) Run(t *tomb.Tomb) error {
	sub := tr.bus.Subscribe()
	defer tr.bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-t.Dying()
		cancel()
	}()

	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return nil
		}
		switch evt.Type {
		case eventbus.QuoteReceived:
			if q, ok := evt.Data.(negotiation.Quote); ok {
				tr.mu.Lock()
				tr.quotes = append(tr.quotes, QuoteRecord{MMAgent: q.MMAgentID})
				tr.mu.Unlock()
			}
		case eventbus.QuoteAccepted:
			if m, ok := evt.Data.(negotiation.AcceptedMatch); ok {
				tr.mu.Lock()
				tr.fills = append(tr.fills, FillRecord{MMAgent: m.MMAgent, NotionalUSDC: m.Size.Mul(m.EntryPrice)})
				tr.mu.Unlock()
			}
		}
	}
}

// Leaderboard returns the current ranking over everything observed so far.
func (tr *Tracker) Leaderboard() []Stats {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	fills := make([]FillRecord, len(tr.fills))
	copy(fills, tr.fills)
	quotes := make([]QuoteRecord, len(tr.quotes))
	copy(quotes, tr.quotes)
	return Leaderboard(fills, quotes)
}
