package signal

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
)

// Paper is the dry-run provider. It draws plausible microstructure values
// from a PRNG seeded by the pair name, so the same pair replays the same
// tape across runs.
type Paper struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewPaper(pair string) *Paper {
	h := fnv.New64a()
	_, _ = h.Write([]byte(pair))
	return &Paper{
		rng: rand.New(rand.NewSource(int64(h.Sum64()))),
		now: time.Now,
	}
}

func (p *Paper) Probe(_ context.Context) (domain.SignalSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.rng
	return domain.SignalSnapshot{
		FT:        0.5 + r.Float64()*2.5,   // [0.5, 3.0)
		IPBps:     -5 + r.Float64()*25,     // [-5, 20)
		SE:        r.Float64() * 3,         // [0, 3)
		OFI:       -1 + r.Float64()*2,      // [-1, 1)
		LD:        -0.05 + r.Float64()*0.1, // [-0.05, 0.05)
		DevBps:    -50 + r.Float64()*100,   // [-50, 50)
		PBP:       r.Float64() * 2,         // [0, 2)
		PSP:       r.Float64() * 2,         // [0, 2)
		Timestamp: p.now(),
	}, nil
}

// SwapsLast10m reports synthetic activity high enough that the paper run
// is never gated as a quiet market.
func (p *Paper) SwapsLast10m() int { return 100 }
