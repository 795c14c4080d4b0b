package signal

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/pkg/sigchan"
)

const (
	feedReadTimeout  = 45 * time.Second
	feedRetryBackoff = 2 * time.Second

	swapRetention    = 10 * time.Minute
	pendingRetention = 30 * time.Second
	quoteProbeUSD    = 100.0
)

// feedMessage is one event off the market stream. Swap events carry the
// executed trade plus post-swap reserves; pending events carry mempool
// intents that feed the pressure estimators.
type feedMessage struct {
	Event    string  `json:"ev"` // "swap" | "pending"
	Pair     string  `json:"pair"`
	Price    float64 `json:"p"`
	Volume   float64 `json:"v"` // quote-denominated size
	Side     string  `json:"side"`
	Reserve0 float64 `json:"r0"`
	Reserve1 float64 `json:"r1"`
}

type swapTick struct {
	ts    time.Time
	price float64
	vol   float64
	buy   bool
	liq   float64 // sqrt(r0*r1), 0 when reserves absent
}

type pendingTick struct {
	ts  time.Time
	vol float64
	buy bool
}

// Feed consumes a websocket swap stream for one pair and maintains the
// rolling estimators behind each snapshot field. Probe never blocks on the
// network: it reads whatever the reader goroutine last accumulated.
type Feed struct {
	wsURL   string
	pair    string
	log     *logrus.Entry
	updates *sigchan.Chan

	mu       sync.Mutex
	swaps    []swapTick
	pendings []pendingTick
	now      func() time.Time
}

func NewFeed(wsURL, pair string) *Feed {
	return &Feed{
		wsURL:   wsURL,
		pair:    strings.ToUpper(strings.TrimSpace(pair)),
		log:     logrus.WithField("module", "signal_feed"),
		updates: sigchan.New(1),
		now:     time.Now,
	}
}

// Updates signals once per ingested swap so a decision loop can react to
// fresh activity instead of only polling on a timer.
func (f *Feed) Updates() <-chan struct{} {
	return f.updates.C()
}

// Run drives the connect/read/reconnect loop until ctx is done. Call it in
// its own goroutine; Probe is safe to call concurrently.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			f.log.Warnf("feed disconnected: %v, retrying in %s", err, feedRetryBackoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(feedRetryBackoff):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	u, err := url.Parse(f.wsURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]string{"action": "subscribe", "pair": f.pair}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.log.Infof("subscribed to %s", f.pair)

	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var batch []feedMessage
		if err := json.Unmarshal(msg, &batch); err != nil {
			// Some upstreams send single objects outside of batches.
			var one feedMessage
			if err := json.Unmarshal(msg, &one); err != nil {
				continue
			}
			batch = []feedMessage{one}
		}

		now := f.now()
		for _, m := range batch {
			f.ingest(m, now)
		}
	}
}

func (f *Feed) ingest(m feedMessage, now time.Time) {
	if !strings.EqualFold(strings.TrimSpace(m.Pair), f.pair) {
		return
	}
	buy := strings.EqualFold(m.Side, "buy")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch m.Event {
	case "swap":
		if m.Price <= 0 || m.Volume <= 0 {
			return
		}
		var liq float64
		if m.Reserve0 > 0 && m.Reserve1 > 0 {
			liq = math.Sqrt(m.Reserve0 * m.Reserve1)
		}
		f.swaps = append(f.swaps, swapTick{ts: now, price: m.Price, vol: m.Volume, buy: buy, liq: liq})
		f.swaps = trimSwaps(f.swaps, now.Add(-swapRetention))
		f.updates.Emit()
	case "pending":
		if m.Volume <= 0 {
			return
		}
		f.pendings = append(f.pendings, pendingTick{ts: now, vol: m.Volume, buy: buy})
		f.pendings = trimPendings(f.pendings, now.Add(-pendingRetention))
	}
}

// Probe derives one snapshot from the rolling windows. All estimators are
// total over whatever history exists; a cold feed yields neutral values
// that the entry gate will reject on its own.
func (f *Feed) Probe(_ context.Context) (domain.SignalSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.swaps = trimSwaps(f.swaps, now.Add(-swapRetention))
	f.pendings = trimPendings(f.pendings, now.Add(-pendingRetention))

	snap := domain.SignalSnapshot{Timestamp: now}
	if len(f.swaps) == 0 {
		return snap, nil
	}

	last := f.swaps[len(f.swaps)-1]
	twap := f.volumeWeightedPrice(now.Add(-5*time.Minute), now)

	// Follow-through: move over the last minute relative to the move over
	// the minute before it. >1 means the impulse kept going.
	recent := f.priceMove(now.Add(-time.Minute), now)
	prior := f.priceMove(now.Add(-2*time.Minute), now.Add(-time.Minute))
	if prior != 0 && sameSign(recent, prior) {
		snap.FT = math.Abs(recent / prior)
	}

	// Impact persistence: displacement in bps still held vs one minute ago.
	if p := f.priceAt(now.Add(-time.Minute)); p > 0 {
		snap.IPBps = (last.price - p) / p * 10000
	}

	// Slippage elasticity: bps of price impact a fixed quote-side probe
	// would cause against current depth.
	if last.liq > 0 && last.price > 0 {
		quoteDepth := last.liq * math.Sqrt(last.price)
		if quoteDepth > 0 {
			snap.SE = quoteProbeUSD / quoteDepth * 10000
		}
	}

	var buyVol, sellVol float64
	cutoff := now.Add(-time.Minute)
	for _, s := range f.swaps {
		if s.ts.Before(cutoff) {
			continue
		}
		if s.buy {
			buyVol += s.vol
		} else {
			sellVol += s.vol
		}
	}
	if total := buyVol + sellVol; total > 0 {
		snap.OFI = (buyVol - sellVol) / total
	}

	// Liquidity delta over the last two reserve observations. Negative
	// means the pool drained since then.
	if prev, cur, ok := f.lastTwoLiquidity(); ok && prev > 0 {
		snap.LD = (cur - prev) / prev
	}

	if twap > 0 {
		snap.DevBps = (last.price - twap) / twap * 10000
	}

	for _, p := range f.pendings {
		if p.buy {
			snap.PBP += p.vol
		} else {
			snap.PSP += p.vol
		}
	}
	return snap, nil
}

func (f *Feed) SwapsLast10m() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps = trimSwaps(f.swaps, f.now().Add(-swapRetention))
	return len(f.swaps)
}

func (f *Feed) volumeWeightedPrice(from, to time.Time) float64 {
	var pv, v float64
	for _, s := range f.swaps {
		if s.ts.Before(from) || s.ts.After(to) {
			continue
		}
		pv += s.price * s.vol
		v += s.vol
	}
	if v == 0 {
		return 0
	}
	return pv / v
}

// priceMove is the last-minus-first price inside [from, to).
func (f *Feed) priceMove(from, to time.Time) float64 {
	var first, last float64
	for _, s := range f.swaps {
		if s.ts.Before(from) || !s.ts.Before(to) {
			continue
		}
		if first == 0 {
			first = s.price
		}
		last = s.price
	}
	if first == 0 || last == 0 {
		return 0
	}
	return last - first
}

// priceAt is the earliest price at or after ts.
func (f *Feed) priceAt(ts time.Time) float64 {
	for _, s := range f.swaps {
		if !s.ts.Before(ts) {
			return s.price
		}
	}
	return 0
}

func (f *Feed) lastTwoLiquidity() (prev, cur float64, ok bool) {
	for i := len(f.swaps) - 1; i >= 0; i-- {
		if f.swaps[i].liq <= 0 {
			continue
		}
		if cur == 0 {
			cur = f.swaps[i].liq
			continue
		}
		return f.swaps[i].liq, cur, true
	}
	return 0, 0, false
}

func trimSwaps(ticks []swapTick, cutoff time.Time) []swapTick {
	i := 0
	for ; i < len(ticks); i++ {
		if !ticks[i].ts.Before(cutoff) {
			break
		}
	}
	return ticks[i:]
}

func trimPendings(ticks []pendingTick, cutoff time.Time) []pendingTick {
	i := 0
	for ; i < len(ticks); i++ {
		if !ticks[i].ts.Before(cutoff) {
			break
		}
	}
	return ticks[i:]
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}
