// Package execution turns an ENTER or EXIT decision into a safe on-chain
// swap. Every refusal is a typed result with a reason, never a panic or an
// uncontrolled error: guard rejections are expected, frequent outcomes of
// normal risk enforcement and must not crash the decision loop.
package execution

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Poom5741/tok-tradingbot/internal/chain"
	"github.com/Poom5741/tok-tradingbot/internal/metrics"
	"github.com/Poom5741/tok-tradingbot/pkg/config"
)

// Reason labels a guard refusal or submission failure.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonRateLimited     Reason = "rate_limited"
	ReasonInsufficientGas Reason = "insufficient_gas_balance"
	ReasonGasPriceCap     Reason = "gas_price_cap_exceeded"
	ReasonNoLiquidity     Reason = "no_liquidity"
	ReasonSubmitFailed    Reason = "submit_failed"
)

// Direction orients a swap between the pair's two tokens.
type Direction int

const (
	// Buy swaps token0 into token1.
	Buy Direction = iota
	// Sell swaps token1 into token0.
	Sell
)

func (d Direction) String() string {
	if d == Buy {
		return "buy"
	}
	return "sell"
}

// TradeResult is the typed outcome of one attempt. OK is false for every
// guard refusal; Err carries detail only when a collaborator failed
// underneath a reason.
type TradeResult struct {
	OK        bool
	Reason    Reason
	Err       error
	TxHash    common.Hash
	AmountIn  *big.Int
	MinOut    *big.Int
	Confirmed bool
}

func refuse(reason Reason, err error) TradeResult {
	metrics.GuardRefusals.Add(1)
	return TradeResult{Reason: reason, Err: err}
}

const (
	defaultSwapDeadline = 2 * time.Minute
	receiptPollInterval = 3 * time.Second
	topupSettleWait     = 5 * time.Second
)

type weiAmounts struct {
	minNative *big.Int
	topup     *big.Int
}

// Engine owns the pre-trade guards and the submission path for one pair.
// The rate-limit clock belongs to this instance exclusively.
type Engine struct {
	client chain.Client
	exec   config.ExecutionConfig
	wei    weiAmounts

	gasCapGwei float64
	topupKey   *ecdsa.PrivateKey

	pair      common.Address
	router    common.Address
	token0    common.Address
	token1    common.Address
	recipient common.Address

	mu          sync.Mutex
	lastTradeAt time.Time

	settleWait   time.Duration
	pollInterval time.Duration
	now          func() time.Time
	log          *logrus.Entry
}

// New wires an engine. topupKey may be nil; the gas top-up then stays
// disabled even when a top-up amount is configured.
func New(client chain.Client, exec config.ExecutionConfig, chn config.ChainConfig, gasCapGwei float64, topupKey *ecdsa.PrivateKey) (*Engine, error) {
	wei, err := parseWei(exec)
	if err != nil {
		return nil, err
	}

	recipient := common.HexToAddress(chn.Recipient)
	if chn.Recipient == "" {
		recipient = client.Account()
	}

	return &Engine{
		client:     client,
		exec:       exec,
		wei:        wei,
		gasCapGwei: gasCapGwei,
		topupKey:   topupKey,
		pair:       common.HexToAddress(chn.PairAddress),
		router:     common.HexToAddress(chn.RouterAddress),
		token0:     common.HexToAddress(chn.Token0),
		token1:     common.HexToAddress(chn.Token1),
		recipient:  recipient,

		settleWait:   topupSettleWait,
		pollInterval: receiptPollInterval,
		now:          time.Now,
		log:          logrus.WithField("module", "execution"),
	}, nil
}

func parseWei(exec config.ExecutionConfig) (weiAmounts, error) {
	var w weiAmounts
	var ok bool
	if exec.MinNativeBalanceWei != "" {
		if w.minNative, ok = new(big.Int).SetString(exec.MinNativeBalanceWei, 10); !ok {
			return w, errors.Errorf("invalid min native balance %q", exec.MinNativeBalanceWei)
		}
	}
	if exec.GasTopupWei != "" {
		if w.topup, ok = new(big.Int).SetString(exec.GasTopupWei, 10); !ok {
			return w, errors.Errorf("invalid gas topup amount %q", exec.GasTopupWei)
		}
	}
	return w, nil
}

// LastTradeAt exposes the rate-limit clock for status surfaces.
func (e *Engine) LastTradeAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTradeAt
}

// Swap runs the full guard chain and, if every guard passes, submits the
// swap and waits for its receipt. The last-trade timestamp moves only on a
// successful submission. The mutex covers guards and submission only;
// receipt polling runs outside it so status reads never block on a
// confirmation wait.
func (e *Engine) Swap(ctx context.Context, dir Direction, amountIn *big.Int) TradeResult {
	res := e.submitGuarded(ctx, dir, amountIn)
	if !res.OK {
		return res
	}

	res.Confirmed = e.waitConfirmation(ctx, res.TxHash)
	e.log.WithFields(logrus.Fields{
		"dir":       dir.String(),
		"tx":        res.TxHash.Hex(),
		"confirmed": res.Confirmed,
	}).Info("swap submitted")
	return res
}

// submitGuarded holds the engine mutex across the guard chain and the two
// transaction sends, serializing trades on this pair.
func (e *Engine) submitGuarded(ctx context.Context, dir Direction, amountIn *big.Int) TradeResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	interval := time.Duration(e.exec.MinTradeIntervalS) * time.Second
	if !e.lastTradeAt.IsZero() && now.Sub(e.lastTradeAt) < interval {
		return refuse(ReasonRateLimited, nil)
	}

	if res := e.checkGasPrice(); res.Reason != ReasonNone {
		return res
	}
	if res := e.ensureGas(ctx); res.Reason != ReasonNone {
		return res
	}

	reserveIn, reserveOut, err := e.orientedReserves(ctx, dir)
	if err != nil {
		return refuse(ReasonSubmitFailed, err)
	}
	expected := CalcAmountOut(amountIn, reserveIn, reserveOut, int64(e.exec.PoolFeeBps))
	if expected.Sign() <= 0 {
		return refuse(ReasonNoLiquidity, nil)
	}
	minOut := MinOut(expected, int64(e.exec.SlippageBps))

	path := []common.Address{e.token0, e.token1}
	if dir == Sell {
		path = []common.Address{e.token1, e.token0}
	}
	deadline := big.NewInt(now.Add(defaultSwapDeadline).Unix())

	// Fresh allowance for the input token on every trade. The approve
	// result is not awaited; the router reads the allowance when the swap
	// lands, and the nonces order the two transactions.
	if _, err := e.client.Approve(ctx, path[0], e.router, amountIn, e.gasParams()); err != nil {
		return refuse(ReasonSubmitFailed, errors.Wrap(err, "approve input token"))
	}

	hash, err := e.client.SwapExactTokensForTokens(ctx, e.router, amountIn, minOut, path, e.recipient, deadline, e.gasParams())
	if err != nil {
		return refuse(ReasonSubmitFailed, err)
	}
	e.lastTradeAt = now

	return TradeResult{
		OK:       true,
		TxHash:   hash,
		AmountIn: amountIn,
		MinOut:   minOut,
	}
}

// checkGasPrice refuses when the configured gas price exceeds the risk cap.
func (e *Engine) checkGasPrice() TradeResult {
	if e.gasCapGwei > 0 && float64(e.exec.GasPriceGwei) > e.gasCapGwei {
		return refuse(ReasonGasPriceCap, nil)
	}
	return TradeResult{}
}

// ensureGas verifies the executing account can pay for gas, attempting a
// single top-up from the funding source when one is configured.
func (e *Engine) ensureGas(ctx context.Context) TradeResult {
	if e.wei.minNative == nil || e.wei.minNative.Sign() <= 0 {
		return TradeResult{}
	}

	balance, err := e.client.NativeBalance(ctx, e.client.Account())
	if err != nil {
		return refuse(ReasonSubmitFailed, errors.Wrap(err, "gas balance check"))
	}
	if balance.Cmp(e.wei.minNative) >= 0 {
		return TradeResult{}
	}

	if e.topupKey == nil || e.wei.topup == nil || e.wei.topup.Sign() <= 0 {
		return refuse(ReasonInsufficientGas, nil)
	}

	e.log.WithField("balance_wei", balance.String()).Warn("native balance low, attempting gas top-up")
	if _, err := e.client.TransferNative(ctx, e.topupKey, e.client.Account(), e.wei.topup, e.gasParams()); err != nil {
		return refuse(ReasonInsufficientGas, errors.Wrap(err, "gas top-up"))
	}

	select {
	case <-ctx.Done():
		return refuse(ReasonInsufficientGas, ctx.Err())
	case <-time.After(e.settleWait):
	}

	balance, err = e.client.NativeBalance(ctx, e.client.Account())
	if err != nil {
		return refuse(ReasonSubmitFailed, errors.Wrap(err, "gas balance re-check"))
	}
	if balance.Cmp(e.wei.minNative) < 0 {
		return refuse(ReasonInsufficientGas, nil)
	}
	return TradeResult{}
}

// orientedReserves maps the pair's reserves onto (in, out) for the swap
// direction. token0 ordering comes from the chain, not from config.
func (e *Engine) orientedReserves(ctx context.Context, dir Direction) (*big.Int, *big.Int, error) {
	r0, r1, err := e.client.GetReserves(ctx, e.pair)
	if err != nil {
		return nil, nil, err
	}
	chainToken0, err := e.client.Token0(ctx, e.pair)
	if err != nil {
		return nil, nil, err
	}
	if chainToken0 != e.token0 {
		r0, r1 = r1, r0
	}
	if dir == Buy {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// waitConfirmation polls for a receipt until the configured timeout.
// Returns false on timeout or cancellation; an unconfirmed result is
// informational only and never rolls anything back.
func (e *Engine) waitConfirmation(ctx context.Context, hash common.Hash) bool {
	timeout := time.Duration(e.exec.ConfirmTimeoutS) * time.Second
	if timeout <= 0 {
		return false
	}
	deadline := e.now().Add(timeout)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		found, err := e.client.HasReceipt(ctx, hash)
		if err == nil && found {
			return true
		}
		if e.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (e *Engine) gasParams() chain.GasParams {
	gwei := big.NewInt(int64(e.exec.GasPriceGwei))
	return chain.GasParams{
		GasPriceWei: new(big.Int).Mul(gwei, big.NewInt(1_000_000_000)),
	}
}

// ParseTopupKey decodes the funding-source private key, when configured.
func ParseTopupKey(exec config.ExecutionConfig) (*ecdsa.PrivateKey, error) {
	if exec.TopupSourcePK == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(trim0x(exec.TopupSourcePK))
	if err != nil {
		return nil, errors.Wrap(err, "parse topup source key")
	}
	return key, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
