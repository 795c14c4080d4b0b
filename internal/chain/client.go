// Package chain is the bot's only road to the blockchain. The execution
// engine depends on the narrow Client contract here; RPC transport, ABI
// packing and signing stay behind it.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GasParams pins the gas terms of a submission. A zero GasLimit means
// estimate before sending.
type GasParams struct {
	GasPriceWei *big.Int
	GasLimit    uint64
}

// Client is everything the execution engine may do on-chain.
type Client interface {
	// Account is the executing address derived from the bot key.
	Account() common.Address

	// GetReserves reads the constant-product pair's reserves.
	GetReserves(ctx context.Context, pair common.Address) (reserve0, reserve1 *big.Int, err error)

	// Token0 reads the pair's token0 so callers can orient the reserves.
	Token0(ctx context.Context, pair common.Address) (common.Address, error)

	// Approve grants spender an ERC20 allowance on token from the executing
	// account. The engine approves the input token to the router before
	// every swap; the router pulls amountIn via transferFrom.
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int, gas GasParams) (common.Hash, error)

	// SwapExactTokensForTokens submits the router swap and returns the
	// transaction hash. The caller has already bounded minOut.
	SwapExactTokensForTokens(ctx context.Context, router common.Address, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline *big.Int, gas GasParams) (common.Hash, error)

	// HasReceipt reports whether a receipt exists yet for the hash.
	HasReceipt(ctx context.Context, tx common.Hash) (bool, error)

	// NativeBalance reads an account's native-coin balance in wei.
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)

	// TransferNative moves native coin from fromKey's account. Used only
	// by the one-shot gas top-up.
	TransferNative(ctx context.Context, fromKey *ecdsa.PrivateKey, to common.Address, amountWei *big.Int, gas GasParams) (common.Hash, error)
}
