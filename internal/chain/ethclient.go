package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// pairABI covers the UniswapV2-style pair reads the bot needs.
const pairABI = `[
	{
		"inputs": [],
		"name": "getReserves",
		"outputs": [
			{"name": "reserve0", "type": "uint112"},
			{"name": "reserve1", "type": "uint112"},
			{"name": "blockTimestampLast", "type": "uint32"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token0",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// routerABI covers the single swap entrypoint the bot uses.
const routerABI = `[
	{
		"inputs": [
			{"name": "amountIn", "type": "uint256"},
			{"name": "amountOutMin", "type": "uint256"},
			{"name": "path", "type": "address[]"},
			{"name": "to", "type": "address"},
			{"name": "deadline", "type": "uint256"}
		],
		"name": "swapExactTokensForTokens",
		"outputs": [{"name": "amounts", "type": "uint256[]"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// erc20ABI covers the single allowance write the bot needs.
const erc20ABI = `[
	{
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const nativeTransferGasLimit = 21000

// EthClient is the go-ethereum implementation of Client. All RPC calls run
// through a circuit breaker so a degraded node trips fast instead of
// stalling the decision loop on every iteration.
type EthClient struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	account common.Address

	pairABI   abi.ABI
	routerABI abi.ABI
	erc20ABI  abi.ABI
	breaker   *gobreaker.CircuitBreaker
}

// NewEthClient dials the RPC endpoint and prepares the ABIs.
func NewEthClient(rpcURL string, chainID int64, key *ecdsa.PrivateKey) (*EthClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}

	pair, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse pair abi")
	}
	router, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse router abi")
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse erc20 abi")
	}

	return &EthClient{
		client:    client,
		chainID:   big.NewInt(chainID),
		key:       key,
		account:   crypto.PubkeyToAddress(key.PublicKey),
		pairABI:   pair,
		routerABI: router,
		erc20ABI:  erc20,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "chain-rpc",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// A missing receipt is a normal polling answer, not an RPC fault.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ethereum.NotFound)
			},
		}),
	}, nil
}

// Healthy reports whether the RPC breaker admits calls. Used as the
// decision loop's readiness gate in live mode.
func (c *EthClient) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

func (c *EthClient) Account() common.Address {
	return c.account
}

// GasPriceGwei reports the node's suggested gas price in gwei, for the
// pre-probe gas gate.
func (c *EthClient) GasPriceGwei(ctx context.Context) (float64, error) {
	res, err := c.through(func() (interface{}, error) {
		return c.client.SuggestGasPrice(ctx)
	})
	if err != nil {
		return 0, errors.Wrap(err, "suggest gas price")
	}
	gwei, _ := new(big.Float).Quo(
		new(big.Float).SetInt(res.(*big.Int)),
		big.NewFloat(1e9),
	).Float64()
	return gwei, nil
}

func (c *EthClient) GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	data, err := c.pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, errors.Wrap(err, "pack getReserves")
	}

	raw, err := c.call(ctx, pair, data)
	if err != nil {
		return nil, nil, errors.Wrap(err, "call getReserves")
	}

	out, err := c.pairABI.Unpack("getReserves", raw)
	if err != nil || len(out) < 2 {
		return nil, nil, errors.Wrap(err, "unpack getReserves")
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("unexpected getReserves result types")
	}
	return r0, r1, nil
}

func (c *EthClient) Token0(ctx context.Context, pair common.Address) (common.Address, error) {
	data, err := c.pairABI.Pack("token0")
	if err != nil {
		return common.Address{}, errors.Wrap(err, "pack token0")
	}

	raw, err := c.call(ctx, pair, data)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "call token0")
	}

	var token common.Address
	if err := c.pairABI.UnpackIntoInterface(&token, "token0", raw); err != nil {
		return common.Address{}, errors.Wrap(err, "unpack token0")
	}
	return token, nil
}

func (c *EthClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int, gas GasParams) (common.Hash, error) {
	data, err := c.erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack approve")
	}
	return c.submit(ctx, c.key, token, big.NewInt(0), data, gas)
}

func (c *EthClient) SwapExactTokensForTokens(ctx context.Context, router common.Address, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline *big.Int, gas GasParams) (common.Hash, error) {
	data, err := c.routerABI.Pack("swapExactTokensForTokens", amountIn, minOut, path, recipient, deadline)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack swap")
	}
	return c.submit(ctx, c.key, router, big.NewInt(0), data, gas)
}

func (c *EthClient) HasReceipt(ctx context.Context, tx common.Hash) (bool, error) {
	_, err := c.through(func() (interface{}, error) {
		return c.client.TransactionReceipt(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "query receipt")
	}
	return true, nil
}

func (c *EthClient) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	res, err := c.through(func() (interface{}, error) {
		return c.client.BalanceAt(ctx, account, nil)
	})
	if err != nil {
		return nil, errors.Wrap(err, "query native balance")
	}
	return res.(*big.Int), nil
}

func (c *EthClient) TransferNative(ctx context.Context, fromKey *ecdsa.PrivateKey, to common.Address, amountWei *big.Int, gas GasParams) (common.Hash, error) {
	if gas.GasLimit == 0 {
		gas.GasLimit = nativeTransferGasLimit
	}
	return c.submit(ctx, fromKey, to, amountWei, nil, gas)
}

// submit signs and sends one legacy transaction from the given key.
func (c *EthClient) submit(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas GasParams) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	res, err := c.through(func() (interface{}, error) {
		return c.client.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "query nonce")
	}
	nonce := res.(uint64)

	gasPrice := gas.GasPriceWei
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		res, err := c.through(func() (interface{}, error) {
			return c.client.SuggestGasPrice(ctx)
		})
		if err != nil {
			return common.Hash{}, errors.Wrap(err, "suggest gas price")
		}
		gasPrice = res.(*big.Int)
	}

	gasLimit := gas.GasLimit
	if gasLimit == 0 {
		res, err := c.through(func() (interface{}, error) {
			return c.client.EstimateGas(ctx, ethereum.CallMsg{
				From:  from,
				To:    &to,
				Value: value,
				Data:  data,
			})
		})
		if err != nil {
			return common.Hash{}, errors.Wrap(err, "estimate gas")
		}
		gasLimit = res.(uint64)
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}

	if _, err := c.through(func() (interface{}, error) {
		return nil, c.client.SendTransaction(ctx, signed)
	}); err != nil {
		return common.Hash{}, errors.Wrap(err, "send transaction")
	}
	return signed.Hash(), nil
}

func (c *EthClient) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	res, err := c.through(func() (interface{}, error) {
		return c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (c *EthClient) through(fn func() (interface{}, error)) (interface{}, error) {
	return c.breaker.Execute(fn)
}
