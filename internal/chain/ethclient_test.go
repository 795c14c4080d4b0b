package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestEmbeddedABIsParse(t *testing.T) {
	pair, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		t.Fatalf("pair abi: %v", err)
	}
	if _, ok := pair.Methods["getReserves"]; !ok {
		t.Fatal("pair abi missing getReserves")
	}
	if _, ok := pair.Methods["token0"]; !ok {
		t.Fatal("pair abi missing token0")
	}

	router, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		t.Fatalf("router abi: %v", err)
	}
	if _, ok := router.Methods["swapExactTokensForTokens"]; !ok {
		t.Fatal("router abi missing swapExactTokensForTokens")
	}
}

func TestSwapCalldataPacks(t *testing.T) {
	router, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		t.Fatal(err)
	}
	path := []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000001"),
		common.HexToAddress("0x0000000000000000000000000000000000000002"),
	}
	data, err := router.Pack("swapExactTokensForTokens",
		big.NewInt(1_000_000), big.NewInt(990_000), path,
		common.HexToAddress("0x0000000000000000000000000000000000000003"),
		big.NewInt(1_900_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 4 {
		t.Fatal("calldata missing selector")
	}
}
