package protocol

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"flashstream/internal/model"
)

func makeLog(addr common.Address, topic0 common.Hash, indexed []common.Hash, data []byte) model.ReceiptLog {
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, topic0)
	topics = append(topics, indexed...)
	return model.ReceiptLog{
		Address: addr,
		Topics:  topics,
		Data:    data,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicFromBig(value *big.Int) common.Hash {
	if value.Sign() < 0 {
		value = new(big.Int).Add(value, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BigToHash(value)
}

func bloomWith(hashes ...common.Hash) *types.Bloom {
	var bloom types.Bloom
	for _, h := range hashes {
		bloom.Add(h.Bytes())
	}
	return &bloom
}

func flashblockWith(blockNumber uint64, receipts map[string]model.FlashblockReceipt) *model.Flashblock {
	return &model.Flashblock{
		PayloadID: "0x1234",
		Index:     0,
		Metadata: &model.FlashblockMetadata{
			Receipts:    receipts,
			BlockNumber: blockNumber,
		},
	}
}

func TestUniV3SwapSignature(t *testing.T) {
	poolABI, err := UniV3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	expected := crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
	if poolABI.Events["Swap"].ID != expected {
		t.Fatalf("swap signature mismatch: %s", poolABI.Events["Swap"].ID)
	}
}

func TestDecodeSwap(t *testing.T) {
	poolABI, err := UniV3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(-1000),
		big.NewInt(2000),
		big.NewInt(123456789),
		big.NewInt(987654321),
		big.NewInt(-15),
	)
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}

	log := makeLog(pool, poolABI.Events["Swap"].ID, []common.Hash{
		topicFromAddress(sender),
		topicFromAddress(recipient),
	}, data)

	swap, ok := DecodeSwap(log)
	if !ok {
		t.Fatalf("decode swap failed")
	}
	if swap.Pool != pool.Hex() {
		t.Fatalf("pool mismatch: %s", swap.Pool)
	}
	if swap.Sender != sender.Hex() || swap.Recipient != recipient.Hex() {
		t.Fatalf("address mismatch: %+v", swap)
	}
	if swap.Amount0 != "-1000" || swap.Amount1 != "2000" {
		t.Fatalf("amounts mismatch: %+v", swap)
	}
	if swap.SqrtPriceX96 != "123456789" || swap.Liquidity != "987654321" {
		t.Fatalf("state mismatch: %+v", swap)
	}
	if swap.Tick != -15 {
		t.Fatalf("tick mismatch: %d", swap.Tick)
	}
}

func TestDecodeSwapRejectsWrongShape(t *testing.T) {
	poolABI, err := UniV3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1),
	)
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}

	// Missing one indexed topic.
	short := makeLog(pool, poolABI.Events["Swap"].ID, []common.Hash{topicFromAddress(sender)}, data)
	if _, ok := DecodeSwap(short); ok {
		t.Fatalf("decoded swap with too few topics")
	}

	// Wrong signature topic.
	wrongSig := makeLog(pool, poolABI.Events["Mint"].ID, []common.Hash{
		topicFromAddress(sender),
		topicFromAddress(sender),
	}, data)
	if _, ok := DecodeSwap(wrongSig); ok {
		t.Fatalf("decoded swap with wrong topic0")
	}

	// Truncated data payload.
	truncated := makeLog(pool, poolABI.Events["Swap"].ID, []common.Hash{
		topicFromAddress(sender),
		topicFromAddress(sender),
	}, data[:32])
	if _, ok := DecodeSwap(truncated); ok {
		t.Fatalf("decoded swap from truncated data")
	}
}

func TestUniV3FromBloom(t *testing.T) {
	poolABI, err := UniV3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	nilBloom := UniV3FromBloom(nil)
	if !nilBloom.Any() || !nilBloom.MayHaveSwap || !nilBloom.MayHaveMint {
		t.Fatalf("nil bloom must fail open: %+v", nilBloom)
	}

	empty := UniV3FromBloom(&types.Bloom{})
	if empty.Any() {
		t.Fatalf("empty bloom must rule everything out: %+v", empty)
	}

	swapOnly := UniV3FromBloom(bloomWith(poolABI.Events["Swap"].ID))
	if !swapOnly.MayHaveSwap {
		t.Fatalf("bloom with swap signature must report swap")
	}
	if swapOnly.MayHaveMint || swapOnly.MayHaveBurn || swapOnly.MayHaveCollect || swapOnly.MayHaveFlash {
		t.Fatalf("unexpected false positives across all other events: %+v", swapOnly)
	}
}

func TestSwapsInFlashblock(t *testing.T) {
	poolABI, err := UniV3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(5), big.NewInt(-5), big.NewInt(10), big.NewInt(20), big.NewInt(0),
	)
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}
	swapLog := makeLog(pool, poolABI.Events["Swap"].ID, []common.Hash{
		topicFromAddress(sender),
		topicFromAddress(sender),
	}, data)

	fb := flashblockWith(100, map[string]model.FlashblockReceipt{
		// Receipt with a swap and a matching bloom.
		"0xaa": {TxType: "Eip1559", Inner: model.ReceiptInner{
			Logs:      []model.ReceiptLog{swapLog},
			LogsBloom: bloomWith(poolABI.Events["Swap"].ID),
		}},
		// Receipt whose bloom rules swaps out; its logs must be skipped.
		"0xbb": {TxType: "Legacy", Inner: model.ReceiptInner{
			Logs:      []model.ReceiptLog{swapLog},
			LogsBloom: &types.Bloom{},
		}},
		// Receipt with no bloom at all; fail open and decode.
		"0xcc": {TxType: "Deposit", Inner: model.ReceiptInner{
			Logs: []model.ReceiptLog{swapLog},
		}},
	})

	swaps := SwapsInFlashblock(fb)
	if len(swaps) != 2 {
		t.Fatalf("expected 2 swaps, got %d", len(swaps))
	}
}

func TestPoolStatePrice(t *testing.T) {
	// sqrtPriceX96 = 2^96 means a price of exactly 1.
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)

	swap := &ParsedSwap{
		SqrtPriceX96: q96.String(),
		Liquidity:    "42",
		Tick:         7,
	}
	state := swap.PoolState()
	if state.Tick != 7 || state.Liquidity.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("pool state mismatch: %+v", state)
	}

	price := state.Price0In1()
	if math.Abs(price-1.0) > 1e-12 {
		t.Fatalf("price mismatch: %g", price)
	}

	// Doubling the sqrt price quadruples the price.
	state.SqrtPriceX96 = new(big.Int).Lsh(q96, 1)
	price = state.Price0In1()
	if math.Abs(price-4.0) > 1e-12 {
		t.Fatalf("price mismatch after doubling: %g", price)
	}
}
