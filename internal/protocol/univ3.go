package protocol

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"flashstream/internal/model"
	"flashstream/internal/stream"
)

const univ3PoolABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "sender", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
      {"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
      {"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
    ],
    "name": "Mint",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
      {"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
      {"indexed": false, "internalType": "uint128", "name": "amount0", "type": "uint128"},
      {"indexed": false, "internalType": "uint128", "name": "amount1", "type": "uint128"}
    ],
    "name": "Collect",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
      {"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
      {"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
    ],
    "name": "Burn",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "int256", "name": "amount0", "type": "int256"},
      {"indexed": false, "internalType": "int256", "name": "amount1", "type": "int256"},
      {"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
      {"indexed": false, "internalType": "uint128", "name": "liquidity", "type": "uint128"},
      {"indexed": false, "internalType": "int24", "name": "tick", "type": "int24"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "paid0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "paid1", "type": "uint256"}
    ],
    "name": "Flash",
    "type": "event"
  }
]`

var (
	univ3ABI     abi.ABI
	univ3ABIOnce sync.Once
	univ3ABIErr  error
)

// UniV3PoolABI returns the parsed Uniswap V3 pool event ABI.
func UniV3PoolABI() (abi.ABI, error) {
	univ3ABIOnce.Do(func() {
		univ3ABI, univ3ABIErr = abi.JSON(strings.NewReader(univ3PoolABIJSON))
	})
	return univ3ABI, univ3ABIErr
}

// UniV3Prefilter reports which Uniswap V3 pool events a receipt bloom
// may contain. Bloom filters can produce false positives but never
// false negatives.
type UniV3Prefilter struct {
	MayHaveMint    bool
	MayHaveCollect bool
	MayHaveBurn    bool
	MayHaveSwap    bool
	MayHaveFlash   bool
}

// UniV3FromBloom checks the bloom filter for potential Uniswap V3
// events. A nil bloom means the sequencer omitted it; everything is
// then treated as possibly present.
func UniV3FromBloom(bloom *types.Bloom) UniV3Prefilter {
	poolABI, err := UniV3PoolABI()
	if bloom == nil || err != nil {
		return UniV3Prefilter{
			MayHaveMint:    true,
			MayHaveCollect: true,
			MayHaveBurn:    true,
			MayHaveSwap:    true,
			MayHaveFlash:   true,
		}
	}
	return UniV3Prefilter{
		MayHaveMint:    types.BloomLookup(*bloom, poolABI.Events["Mint"].ID),
		MayHaveCollect: types.BloomLookup(*bloom, poolABI.Events["Collect"].ID),
		MayHaveBurn:    types.BloomLookup(*bloom, poolABI.Events["Burn"].ID),
		MayHaveSwap:    types.BloomLookup(*bloom, poolABI.Events["Swap"].ID),
		MayHaveFlash:   types.BloomLookup(*bloom, poolABI.Events["Flash"].ID),
	}
}

// Any reports whether any Uniswap V3 event might be present.
func (p UniV3Prefilter) Any() bool {
	return p.MayHaveMint || p.MayHaveCollect || p.MayHaveBurn || p.MayHaveSwap || p.MayHaveFlash
}

// ParsedSwap is a decoded Uniswap V3 Swap event with its pool address.
// Amounts are decimal strings; positive means the pool received tokens.
type ParsedSwap struct {
	Pool         string `json:"pool"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Liquidity    string `json:"liquidity"`
	Tick         int32  `json:"tick"`
}

// DecodeSwap tries to decode a Swap event from a raw log.
func DecodeSwap(log model.ReceiptLog) (*ParsedSwap, bool) {
	poolABI, err := UniV3PoolABI()
	if err != nil {
		return nil, false
	}
	event := poolABI.Events["Swap"]

	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	values, ok := decodeLog(event, log, &indexed)
	if !ok || len(values) != 5 {
		return nil, false
	}

	amount0, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}
	sqrtPrice, err := asBigInt(values[2])
	if err != nil {
		return nil, false
	}
	liquidity, err := asBigInt(values[3])
	if err != nil {
		return nil, false
	}
	tickBig, err := asBigInt(values[4])
	if err != nil {
		return nil, false
	}
	tick, err := int24FromBig(tickBig)
	if err != nil {
		return nil, false
	}

	return &ParsedSwap{
		Pool:         log.Address.Hex(),
		Sender:       indexed.Sender.Hex(),
		Recipient:    indexed.Recipient.Hex(),
		Amount0:      amount0.String(),
		Amount1:      amount1.String(),
		SqrtPriceX96: sqrtPrice.String(),
		Liquidity:    liquidity.String(),
		Tick:         tick,
	}, true
}

// ExtractSwaps decodes all Swap events from a log list, preserving
// log order. Logs matching no event contribute nothing.
func ExtractSwaps(logs []model.ReceiptLog) []*ParsedSwap {
	var swaps []*ParsedSwap
	for _, log := range logs {
		if swap, ok := DecodeSwap(log); ok {
			swaps = append(swaps, swap)
		}
	}
	return swaps
}

// SwapsInFlashblock extracts all Swap events from a flashblock's
// receipts, using per-receipt bloom filters to skip receipts that
// cannot contain a Swap.
func SwapsInFlashblock(fb *model.Flashblock) []*ParsedSwap {
	if fb.Metadata == nil {
		return nil
	}
	var swaps []*ParsedSwap
	for _, receipt := range fb.Metadata.Receipts {
		if !UniV3FromBloom(receipt.Bloom()).MayHaveSwap {
			continue
		}
		swaps = append(swaps, ExtractSwaps(receipt.Logs())...)
	}
	return swaps
}

// PoolState is a point-in-time view of a pool derived from a Swap.
type PoolState struct {
	SqrtPriceX96 *big.Int `json:"sqrt_price_x96"`
	Tick         int32    `json:"tick"`
	Liquidity    *big.Int `json:"liquidity"`
}

// PoolState derives the pool state after this swap.
func (s *ParsedSwap) PoolState() PoolState {
	sqrtPrice, _ := new(big.Int).SetString(s.SqrtPriceX96, 10)
	liquidity, _ := new(big.Int).SetString(s.Liquidity, 10)
	if sqrtPrice == nil {
		sqrtPrice = new(big.Int)
	}
	if liquidity == nil {
		liquidity = new(big.Int)
	}
	return PoolState{
		SqrtPriceX96: sqrtPrice,
		Tick:         s.Tick,
		Liquidity:    liquidity,
	}
}

// Price0In1 returns the price of token0 denominated in token1,
// computed as (sqrtPriceX96 / 2^96)^2.
func (ps PoolState) Price0In1() float64 {
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(new(big.Float).SetInt(ps.SqrtPriceX96), q96)
	price, _ := new(big.Float).Mul(ratio, ratio).Float64()
	return price
}

// UniV3Handler streams Uniswap V3 swap events.
type UniV3Handler struct {
	logger *zap.Logger
}

// NewUniV3Handler builds the Uniswap V3 protocol handler.
func NewUniV3Handler(logger *zap.Logger) *UniV3Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UniV3Handler{logger: logger}
}

// Name identifies the handler in logs.
func (h *UniV3Handler) Name() string { return "univ3" }

// Process extracts swaps from the flashblock and publishes each one.
func (h *UniV3Handler) Process(fb *model.Flashblock, blockNumber uint64, sink stream.Sink) {
	swaps := SwapsInFlashblock(fb)
	if len(swaps) == 0 {
		return
	}

	h.logger.Info("univ3 swaps detected",
		zap.Uint64("block_number", blockNumber),
		zap.Int("count", len(swaps)),
	)

	for _, swap := range swaps {
		state := swap.PoolState()
		h.logger.Debug("swap",
			zap.String("pool", swap.Pool),
			zap.String("sender", swap.Sender),
			zap.String("recipient", swap.Recipient),
			zap.String("amount0", swap.Amount0),
			zap.String("amount1", swap.Amount1),
			zap.Int32("tick", state.Tick),
			zap.Float64("price_0_in_1", state.Price0In1()),
		)
		if err := sink.Send("UniV3_swap", swap); err != nil {
			h.logger.Error("send swap to stream failed", zap.Error(err))
		}
	}
}
