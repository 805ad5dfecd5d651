package protocol

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"flashstream/internal/model"
	"flashstream/internal/stream"
)

const morphoBlueABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalf", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "assets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "Supply",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": false, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalf", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "receiver", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "assets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "Withdraw",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": false, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalf", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "receiver", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "assets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "Borrow",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalf", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "assets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "Repay",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalf", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "assets", "type": "uint256"}
    ],
    "name": "SupplyCollateral",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": false, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalf", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "receiver", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "assets", "type": "uint256"}
    ],
    "name": "WithdrawCollateral",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "caller", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "borrower", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "repaidAssets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "repaidShares", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "seizedAssets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "badDebtAssets", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "badDebtShares", "type": "uint256"}
    ],
    "name": "Liquidate",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
      {"indexed": false, "internalType": "address", "name": "loanToken", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "collateralToken", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "oracle", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "irm", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "lltv", "type": "uint256"}
    ],
    "name": "CreateMarket",
    "type": "event"
  }
]`

var (
	morphoABI     abi.ABI
	morphoABIOnce sync.Once
	morphoABIErr  error
)

// MorphoBlueABI returns the parsed Morpho Blue event ABI.
func MorphoBlueABI() (abi.ABI, error) {
	morphoABIOnce.Do(func() {
		morphoABI, morphoABIErr = abi.JSON(strings.NewReader(morphoBlueABIJSON))
	})
	return morphoABI, morphoABIErr
}

// MorphoPrefilter reports which Morpho Blue events a receipt bloom may
// contain.
type MorphoPrefilter struct {
	MayHaveSupply             bool
	MayHaveWithdraw           bool
	MayHaveBorrow             bool
	MayHaveRepay              bool
	MayHaveSupplyCollateral   bool
	MayHaveWithdrawCollateral bool
	MayHaveLiquidation        bool
	MayHaveCreateMarket       bool
}

// MorphoFromBloom checks the bloom filter for potential Morpho events.
// A nil bloom fails open: every event is treated as possibly present.
func MorphoFromBloom(bloom *types.Bloom) MorphoPrefilter {
	blueABI, err := MorphoBlueABI()
	if bloom == nil || err != nil {
		return MorphoPrefilter{
			MayHaveSupply:             true,
			MayHaveWithdraw:           true,
			MayHaveBorrow:             true,
			MayHaveRepay:              true,
			MayHaveSupplyCollateral:   true,
			MayHaveWithdrawCollateral: true,
			MayHaveLiquidation:        true,
			MayHaveCreateMarket:       true,
		}
	}
	return MorphoPrefilter{
		MayHaveSupply:             types.BloomLookup(*bloom, blueABI.Events["Supply"].ID),
		MayHaveWithdraw:           types.BloomLookup(*bloom, blueABI.Events["Withdraw"].ID),
		MayHaveBorrow:             types.BloomLookup(*bloom, blueABI.Events["Borrow"].ID),
		MayHaveRepay:              types.BloomLookup(*bloom, blueABI.Events["Repay"].ID),
		MayHaveSupplyCollateral:   types.BloomLookup(*bloom, blueABI.Events["SupplyCollateral"].ID),
		MayHaveWithdrawCollateral: types.BloomLookup(*bloom, blueABI.Events["WithdrawCollateral"].ID),
		MayHaveLiquidation:        types.BloomLookup(*bloom, blueABI.Events["Liquidate"].ID),
		MayHaveCreateMarket:       types.BloomLookup(*bloom, blueABI.Events["CreateMarket"].ID),
	}
}

// Any reports whether any Morpho event might be present.
func (p MorphoPrefilter) Any() bool {
	return p.MayHaveSupply ||
		p.MayHaveWithdraw ||
		p.MayHaveBorrow ||
		p.MayHaveRepay ||
		p.MayHaveSupplyCollateral ||
		p.MayHaveWithdrawCollateral ||
		p.MayHaveLiquidation ||
		p.MayHaveCreateMarket
}

// ParsedMorphoSupply is a decoded Morpho Supply event.
type ParsedMorphoSupply struct {
	Morpho     string `json:"morpho"`
	MarketID   string `json:"market_id"`
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"on_behalf_of"`
	Assets     string `json:"assets"`
	Shares     string `json:"shares"`
}

// DecodeMorphoSupply tries to decode a Supply event from a raw log.
func DecodeMorphoSupply(log model.ReceiptLog) (*ParsedMorphoSupply, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		Caller   common.Address
		OnBehalf common.Address
	}
	values, ok := decodeLog(blueABI.Events["Supply"], log, &indexed)
	if !ok || len(values) != 2 {
		return nil, false
	}

	assets, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	shares, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoSupply{
		Morpho:     log.Address.Hex(),
		MarketID:   common.Hash(indexed.Id).Hex(),
		Caller:     indexed.Caller.Hex(),
		OnBehalfOf: indexed.OnBehalf.Hex(),
		Assets:     assets.String(),
		Shares:     shares.String(),
	}, true
}

// ParsedMorphoWithdraw is a decoded Morpho Withdraw event.
type ParsedMorphoWithdraw struct {
	Morpho     string `json:"morpho"`
	MarketID   string `json:"market_id"`
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"on_behalf_of"`
	Receiver   string `json:"receiver"`
	Assets     string `json:"assets"`
	Shares     string `json:"shares"`
}

// DecodeMorphoWithdraw tries to decode a Withdraw event from a raw log.
func DecodeMorphoWithdraw(log model.ReceiptLog) (*ParsedMorphoWithdraw, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		OnBehalf common.Address
		Receiver common.Address
	}
	values, ok := decodeLog(blueABI.Events["Withdraw"], log, &indexed)
	if !ok || len(values) != 3 {
		return nil, false
	}

	caller, err := asAddress(values[0])
	if err != nil {
		return nil, false
	}
	assets, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}
	shares, err := asBigInt(values[2])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoWithdraw{
		Morpho:     log.Address.Hex(),
		MarketID:   common.Hash(indexed.Id).Hex(),
		Caller:     caller.Hex(),
		OnBehalfOf: indexed.OnBehalf.Hex(),
		Receiver:   indexed.Receiver.Hex(),
		Assets:     assets.String(),
		Shares:     shares.String(),
	}, true
}

// ParsedMorphoBorrow is a decoded Morpho Borrow event.
type ParsedMorphoBorrow struct {
	Morpho     string `json:"morpho"`
	MarketID   string `json:"market_id"`
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"on_behalf_of"`
	Receiver   string `json:"receiver"`
	Assets     string `json:"assets"`
	Shares     string `json:"shares"`
}

// DecodeMorphoBorrow tries to decode a Borrow event from a raw log.
func DecodeMorphoBorrow(log model.ReceiptLog) (*ParsedMorphoBorrow, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		OnBehalf common.Address
		Receiver common.Address
	}
	values, ok := decodeLog(blueABI.Events["Borrow"], log, &indexed)
	if !ok || len(values) != 3 {
		return nil, false
	}

	caller, err := asAddress(values[0])
	if err != nil {
		return nil, false
	}
	assets, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}
	shares, err := asBigInt(values[2])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoBorrow{
		Morpho:     log.Address.Hex(),
		MarketID:   common.Hash(indexed.Id).Hex(),
		Caller:     caller.Hex(),
		OnBehalfOf: indexed.OnBehalf.Hex(),
		Receiver:   indexed.Receiver.Hex(),
		Assets:     assets.String(),
		Shares:     shares.String(),
	}, true
}

// ParsedMorphoRepay is a decoded Morpho Repay event.
type ParsedMorphoRepay struct {
	Morpho     string `json:"morpho"`
	MarketID   string `json:"market_id"`
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"on_behalf_of"`
	Assets     string `json:"assets"`
	Shares     string `json:"shares"`
}

// DecodeMorphoRepay tries to decode a Repay event from a raw log.
func DecodeMorphoRepay(log model.ReceiptLog) (*ParsedMorphoRepay, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		Caller   common.Address
		OnBehalf common.Address
	}
	values, ok := decodeLog(blueABI.Events["Repay"], log, &indexed)
	if !ok || len(values) != 2 {
		return nil, false
	}

	assets, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	shares, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoRepay{
		Morpho:     log.Address.Hex(),
		MarketID:   common.Hash(indexed.Id).Hex(),
		Caller:     indexed.Caller.Hex(),
		OnBehalfOf: indexed.OnBehalf.Hex(),
		Assets:     assets.String(),
		Shares:     shares.String(),
	}, true
}

// ParsedMorphoSupplyCollateral is a decoded Morpho SupplyCollateral
// event.
type ParsedMorphoSupplyCollateral struct {
	Morpho     string `json:"morpho"`
	MarketID   string `json:"market_id"`
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"on_behalf_of"`
	Assets     string `json:"assets"`
}

// DecodeMorphoSupplyCollateral tries to decode a SupplyCollateral event
// from a raw log.
func DecodeMorphoSupplyCollateral(log model.ReceiptLog) (*ParsedMorphoSupplyCollateral, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		Caller   common.Address
		OnBehalf common.Address
	}
	values, ok := decodeLog(blueABI.Events["SupplyCollateral"], log, &indexed)
	if !ok || len(values) != 1 {
		return nil, false
	}

	assets, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoSupplyCollateral{
		Morpho:     log.Address.Hex(),
		MarketID:   common.Hash(indexed.Id).Hex(),
		Caller:     indexed.Caller.Hex(),
		OnBehalfOf: indexed.OnBehalf.Hex(),
		Assets:     assets.String(),
	}, true
}

// ParsedMorphoWithdrawCollateral is a decoded Morpho WithdrawCollateral
// event.
type ParsedMorphoWithdrawCollateral struct {
	Morpho     string `json:"morpho"`
	MarketID   string `json:"market_id"`
	Caller     string `json:"caller"`
	OnBehalfOf string `json:"on_behalf_of"`
	Receiver   string `json:"receiver"`
	Assets     string `json:"assets"`
}

// DecodeMorphoWithdrawCollateral tries to decode a WithdrawCollateral
// event from a raw log.
func DecodeMorphoWithdrawCollateral(log model.ReceiptLog) (*ParsedMorphoWithdrawCollateral, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		OnBehalf common.Address
		Receiver common.Address
	}
	values, ok := decodeLog(blueABI.Events["WithdrawCollateral"], log, &indexed)
	if !ok || len(values) != 2 {
		return nil, false
	}

	caller, err := asAddress(values[0])
	if err != nil {
		return nil, false
	}
	assets, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoWithdrawCollateral{
		Morpho:     log.Address.Hex(),
		MarketID:   common.Hash(indexed.Id).Hex(),
		Caller:     caller.Hex(),
		OnBehalfOf: indexed.OnBehalf.Hex(),
		Receiver:   indexed.Receiver.Hex(),
		Assets:     assets.String(),
	}, true
}

// ParsedMorphoLiquidation is a decoded Morpho Liquidate event.
type ParsedMorphoLiquidation struct {
	Morpho        string `json:"morpho"`
	MarketID      string `json:"market_id"`
	Caller        string `json:"caller"`
	Borrower      string `json:"borrower"`
	RepaidAssets  string `json:"repaid_assets"`
	RepaidShares  string `json:"repaid_shares"`
	SeizedAssets  string `json:"seized_assets"`
	BadDebtAssets string `json:"bad_debt_assets"`
	BadDebtShares string `json:"bad_debt_shares"`
}

// DecodeMorphoLiquidation tries to decode a Liquidate event from a raw
// log.
func DecodeMorphoLiquidation(log model.ReceiptLog) (*ParsedMorphoLiquidation, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id       [32]byte
		Caller   common.Address
		Borrower common.Address
	}
	values, ok := decodeLog(blueABI.Events["Liquidate"], log, &indexed)
	if !ok || len(values) != 5 {
		return nil, false
	}

	amounts := make([]string, 0, len(values))
	for _, v := range values {
		amount, err := asBigInt(v)
		if err != nil {
			return nil, false
		}
		amounts = append(amounts, amount.String())
	}

	return &ParsedMorphoLiquidation{
		Morpho:        log.Address.Hex(),
		MarketID:      common.Hash(indexed.Id).Hex(),
		Caller:        indexed.Caller.Hex(),
		Borrower:      indexed.Borrower.Hex(),
		RepaidAssets:  amounts[0],
		RepaidShares:  amounts[1],
		SeizedAssets:  amounts[2],
		BadDebtAssets: amounts[3],
		BadDebtShares: amounts[4],
	}, true
}

// ParsedMorphoCreateMarket is a decoded Morpho CreateMarket event.
type ParsedMorphoCreateMarket struct {
	Morpho          string `json:"morpho"`
	MarketID        string `json:"market_id"`
	LoanToken       string `json:"loan_token"`
	CollateralToken string `json:"collateral_token"`
	Oracle          string `json:"oracle"`
	IRM             string `json:"irm"`
	LLTV            string `json:"lltv"`
}

// DecodeMorphoCreateMarket tries to decode a CreateMarket event from a
// raw log.
func DecodeMorphoCreateMarket(log model.ReceiptLog) (*ParsedMorphoCreateMarket, bool) {
	blueABI, err := MorphoBlueABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Id [32]byte
	}
	values, ok := decodeLog(blueABI.Events["CreateMarket"], log, &indexed)
	if !ok || len(values) != 5 {
		return nil, false
	}

	loanToken, err := asAddress(values[0])
	if err != nil {
		return nil, false
	}
	collateralToken, err := asAddress(values[1])
	if err != nil {
		return nil, false
	}
	oracle, err := asAddress(values[2])
	if err != nil {
		return nil, false
	}
	irm, err := asAddress(values[3])
	if err != nil {
		return nil, false
	}
	lltv, err := asBigInt(values[4])
	if err != nil {
		return nil, false
	}

	return &ParsedMorphoCreateMarket{
		Morpho:          log.Address.Hex(),
		MarketID:        common.Hash(indexed.Id).Hex(),
		LoanToken:       loanToken.Hex(),
		CollateralToken: collateralToken.Hex(),
		Oracle:          oracle.Hex(),
		IRM:             irm.Hex(),
		LLTV:            lltv.String(),
	}, true
}

// MorphoUpdates bundles all Morpho Blue events decoded from one log
// list, one ordered slice per event kind.
type MorphoUpdates struct {
	Supplies            []*ParsedMorphoSupply             `json:"supplies"`
	Withdraws           []*ParsedMorphoWithdraw           `json:"withdraws"`
	Borrows             []*ParsedMorphoBorrow             `json:"borrows"`
	Repays              []*ParsedMorphoRepay              `json:"repays"`
	SupplyCollaterals   []*ParsedMorphoSupplyCollateral   `json:"supply_collaterals"`
	WithdrawCollaterals []*ParsedMorphoWithdrawCollateral `json:"withdraw_collaterals"`
	Liquidations        []*ParsedMorphoLiquidation        `json:"liquidations"`
	CreateMarkets       []*ParsedMorphoCreateMarket       `json:"create_markets"`
}

// ExtractMorphoUpdates decodes every Morpho event kind from a log list.
func ExtractMorphoUpdates(logs []model.ReceiptLog) MorphoUpdates {
	var updates MorphoUpdates
	for _, log := range logs {
		if supply, ok := DecodeMorphoSupply(log); ok {
			updates.Supplies = append(updates.Supplies, supply)
		}
		if withdraw, ok := DecodeMorphoWithdraw(log); ok {
			updates.Withdraws = append(updates.Withdraws, withdraw)
		}
		if borrow, ok := DecodeMorphoBorrow(log); ok {
			updates.Borrows = append(updates.Borrows, borrow)
		}
		if repay, ok := DecodeMorphoRepay(log); ok {
			updates.Repays = append(updates.Repays, repay)
		}
		if sc, ok := DecodeMorphoSupplyCollateral(log); ok {
			updates.SupplyCollaterals = append(updates.SupplyCollaterals, sc)
		}
		if wc, ok := DecodeMorphoWithdrawCollateral(log); ok {
			updates.WithdrawCollaterals = append(updates.WithdrawCollaterals, wc)
		}
		if liquidation, ok := DecodeMorphoLiquidation(log); ok {
			updates.Liquidations = append(updates.Liquidations, liquidation)
		}
		if market, ok := DecodeMorphoCreateMarket(log); ok {
			updates.CreateMarkets = append(updates.CreateMarkets, market)
		}
	}
	return updates
}

// MorphoUpdatesInFlashblock extracts all Morpho events from a
// flashblock's receipts, skipping receipts whose bloom rules out every
// Morpho event.
func MorphoUpdatesInFlashblock(fb *model.Flashblock) MorphoUpdates {
	var updates MorphoUpdates
	if fb.Metadata == nil {
		return updates
	}
	for _, receipt := range fb.Metadata.Receipts {
		if !MorphoFromBloom(receipt.Bloom()).Any() {
			continue
		}
		partial := ExtractMorphoUpdates(receipt.Logs())
		updates.Supplies = append(updates.Supplies, partial.Supplies...)
		updates.Withdraws = append(updates.Withdraws, partial.Withdraws...)
		updates.Borrows = append(updates.Borrows, partial.Borrows...)
		updates.Repays = append(updates.Repays, partial.Repays...)
		updates.SupplyCollaterals = append(updates.SupplyCollaterals, partial.SupplyCollaterals...)
		updates.WithdrawCollaterals = append(updates.WithdrawCollaterals, partial.WithdrawCollaterals...)
		updates.Liquidations = append(updates.Liquidations, partial.Liquidations...)
		updates.CreateMarkets = append(updates.CreateMarkets, partial.CreateMarkets...)
	}
	return updates
}

// IsEmpty reports whether no Morpho events were found.
func (u MorphoUpdates) IsEmpty() bool {
	return len(u.Supplies) == 0 &&
		len(u.Withdraws) == 0 &&
		len(u.Borrows) == 0 &&
		len(u.Repays) == 0 &&
		len(u.SupplyCollaterals) == 0 &&
		len(u.WithdrawCollaterals) == 0 &&
		len(u.Liquidations) == 0 &&
		len(u.CreateMarkets) == 0
}

// TotalCount returns the total number of events across all kinds.
func (u MorphoUpdates) TotalCount() int {
	return len(u.Supplies) +
		len(u.Withdraws) +
		len(u.Borrows) +
		len(u.Repays) +
		len(u.SupplyCollaterals) +
		len(u.WithdrawCollaterals) +
		len(u.Liquidations) +
		len(u.CreateMarkets)
}

// MorphoHandler streams Morpho Blue market events.
type MorphoHandler struct {
	logger *zap.Logger
}

// NewMorphoHandler builds the Morpho protocol handler.
func NewMorphoHandler(logger *zap.Logger) *MorphoHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MorphoHandler{logger: logger}
}

// Name identifies the handler in logs.
func (h *MorphoHandler) Name() string { return "morpho" }

// Process extracts Morpho events from the flashblock and publishes
// each one individually.
func (h *MorphoHandler) Process(fb *model.Flashblock, blockNumber uint64, sink stream.Sink) {
	updates := MorphoUpdatesInFlashblock(fb)
	if updates.IsEmpty() {
		return
	}

	h.logger.Info("morpho market events detected",
		zap.Uint64("block_number", blockNumber),
		zap.Int("supplies", len(updates.Supplies)),
		zap.Int("withdraws", len(updates.Withdraws)),
		zap.Int("borrows", len(updates.Borrows)),
		zap.Int("repays", len(updates.Repays)),
		zap.Int("supply_collaterals", len(updates.SupplyCollaterals)),
		zap.Int("withdraw_collaterals", len(updates.WithdrawCollaterals)),
		zap.Int("liquidations", len(updates.Liquidations)),
		zap.Int("create_markets", len(updates.CreateMarkets)),
		zap.Int("total", updates.TotalCount()),
	)

	for _, supply := range updates.Supplies {
		h.send(sink, "Morpho_supply", supply)
	}
	for _, withdraw := range updates.Withdraws {
		h.send(sink, "Morpho_withdraw", withdraw)
	}
	for _, borrow := range updates.Borrows {
		h.send(sink, "Morpho_borrow", borrow)
	}
	for _, repay := range updates.Repays {
		h.send(sink, "Morpho_repay", repay)
	}
	for _, sc := range updates.SupplyCollaterals {
		h.send(sink, "Morpho_supply_collateral", sc)
	}
	for _, wc := range updates.WithdrawCollaterals {
		h.send(sink, "Morpho_withdraw_collateral", wc)
	}
	for _, liquidation := range updates.Liquidations {
		h.send(sink, "Morpho_liquidation", liquidation)
	}
	for _, market := range updates.CreateMarkets {
		h.send(sink, "Morpho_create_market", market)
	}
}

func (h *MorphoHandler) send(sink stream.Sink, label string, data interface{}) {
	if err := sink.Send(label, data); err != nil {
		h.logger.Error("send morpho event to stream failed",
			zap.String("label", label),
			zap.Error(err),
		)
	}
}
