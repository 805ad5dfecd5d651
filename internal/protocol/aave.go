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

const aavePoolABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "reserve", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalfOf", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": true, "internalType": "uint16", "name": "referralCode", "type": "uint16"}
    ],
    "name": "Supply",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "reserve", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "Withdraw",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "reserve", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "onBehalfOf", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "interestRateMode", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "borrowRate", "type": "uint256"},
      {"indexed": true, "internalType": "uint16", "name": "referralCode", "type": "uint16"}
    ],
    "name": "Borrow",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "reserve", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "repayer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "useATokens", "type": "bool"}
    ],
    "name": "Repay",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "collateralAsset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "debtAsset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "debtToCover", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "liquidatedCollateralAmount", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "liquidator", "type": "address"},
      {"indexed": false, "internalType": "bool", "name": "receiveAToken", "type": "bool"}
    ],
    "name": "LiquidationCall",
    "type": "event"
  }
]`

var (
	aaveABI     abi.ABI
	aaveABIOnce sync.Once
	aaveABIErr  error
)

// AavePoolABI returns the parsed Aave V3 pool event ABI.
func AavePoolABI() (abi.ABI, error) {
	aaveABIOnce.Do(func() {
		aaveABI, aaveABIErr = abi.JSON(strings.NewReader(aavePoolABIJSON))
	})
	return aaveABI, aaveABIErr
}

// AavePrefilter reports which Aave user-action events a receipt bloom
// may contain.
type AavePrefilter struct {
	MayHaveSupply      bool
	MayHaveWithdraw    bool
	MayHaveBorrow      bool
	MayHaveRepay       bool
	MayHaveLiquidation bool
}

// AaveFromBloom checks the bloom filter for potential Aave events.
// A nil bloom fails open: every event is treated as possibly present.
func AaveFromBloom(bloom *types.Bloom) AavePrefilter {
	poolABI, err := AavePoolABI()
	if bloom == nil || err != nil {
		return AavePrefilter{
			MayHaveSupply:      true,
			MayHaveWithdraw:    true,
			MayHaveBorrow:      true,
			MayHaveRepay:       true,
			MayHaveLiquidation: true,
		}
	}
	return AavePrefilter{
		MayHaveSupply:      types.BloomLookup(*bloom, poolABI.Events["Supply"].ID),
		MayHaveWithdraw:    types.BloomLookup(*bloom, poolABI.Events["Withdraw"].ID),
		MayHaveBorrow:      types.BloomLookup(*bloom, poolABI.Events["Borrow"].ID),
		MayHaveRepay:       types.BloomLookup(*bloom, poolABI.Events["Repay"].ID),
		MayHaveLiquidation: types.BloomLookup(*bloom, poolABI.Events["LiquidationCall"].ID),
	}
}

// Any reports whether any Aave user event might be present.
func (p AavePrefilter) Any() bool {
	return p.MayHaveSupply || p.MayHaveWithdraw || p.MayHaveBorrow || p.MayHaveRepay || p.MayHaveLiquidation
}

// ParsedAaveSupply is a decoded Aave Supply event.
type ParsedAaveSupply struct {
	Pool         string `json:"pool"`
	Reserve      string `json:"reserve"`
	User         string `json:"user"`
	OnBehalfOf   string `json:"on_behalf_of"`
	Amount       string `json:"amount"`
	ReferralCode uint16 `json:"referral_code"`
}

// DecodeAaveSupply tries to decode a Supply event from a raw log.
func DecodeAaveSupply(log model.ReceiptLog) (*ParsedAaveSupply, bool) {
	poolABI, err := AavePoolABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Reserve      common.Address
		OnBehalfOf   common.Address
		ReferralCode uint16
	}
	values, ok := decodeLog(poolABI.Events["Supply"], log, &indexed)
	if !ok || len(values) != 2 {
		return nil, false
	}

	user, err := asAddress(values[0])
	if err != nil {
		return nil, false
	}
	amount, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}

	return &ParsedAaveSupply{
		Pool:         log.Address.Hex(),
		Reserve:      indexed.Reserve.Hex(),
		User:         user.Hex(),
		OnBehalfOf:   indexed.OnBehalfOf.Hex(),
		Amount:       amount.String(),
		ReferralCode: indexed.ReferralCode,
	}, true
}

// ParsedAaveWithdraw is a decoded Aave Withdraw event.
type ParsedAaveWithdraw struct {
	Pool    string `json:"pool"`
	Reserve string `json:"reserve"`
	User    string `json:"user"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

// DecodeAaveWithdraw tries to decode a Withdraw event from a raw log.
func DecodeAaveWithdraw(log model.ReceiptLog) (*ParsedAaveWithdraw, bool) {
	poolABI, err := AavePoolABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Reserve common.Address
		User    common.Address
		To      common.Address
	}
	values, ok := decodeLog(poolABI.Events["Withdraw"], log, &indexed)
	if !ok || len(values) != 1 {
		return nil, false
	}

	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}

	return &ParsedAaveWithdraw{
		Pool:    log.Address.Hex(),
		Reserve: indexed.Reserve.Hex(),
		User:    indexed.User.Hex(),
		To:      indexed.To.Hex(),
		Amount:  amount.String(),
	}, true
}

// ParsedAaveBorrow is a decoded Aave Borrow event.
type ParsedAaveBorrow struct {
	Pool             string `json:"pool"`
	Reserve          string `json:"reserve"`
	User             string `json:"user"`
	OnBehalfOf       string `json:"on_behalf_of"`
	Amount           string `json:"amount"`
	InterestRateMode uint8  `json:"interest_rate_mode"`
	BorrowRate       string `json:"borrow_rate"`
	ReferralCode     uint16 `json:"referral_code"`
}

// DecodeAaveBorrow tries to decode a Borrow event from a raw log.
func DecodeAaveBorrow(log model.ReceiptLog) (*ParsedAaveBorrow, bool) {
	poolABI, err := AavePoolABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Reserve      common.Address
		OnBehalfOf   common.Address
		ReferralCode uint16
	}
	values, ok := decodeLog(poolABI.Events["Borrow"], log, &indexed)
	if !ok || len(values) != 4 {
		return nil, false
	}

	user, err := asAddress(values[0])
	if err != nil {
		return nil, false
	}
	amount, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}
	rateMode, ok := values[2].(uint8)
	if !ok {
		return nil, false
	}
	borrowRate, err := asBigInt(values[3])
	if err != nil {
		return nil, false
	}

	return &ParsedAaveBorrow{
		Pool:             log.Address.Hex(),
		Reserve:          indexed.Reserve.Hex(),
		User:             user.Hex(),
		OnBehalfOf:       indexed.OnBehalfOf.Hex(),
		Amount:           amount.String(),
		InterestRateMode: rateMode,
		BorrowRate:       borrowRate.String(),
		ReferralCode:     indexed.ReferralCode,
	}, true
}

// ParsedAaveRepay is a decoded Aave Repay event.
type ParsedAaveRepay struct {
	Pool       string `json:"pool"`
	Reserve    string `json:"reserve"`
	User       string `json:"user"`
	Repayer    string `json:"repayer"`
	Amount     string `json:"amount"`
	UseATokens bool   `json:"use_a_tokens"`
}

// DecodeAaveRepay tries to decode a Repay event from a raw log.
func DecodeAaveRepay(log model.ReceiptLog) (*ParsedAaveRepay, bool) {
	poolABI, err := AavePoolABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Reserve common.Address
		User    common.Address
		Repayer common.Address
	}
	values, ok := decodeLog(poolABI.Events["Repay"], log, &indexed)
	if !ok || len(values) != 2 {
		return nil, false
	}

	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	useATokens, err := asBool(values[1])
	if err != nil {
		return nil, false
	}

	return &ParsedAaveRepay{
		Pool:       log.Address.Hex(),
		Reserve:    indexed.Reserve.Hex(),
		User:       indexed.User.Hex(),
		Repayer:    indexed.Repayer.Hex(),
		Amount:     amount.String(),
		UseATokens: useATokens,
	}, true
}

// ParsedAaveLiquidation is a decoded Aave LiquidationCall event.
type ParsedAaveLiquidation struct {
	Pool                       string `json:"pool"`
	CollateralAsset            string `json:"collateral_asset"`
	DebtAsset                  string `json:"debt_asset"`
	User                       string `json:"user"`
	DebtToCover                string `json:"debt_to_cover"`
	LiquidatedCollateralAmount string `json:"liquidated_collateral_amount"`
	Liquidator                 string `json:"liquidator"`
	ReceiveAToken              bool   `json:"receive_a_token"`
}

// DecodeAaveLiquidation tries to decode a LiquidationCall event from a
// raw log.
func DecodeAaveLiquidation(log model.ReceiptLog) (*ParsedAaveLiquidation, bool) {
	poolABI, err := AavePoolABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		CollateralAsset common.Address
		DebtAsset       common.Address
		User            common.Address
	}
	values, ok := decodeLog(poolABI.Events["LiquidationCall"], log, &indexed)
	if !ok || len(values) != 4 {
		return nil, false
	}

	debtToCover, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}
	liquidatedCollateral, err := asBigInt(values[1])
	if err != nil {
		return nil, false
	}
	liquidator, err := asAddress(values[2])
	if err != nil {
		return nil, false
	}
	receiveAToken, err := asBool(values[3])
	if err != nil {
		return nil, false
	}

	return &ParsedAaveLiquidation{
		Pool:                       log.Address.Hex(),
		CollateralAsset:            indexed.CollateralAsset.Hex(),
		DebtAsset:                  indexed.DebtAsset.Hex(),
		User:                       indexed.User.Hex(),
		DebtToCover:                debtToCover.String(),
		LiquidatedCollateralAmount: liquidatedCollateral.String(),
		Liquidator:                 liquidator.Hex(),
		ReceiveAToken:              receiveAToken,
	}, true
}

// AaveUpdates bundles all Aave user-action events decoded from one
// log list, one ordered slice per event kind.
type AaveUpdates struct {
	Supplies     []*ParsedAaveSupply      `json:"supplies"`
	Withdraws    []*ParsedAaveWithdraw    `json:"withdraws"`
	Borrows      []*ParsedAaveBorrow      `json:"borrows"`
	Repays       []*ParsedAaveRepay       `json:"repays"`
	Liquidations []*ParsedAaveLiquidation `json:"liquidations"`
}

// ExtractAaveUpdates decodes every Aave event kind from a log list.
func ExtractAaveUpdates(logs []model.ReceiptLog) AaveUpdates {
	var updates AaveUpdates
	for _, log := range logs {
		if supply, ok := DecodeAaveSupply(log); ok {
			updates.Supplies = append(updates.Supplies, supply)
		}
		if withdraw, ok := DecodeAaveWithdraw(log); ok {
			updates.Withdraws = append(updates.Withdraws, withdraw)
		}
		if borrow, ok := DecodeAaveBorrow(log); ok {
			updates.Borrows = append(updates.Borrows, borrow)
		}
		if repay, ok := DecodeAaveRepay(log); ok {
			updates.Repays = append(updates.Repays, repay)
		}
		if liquidation, ok := DecodeAaveLiquidation(log); ok {
			updates.Liquidations = append(updates.Liquidations, liquidation)
		}
	}
	return updates
}

// AaveUpdatesInFlashblock extracts all Aave events from a flashblock's
// receipts, skipping receipts whose bloom rules out every Aave event.
func AaveUpdatesInFlashblock(fb *model.Flashblock) AaveUpdates {
	var updates AaveUpdates
	if fb.Metadata == nil {
		return updates
	}
	for _, receipt := range fb.Metadata.Receipts {
		if !AaveFromBloom(receipt.Bloom()).Any() {
			continue
		}
		partial := ExtractAaveUpdates(receipt.Logs())
		updates.Supplies = append(updates.Supplies, partial.Supplies...)
		updates.Withdraws = append(updates.Withdraws, partial.Withdraws...)
		updates.Borrows = append(updates.Borrows, partial.Borrows...)
		updates.Repays = append(updates.Repays, partial.Repays...)
		updates.Liquidations = append(updates.Liquidations, partial.Liquidations...)
	}
	return updates
}

// IsEmpty reports whether no Aave events were found.
func (u AaveUpdates) IsEmpty() bool {
	return len(u.Supplies) == 0 &&
		len(u.Withdraws) == 0 &&
		len(u.Borrows) == 0 &&
		len(u.Repays) == 0 &&
		len(u.Liquidations) == 0
}

// TotalCount returns the total number of events across all kinds.
func (u AaveUpdates) TotalCount() int {
	return len(u.Supplies) + len(u.Withdraws) + len(u.Borrows) + len(u.Repays) + len(u.Liquidations)
}

// AaveHandler streams Aave user-action events.
type AaveHandler struct {
	logger *zap.Logger
}

// NewAaveHandler builds the Aave protocol handler.
func NewAaveHandler(logger *zap.Logger) *AaveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AaveHandler{logger: logger}
}

// Name identifies the handler in logs.
func (h *AaveHandler) Name() string { return "aave" }

// Process extracts Aave events from the flashblock and publishes each
// one individually.
func (h *AaveHandler) Process(fb *model.Flashblock, blockNumber uint64, sink stream.Sink) {
	updates := AaveUpdatesInFlashblock(fb)
	if updates.IsEmpty() {
		return
	}

	h.logger.Info("aave user events detected",
		zap.Uint64("block_number", blockNumber),
		zap.Int("supplies", len(updates.Supplies)),
		zap.Int("withdraws", len(updates.Withdraws)),
		zap.Int("borrows", len(updates.Borrows)),
		zap.Int("repays", len(updates.Repays)),
		zap.Int("liquidations", len(updates.Liquidations)),
		zap.Int("total", updates.TotalCount()),
	)

	for _, supply := range updates.Supplies {
		h.send(sink, "Aave_supply", supply)
	}
	for _, withdraw := range updates.Withdraws {
		h.send(sink, "Aave_withdraw", withdraw)
	}
	for _, borrow := range updates.Borrows {
		h.send(sink, "Aave_borrow", borrow)
	}
	for _, repay := range updates.Repays {
		h.send(sink, "Aave_repay", repay)
	}
	for _, liquidation := range updates.Liquidations {
		h.send(sink, "Aave_liquidation", liquidation)
	}
}

func (h *AaveHandler) send(sink stream.Sink, label string, data interface{}) {
	if err := sink.Send(label, data); err != nil {
		h.logger.Error("send aave event to stream failed",
			zap.String("label", label),
			zap.Error(err),
		)
	}
}
