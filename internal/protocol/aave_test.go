package protocol

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"flashstream/internal/model"
)

func TestAaveSignatures(t *testing.T) {
	poolABI, err := AavePoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	cases := map[string]string{
		"Supply":          "Supply(address,address,address,uint256,uint16)",
		"Withdraw":        "Withdraw(address,address,address,uint256)",
		"Borrow":          "Borrow(address,address,address,uint256,uint8,uint256,uint16)",
		"Repay":           "Repay(address,address,address,uint256,bool)",
		"LiquidationCall": "LiquidationCall(address,address,address,uint256,uint256,address,bool)",
	}
	for name, sig := range cases {
		expected := crypto.Keccak256Hash([]byte(sig))
		if poolABI.Events[name].ID != expected {
			t.Fatalf("%s signature mismatch: %s", name, poolABI.Events[name].ID)
		}
	}
}

func TestDecodeAaveSupply(t *testing.T) {
	poolABI, err := AavePoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	reserve := common.HexToAddress("0x2222222222222222222222222222222222222222")
	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	onBehalf := common.HexToAddress("0x4444444444444444444444444444444444444444")

	data, err := poolABI.Events["Supply"].Inputs.NonIndexed().Pack(user, big.NewInt(5_000_000))
	if err != nil {
		t.Fatalf("pack supply: %v", err)
	}

	log := makeLog(pool, poolABI.Events["Supply"].ID, []common.Hash{
		topicFromAddress(reserve),
		topicFromAddress(onBehalf),
		topicFromBig(big.NewInt(7)),
	}, data)

	supply, ok := DecodeAaveSupply(log)
	if !ok {
		t.Fatalf("decode supply failed")
	}
	if supply.Pool != pool.Hex() || supply.Reserve != reserve.Hex() {
		t.Fatalf("address mismatch: %+v", supply)
	}
	if supply.User != user.Hex() || supply.OnBehalfOf != onBehalf.Hex() {
		t.Fatalf("user mismatch: %+v", supply)
	}
	if supply.Amount != "5000000" || supply.ReferralCode != 7 {
		t.Fatalf("amount mismatch: %+v", supply)
	}
}

func TestDecodeAaveBorrow(t *testing.T) {
	poolABI, err := AavePoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	reserve := common.HexToAddress("0x2222222222222222222222222222222222222222")
	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	onBehalf := common.HexToAddress("0x4444444444444444444444444444444444444444")

	data, err := poolABI.Events["Borrow"].Inputs.NonIndexed().Pack(
		user,
		big.NewInt(1_000_000),
		uint8(2),
		big.NewInt(45_000_000),
	)
	if err != nil {
		t.Fatalf("pack borrow: %v", err)
	}

	log := makeLog(pool, poolABI.Events["Borrow"].ID, []common.Hash{
		topicFromAddress(reserve),
		topicFromAddress(onBehalf),
		topicFromBig(big.NewInt(0)),
	}, data)

	borrow, ok := DecodeAaveBorrow(log)
	if !ok {
		t.Fatalf("decode borrow failed")
	}
	if borrow.Amount != "1000000" || borrow.BorrowRate != "45000000" {
		t.Fatalf("amounts mismatch: %+v", borrow)
	}
	if borrow.InterestRateMode != 2 || borrow.ReferralCode != 0 {
		t.Fatalf("mode mismatch: %+v", borrow)
	}
}

func TestDecodeAaveLiquidation(t *testing.T) {
	poolABI, err := AavePoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	collateral := common.HexToAddress("0x2222222222222222222222222222222222222222")
	debt := common.HexToAddress("0x3333333333333333333333333333333333333333")
	user := common.HexToAddress("0x4444444444444444444444444444444444444444")
	liquidator := common.HexToAddress("0x5555555555555555555555555555555555555555")

	data, err := poolABI.Events["LiquidationCall"].Inputs.NonIndexed().Pack(
		big.NewInt(800),
		big.NewInt(900),
		liquidator,
		true,
	)
	if err != nil {
		t.Fatalf("pack liquidation: %v", err)
	}

	log := makeLog(pool, poolABI.Events["LiquidationCall"].ID, []common.Hash{
		topicFromAddress(collateral),
		topicFromAddress(debt),
		topicFromAddress(user),
	}, data)

	liq, ok := DecodeAaveLiquidation(log)
	if !ok {
		t.Fatalf("decode liquidation failed")
	}
	if liq.DebtToCover != "800" || liq.LiquidatedCollateralAmount != "900" {
		t.Fatalf("amounts mismatch: %+v", liq)
	}
	if liq.Liquidator != liquidator.Hex() || !liq.ReceiveAToken {
		t.Fatalf("liquidator mismatch: %+v", liq)
	}
}

func TestAaveUpdatesInFlashblock(t *testing.T) {
	poolABI, err := AavePoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	reserve := common.HexToAddress("0x2222222222222222222222222222222222222222")
	user := common.HexToAddress("0x3333333333333333333333333333333333333333")

	supplyData, err := poolABI.Events["Supply"].Inputs.NonIndexed().Pack(user, big.NewInt(100))
	if err != nil {
		t.Fatalf("pack supply: %v", err)
	}
	supplyLog := makeLog(pool, poolABI.Events["Supply"].ID, []common.Hash{
		topicFromAddress(reserve),
		topicFromAddress(user),
		topicFromBig(big.NewInt(0)),
	}, supplyData)

	withdrawData, err := poolABI.Events["Withdraw"].Inputs.NonIndexed().Pack(big.NewInt(50))
	if err != nil {
		t.Fatalf("pack withdraw: %v", err)
	}
	withdrawLog := makeLog(pool, poolABI.Events["Withdraw"].ID, []common.Hash{
		topicFromAddress(reserve),
		topicFromAddress(user),
		topicFromAddress(user),
	}, withdrawData)

	fb := flashblockWith(200, map[string]model.FlashblockReceipt{
		"0xaa": {TxType: "Eip1559", Inner: model.ReceiptInner{
			Logs: []model.ReceiptLog{supplyLog, withdrawLog},
			LogsBloom: bloomWith(
				poolABI.Events["Supply"].ID,
				poolABI.Events["Withdraw"].ID,
			),
		}},
		// Empty bloom, logs skipped entirely.
		"0xbb": {TxType: "Legacy", Inner: model.ReceiptInner{
			Logs:      []model.ReceiptLog{supplyLog},
			LogsBloom: &types.Bloom{},
		}},
	})

	updates := AaveUpdatesInFlashblock(fb)
	if updates.IsEmpty() {
		t.Fatalf("expected events")
	}
	if len(updates.Supplies) != 1 || len(updates.Withdraws) != 1 {
		t.Fatalf("counts mismatch: %d supplies, %d withdraws", len(updates.Supplies), len(updates.Withdraws))
	}
	if updates.TotalCount() != len(updates.Supplies)+len(updates.Withdraws)+len(updates.Borrows)+len(updates.Repays)+len(updates.Liquidations) {
		t.Fatalf("total count inconsistent: %d", updates.TotalCount())
	}
	if updates.Withdraws[0].To != user.Hex() || updates.Withdraws[0].Amount != "50" {
		t.Fatalf("withdraw mismatch: %+v", updates.Withdraws[0])
	}
}
