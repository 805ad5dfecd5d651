package protocol

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"flashstream/internal/model"
)

func TestChainlinkSignatures(t *testing.T) {
	aggABI, err := ChainlinkAggregatorABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	answerSig := crypto.Keccak256Hash([]byte("AnswerUpdated(int256,uint256,uint256)"))
	if aggABI.Events["AnswerUpdated"].ID != answerSig {
		t.Fatalf("answer updated signature mismatch: %s", aggABI.Events["AnswerUpdated"].ID)
	}

	roundSig := crypto.Keccak256Hash([]byte("NewRound(uint256,address,uint256)"))
	if aggABI.Events["NewRound"].ID != roundSig {
		t.Fatalf("new round signature mismatch: %s", aggABI.Events["NewRound"].ID)
	}
}

func TestDecodeAnswerUpdated(t *testing.T) {
	aggABI, err := ChainlinkAggregatorABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	feed := common.HexToAddress("0x1111111111111111111111111111111111111111")

	data, err := aggABI.Events["AnswerUpdated"].Inputs.NonIndexed().Pack(big.NewInt(1_700_000_000))
	if err != nil {
		t.Fatalf("pack answer updated: %v", err)
	}

	// Negative answers are valid; some feeds quote spreads.
	log := makeLog(feed, aggABI.Events["AnswerUpdated"].ID, []common.Hash{
		topicFromBig(big.NewInt(-250_000_000)),
		topicFromBig(big.NewInt(42)),
	}, data)

	update, ok := DecodeAnswerUpdated(log)
	if !ok {
		t.Fatalf("decode answer updated failed")
	}
	if update.Feed != feed.Hex() {
		t.Fatalf("feed mismatch: %s", update.Feed)
	}
	if update.Answer != "-250000000" {
		t.Fatalf("answer mismatch: %s", update.Answer)
	}
	if update.RoundID != "42" || update.UpdatedAt != "1700000000" {
		t.Fatalf("round mismatch: %+v", update)
	}
}

func TestDecodeNewRound(t *testing.T) {
	aggABI, err := ChainlinkAggregatorABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	feed := common.HexToAddress("0x1111111111111111111111111111111111111111")
	starter := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := aggABI.Events["NewRound"].Inputs.NonIndexed().Pack(big.NewInt(1_700_000_100))
	if err != nil {
		t.Fatalf("pack new round: %v", err)
	}

	log := makeLog(feed, aggABI.Events["NewRound"].ID, []common.Hash{
		topicFromBig(big.NewInt(43)),
		topicFromAddress(starter),
	}, data)

	round, ok := DecodeNewRound(log)
	if !ok {
		t.Fatalf("decode new round failed")
	}
	if round.RoundID != "43" || round.StartedBy != starter.Hex() || round.StartedAt != "1700000100" {
		t.Fatalf("round mismatch: %+v", round)
	}

	// An AnswerUpdated log must not decode as NewRound even though both
	// carry three topics.
	answerData, err := aggABI.Events["AnswerUpdated"].Inputs.NonIndexed().Pack(big.NewInt(1))
	if err != nil {
		t.Fatalf("pack answer updated: %v", err)
	}
	answerLog := makeLog(feed, aggABI.Events["AnswerUpdated"].ID, []common.Hash{
		topicFromBig(big.NewInt(1)),
		topicFromBig(big.NewInt(2)),
	}, answerData)
	if _, ok := DecodeNewRound(answerLog); ok {
		t.Fatalf("decoded new round from answer updated log")
	}
}

func TestChainlinkUpdatesInFlashblock(t *testing.T) {
	aggABI, err := ChainlinkAggregatorABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	feed := common.HexToAddress("0x1111111111111111111111111111111111111111")
	starter := common.HexToAddress("0x2222222222222222222222222222222222222222")

	answerData, err := aggABI.Events["AnswerUpdated"].Inputs.NonIndexed().Pack(big.NewInt(1_700_000_000))
	if err != nil {
		t.Fatalf("pack answer updated: %v", err)
	}
	roundData, err := aggABI.Events["NewRound"].Inputs.NonIndexed().Pack(big.NewInt(1_700_000_000))
	if err != nil {
		t.Fatalf("pack new round: %v", err)
	}

	fb := flashblockWith(300, map[string]model.FlashblockReceipt{
		"0xaa": {TxType: "Eip1559", Inner: model.ReceiptInner{
			Logs: []model.ReceiptLog{
				makeLog(feed, aggABI.Events["AnswerUpdated"].ID, []common.Hash{
					topicFromBig(big.NewInt(3_000_00000000)),
					topicFromBig(big.NewInt(10)),
				}, answerData),
				makeLog(feed, aggABI.Events["NewRound"].ID, []common.Hash{
					topicFromBig(big.NewInt(11)),
					topicFromAddress(starter),
				}, roundData),
			},
			LogsBloom: bloomWith(
				aggABI.Events["AnswerUpdated"].ID,
				aggABI.Events["NewRound"].ID,
			),
		}},
	})

	updates := ChainlinkUpdatesInFlashblock(fb)
	if updates.IsEmpty() || updates.TotalCount() != 2 {
		t.Fatalf("counts mismatch: %d", updates.TotalCount())
	}
	if updates.AnswerUpdates[0].Answer != "300000000000" {
		t.Fatalf("answer mismatch: %s", updates.AnswerUpdates[0].Answer)
	}
	if updates.NewRounds[0].RoundID != "11" {
		t.Fatalf("round mismatch: %s", updates.NewRounds[0].RoundID)
	}
}
