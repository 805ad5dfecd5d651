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

const chainlinkAggregatorABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "int256", "name": "current", "type": "int256"},
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "updatedAt", "type": "uint256"}
    ],
    "name": "AnswerUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "startedBy", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "startedAt", "type": "uint256"}
    ],
    "name": "NewRound",
    "type": "event"
  }
]`

var (
	chainlinkABI     abi.ABI
	chainlinkABIOnce sync.Once
	chainlinkABIErr  error
)

// ChainlinkAggregatorABI returns the parsed Chainlink aggregator event
// ABI.
func ChainlinkAggregatorABI() (abi.ABI, error) {
	chainlinkABIOnce.Do(func() {
		chainlinkABI, chainlinkABIErr = abi.JSON(strings.NewReader(chainlinkAggregatorABIJSON))
	})
	return chainlinkABI, chainlinkABIErr
}

// ChainlinkPrefilter reports which Chainlink oracle events a receipt
// bloom may contain.
type ChainlinkPrefilter struct {
	MayHaveAnswerUpdated bool
	MayHaveNewRound      bool
}

// ChainlinkFromBloom checks the bloom filter for potential Chainlink
// events. A nil bloom fails open: every event is treated as possibly
// present.
func ChainlinkFromBloom(bloom *types.Bloom) ChainlinkPrefilter {
	aggABI, err := ChainlinkAggregatorABI()
	if bloom == nil || err != nil {
		return ChainlinkPrefilter{MayHaveAnswerUpdated: true, MayHaveNewRound: true}
	}
	return ChainlinkPrefilter{
		MayHaveAnswerUpdated: types.BloomLookup(*bloom, aggABI.Events["AnswerUpdated"].ID),
		MayHaveNewRound:      types.BloomLookup(*bloom, aggABI.Events["NewRound"].ID),
	}
}

// Any reports whether any Chainlink event might be present.
func (p ChainlinkPrefilter) Any() bool {
	return p.MayHaveAnswerUpdated || p.MayHaveNewRound
}

// ParsedAnswerUpdated is a decoded Chainlink AnswerUpdated event. The
// answer keeps the feed's native decimals.
type ParsedAnswerUpdated struct {
	Feed      string `json:"feed"`
	Answer    string `json:"answer"`
	RoundID   string `json:"round_id"`
	UpdatedAt string `json:"updated_at"`
}

// DecodeAnswerUpdated tries to decode an AnswerUpdated event from a
// raw log.
func DecodeAnswerUpdated(log model.ReceiptLog) (*ParsedAnswerUpdated, bool) {
	aggABI, err := ChainlinkAggregatorABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		Current *big.Int
		RoundId *big.Int
	}
	values, ok := decodeLog(aggABI.Events["AnswerUpdated"], log, &indexed)
	if !ok || len(values) != 1 {
		return nil, false
	}

	updatedAt, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}

	return &ParsedAnswerUpdated{
		Feed:      log.Address.Hex(),
		Answer:    indexed.Current.String(),
		RoundID:   indexed.RoundId.String(),
		UpdatedAt: updatedAt.String(),
	}, true
}

// ExtractAnswerUpdates decodes every AnswerUpdated event in a log list.
func ExtractAnswerUpdates(logs []model.ReceiptLog) []*ParsedAnswerUpdated {
	var updates []*ParsedAnswerUpdated
	for _, log := range logs {
		if update, ok := DecodeAnswerUpdated(log); ok {
			updates = append(updates, update)
		}
	}
	return updates
}

// ParsedNewRound is a decoded Chainlink NewRound event.
type ParsedNewRound struct {
	Feed      string `json:"feed"`
	RoundID   string `json:"round_id"`
	StartedBy string `json:"started_by"`
	StartedAt string `json:"started_at"`
}

// DecodeNewRound tries to decode a NewRound event from a raw log.
func DecodeNewRound(log model.ReceiptLog) (*ParsedNewRound, bool) {
	aggABI, err := ChainlinkAggregatorABI()
	if err != nil {
		return nil, false
	}

	var indexed struct {
		RoundId   *big.Int
		StartedBy common.Address
	}
	values, ok := decodeLog(aggABI.Events["NewRound"], log, &indexed)
	if !ok || len(values) != 1 {
		return nil, false
	}

	startedAt, err := asBigInt(values[0])
	if err != nil {
		return nil, false
	}

	return &ParsedNewRound{
		Feed:      log.Address.Hex(),
		RoundID:   indexed.RoundId.String(),
		StartedBy: indexed.StartedBy.Hex(),
		StartedAt: startedAt.String(),
	}, true
}

// ExtractNewRounds decodes every NewRound event in a log list.
func ExtractNewRounds(logs []model.ReceiptLog) []*ParsedNewRound {
	var rounds []*ParsedNewRound
	for _, log := range logs {
		if round, ok := DecodeNewRound(log); ok {
			rounds = append(rounds, round)
		}
	}
	return rounds
}

// ChainlinkUpdates bundles the oracle events decoded from one log
// list.
type ChainlinkUpdates struct {
	AnswerUpdates []*ParsedAnswerUpdated `json:"answer_updates"`
	NewRounds     []*ParsedNewRound      `json:"new_rounds"`
}

// IsEmpty reports whether no Chainlink events were found.
func (u ChainlinkUpdates) IsEmpty() bool {
	return len(u.AnswerUpdates) == 0 && len(u.NewRounds) == 0
}

// TotalCount returns the total number of events across both kinds.
func (u ChainlinkUpdates) TotalCount() int {
	return len(u.AnswerUpdates) + len(u.NewRounds)
}

// ChainlinkUpdatesInFlashblock extracts all oracle events from a
// flashblock's receipts, skipping receipts whose bloom rules out both
// event kinds.
func ChainlinkUpdatesInFlashblock(fb *model.Flashblock) ChainlinkUpdates {
	var updates ChainlinkUpdates
	if fb.Metadata == nil {
		return updates
	}
	for _, receipt := range fb.Metadata.Receipts {
		prefilter := ChainlinkFromBloom(receipt.Bloom())
		if !prefilter.Any() {
			continue
		}
		logs := receipt.Logs()
		if prefilter.MayHaveAnswerUpdated {
			updates.AnswerUpdates = append(updates.AnswerUpdates, ExtractAnswerUpdates(logs)...)
		}
		if prefilter.MayHaveNewRound {
			updates.NewRounds = append(updates.NewRounds, ExtractNewRounds(logs)...)
		}
	}
	return updates
}

// ChainlinkHandler streams Chainlink oracle price updates.
type ChainlinkHandler struct {
	logger *zap.Logger
}

// NewChainlinkHandler builds the Chainlink protocol handler.
func NewChainlinkHandler(logger *zap.Logger) *ChainlinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainlinkHandler{logger: logger}
}

// Name identifies the handler in logs.
func (h *ChainlinkHandler) Name() string { return "chainlink" }

// Process extracts oracle events from the flashblock and publishes
// each one individually.
func (h *ChainlinkHandler) Process(fb *model.Flashblock, blockNumber uint64, sink stream.Sink) {
	updates := ChainlinkUpdatesInFlashblock(fb)
	if updates.IsEmpty() {
		return
	}

	h.logger.Info("chainlink oracle events detected",
		zap.Uint64("block_number", blockNumber),
		zap.Int("answer_updates", len(updates.AnswerUpdates)),
		zap.Int("new_rounds", len(updates.NewRounds)),
	)

	for _, update := range updates.AnswerUpdates {
		h.logger.Debug("oracle answer updated",
			zap.String("feed", update.Feed),
			zap.String("answer", update.Answer),
			zap.String("round_id", update.RoundID),
		)
		h.send(sink, "Chainlink_answer_updated", update)
	}
	for _, round := range updates.NewRounds {
		h.send(sink, "Chainlink_new_round", round)
	}
}

func (h *ChainlinkHandler) send(sink stream.Sink, label string, data interface{}) {
	if err := sink.Send(label, data); err != nil {
		h.logger.Error("send chainlink event to stream failed",
			zap.String("label", label),
			zap.Error(err),
		)
	}
}
