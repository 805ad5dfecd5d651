package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptLog is a single log entry carried inside a flashblock receipt.
// Logs are immutable once parsed and are shared read-only across all
// protocol handlers processing the same flashblock.
type ReceiptLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// ReceiptInner holds the receipt payload shared by every transaction type.
type ReceiptInner struct {
	Logs              []ReceiptLog `json:"logs"`
	LogsBloom         *types.Bloom `json:"logsBloom"`
	Status            string       `json:"status,omitempty"`
	CumulativeGasUsed string       `json:"cumulativeGasUsed,omitempty"`
}

// FlashblockReceipt is a receipt wrapped by its transaction type on the
// wire, e.g. {"Eip1559": {...}} or {"Deposit": {...}}.
type FlashblockReceipt struct {
	TxType string
	Inner  ReceiptInner
}

// UnmarshalJSON unwraps the single-key transaction type wrapper.
func (r *FlashblockReceipt) UnmarshalJSON(data []byte) error {
	var wrapper map[string]ReceiptInner
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	if len(wrapper) != 1 {
		return fmt.Errorf("expected single-key receipt wrapper, got %d keys", len(wrapper))
	}
	for txType, inner := range wrapper {
		r.TxType = txType
		r.Inner = inner
	}
	return nil
}

// MarshalJSON restores the transaction type wrapper.
func (r FlashblockReceipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]ReceiptInner{r.TxType: r.Inner})
}

// Logs returns the receipt's log entries.
func (r *FlashblockReceipt) Logs() []ReceiptLog {
	return r.Inner.Logs
}

// Bloom returns the receipt's log bloom, or nil if the sequencer did
// not include one. Callers must treat a nil bloom as "may contain
// anything" rather than "definitely absent".
func (r *FlashblockReceipt) Bloom() *types.Bloom {
	return r.Inner.LogsBloom
}

// FlashblockMetadata carries the receipts and balance changes of one
// flashblock.
type FlashblockMetadata struct {
	Receipts           map[string]FlashblockReceipt `json:"receipts"`
	NewAccountBalances map[string]string            `json:"new_account_balances"`
	BlockNumber        uint64                       `json:"block_number"`
}

// ExecutionPayloadDiff describes the state changes of a flashblock.
// Only used for diagnostics; event extraction reads metadata receipts.
type ExecutionPayloadDiff struct {
	BlobGasUsed     *hexutil.Big      `json:"blob_gas_used"`
	BlockHash       common.Hash       `json:"block_hash"`
	GasUsed         *hexutil.Big      `json:"gas_used"`
	LogsBloom       *types.Bloom      `json:"logs_bloom"`
	ReceiptsRoot    common.Hash       `json:"receipts_root"`
	StateRoot       common.Hash       `json:"state_root"`
	Transactions    []hexutil.Bytes   `json:"transactions"`
	Withdrawals     []json.RawMessage `json:"withdrawals"`
	WithdrawalsRoot common.Hash       `json:"withdrawals_root"`
}

// Flashblock is one partial-block update published by the sequencer
// before full-block finality. It is read-only after parsing.
type Flashblock struct {
	PayloadID string                `json:"payload_id"`
	Index     uint64                `json:"index"`
	Metadata  *FlashblockMetadata   `json:"metadata,omitempty"`
	Base      json.RawMessage       `json:"base,omitempty"`
	Diff      *ExecutionPayloadDiff `json:"diff,omitempty"`
}

// BlockNumber reports the block number this flashblock belongs to.
// Flashblocks without metadata carry no resolvable block number and are
// skipped by event extraction.
func (fb *Flashblock) BlockNumber() (uint64, bool) {
	if fb.Metadata == nil {
		return 0, false
	}
	return fb.Metadata.BlockNumber, true
}

// ReceiptCount returns the number of receipts in this flashblock.
func (fb *Flashblock) ReceiptCount() int {
	if fb.Metadata == nil {
		return 0
	}
	return len(fb.Metadata.Receipts)
}

// TotalLogs returns the total number of log entries across all receipts.
func (fb *Flashblock) TotalLogs() int {
	if fb.Metadata == nil {
		return 0
	}
	total := 0
	for _, receipt := range fb.Metadata.Receipts {
		total += len(receipt.Logs())
	}
	return total
}
