package protocol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EventSignature describes one decodable event: its protocol, solidity
// signature, keccak topic hash, and expected topic count (signature
// topic plus indexed arguments).
type EventSignature struct {
	Protocol   string
	Name       string
	Signature  string
	Hash       common.Hash
	TopicCount int
}

var (
	signatureTable     []EventSignature
	signatureIndex     map[common.Hash]EventSignature
	signatureTableOnce sync.Once
	signatureTableErr  error
)

func buildSignatureTable() {
	type source struct {
		protocol string
		load     func() (map[string]EventSignature, error)
	}

	sources := []source{
		{"uniswap_v3", univ3Signatures},
		{"aave_v3", aaveSignatures},
		{"morpho", morphoSignatures},
		{"chainlink", chainlinkSignatures},
	}

	signatureIndex = make(map[common.Hash]EventSignature)
	for _, src := range sources {
		events, err := src.load()
		if err != nil {
			signatureTableErr = fmt.Errorf("load %s signatures: %w", src.protocol, err)
			return
		}
		for _, sig := range events {
			signatureTable = append(signatureTable, sig)
			signatureIndex[sig.Hash] = sig
		}
	}

	sort.Slice(signatureTable, func(i, j int) bool {
		if signatureTable[i].Protocol != signatureTable[j].Protocol {
			return signatureTable[i].Protocol < signatureTable[j].Protocol
		}
		return signatureTable[i].Name < signatureTable[j].Name
	})
}

func abiSignatures(protocol string, loader func() (abi.ABI, error)) (map[string]EventSignature, error) {
	parsed, err := loader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]EventSignature, len(parsed.Events))
	for name, event := range parsed.Events {
		indexed := 0
		for _, arg := range event.Inputs {
			if arg.Indexed {
				indexed++
			}
		}
		out[name] = EventSignature{
			Protocol:   protocol,
			Name:       name,
			Signature:  event.Sig,
			Hash:       event.ID,
			TopicCount: indexed + 1,
		}
	}
	return out, nil
}

func univ3Signatures() (map[string]EventSignature, error) {
	return abiSignatures("uniswap_v3", UniV3PoolABI)
}

func aaveSignatures() (map[string]EventSignature, error) {
	return abiSignatures("aave_v3", AavePoolABI)
}

func morphoSignatures() (map[string]EventSignature, error) {
	return abiSignatures("morpho", MorphoBlueABI)
}

func chainlinkSignatures() (map[string]EventSignature, error) {
	return abiSignatures("chainlink", ChainlinkAggregatorABI)
}

// Signatures returns every event signature known to the decoders,
// ordered by protocol then event name.
func Signatures() ([]EventSignature, error) {
	signatureTableOnce.Do(buildSignatureTable)
	if signatureTableErr != nil {
		return nil, signatureTableErr
	}
	return signatureTable, nil
}

// LookupSignature resolves a log's first topic to the event it
// identifies, if any decoder knows it.
func LookupSignature(topic0 common.Hash) (EventSignature, bool) {
	signatureTableOnce.Do(buildSignatureTable)
	if signatureTableErr != nil {
		return EventSignature{}, false
	}
	sig, ok := signatureIndex[topic0]
	return sig, ok
}
