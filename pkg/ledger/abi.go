package ledger

import (
	"embed"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed abi/*.json
var abiFS embed.FS

var (
	poolsABI = mustLoadABI("abi/StreamPools.json")
	erc20ABI = mustLoadABI("abi/IERC20Metadata.json")

	eventIDs   = map[EventKind]common.Hash{}
	eventKinds = map[common.Hash]EventKind{}
)

func init() {
	for kind, name := range eventNames {
		ev, ok := poolsABI.Events[name]
		if !ok {
			panic(fmt.Sprintf("StreamPools ABI has no event %s", name))
		}
		eventIDs[kind] = ev.ID
		eventKinds[ev.ID] = kind
	}
}

func mustLoadABI(path string) abi.ABI {
	raw, err := abiFS.ReadFile(path)
	if err != nil {
		panic(err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		panic(fmt.Sprintf("parse %s: %v", path, err))
	}
	return parsed
}

// accountTopic is the topic position of the indexed account for each event.
func accountTopic(kind EventKind) int {
	switch kind {
	case EventPoolCreated, EventWithdrawal:
		return 3
	default:
		return 2
	}
}

// EventID returns the topic-0 hash of kind.
func EventID(kind EventKind) common.Hash { return eventIDs[kind] }

func poolTopic(poolID uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(poolID))
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// FilterQuery translates f into an eth_getLogs / eth_subscribe query against contract.
func FilterQuery(contract common.Address, f Filter, fromBlock *big.Int) ethereum.FilterQuery {
	topics := [][]common.Hash{{eventIDs[f.Kind]}}
	if f.PoolID != nil || f.Account != nil {
		topics = append(topics, nil)
	}
	if f.PoolID != nil {
		topics[1] = []common.Hash{poolTopic(*f.PoolID)}
	}
	if f.Account != nil {
		pos := accountTopic(f.Kind)
		for len(topics) <= pos {
			topics = append(topics, nil)
		}
		topics[pos] = []common.Hash{addressTopic(*f.Account)}
	}
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{contract},
		Topics:    topics,
	}
}

// DecodeEvent turns a raw StreamPools log into an Event.
func DecodeEvent(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, fmt.Errorf("log %s/%d has no topics", l.TxHash.Hex(), l.Index)
	}
	kind, ok := eventKinds[l.Topics[0]]
	if !ok {
		return Event{}, fmt.Errorf("unknown event %s", l.Topics[0].Hex())
	}
	pos := accountTopic(kind)
	if len(l.Topics) <= pos {
		return Event{}, fmt.Errorf("%s log has %d topics, want %d", kind, len(l.Topics), pos+1)
	}
	id := l.Topics[1].Big()
	if !id.IsUint64() {
		return Event{}, fmt.Errorf("%s pool id %s overflows uint64", kind, id)
	}
	return Event{
		Kind:        kind,
		PoolID:      id.Uint64(),
		Account:     common.BytesToAddress(l.Topics[pos].Bytes()),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		Index:       l.Index,
		Removed:     l.Removed,
	}, nil
}

// SortEvents orders events by block then log index.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].Index < events[j].Index
	})
}
