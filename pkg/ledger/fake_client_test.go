package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeClient is an in-memory EVMClient. Calls are answered by method name.
type fakeClient struct {
	mu       sync.Mutex
	outputs  map[string][]interface{}
	callErr  error
	logs     []types.Log
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	subs     []*fakeSub
	subErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		outputs:  map[string][]interface{}{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (c *fakeClient) respond(method string, values ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[method] = values
}

func methodFor(data []byte) (*abi.Method, error) {
	if m, err := poolsABI.MethodById(data); err == nil {
		return m, nil
	}
	return erc20ABI.MethodById(data)
}

func (c *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	m, err := methodFor(msg.Data)
	if err != nil {
		return nil, err
	}
	values, ok := c.outputs[m.Name]
	if !ok {
		return nil, fmt.Errorf("no canned output for %s", m.Name)
	}
	return m.Outputs.Pack(values...)
}

func (c *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	var out []types.Log
	for _, l := range c.logs {
		if topicsMatch(q.Topics, l.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func topicsMatch(want [][]common.Hash, got []common.Hash) bool {
	for i, options := range want {
		if len(options) == 0 {
			continue
		}
		if i >= len(got) {
			return false
		}
		hit := false
		for _, h := range options {
			if h == got[i] {
				hit = true
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (c *fakeClient) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return nil, c.subErr
	}
	s := &fakeSub{query: q, ch: ch, errCh: make(chan error, 1)}
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.sent)), nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *fakeClient) subscriptions() []*fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeSub(nil), c.subs...)
}

type fakeSub struct {
	query ethereum.FilterQuery
	ch    chan<- types.Log
	errCh chan error
	once  sync.Once
	mu    sync.Mutex
	done  bool
}

func (s *fakeSub) Err() <-chan error { return s.errCh }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		close(s.errCh)
	})
}

func (s *fakeSub) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// rawLog builds a StreamPools log with the given indexed values.
func rawLog(kind EventKind, poolID uint64, account common.Address, block uint64, index uint) types.Log {
	topics := []common.Hash{EventID(kind), poolTopic(poolID)}
	for len(topics) <= accountTopic(kind) {
		topics = append(topics, common.Hash{})
	}
	topics[accountTopic(kind)] = addressTopic(account)
	return types.Log{Topics: topics, BlockNumber: block, Index: index}
}
