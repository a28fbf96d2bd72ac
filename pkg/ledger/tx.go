package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type receiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// pendingTx polls for the receipt of a submitted transaction.
type pendingTx struct {
	hash         common.Hash
	action       string
	client       receiptSource
	pollInterval time.Duration
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

// Wait blocks until the transaction is mined or ctx ends.
func (p *pendingTx) Wait(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.client.TransactionReceipt(ctx, p.hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return &RejectedError{Action: p.action, Reason: fmt.Sprintf("transaction %s reverted", p.hash.Hex())}
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return unavailable("receipt "+p.hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", p.hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
