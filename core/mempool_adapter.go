package core

// mempool_adapter.go – the default mempool adapter: structural admission
// checks against the chain rules, replay protection against storage, and the
// peer network for gossip and pull RPCs.

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// TxNetwork is the slice of the peer network the mempool needs: one-to-many
// gossip of fresh transactions and a pull RPC for missing ones.
type TxNetwork interface {
	GossipNewTx(ctx context.Context, tx *SignedTransaction) error
	PullTxsFromPeers(ctx context.Context, txHashes []Hash) ([]*SignedTransaction, error)
}

const (
	defaultPullTimeout = 4 * time.Second
	defaultPullRetries = 3
)

// DefaultMemPoolAdapter wires admission checks, storage and the network into
// the MemPoolAdapter contract.
type DefaultMemPoolAdapter struct {
	chainID Hash
	storage Storage
	network TxNetwork

	pullTimeout time.Duration
	pullRetries int
}

// NewDefaultMemPoolAdapter builds the production adapter.
func NewDefaultMemPoolAdapter(chainID Hash, storage Storage, network TxNetwork) *DefaultMemPoolAdapter {
	return &DefaultMemPoolAdapter{
		chainID:     chainID,
		storage:     storage,
		network:     network,
		pullTimeout: defaultPullTimeout,
		pullRetries: defaultPullRetries,
	}
}

// CheckSignature verifies hash integrity, the signature and the sender
// derivation.
func (a *DefaultMemPoolAdapter) CheckSignature(_ context.Context, tx *SignedTransaction) error {
	if err := VerifyTxHash(tx); err != nil {
		return NewProtocolError(KindMempool, err)
	}
	if err := VerifyTxSignature(tx); err != nil {
		return NewProtocolError(KindMempool, err)
	}
	return nil
}

// CheckTransaction validates chain-level structure: the chain id must match
// and the declared cycle limit must be meterable.
func (a *DefaultMemPoolAdapter) CheckTransaction(_ context.Context, tx *SignedTransaction) error {
	if tx.Raw.ChainID != a.chainID {
		return NewProtocolError(KindMempool,
			fmt.Errorf("%w: wrong chain id %s", ErrCheckHash, tx.Raw.ChainID))
	}
	if tx.Raw.CyclesLimit == 0 {
		return NewProtocolError(KindMempool,
			fmt.Errorf("%w: zero cycles limit", ErrCheckHash))
	}
	return nil
}

// CheckStorageExist rejects replay of an already finalised transaction.
func (a *DefaultMemPoolAdapter) CheckStorageExist(_ context.Context, txHash Hash) error {
	ok, err := a.storage.ContainsTransaction(txHash)
	if err != nil {
		return err
	}
	if ok {
		return NewProtocolError(KindMempool, fmt.Errorf("%w: %s", ErrTxPersisted, txHash))
	}
	return nil
}

// BroadcastTx gossips the transaction to peers.
func (a *DefaultMemPoolAdapter) BroadcastTx(ctx context.Context, tx *SignedTransaction) error {
	return a.network.GossipNewTx(ctx, tx)
}

// PullTxs requests the named transactions from peers. Each attempt is
// bounded by the pull timeout; exhausting the retry budget surfaces
// EnsureBreak to the caller, which owns the longer back-off.
func (a *DefaultMemPoolAdapter) PullTxs(ctx context.Context, txHashes []Hash) ([]*SignedTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < a.pullRetries; attempt++ {
		pullCtx, cancel := context.WithTimeout(ctx, a.pullTimeout)
		txs, err := a.network.PullTxsFromPeers(pullCtx, txHashes)
		cancel()
		if err == nil {
			return txs, nil
		}
		lastErr = err
		logrus.Warnf("mempool: pull attempt %d/%d failed: %v", attempt+1, a.pullRetries, err)

		select {
		case <-ctx.Done():
			return nil, NewProtocolError(KindNetwork, ctx.Err())
		default:
		}
	}
	return nil, NewProtocolError(KindMempool,
		fmt.Errorf("%w: pull failed after %d attempts: %v", ErrEnsureBreak, a.pullRetries, lastErr))
}
