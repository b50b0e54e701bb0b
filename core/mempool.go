package core

// mempool.go – fixed-capacity concurrent transaction pool. Two caches: the
// authoritative admitted set (FIFO-ordered for packaging) and the
// opportunistic callback cache holding transactions pulled on demand during
// reconciliation. The callback cache is cleared on every flush.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// HashMemPool implements MemPool over the bucketed tx map.
type HashMemPool struct {
	poolSize    int
	timeoutGap  uint64
	cyclesLimit uint64

	txCache       *txMap
	callbackCache *txMap

	// orderMu guards the FIFO admission queue used by Package.
	orderMu    sync.Mutex
	orderQueue []Hash

	adapter       MemPoolAdapter
	currentHeight atomic.Uint64
}

// NewHashMemPool builds a pool bounded at poolSize transactions.
func NewHashMemPool(poolSize int, timeoutGap, cyclesLimit, currentHeight uint64, adapter MemPoolAdapter) *HashMemPool {
	pool := &HashMemPool{
		poolSize:      poolSize,
		timeoutGap:    timeoutGap,
		cyclesLimit:   cyclesLimit,
		txCache:       newTxMap(poolSize),
		callbackCache: newTxMap(poolSize),
		orderQueue:    make([]Hash, 0, poolSize),
		adapter:       adapter,
	}
	pool.currentHeight.Store(currentHeight)
	return pool
}

// SetHeight advances the packaging height after a commit.
func (p *HashMemPool) SetHeight(height uint64) {
	p.currentHeight.Store(height)
}

// Insert admits a transaction: capacity, duplication, signature, structural
// and replay checks, then the FIFO queue, then a best-effort broadcast.
func (p *HashMemPool) Insert(ctx context.Context, tx *SignedTransaction) error {
	txHash := tx.TxHash

	if p.txCache.Len() >= p.poolSize {
		return NewProtocolError(KindMempool, fmt.Errorf("%w: %d", ErrReachLimit, p.poolSize))
	}
	if p.txCache.Contains(txHash) {
		return NewProtocolError(KindMempool, fmt.Errorf("%w: %s", ErrDup, txHash))
	}
	if err := p.adapter.CheckSignature(ctx, tx); err != nil {
		return err
	}
	if err := p.adapter.CheckTransaction(ctx, tx); err != nil {
		return err
	}
	if err := p.adapter.CheckStorageExist(ctx, txHash); err != nil {
		return err
	}

	if !p.txCache.Insert(txHash, tx) {
		return NewProtocolError(KindMempool, fmt.Errorf("%w: %s", ErrDup, txHash))
	}
	p.orderMu.Lock()
	p.orderQueue = append(p.orderQueue, txHash)
	p.orderMu.Unlock()

	// Broadcast is best effort; admission already succeeded.
	if err := p.adapter.BroadcastTx(ctx, tx); err != nil {
		logrus.Warnf("mempool: broadcast %s: %v", txHash, err)
	}
	return nil
}

// Package partitions the admitted set into the ordered prefix whose
// cumulative cycle limits fit the block budget and the in-range remainder
// proposed to peers. Out-of-range transactions are dropped from the pool.
func (p *HashMemPool) Package(_ context.Context) (*TxPackage, error) {
	height := p.currentHeight.Load()

	p.orderMu.Lock()
	defer p.orderMu.Unlock()

	var (
		order   []Hash
		propose []Hash
		stale   []Hash
		keep    = make([]Hash, 0, len(p.orderQueue))
		cycles  uint64
	)

	for _, hash := range p.orderQueue {
		tx, ok := p.txCache.Get(hash)
		if !ok {
			continue // flushed since admission
		}

		timeout := tx.Raw.Timeout
		if timeout <= height || timeout > height+p.timeoutGap {
			stale = append(stale, hash)
			continue
		}
		keep = append(keep, hash)

		if cycles+tx.Raw.CyclesLimit <= p.cyclesLimit && len(propose) == 0 {
			cycles += tx.Raw.CyclesLimit
			order = append(order, hash)
		} else {
			propose = append(propose, hash)
		}
	}

	p.orderQueue = keep
	if len(stale) > 0 {
		p.txCache.RemoveBatch(stale)
		logrus.Debugf("mempool: dropped %d timed-out txs at height %d", len(stale), height)
	}

	return &TxPackage{OrderTxHashes: order, ProposeTxHashes: propose}, nil
}

// EnsureOrderTxs pulls every unknown ordered hash from peers into the
// callback cache. A response of the wrong size fails with EnsureBreak.
func (p *HashMemPool) EnsureOrderTxs(ctx context.Context, orderTxHashes []Hash) error {
	unknown := p.showUnknown(orderTxHashes)
	if len(unknown) == 0 {
		return nil
	}

	txs, err := p.adapter.PullTxs(ctx, unknown)
	if err != nil {
		return err
	}
	if len(txs) != len(unknown) {
		return NewProtocolError(KindMempool,
			fmt.Errorf("%w: require %d response %d", ErrEnsureBreak, len(unknown), len(txs)))
	}
	for _, tx := range txs {
		p.callbackCache.Insert(tx.TxHash, tx)
	}
	return nil
}

// SyncProposeTxs pulls unknown proposed hashes straight into the admitted
// set. Already-present transactions are not an error.
func (p *HashMemPool) SyncProposeTxs(ctx context.Context, proposeTxHashes []Hash) error {
	unknown := p.showUnknown(proposeTxHashes)
	if len(unknown) == 0 {
		return nil
	}

	txs, err := p.adapter.PullTxs(ctx, unknown)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if p.txCache.Insert(tx.TxHash, tx) {
			p.orderMu.Lock()
			p.orderQueue = append(p.orderQueue, tx.TxHash)
			p.orderMu.Unlock()
		}
	}
	return nil
}

// GetFullTxs returns the full transactions in request order, consulting the
// admitted set first and the callback cache second. Any absent hash fails
// with MisMatch.
func (p *HashMemPool) GetFullTxs(_ context.Context, txHashes []Hash) ([]*SignedTransaction, error) {
	full := make([]*SignedTransaction, 0, len(txHashes))
	for _, hash := range txHashes {
		if tx, ok := p.txCache.Get(hash); ok {
			full = append(full, tx)
			continue
		}
		if tx, ok := p.callbackCache.Get(hash); ok {
			full = append(full, tx)
		}
	}

	if len(full) != len(txHashes) {
		return nil, NewProtocolError(KindMempool,
			fmt.Errorf("%w: require %d response %d", ErrMisMatch, len(txHashes), len(full)))
	}
	return full, nil
}

// Flush removes the committed hashes from both caches and clears the
// callback cache entirely. Idempotent.
func (p *HashMemPool) Flush(_ context.Context, txHashes []Hash) error {
	p.txCache.RemoveBatch(txHashes)
	p.callbackCache.Clear()
	return nil
}

func (p *HashMemPool) showUnknown(hashes []Hash) []Hash {
	unknown := make([]Hash, 0, len(hashes))
	for _, h := range hashes {
		if !p.txCache.Contains(h) && !p.callbackCache.Contains(h) {
			unknown = append(unknown, h)
		}
	}
	return unknown
}

// Len approximates the admitted set size.
func (p *HashMemPool) Len() int { return p.txCache.Len() }
