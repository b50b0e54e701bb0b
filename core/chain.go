package core

// chain.go – the driver that marshals a consensus commit through mempool
// reconciliation, ordered execution, persistence and status propagation.
// One commit is atomic from the scheduler's perspective: the reconcile phase
// runs before the driver lock is taken, everything after holds it.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// defaultWalRetention is K: WAL directories below height−K are pruned.
	defaultWalRetention uint64 = 20
	// reconcile retry policy for EnsureBreak.
	defaultReconcileRetries = 5
	defaultReconcileBackoff = 200 * time.Millisecond
)

// ChainDriverConfig tunes the commit pipeline.
type ChainDriverConfig struct {
	ChainID          Hash
	WalRetention     uint64
	ReconcileRetries int
	ReconcileBackoff time.Duration
}

// ChainDriver binds consensus to execution.
type ChainDriver struct {
	cfg      ChainDriverConfig
	mempool  MemPool
	executor *ServiceExecutor
	storage  Storage
	wal      *SignedTxsWAL
	adapter  ConsensusAdapter

	// mu serialises block processing; persistence of height H strictly
	// happens-before execution of H+1.
	mu     sync.Mutex
	status ChainStatus
}

// NewChainDriver wires the driver and primes its status from the latest
// persisted block.
func NewChainDriver(cfg ChainDriverConfig, mempool MemPool, executor *ServiceExecutor, storage Storage, wal *SignedTxsWAL, adapter ConsensusAdapter) (*ChainDriver, error) {
	if cfg.WalRetention == 0 {
		cfg.WalRetention = defaultWalRetention
	}
	if cfg.ReconcileRetries == 0 {
		cfg.ReconcileRetries = defaultReconcileRetries
	}
	if cfg.ReconcileBackoff == 0 {
		cfg.ReconcileBackoff = defaultReconcileBackoff
	}

	d := &ChainDriver{
		cfg:      cfg,
		mempool:  mempool,
		executor: executor,
		storage:  storage,
		wal:      wal,
		adapter:  adapter,
	}

	latest, err := storage.GetLatestBlock()
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, NewProtocolError(KindSystem, errors.New("no genesis block; run init first"))
	}
	d.status = ChainStatus{
		Height:     latest.Header.Height,
		ExecHeight: latest.Header.ExecHeight,
		StateRoot:  latest.Header.StateRoot,
		BlockHash:  latest.Hash(),
	}
	if n := len(latest.Header.ReceiptRoot); n > 0 {
		d.status.ReceiptRoot = latest.Header.ReceiptRoot[n-1]
	}
	mempool.SetHeight(d.status.Height)
	return d, nil
}

// Status snapshots the driver's view of the chain head.
func (d *ChainDriver) Status() ChainStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Commit drives one finalised height through the pipeline and reports the
// executor response back to consensus.
func (d *ChainDriver) Commit(ctx context.Context, payload *CommitPayload) (*ExecutorResp, error) {
	// Reconcile runs before block atomicity starts.
	if err := d.reconcile(ctx, payload.OrderedTxHashes); err != nil {
		logrus.Errorf("chain: reconcile height %d failed: %v", payload.Height, err)
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if payload.Height != d.status.Height+1 {
		return nil, NewProtocolError(KindConsensus,
			fmt.Errorf("commit height %d does not follow %d", payload.Height, d.status.Height))
	}

	// Fetch must succeed after a successful reconcile; MisMatch is fatal.
	txs, err := d.mempool.GetFullTxs(ctx, payload.OrderedTxHashes)
	if err != nil {
		return nil, err
	}

	params := &ExecutorParams{
		StateRoot:   d.status.StateRoot,
		Height:      payload.Height,
		Timestamp:   payload.Timestamp,
		CyclesLimit: blockCyclesLimit(txs),
		Proposer:    payload.Proposer,
	}
	resp, err := d.executor.Exec(params, txs)
	if err != nil {
		return nil, err
	}

	receiptRoot := MerkleRootOfReceipts(resp.Receipts)
	orderRoot := MerkleRootOfHashes(payload.OrderedTxHashes)

	block := &Block{
		Header: BlockHeader{
			ChainID:     d.cfg.ChainID,
			Height:      payload.Height,
			ExecHeight:  payload.Height,
			PrevHash:    d.status.BlockHash,
			Timestamp:   payload.Timestamp,
			OrderRoot:   orderRoot,
			ConfirmRoot: []MerkleRoot{orderRoot},
			StateRoot:   resp.StateRoot,
			ReceiptRoot: []MerkleRoot{receiptRoot},
			CyclesUsed:  []uint64{resp.AllCyclesUsed},
			Proposer:    payload.Proposer,
			Proof:       payload.Proof,
		},
		OrderedTxHashes: payload.OrderedTxHashes,
	}
	blockHash := block.Hash()

	// Persist block, bodies and receipts in one logical batch, then the WAL.
	if err := d.storage.PersistBlockData(block, txs, resp.Receipts); err != nil {
		return nil, err
	}
	if err := d.wal.Save(payload.Height, blockHash, txs); err != nil {
		return nil, err
	}
	if payload.Height > d.cfg.WalRetention {
		if err := d.wal.Remove(payload.Height - d.cfg.WalRetention); err != nil {
			logrus.Warnf("chain: wal prune at height %d: %v", payload.Height, err)
		}
	}
	if err := d.storage.UpdateLatestProof(&payload.Proof); err != nil {
		return nil, err
	}

	if err := d.mempool.Flush(ctx, payload.OrderedTxHashes); err != nil {
		return nil, err
	}
	d.mempool.SetHeight(payload.Height)

	d.status = ChainStatus{
		Height:      payload.Height,
		ExecHeight:  payload.Height,
		StateRoot:   resp.StateRoot,
		ReceiptRoot: receiptRoot,
		CyclesUsed:  resp.AllCyclesUsed,
		BlockHash:   blockHash,
	}
	if d.adapter != nil {
		d.adapter.NotifyStatus(d.status)
	}

	logrus.Infof("chain: committed height %d txs %d state_root %s",
		payload.Height, len(txs), resp.StateRoot)
	return resp, nil
}

// reconcile pulls proposed-but-unknown transactions, retrying EnsureBreak
// with exponential back-off up to the configured limit.
func (d *ChainDriver) reconcile(ctx context.Context, hashes []Hash) error {
	backoff := d.cfg.ReconcileBackoff
	var err error
	for attempt := 0; attempt < d.cfg.ReconcileRetries; attempt++ {
		err = d.mempool.EnsureOrderTxs(ctx, hashes)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrEnsureBreak) {
			return err
		}
		logrus.Warnf("chain: ensure_order_txs attempt %d/%d: %v", attempt+1, d.cfg.ReconcileRetries, err)

		select {
		case <-ctx.Done():
			return NewProtocolError(KindConsensus, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// blockCyclesLimit sums the declared limits so metering inside the executor
// can never exceed what the package phase admitted.
func blockCyclesLimit(txs []*SignedTransaction) uint64 {
	var total uint64
	for _, tx := range txs {
		total += tx.Raw.CyclesLimit
	}
	return total
}

//---------------------------------------------------------------------
// Genesis
//---------------------------------------------------------------------

// CreateGenesisBlock initialises the declared services, commits the genesis
// state and persists block 0 with the canonical empty previous hash.
func CreateGenesisBlock(genesis *Genesis, executor *ServiceExecutor, storage Storage, chainID Hash) (*Block, error) {
	existing, err := storage.GetLatestBlock()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logrus.Infof("chain: genesis already present at height %d", existing.Header.Height)
		return existing, nil
	}

	root, err := executor.CreateGenesis(genesis.Services)
	if err != nil {
		return nil, err
	}

	block := &Block{
		Header: BlockHeader{
			ChainID:     chainID,
			Height:      0,
			ExecHeight:  0,
			PrevHash:    EmptyHash(),
			Timestamp:   genesis.Timestamp,
			OrderRoot:   EmptyHash(),
			StateRoot:   root,
			ReceiptRoot: []MerkleRoot{},
			CyclesUsed:  []uint64{},
		},
		OrderedTxHashes: []Hash{},
	}
	if err := storage.InsertBlock(block); err != nil {
		return nil, err
	}
	logrus.Infof("chain: genesis block %s state_root %s", block.Hash(), root)
	return block, nil
}
