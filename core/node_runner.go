package core

// node_runner.go – full-node assembly: storage, state, executor, network,
// mempool, driver, consensus and the HTTP API wired together from a loaded
// configuration.

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stratus-network/pkg/config"
)

// NodeRunner owns every long-lived component of a running node.
type NodeRunner struct {
	cfg      *config.Config
	chainID  Hash
	proposer Address

	stateAdapter *LevelDBAdapter
	blockAdapter *LevelDBAdapter
	storage      *ImplStorage
	trieDB       *TrieDB
	executor     *ServiceExecutor
	network      *Node
	mempool      *HashMemPool
	driver       *ChainDriver
	consensus    *SoloConsensus
	api          *APIServer
}

// InitChain creates the genesis state and block 0, then releases every
// handle. It is what `stratus init` runs.
func InitChain(cfg *config.Config, genesisPath string) error {
	genesis, err := LoadGenesis(genesisPath)
	if err != nil {
		return err
	}
	chainID := chainIDOf(genesis)

	stateAdapter, err := NewLevelDBAdapter(cfg.StateDataPath())
	if err != nil {
		return err
	}
	defer stateAdapter.Close()

	blockAdapter, err := NewLevelDBAdapter(cfg.BlockDataPath())
	if err != nil {
		return err
	}
	defer blockAdapter.Close()

	storage, err := NewImplStorage(blockAdapter)
	if err != nil {
		return err
	}

	executor := NewServiceExecutor(NewTrieDB(stateAdapter, 0), storage, NewDefaultServiceMapping())
	block, err := CreateGenesisBlock(genesis, executor, storage, chainID)
	if err != nil {
		return err
	}
	logrus.Infof("node: initialised chain %s at genesis block %s", chainID, block.Hash())
	return nil
}

// chainIDOf derives the chain id from the canonical encoding of the genesis
// document.
func chainIDOf(genesis *Genesis) Hash {
	payloads := make([]string, 0, len(genesis.Services)*2)
	for _, s := range genesis.Services {
		payloads = append(payloads, s.Name, s.Payload)
	}
	return Digest(MustEncode([]interface{}{genesis.Timestamp, genesis.PrevHash.Bytes(), payloads}))
}

// NewNodeRunner assembles a node from configuration. The chain must already
// be initialised.
func NewNodeRunner(cfg *config.Config, genesisPath string) (*NodeRunner, error) {
	genesis, err := LoadGenesis(genesisPath)
	if err != nil {
		return nil, err
	}
	chainID := chainIDOf(genesis)

	priv, err := ParsePrivateKey(cfg.Privkey)
	if err != nil {
		return nil, NewProtocolError(KindSystem, err)
	}

	r := &NodeRunner{cfg: cfg, chainID: chainID, proposer: PubKeyAddress(priv)}

	if r.stateAdapter, err = NewLevelDBAdapter(cfg.StateDataPath()); err != nil {
		return nil, err
	}
	if r.blockAdapter, err = NewLevelDBAdapter(cfg.BlockDataPath()); err != nil {
		return nil, err
	}
	if r.storage, err = NewImplStorage(r.blockAdapter); err != nil {
		return nil, err
	}
	r.trieDB = NewTrieDB(r.stateAdapter, 0)
	r.executor = NewServiceExecutor(r.trieDB, r.storage, NewDefaultServiceMapping())

	if r.network, err = NewNode(NetworkConfig{
		ListenAddr: cfg.Network.Listen,
		Bootstraps: cfg.Network.Bootstraps,
	}); err != nil {
		return nil, err
	}

	adapter := NewDefaultMemPoolAdapter(chainID, r.storage, r.network)
	r.mempool = NewHashMemPool(cfg.PoolSize, cfg.TimeoutGap, cfg.CyclesLimit, 0, adapter)
	r.network.AttachMemPool(r.mempool, r.storage)

	wal, err := NewSignedTxsWAL(cfg.WalPath())
	if err != nil {
		return nil, err
	}

	interval := time.Duration(cfg.ConsensusInterval) * time.Millisecond
	r.consensus = NewSoloConsensus(nil, r.mempool, r.network, r.proposer, interval)

	if r.driver, err = NewChainDriver(ChainDriverConfig{
		ChainID:      chainID,
		WalRetention: cfg.Wal.RetentionHeights,
	}, r.mempool, r.executor, r.storage, wal, r.consensus); err != nil {
		return nil, err
	}
	r.consensus.driver = r.driver

	r.api = NewAPIServer(r.driver, r.executor, r.storage, r.mempool)
	return r, nil
}

// Run starts the network consumers, the API and the consensus loop, blocking
// until the context ends.
func (r *NodeRunner) Run(ctx context.Context) error {
	if err := r.network.Start(); err != nil {
		return err
	}

	go func() {
		if err := r.api.Serve(r.cfg.API.Listen); err != nil {
			logrus.Errorf("node: api server: %v", err)
		}
	}()

	logrus.Infof("node: running as %s on chain %s", r.proposer, r.chainID)
	err := r.consensus.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close releases every handle.
func (r *NodeRunner) Close() error {
	var firstErr error
	if r.network != nil {
		if err := r.network.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.storage != nil {
		if err := r.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.stateAdapter != nil {
		if err := r.stateAdapter.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close state db: %w", err)
		}
	}
	return firstErr
}
