package core

// consensus.go – interval-driven solo consensus. A single proposer packages
// the mempool on a fixed cadence and commits the result through the chain
// driver. It stands behind the same adapter surface a BFT engine would, so
// swapping engines does not touch the driver.

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SoloConsensus finalises whatever the local mempool packages.
type SoloConsensus struct {
	driver   *ChainDriver
	mempool  MemPool
	network  *Node
	proposer Address
	interval time.Duration
}

// NewSoloConsensus builds the engine. network may be nil for isolated nodes.
func NewSoloConsensus(driver *ChainDriver, mempool MemPool, network *Node, proposer Address, interval time.Duration) *SoloConsensus {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &SoloConsensus{
		driver:   driver,
		mempool:  mempool,
		network:  network,
		proposer: proposer,
		interval: interval,
	}
}

// NotifyStatus implements ConsensusAdapter.
func (s *SoloConsensus) NotifyStatus(status ChainStatus) {
	logrus.Debugf("consensus: status height %d state_root %s", status.Height, status.StateRoot)
}

// BroadcastHeight implements ConsensusAdapter.
func (s *SoloConsensus) BroadcastHeight(ctx context.Context, height uint64) error {
	if s.network == nil {
		return nil
	}
	return s.network.GossipHeight(ctx, height)
}

// Run produces one block per interval until the context ends.
func (s *SoloConsensus) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logrus.Infof("consensus: solo engine started, interval %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("consensus: solo engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.produceBlock(ctx); err != nil {
				logrus.Errorf("consensus: produce block: %v", err)
			}
		}
	}
}

func (s *SoloConsensus) produceBlock(ctx context.Context) error {
	pkg, err := s.mempool.Package(ctx)
	if err != nil {
		return err
	}

	status := s.driver.Status()
	height := status.Height + 1

	payload := &CommitPayload{
		Height:          height,
		OrderedTxHashes: pkg.OrderTxHashes,
		Proposer:        s.proposer,
		Timestamp:       uint64(time.Now().UnixMilli()),
		Proof: Proof{
			Height:    height,
			BlockHash: status.BlockHash,
		},
	}

	if _, err := s.driver.Commit(ctx, payload); err != nil {
		return err
	}
	if err := s.BroadcastHeight(ctx, height); err != nil {
		logrus.Warnf("consensus: broadcast height %d: %v", height, err)
	}
	return nil
}
