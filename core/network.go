package core

// network.go – libp2p node. Fresh transactions and height announcements
// travel over gossip topics; missing transactions are fetched point-to-point
// over a pull RPC stream protocol. Message handlers feed the mempool.

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

const (
	topicNewTxs    = "stratus.tx.v1"
	topicNewHeight = "stratus.height.v1"

	pullProtocolID = "/stratus/pull/1.0.0"
)

// NetworkConfig is the slice of node configuration the network layer needs.
type NetworkConfig struct {
	ListenAddr string
	Bootstraps []string
}

// MsgNewTx is the gossip payload carrying one signed transaction.
type MsgNewTx struct {
	Tx *SignedTransaction `json:"tx"`
}

// MsgNewHeight announces a freshly committed height.
type MsgNewHeight struct {
	Height uint64 `json:"height"`
}

// MsgPullTxs asks a peer for the named transactions.
type MsgPullTxs struct {
	RPCID  string `json:"rpc_id"`
	Hashes []Hash `json:"hashes"`
}

// MsgPushTxs answers a pull request; the tx list must be the same length as
// the request for the puller to accept it.
type MsgPushTxs struct {
	RPCID string               `json:"rpc_id"`
	Txs   []*SignedTransaction `json:"txs"`
}

// Node is the P2P endpoint of a chain node.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub

	txTopic     *pubsub.Topic
	heightTopic *pubsub.Topic

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	mempool  MemPool
	storage  Storage
	onHeight func(height uint64)
}

// NewNode creates and bootstraps a P2P node listening on cfg.ListenAddr.
func NewNode(cfg NetworkConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, NewProtocolError(KindNetwork, fmt.Errorf("create host: %w", err))
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, NewProtocolError(KindNetwork, fmt.Errorf("create pubsub: %w", err))
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
	}

	if n.txTopic, err = ps.Join(topicNewTxs); err != nil {
		_ = h.Close()
		cancel()
		return nil, NewProtocolError(KindNetwork, fmt.Errorf("join %s: %w", topicNewTxs, err))
	}
	if n.heightTopic, err = ps.Join(topicNewHeight); err != nil {
		_ = h.Close()
		cancel()
		return nil, NewProtocolError(KindNetwork, fmt.Errorf("join %s: %w", topicNewHeight, err))
	}

	h.SetStreamHandler(pullProtocolID, n.handlePullStream)

	if err := n.DialSeeds(cfg.Bootstraps); err != nil {
		logrus.Warnf("network: dial seeds: %v", err)
	}

	logrus.Infof("network: node %s listening on %s", h.ID(), cfg.ListenAddr)
	return n, nil
}

// AttachMemPool hands the node its mempool once both exist; the mempool is
// constructed with an adapter that already references this node.
func (n *Node) AttachMemPool(mempool MemPool, storage Storage) {
	n.mu.Lock()
	n.mempool = mempool
	n.storage = storage
	n.mu.Unlock()
}

// OnHeight registers the callback fired for peer height announcements.
func (n *Node) OnHeight(fn func(height uint64)) {
	n.mu.Lock()
	n.onHeight = fn
	n.mu.Unlock()
}

// DialSeeds connects to the configured bootstrap peers.
func (n *Node) DialSeeds(seeds []string) error {
	var lastErr error
	for _, seed := range seeds {
		info, err := peer.AddrInfoFromString(seed)
		if err != nil {
			lastErr = fmt.Errorf("parse seed %s: %w", seed, err)
			continue
		}
		if err := n.host.Connect(n.ctx, *info); err != nil {
			lastErr = fmt.Errorf("dial seed %s: %w", seed, err)
			continue
		}
		logrus.Infof("network: connected to seed %s", info.ID)
	}
	return lastErr
}

// Start launches the gossip consumers.
func (n *Node) Start() error {
	txSub, err := n.txTopic.Subscribe()
	if err != nil {
		return NewProtocolError(KindNetwork, fmt.Errorf("subscribe %s: %w", topicNewTxs, err))
	}
	heightSub, err := n.heightTopic.Subscribe()
	if err != nil {
		return NewProtocolError(KindNetwork, fmt.Errorf("subscribe %s: %w", topicNewHeight, err))
	}

	go n.consumeTxs(txSub)
	go n.consumeHeights(heightSub)
	return nil
}

func (n *Node) consumeTxs(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}

		var wire MsgNewTx
		if err := json.Unmarshal(msg.Data, &wire); err != nil || wire.Tx == nil {
			logrus.Debugf("network: drop malformed tx gossip from %s", msg.ReceivedFrom)
			continue
		}

		n.mu.RLock()
		mempool := n.mempool
		n.mu.RUnlock()
		if mempool == nil {
			continue
		}
		if err := mempool.Insert(n.ctx, wire.Tx); err != nil {
			logrus.Debugf("network: reject gossiped tx %s: %v", wire.Tx.TxHash, err)
		}
	}
}

func (n *Node) consumeHeights(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}

		var wire MsgNewHeight
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			continue
		}

		n.mu.RLock()
		fn := n.onHeight
		n.mu.RUnlock()
		if fn != nil {
			fn(wire.Height)
		}
	}
}

//---------------------------------------------------------------------
// Outbound
//---------------------------------------------------------------------

// GossipNewTx publishes a transaction to the tx topic.
func (n *Node) GossipNewTx(ctx context.Context, tx *SignedTransaction) error {
	raw, err := json.Marshal(&MsgNewTx{Tx: tx})
	if err != nil {
		return NewProtocolError(KindNetwork, fmt.Errorf("encode tx gossip: %w", err))
	}
	if err := n.txTopic.Publish(ctx, raw); err != nil {
		return NewProtocolError(KindNetwork, fmt.Errorf("publish tx gossip: %w", err))
	}
	return nil
}

// GossipHeight announces a committed height.
func (n *Node) GossipHeight(ctx context.Context, height uint64) error {
	raw, err := json.Marshal(&MsgNewHeight{Height: height})
	if err != nil {
		return NewProtocolError(KindNetwork, fmt.Errorf("encode height gossip: %w", err))
	}
	if err := n.heightTopic.Publish(ctx, raw); err != nil {
		return NewProtocolError(KindNetwork, fmt.Errorf("publish height gossip: %w", err))
	}
	return nil
}

// PullTxsFromPeers walks the connected peers until one answers the pull RPC
// with a complete transaction set.
func (n *Node) PullTxsFromPeers(ctx context.Context, txHashes []Hash) ([]*SignedTransaction, error) {
	peers := n.host.Network().Peers()
	if len(peers) == 0 {
		return nil, NewProtocolError(KindNetwork, errors.New("no connected peers"))
	}

	req := &MsgPullTxs{RPCID: uuid.NewString(), Hashes: txHashes}
	var lastErr error
	for _, pid := range peers {
		txs, err := n.pullFromPeer(ctx, pid, req)
		if err != nil {
			lastErr = err
			logrus.Debugf("network: pull from %s: %v", pid, err)
			continue
		}
		if len(txs) != len(txHashes) {
			lastErr = fmt.Errorf("incomplete reply: want %d txs, got %d", len(txHashes), len(txs))
			logrus.Debugf("network: pull from %s: %v", pid, lastErr)
			continue
		}
		return txs, nil
	}
	return nil, NewProtocolError(KindNetwork, fmt.Errorf("pull txs: all peers failed: %v", lastErr))
}

func (n *Node) pullFromPeer(ctx context.Context, pid peer.ID, req *MsgPullTxs) ([]*SignedTransaction, error) {
	stream, err := n.host.NewStream(ctx, pid, pullProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	writer := bufio.NewWriter(stream)
	if err := json.NewEncoder(writer).Encode(req); err != nil {
		return nil, fmt.Errorf("send pull request: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush pull request: %w", err)
	}

	var resp MsgPushTxs
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read pull response: %w", err)
	}
	if resp.RPCID != req.RPCID {
		return nil, fmt.Errorf("rpc id mismatch: sent %s got %s", req.RPCID, resp.RPCID)
	}
	return resp.Txs, nil
}

//---------------------------------------------------------------------
// Inbound pull RPC
//---------------------------------------------------------------------

func (n *Node) handlePullStream(stream network.Stream) {
	defer stream.Close()

	var req MsgPullTxs
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&req); err != nil {
		logrus.Debugf("network: malformed pull request from %s: %v", stream.Conn().RemotePeer(), err)
		return
	}

	resp := &MsgPushTxs{RPCID: req.RPCID, Txs: n.collectTxs(req.Hashes)}

	writer := bufio.NewWriter(stream)
	if err := json.NewEncoder(writer).Encode(resp); err != nil {
		logrus.Debugf("network: write pull response: %v", err)
		return
	}
	_ = writer.Flush()
}

// collectTxs serves whatever subset of the requested hashes this node holds,
// from the mempool caches first and persisted storage second. The requester
// enforces completeness.
func (n *Node) collectTxs(hashes []Hash) []*SignedTransaction {
	n.mu.RLock()
	mempool := n.mempool
	storage := n.storage
	n.mu.RUnlock()

	out := make([]*SignedTransaction, 0, len(hashes))
	for _, h := range hashes {
		if mempool != nil {
			if txs, err := mempool.GetFullTxs(n.ctx, []Hash{h}); err == nil && len(txs) == 1 {
				out = append(out, txs[0])
				continue
			}
		}
		if storage != nil {
			if tx, err := storage.GetTransactionByHash(h); err == nil && tx != nil {
				out = append(out, tx)
			}
		}
	}
	return out
}

// Close tears the node down.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// ID returns the libp2p peer id.
func (n *Node) ID() peer.ID { return n.host.ID() }
