package core

// common_structs.go – centralised type definitions shared across the core
// package. This file declares data structures and the narrow interfaces the
// subsystems exchange; behaviour lives in the per-subsystem files.

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

//---------------------------------------------------------------------
// Primitives
//---------------------------------------------------------------------

// HashLen is the byte length of every digest used on chain.
const HashLen = 32

// AddressLen is the byte length of an account identifier.
const AddressLen = 20

// Hash represents a 32-byte Keccak-256 digest.
type Hash [HashLen]byte

// Address represents a 20-byte account identifier.
type Address [AddressLen]byte

// MerkleRoot is a Hash that names the root of a trie or merkle tree.
type MerkleRoot = Hash

// JSONString is a JSON document carried as an opaque string.
type JSONString = string

// Digest hashes an arbitrary byte sequence with Keccak-256.
func Digest(data []byte) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256(data))
	return h
}

// nullRLP is the canonical RLP encoding of the empty byte string.
var nullRLP = []byte{0x80}

// EmptyHash returns the digest of the canonical empty RLP marker. It doubles
// as the root hash of an empty state trie.
func EmptyHash() Hash {
	return Digest(nullRLP)
}

// HashFromBytes converts a 32-byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLen {
		return h, fmt.Errorf("hash length mismatch: expect %d got %d", HashLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses an optionally 0x-prefixed hex string.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(clean0x(s))
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash hex: %w", err)
	}
	return HashFromBytes(b)
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return h.Hex() }

// MarshalText implements encoding.TextMarshaler so hashes render as
// 0x-prefixed hex in JSON payloads.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// AddressFromBytes converts a 20-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLen {
		return a, fmt.Errorf("address length mismatch: expect %d got %d", AddressLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromHash truncates a digest to its first 20 bytes.
func AddressFromHash(h Hash) Address {
	var a Address
	copy(a[:], h[:AddressLen])
	return a
}

// AddressFromPubKey derives the account identifier of a public key by
// digesting the raw key bytes and truncating.
func AddressFromPubKey(pubkey []byte) Address {
	return AddressFromHash(Digest(pubkey))
}

// AddressFromHex parses an optionally 0x-prefixed hex string.
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(clean0x(s))
	if err != nil {
		return Address{}, fmt.Errorf("decode address hex: %w", err)
	}
	return AddressFromBytes(b)
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Compare orders two addresses byte-wise.
func (a Address) Compare(other Address) int { return bytes.Compare(a[:], other[:]) }

func clean0x(s string) string { return strings.TrimPrefix(s, "0x") }

//---------------------------------------------------------------------
// Transactions
//---------------------------------------------------------------------

// TransactionRequest names the service method a transaction invokes.
type TransactionRequest struct {
	ServiceName string     `json:"service_name"`
	Method      string     `json:"method"`
	Payload     JSONString `json:"payload"`
}

// RawTransaction is the signed portion of a transaction.
type RawTransaction struct {
	ChainID     Hash               `json:"chain_id"`
	Nonce       Hash               `json:"nonce"`
	Timeout     uint64             `json:"timeout"`
	CyclesPrice uint64             `json:"cycles_price"`
	CyclesLimit uint64             `json:"cycles_limit"`
	Request     TransactionRequest `json:"request"`
	Sender      Address            `json:"sender"`
}

// SignedTransaction couples a raw transaction with its digest and the
// secp256k1 credentials that authorise it.
type SignedTransaction struct {
	Raw       RawTransaction `json:"raw"`
	TxHash    Hash           `json:"tx_hash"`
	Pubkey    []byte         `json:"pubkey"`
	Signature []byte         `json:"signature"`
}

//---------------------------------------------------------------------
// Blocks
//---------------------------------------------------------------------

// Validator is one member of the active consensus set.
type Validator struct {
	Address       Address `json:"address"`
	ProposeWeight uint32  `json:"propose_weight"`
	VoteWeight    uint32  `json:"vote_weight"`
}

// Proof carries the aggregated consensus signatures that finalised a block.
type Proof struct {
	Height    uint64 `json:"height"`
	Round     uint64 `json:"round"`
	BlockHash Hash   `json:"block_hash"`
	Signature []byte `json:"signature"`
	Bitmap    []byte `json:"bitmap"`
}

// BlockHeader summarises a block. Executed roots accumulate while consensus
// height runs ahead of execution, so ConfirmRoot, ReceiptRoot and CyclesUsed
// are lists.
type BlockHeader struct {
	ChainID          Hash         `json:"chain_id"`
	Height           uint64       `json:"height"`
	ExecHeight       uint64       `json:"exec_height"`
	PrevHash         Hash         `json:"prev_hash"`
	Timestamp        uint64       `json:"timestamp"`
	OrderRoot        MerkleRoot   `json:"order_root"`
	ConfirmRoot      []MerkleRoot `json:"confirm_root"`
	StateRoot        MerkleRoot   `json:"state_root"`
	ReceiptRoot      []MerkleRoot `json:"receipt_root"`
	CyclesUsed       []uint64     `json:"cycles_used"`
	Proposer         Address      `json:"proposer"`
	Proof            Proof        `json:"proof"`
	ValidatorVersion uint64       `json:"validator_version"`
	Validators       []Validator  `json:"validators"`
}

// Block owns the ordered transaction hashes; full bodies are stored
// separately and addressed by hash.
type Block struct {
	Header          BlockHeader `json:"header"`
	OrderedTxHashes []Hash      `json:"ordered_tx_hashes"`
}

// Hash digests the canonical encoding of the block header.
func (b *Block) Hash() Hash {
	return Digest(MustEncode(&b.Header))
}

//---------------------------------------------------------------------
// Receipts and events
//---------------------------------------------------------------------

// Event is emitted by service code during execution.
type Event struct {
	Service string     `json:"service"`
	Data    JSONString `json:"data"`
}

// ReceiptResponse is the outcome of the dispatched service call.
type ReceiptResponse struct {
	ServiceName string     `json:"service_name"`
	Method      string     `json:"method"`
	Ret         JSONString `json:"ret"`
	Code        uint64     `json:"code"`
	IsError     bool       `json:"is_error"`
}

// Receipt records the execution of one transaction.
type Receipt struct {
	StateRoot  MerkleRoot      `json:"state_root"`
	Height     uint64          `json:"height"`
	TxHash     Hash            `json:"tx_hash"`
	CyclesUsed uint64          `json:"cycles_used"`
	Events     []Event         `json:"events"`
	Response   ReceiptResponse `json:"response"`
}

//---------------------------------------------------------------------
// Chain metadata
//---------------------------------------------------------------------

// Metadata is the governed chain-wide parameter set kept by the metadata
// service and consulted by consensus.
type Metadata struct {
	ChainID        Hash        `json:"chain_id"`
	VerifierList   []Validator `json:"verifier_list"`
	Interval       uint64      `json:"interval"`
	CyclesLimit    uint64      `json:"cycles_limit"`
	CyclesPrice    uint64      `json:"cycles_price"`
	ProposeRatio   uint64      `json:"propose_ratio"`
	PrevoteRatio   uint64      `json:"prevote_ratio"`
	PrecommitRatio uint64      `json:"precommit_ratio"`
}

//---------------------------------------------------------------------
// Executor surface
//---------------------------------------------------------------------

// ExecutorParams carry the per-block environment into the executor.
type ExecutorParams struct {
	StateRoot   MerkleRoot
	Height      uint64
	Timestamp   uint64
	CyclesLimit uint64
	Proposer    Address
}

// ExecutorResp is the result of executing one ordered transaction list.
type ExecutorResp struct {
	Receipts      []*Receipt
	AllCyclesUsed uint64
	StateRoot     MerkleRoot
}

// Executor applies ordered transactions to the versioned state.
type Executor interface {
	Exec(params *ExecutorParams, txs []*SignedTransaction) (*ExecutorResp, error)
	Read(params *ExecutorParams, caller Address, cyclesPrice uint64, req *TransactionRequest) *ServiceResponse
}

//---------------------------------------------------------------------
// Mempool surface
//---------------------------------------------------------------------

// TxPackage partitions the pool into the ordered prefix that fits the block
// budget and the propose remainder hinted to peers.
type TxPackage struct {
	OrderTxHashes   []Hash
	ProposeTxHashes []Hash
}

// MemPool caches signed transactions between admission and finalisation.
type MemPool interface {
	Insert(ctx context.Context, tx *SignedTransaction) error
	Package(ctx context.Context) (*TxPackage, error)
	EnsureOrderTxs(ctx context.Context, orderTxHashes []Hash) error
	SyncProposeTxs(ctx context.Context, proposeTxHashes []Hash) error
	GetFullTxs(ctx context.Context, txHashes []Hash) ([]*SignedTransaction, error)
	Flush(ctx context.Context, txHashes []Hash) error
	SetHeight(height uint64)
}

// MemPoolAdapter supplies the mempool with everything it cannot do alone:
// admission checks, persistence lookups and the peer network.
type MemPoolAdapter interface {
	CheckSignature(ctx context.Context, tx *SignedTransaction) error
	CheckTransaction(ctx context.Context, tx *SignedTransaction) error
	CheckStorageExist(ctx context.Context, txHash Hash) error
	BroadcastTx(ctx context.Context, tx *SignedTransaction) error
	PullTxs(ctx context.Context, txHashes []Hash) ([]*SignedTransaction, error)
}

//---------------------------------------------------------------------
// Consensus surface
//---------------------------------------------------------------------

// CommitPayload is what the consensus engine delivers when a block is
// finalised: the height, the agreed transaction order and the proof.
type CommitPayload struct {
	Height          uint64
	OrderedTxHashes []Hash
	Proof           Proof
	Proposer        Address
	Timestamp       uint64
}

// ChainStatus is reported back to consensus after execution.
type ChainStatus struct {
	Height      uint64
	ExecHeight  uint64
	StateRoot   MerkleRoot
	ReceiptRoot MerkleRoot
	CyclesUsed  uint64
	BlockHash   Hash
}

// ConsensusAdapter receives execution results and height announcements.
type ConsensusAdapter interface {
	NotifyStatus(status ChainStatus)
	BroadcastHeight(ctx context.Context, height uint64) error
}
