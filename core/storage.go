package core

// storage.go – persistent block/transaction/receipt store. The backend is a
// single goleveldb database; categories map to fixed key-prefix tables since
// leveldb has no column families. A bounded LRU fronts the hot read paths.

import (
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// StorageCategory names one of the fixed storage tables.
type StorageCategory string

const (
	CategoryBlock             StorageCategory = "Block"
	CategoryBlockHeader       StorageCategory = "BlockHeader"
	CategoryReceipt           StorageCategory = "Receipt"
	CategorySignedTransaction StorageCategory = "SignedTransaction"
	CategoryWal               StorageCategory = "Wal"
	CategoryHashHeight        StorageCategory = "HashHeight"
	CategoryState             StorageCategory = "State"
)

// categoryTables maps every category onto its short table prefix. The set is
// closed; unknown categories fail with ErrCategoryNotFound.
var categoryTables = map[StorageCategory]string{
	CategoryBlock:             "c1/",
	CategorySignedTransaction: "c2/",
	CategoryReceipt:           "c3/",
	CategoryWal:               "c4/",
	CategoryBlockHeader:       "c5/",
	CategoryHashHeight:        "c6/",
	CategoryState:             "c7/",
}

// StorageAdapter is the raw keyspace contract: byte keys and values scoped by
// category, with atomic per-category batches.
type StorageAdapter interface {
	Get(c StorageCategory, key []byte) ([]byte, error)
	Put(c StorageCategory, key, val []byte) error
	Delete(c StorageCategory, key []byte) error
	Contains(c StorageCategory, key []byte) (bool, error)
	// BatchModify applies keys[i]→vals[i] atomically; a nil value deletes.
	BatchModify(c StorageCategory, keys [][]byte, vals [][]byte) error
	Close() error
}

func tableKey(c StorageCategory, key []byte) ([]byte, error) {
	prefix, ok := categoryTables[c]
	if !ok {
		return nil, NewProtocolError(KindStorage, fmt.Errorf("%w: %s", ErrCategoryNotFound, c))
	}
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	out = append(out, key...)
	return out, nil
}

//---------------------------------------------------------------------
// goleveldb adapter
//---------------------------------------------------------------------

// LevelDBAdapter persists categories inside one goleveldb instance.
type LevelDBAdapter struct {
	db *leveldb.DB
}

// NewLevelDBAdapter opens (or creates) the database under path.
func NewLevelDBAdapter(path string) (*LevelDBAdapter, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		if ldberrors.IsCorrupted(err) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, NewProtocolError(KindStorage, fmt.Errorf("open leveldb %s: %w", path, err))
		}
		logrus.Warnf("storage: recovered corrupted leveldb at %s", path)
	}
	return &LevelDBAdapter{db: db}, nil
}

func (a *LevelDBAdapter) Get(c StorageCategory, key []byte) ([]byte, error) {
	k, err := tableKey(c, key)
	if err != nil {
		return nil, err
	}
	val, err := a.db.Get(k, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, NewProtocolError(KindStorage, fmt.Errorf("leveldb get: %w", err))
	}
	return val, nil
}

func (a *LevelDBAdapter) Put(c StorageCategory, key, val []byte) error {
	k, err := tableKey(c, key)
	if err != nil {
		return err
	}
	if err := a.db.Put(k, val, nil); err != nil {
		return NewProtocolError(KindStorage, fmt.Errorf("leveldb put: %w", err))
	}
	return nil
}

func (a *LevelDBAdapter) Delete(c StorageCategory, key []byte) error {
	k, err := tableKey(c, key)
	if err != nil {
		return err
	}
	if err := a.db.Delete(k, nil); err != nil {
		return NewProtocolError(KindStorage, fmt.Errorf("leveldb delete: %w", err))
	}
	return nil
}

func (a *LevelDBAdapter) Contains(c StorageCategory, key []byte) (bool, error) {
	k, err := tableKey(c, key)
	if err != nil {
		return false, err
	}
	ok, err := a.db.Has(k, nil)
	if err != nil {
		return false, NewProtocolError(KindStorage, fmt.Errorf("leveldb has: %w", err))
	}
	return ok, nil
}

func (a *LevelDBAdapter) BatchModify(c StorageCategory, keys [][]byte, vals [][]byte) error {
	if len(keys) != len(vals) {
		return NewProtocolError(KindStorage, fmt.Errorf("%w: %d keys %d vals", ErrBatchLengthMismatch, len(keys), len(vals)))
	}
	batch := new(leveldb.Batch)
	for i, key := range keys {
		k, err := tableKey(c, key)
		if err != nil {
			return err
		}
		if vals[i] == nil {
			batch.Delete(k)
		} else {
			batch.Put(k, vals[i])
		}
	}
	if err := a.db.Write(batch, nil); err != nil {
		return NewProtocolError(KindStorage, fmt.Errorf("leveldb batch write: %w", err))
	}
	return nil
}

func (a *LevelDBAdapter) Close() error { return a.db.Close() }

// writeRaw exposes a cross-category atomic batch to the typed layer. The
// public BatchModify contract stays per-category.
func (a *LevelDBAdapter) writeRaw(batch *leveldb.Batch) error {
	if err := a.db.Write(batch, nil); err != nil {
		return NewProtocolError(KindStorage, fmt.Errorf("leveldb batch write: %w", err))
	}
	return nil
}

//---------------------------------------------------------------------
// In-memory adapter (tests, genesis dry runs)
//---------------------------------------------------------------------

// MemAdapter is a map-backed StorageAdapter with the same category rules as
// the leveldb adapter.
type MemAdapter struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemAdapter() *MemAdapter {
	return &MemAdapter{data: make(map[string][]byte)}
}

func (m *MemAdapter) Get(c StorageCategory, key []byte) ([]byte, error) {
	k, err := tableKey(c, key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(k)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MemAdapter) Put(c StorageCategory, key, val []byte) error {
	k, err := tableKey(c, key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(val))
	copy(cp, val)
	m.data[string(k)] = cp
	return nil
}

func (m *MemAdapter) Delete(c StorageCategory, key []byte) error {
	k, err := tableKey(c, key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(k))
	return nil
}

func (m *MemAdapter) Contains(c StorageCategory, key []byte) (bool, error) {
	k, err := tableKey(c, key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(k)]
	return ok, nil
}

func (m *MemAdapter) BatchModify(c StorageCategory, keys [][]byte, vals [][]byte) error {
	if len(keys) != len(vals) {
		return NewProtocolError(KindStorage, fmt.Errorf("%w: %d keys %d vals", ErrBatchLengthMismatch, len(keys), len(vals)))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, key := range keys {
		k, err := tableKey(c, key)
		if err != nil {
			return err
		}
		if vals[i] == nil {
			delete(m.data, string(k))
			continue
		}
		cp := make([]byte, len(vals[i]))
		copy(cp, vals[i])
		m.data[string(k)] = cp
	}
	return nil
}

func (m *MemAdapter) Close() error { return nil }

//---------------------------------------------------------------------
// Typed storage schema
//---------------------------------------------------------------------

// Storage is the typed persistence surface the driver, mempool adapter and
// chain querier consume.
type Storage interface {
	InsertBlock(block *Block) error
	InsertTransactions(txs []*SignedTransaction) error
	InsertReceipts(receipts []*Receipt) error
	// PersistBlockData writes the block, its transactions and receipts in a
	// single backend-atomic batch.
	PersistBlockData(block *Block, txs []*SignedTransaction, receipts []*Receipt) error
	GetBlockByHeight(height uint64) (*Block, error)
	GetBlockByHash(hash Hash) (*Block, error)
	GetLatestBlock() (*Block, error)
	GetTransactionByHash(hash Hash) (*SignedTransaction, error)
	GetReceiptByHash(hash Hash) (*Receipt, error)
	ContainsTransaction(hash Hash) (bool, error)
	UpdateLatestProof(proof *Proof) error
	GetLatestProof() (*Proof, error)
	Close() error
}

const storageCacheSize = 2048

var latestBlockKey = []byte("latest_block")
var latestProofKey = []byte("latest_proof")

// ImplStorage implements Storage over a LevelDBAdapter plus LRU read caches.
type ImplStorage struct {
	adapter *LevelDBAdapter

	txCache      *lru.Cache[Hash, *SignedTransaction]
	receiptCache *lru.Cache[Hash, *Receipt]
	blockCache   *lru.Cache[uint64, *Block]
}

// NewImplStorage wires the typed schema over an opened adapter.
func NewImplStorage(adapter *LevelDBAdapter) (*ImplStorage, error) {
	txCache, err := lru.New[Hash, *SignedTransaction](storageCacheSize)
	if err != nil {
		return nil, err
	}
	receiptCache, err := lru.New[Hash, *Receipt](storageCacheSize)
	if err != nil {
		return nil, err
	}
	blockCache, err := lru.New[uint64, *Block](storageCacheSize)
	if err != nil {
		return nil, err
	}
	return &ImplStorage{
		adapter:      adapter,
		txCache:      txCache,
		receiptCache: receiptCache,
		blockCache:   blockCache,
	}, nil
}

func heightKey(height uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], height)
	return k[:]
}

func (s *ImplStorage) InsertBlock(block *Block) error {
	batch := new(leveldb.Batch)
	if err := s.appendBlock(batch, block); err != nil {
		return err
	}
	if err := s.adapter.writeRaw(batch); err != nil {
		return err
	}
	s.blockCache.Add(block.Header.Height, block)
	return nil
}

func (s *ImplStorage) appendBlock(batch *leveldb.Batch, block *Block) error {
	blockHash := block.Hash()
	hk := heightKey(block.Header.Height)

	bk, err := tableKey(CategoryBlock, hk)
	if err != nil {
		return err
	}
	batch.Put(bk, MustEncode(block))

	hdrk, err := tableKey(CategoryBlockHeader, hk)
	if err != nil {
		return err
	}
	batch.Put(hdrk, MustEncode(&block.Header))

	hhk, err := tableKey(CategoryHashHeight, blockHash.Bytes())
	if err != nil {
		return err
	}
	batch.Put(hhk, heightKey(block.Header.Height))

	lk, err := tableKey(CategoryBlock, latestBlockKey)
	if err != nil {
		return err
	}
	batch.Put(lk, heightKey(block.Header.Height))
	return nil
}

func (s *ImplStorage) InsertTransactions(txs []*SignedTransaction) error {
	batch := new(leveldb.Batch)
	if err := s.appendTransactions(batch, txs); err != nil {
		return err
	}
	return s.adapter.writeRaw(batch)
}

func (s *ImplStorage) appendTransactions(batch *leveldb.Batch, txs []*SignedTransaction) error {
	for _, tx := range txs {
		k, err := tableKey(CategorySignedTransaction, tx.TxHash.Bytes())
		if err != nil {
			return err
		}
		batch.Put(k, MustEncode(tx))
		s.txCache.Add(tx.TxHash, tx)
	}
	return nil
}

func (s *ImplStorage) InsertReceipts(receipts []*Receipt) error {
	batch := new(leveldb.Batch)
	if err := s.appendReceipts(batch, receipts); err != nil {
		return err
	}
	return s.adapter.writeRaw(batch)
}

func (s *ImplStorage) appendReceipts(batch *leveldb.Batch, receipts []*Receipt) error {
	for _, r := range receipts {
		k, err := tableKey(CategoryReceipt, r.TxHash.Bytes())
		if err != nil {
			return err
		}
		batch.Put(k, MustEncode(r))
		s.receiptCache.Add(r.TxHash, r)
	}
	return nil
}

func (s *ImplStorage) PersistBlockData(block *Block, txs []*SignedTransaction, receipts []*Receipt) error {
	batch := new(leveldb.Batch)
	if err := s.appendBlock(batch, block); err != nil {
		return err
	}
	if err := s.appendTransactions(batch, txs); err != nil {
		return err
	}
	if err := s.appendReceipts(batch, receipts); err != nil {
		return err
	}
	if err := s.adapter.writeRaw(batch); err != nil {
		return err
	}
	s.blockCache.Add(block.Header.Height, block)
	return nil
}

func (s *ImplStorage) GetBlockByHeight(height uint64) (*Block, error) {
	if block, ok := s.blockCache.Get(height); ok {
		return block, nil
	}
	raw, err := s.adapter.Get(CategoryBlock, heightKey(height))
	if err != nil || raw == nil {
		return nil, err
	}
	var block Block
	if err := Decode(raw, &block); err != nil {
		return nil, err
	}
	s.blockCache.Add(height, &block)
	return &block, nil
}

func (s *ImplStorage) GetBlockByHash(hash Hash) (*Block, error) {
	raw, err := s.adapter.Get(CategoryHashHeight, hash.Bytes())
	if err != nil || raw == nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, NewProtocolError(KindStorage, fmt.Errorf("corrupt hash-height entry for %s", hash))
	}
	return s.GetBlockByHeight(binary.BigEndian.Uint64(raw))
}

func (s *ImplStorage) GetLatestBlock() (*Block, error) {
	raw, err := s.adapter.Get(CategoryBlock, latestBlockKey)
	if err != nil || raw == nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, NewProtocolError(KindStorage, fmt.Errorf("corrupt latest block pointer"))
	}
	return s.GetBlockByHeight(binary.BigEndian.Uint64(raw))
}

func (s *ImplStorage) GetTransactionByHash(hash Hash) (*SignedTransaction, error) {
	if tx, ok := s.txCache.Get(hash); ok {
		return tx, nil
	}
	raw, err := s.adapter.Get(CategorySignedTransaction, hash.Bytes())
	if err != nil || raw == nil {
		return nil, err
	}
	var tx SignedTransaction
	if err := Decode(raw, &tx); err != nil {
		return nil, err
	}
	s.txCache.Add(hash, &tx)
	return &tx, nil
}

func (s *ImplStorage) GetReceiptByHash(hash Hash) (*Receipt, error) {
	if r, ok := s.receiptCache.Get(hash); ok {
		return r, nil
	}
	raw, err := s.adapter.Get(CategoryReceipt, hash.Bytes())
	if err != nil || raw == nil {
		return nil, err
	}
	var receipt Receipt
	if err := Decode(raw, &receipt); err != nil {
		return nil, err
	}
	s.receiptCache.Add(hash, &receipt)
	return &receipt, nil
}

func (s *ImplStorage) ContainsTransaction(hash Hash) (bool, error) {
	if s.txCache.Contains(hash) {
		return true, nil
	}
	return s.adapter.Contains(CategorySignedTransaction, hash.Bytes())
}

func (s *ImplStorage) UpdateLatestProof(proof *Proof) error {
	return s.adapter.Put(CategoryBlock, latestProofKey, MustEncode(proof))
}

func (s *ImplStorage) GetLatestProof() (*Proof, error) {
	raw, err := s.adapter.Get(CategoryBlock, latestProofKey)
	if err != nil || raw == nil {
		return nil, err
	}
	var proof Proof
	if err := Decode(raw, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

func (s *ImplStorage) Close() error { return s.adapter.Close() }
