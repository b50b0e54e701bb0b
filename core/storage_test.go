package core

import (
	"bytes"
	"errors"
	"testing"
)

func newTestLevelDB(t *testing.T) *LevelDBAdapter {
	t.Helper()
	adapter, err := NewLevelDBAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

//-------------------------------------------------------------
// Raw adapter contract, for both backends
//-------------------------------------------------------------

func TestStorageAdapterOps(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) StorageAdapter
	}{
		{"LevelDB", func(t *testing.T) StorageAdapter { return newTestLevelDB(t) }},
		{"Memory", func(t *testing.T) StorageAdapter { return NewMemAdapter() }},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			adapter := backend.open(t)

			key, val := []byte("key"), []byte("val")
			if err := adapter.Put(CategoryBlock, key, val); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := adapter.Get(CategoryBlock, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !bytes.Equal(got, val) {
				t.Fatalf("get = %q, want %q", got, val)
			}

			// categories do not bleed into each other
			other, err := adapter.Get(CategoryReceipt, key)
			if err != nil {
				t.Fatalf("cross-category get: %v", err)
			}
			if other != nil {
				t.Fatalf("category leak: %q", other)
			}

			ok, _ := adapter.Contains(CategoryBlock, key)
			if !ok {
				t.Fatal("contains = false after put")
			}
			if err := adapter.Delete(CategoryBlock, key); err != nil {
				t.Fatalf("delete: %v", err)
			}
			ok, _ = adapter.Contains(CategoryBlock, key)
			if ok {
				t.Fatal("contains = true after delete")
			}
		})
	}
}

func TestStorageAdapterBatch(t *testing.T) {
	adapter := newTestLevelDB(t)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	vals := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	if err := adapter.BatchModify(CategoryState, keys, vals); err != nil {
		t.Fatalf("batch: %v", err)
	}
	for i, key := range keys {
		got, _ := adapter.Get(CategoryState, key)
		if !bytes.Equal(got, vals[i]) {
			t.Fatalf("batch entry %d = %q, want %q", i, got, vals[i])
		}
	}

	// nil value deletes
	if err := adapter.BatchModify(CategoryState, [][]byte{[]byte("a")}, [][]byte{nil}); err != nil {
		t.Fatalf("batch delete: %v", err)
	}
	got, _ := adapter.Get(CategoryState, []byte("a"))
	if got != nil {
		t.Fatalf("batch delete left %q", got)
	}
}

func TestStorageAdapterBatchLengthMismatch(t *testing.T) {
	adapter := newTestLevelDB(t)

	err := adapter.BatchModify(CategoryState, [][]byte{[]byte("a")}, nil)
	if !errors.Is(err, ErrBatchLengthMismatch) {
		t.Fatalf("err = %v, want BatchLengthMismatch", err)
	}
}

func TestStorageAdapterUnknownCategory(t *testing.T) {
	adapter := newTestLevelDB(t)

	_, err := adapter.Get(StorageCategory("Nope"), []byte("k"))
	if !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("err = %v, want CategoryNotFound", err)
	}
}

//-------------------------------------------------------------
// Typed schema
//-------------------------------------------------------------

func mockSignedTx(seed byte) *SignedTransaction {
	raw := RawTransaction{
		ChainID:     Digest([]byte{seed, 1}),
		Nonce:       Digest([]byte{seed, 2}),
		Timeout:     100,
		CyclesPrice: 1,
		CyclesLimit: 10_000,
		Request: TransactionRequest{
			ServiceName: "mock-service",
			Method:      "mock-method",
			Payload:     `{"n":1}`,
		},
		Sender: Address{seed},
	}
	return &SignedTransaction{
		Raw:    raw,
		TxHash: HashRawTransaction(&raw),
	}
}

func TestImplStorageRoundTrip(t *testing.T) {
	storage, err := NewImplStorage(newTestLevelDB(t))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	tx := mockSignedTx(1)
	receipt := &Receipt{
		Height:     1,
		TxHash:     tx.TxHash,
		CyclesUsed: 42,
		Events:     []Event{{Service: "asset", Data: "evt"}},
		Response: ReceiptResponse{
			ServiceName: "asset",
			Method:      "transfer",
			Ret:         "{}",
		},
	}
	block := &Block{
		Header: BlockHeader{
			Height:      1,
			PrevHash:    EmptyHash(),
			StateRoot:   Digest([]byte("root")),
			ReceiptRoot: []MerkleRoot{Digest([]byte("r"))},
			CyclesUsed:  []uint64{42},
		},
		OrderedTxHashes: []Hash{tx.TxHash},
	}

	if err := storage.PersistBlockData(block, []*SignedTransaction{tx}, []*Receipt{receipt}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	gotBlock, err := storage.GetBlockByHeight(1)
	if err != nil || gotBlock == nil {
		t.Fatalf("get block: %v %v", gotBlock, err)
	}
	if gotBlock.Hash() != block.Hash() {
		t.Fatalf("block hash mismatch: %s vs %s", gotBlock.Hash(), block.Hash())
	}

	latest, err := storage.GetLatestBlock()
	if err != nil || latest == nil || latest.Header.Height != 1 {
		t.Fatalf("latest block: %+v %v", latest, err)
	}

	byHash, err := storage.GetBlockByHash(block.Hash())
	if err != nil || byHash == nil || byHash.Header.Height != 1 {
		t.Fatalf("block by hash: %+v %v", byHash, err)
	}

	gotTx, err := storage.GetTransactionByHash(tx.TxHash)
	if err != nil || gotTx == nil {
		t.Fatalf("get tx: %v %v", gotTx, err)
	}
	if gotTx.Raw.Request.ServiceName != "mock-service" {
		t.Fatalf("tx body corrupted: %+v", gotTx.Raw.Request)
	}

	gotReceipt, err := storage.GetReceiptByHash(tx.TxHash)
	if err != nil || gotReceipt == nil {
		t.Fatalf("get receipt: %v %v", gotReceipt, err)
	}
	if gotReceipt.CyclesUsed != 42 || len(gotReceipt.Events) != 1 {
		t.Fatalf("receipt corrupted: %+v", gotReceipt)
	}

	ok, err := storage.ContainsTransaction(tx.TxHash)
	if err != nil || !ok {
		t.Fatalf("contains tx: %v %v", ok, err)
	}
}

func TestImplStorageMissingEntries(t *testing.T) {
	storage, err := NewImplStorage(newTestLevelDB(t))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	if block, err := storage.GetBlockByHeight(9); err != nil || block != nil {
		t.Fatalf("missing block: %+v %v", block, err)
	}
	if tx, err := storage.GetTransactionByHash(Digest([]byte("x"))); err != nil || tx != nil {
		t.Fatalf("missing tx: %+v %v", tx, err)
	}
	if latest, err := storage.GetLatestBlock(); err != nil || latest != nil {
		t.Fatalf("missing latest: %+v %v", latest, err)
	}
}

//-------------------------------------------------------------
// Trie node store cache
//-------------------------------------------------------------

func TestTrieDBCacheFlush(t *testing.T) {
	db := NewTrieDB(NewMemAdapter(), 10)

	for i := 0; i < 50; i++ {
		key := Digest([]byte{byte(i)}).Bytes()
		if err := db.Insert(key, []byte{byte(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if db.CacheLen() != 50 {
		t.Fatalf("cache len = %d, want 50", db.CacheLen())
	}

	db.Flush()
	if db.CacheLen() != 10 {
		t.Fatalf("cache len after flush = %d, want 10", db.CacheLen())
	}

	// evicted entries are still readable through the backend
	for i := 0; i < 50; i++ {
		key := Digest([]byte{byte(i)}).Bytes()
		val, err := db.Get(key)
		if err != nil || !bytes.Equal(val, []byte{byte(i)}) {
			t.Fatalf("post-flush get %d = %q, %v", i, val, err)
		}
	}
}

func TestTrieDBBatchLengthMismatch(t *testing.T) {
	db := NewMemTrieDB()
	err := db.InsertBatch([][]byte{[]byte("k")}, nil)
	if !errors.Is(err, ErrBatchLengthMismatch) {
		t.Fatalf("err = %v, want BatchLengthMismatch", err)
	}
}
