package core

import (
	"encoding/json"
	"fmt"
	"testing"
)

//-------------------------------------------------------------
// Test doubles
//-------------------------------------------------------------

// nullStorage satisfies Storage for executor tests that never touch history.
type nullStorage struct{}

func (nullStorage) InsertBlock(*Block) error                       { return nil }
func (nullStorage) InsertTransactions([]*SignedTransaction) error  { return nil }
func (nullStorage) InsertReceipts([]*Receipt) error                { return nil }
func (nullStorage) PersistBlockData(*Block, []*SignedTransaction, []*Receipt) error {
	return nil
}
func (nullStorage) GetBlockByHeight(uint64) (*Block, error)        { return nil, nil }
func (nullStorage) GetBlockByHash(Hash) (*Block, error)            { return nil, nil }
func (nullStorage) GetLatestBlock() (*Block, error)                { return nil, nil }
func (nullStorage) GetTransactionByHash(Hash) (*SignedTransaction, error) {
	return nil, nil
}
func (nullStorage) GetReceiptByHash(Hash) (*Receipt, error)        { return nil, nil }
func (nullStorage) ContainsTransaction(Hash) (bool, error)         { return false, nil }
func (nullStorage) UpdateLatestProof(*Proof) error                 { return nil }
func (nullStorage) GetLatestProof() (*Proof, error)                { return nil, nil }
func (nullStorage) Close() error                                   { return nil }

// mockCallerService exercises inter-service dispatch and failure paths.
type mockCallerService struct {
	sdk    *ServiceSDK
	schema *ServiceSchema
}

func newMockCallerService(sdk *ServiceSDK) (*mockCallerService, error) {
	s := &mockCallerService{sdk: sdk}

	schema := NewServiceSchema("mock")
	schema.Write("call_asset", 29_000, Handler(s.callAsset))
	schema.Write("set_value", 100, Handler(s.setValue))
	schema.Read("get_value", 100, Handler(s.getValue))
	schema.Write("fail_after_write", 100, Handler(s.failAfterWrite))
	schema.Read("sneaky_write", 100, Handler(s.sneakyWrite))
	s.schema = schema
	return s, nil
}

func (s *mockCallerService) Schema() *ServiceSchema { return s.schema }

func (s *mockCallerService) callAsset(ctx *ServiceContext, payload CreateAssetPayload) (Asset, error) {
	raw, err := json.Marshal(&payload)
	if err != nil {
		return Asset{}, err
	}
	ret, err := s.sdk.Write(ctx, AssetServiceName, "create_asset", string(raw))
	if err != nil {
		return Asset{}, err
	}
	var asset Asset
	if err := json.Unmarshal([]byte(ret), &asset); err != nil {
		return Asset{}, err
	}
	ctx.EmitEvent("call create asset succeed")
	return asset, nil
}

type kvPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *mockCallerService) setValue(_ *ServiceContext, payload kvPayload) (struct{}, error) {
	s.sdk.SetValue([]byte(payload.Key), []byte(payload.Value))
	return struct{}{}, nil
}

func (s *mockCallerService) getValue(_ *ServiceContext, payload kvPayload) (kvPayload, error) {
	val, err := s.sdk.GetValue([]byte(payload.Key))
	if err != nil {
		return kvPayload{}, err
	}
	return kvPayload{Key: payload.Key, Value: string(val)}, nil
}

func (s *mockCallerService) failAfterWrite(_ *ServiceContext, payload kvPayload) (struct{}, error) {
	s.sdk.SetValue([]byte(payload.Key), []byte(payload.Value))
	return struct{}{}, &ServiceError{Code: CodeServiceError, Message: "forced failure"}
}

func (s *mockCallerService) sneakyWrite(ctx *ServiceContext, payload kvPayload) (struct{}, error) {
	raw, _ := json.Marshal(&payload)
	_, err := s.sdk.Write(ctx, "mock", "set_value", string(raw))
	return struct{}{}, err
}

//-------------------------------------------------------------
// Fixtures
//-------------------------------------------------------------

const genesisIssuerHex = "0xf8389d774afdad8755ef8e629e5a154fddc6325a"
const genesisAssetIDHex = "0xf56924db538e77bb5951eb5ff0d02b88983c49c45eea30e8ae3e7234b311436c"
const genesisSupply = 320_000_011

func testGenesisServices(t *testing.T) []ServiceParam {
	t.Helper()
	assetGenesis := fmt.Sprintf(
		`{"id":%q,"name":"StratusToken","symbol":"ST","supply":%d,"issuer":%q}`,
		genesisAssetIDHex, uint64(genesisSupply), genesisIssuerHex)
	metadataGenesis := fmt.Sprintf(
		`{"metadata":{"chain_id":%q,"interval":3000,"cycles_limit":999999999,"cycles_price":1},"admin":%q}`,
		Digest([]byte("test-chain")).Hex(), genesisIssuerHex)

	return []ServiceParam{
		{Name: AssetServiceName, Payload: assetGenesis},
		{Name: MetadataServiceName, Payload: metadataGenesis},
	}
}

func newTestExecutor(t *testing.T) (*ServiceExecutor, MerkleRoot) {
	t.Helper()

	mapping := NewDefaultServiceMapping()
	mapping.Register("mock", func(sdk *ServiceSDK) (Service, error) { return newMockCallerService(sdk) })

	executor := NewServiceExecutor(NewMemTrieDB(), nullStorage{}, mapping)
	root, err := executor.CreateGenesis(testGenesisServices(t))
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}
	return executor, root
}

func execParams(root MerkleRoot, height uint64) *ExecutorParams {
	return &ExecutorParams{
		StateRoot:   root,
		Height:      height,
		Timestamp:   0,
		CyclesLimit: ^uint64(0),
	}
}

func execTx(seed int, service, method, payload string, cyclesLimit uint64, sender Address) *SignedTransaction {
	raw := RawTransaction{
		ChainID:     Digest([]byte("test-chain")),
		Nonce:       Digest([]byte(fmt.Sprintf("nonce-%d", seed))),
		Timeout:     10,
		CyclesPrice: 1,
		CyclesLimit: cyclesLimit,
		Request: TransactionRequest{
			ServiceName: service,
			Method:      method,
			Payload:     payload,
		},
		Sender: sender,
	}
	return &SignedTransaction{Raw: raw, TxHash: HashRawTransaction(&raw)}
}

func mustAddr(t *testing.T, hex string) Address {
	t.Helper()
	addr, err := AddressFromHex(hex)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	return addr
}

func readBalance(t *testing.T, executor *ServiceExecutor, root MerkleRoot, caller Address, assetID Hash) uint64 {
	t.Helper()
	resp := executor.Read(execParams(root, 1), caller, 1, &TransactionRequest{
		ServiceName: AssetServiceName,
		Method:      "get_balance",
		Payload:     fmt.Sprintf(`{"asset_id":%q}`, assetID.Hex()),
	})
	if resp.IsError {
		t.Fatalf("get_balance error: %s", resp.Ret)
	}
	var out GetBalanceResponse
	if err := json.Unmarshal([]byte(resp.Ret), &out); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	return out.Balance
}

//-------------------------------------------------------------
// Scenario: genesis asset balance
//-------------------------------------------------------------

func TestCreateGenesisAssetBalance(t *testing.T) {
	executor, root := newTestExecutor(t)

	issuer := mustAddr(t, genesisIssuerHex)
	assetID, _ := HashFromHex(genesisAssetIDHex)

	if got := readBalance(t, executor, root, issuer, assetID); got != genesisSupply {
		t.Fatalf("genesis balance = %d, want %d", got, uint64(genesisSupply))
	}
}

//-------------------------------------------------------------
// Scenario: create and transfer
//-------------------------------------------------------------

func TestExecCreateAndTransfer(t *testing.T) {
	executor, root := newTestExecutor(t)

	alice := Address{0xA1}
	bob := Address{0xB0}

	createTx := execTx(1, AssetServiceName, "create_asset",
		`{"name":"MutaToken2","symbol":"MT2","supply":320000011}`, 1_000_000, alice)

	resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{createTx})
	if err != nil {
		t.Fatalf("exec create: %v", err)
	}
	receipt := resp.Receipts[0]
	if receipt.Response.IsError {
		t.Fatalf("create_asset receipt error: %s", receipt.Response.Ret)
	}

	var asset Asset
	if err := json.Unmarshal([]byte(receipt.Response.Ret), &asset); err != nil {
		t.Fatalf("decode asset: %v", err)
	}
	if asset.Name != "MutaToken2" || asset.Symbol != "MT2" || asset.Supply != 320_000_011 {
		t.Fatalf("asset mismatch: %+v", asset)
	}

	transferTx := execTx(2, AssetServiceName, "transfer",
		fmt.Sprintf(`{"asset_id":%q,"to":%q,"value":1024}`, asset.ID.Hex(), bob.Hex()), 1_000_000, alice)

	resp, err = executor.Exec(execParams(resp.StateRoot, 2), []*SignedTransaction{transferTx})
	if err != nil {
		t.Fatalf("exec transfer: %v", err)
	}
	if resp.Receipts[0].Response.IsError {
		t.Fatalf("transfer receipt error: %s", resp.Receipts[0].Response.Ret)
	}

	if got := readBalance(t, executor, resp.StateRoot, alice, asset.ID); got != 320_000_011-1024 {
		t.Fatalf("alice balance = %d", got)
	}
	if got := readBalance(t, executor, resp.StateRoot, bob, asset.ID); got != 1024 {
		t.Fatalf("bob balance = %d", got)
	}
}

//-------------------------------------------------------------
// Scenario: insufficient balance
//-------------------------------------------------------------

func TestExecInsufficientBalance(t *testing.T) {
	executor, root := newTestExecutor(t)

	alice := Address{0xA1}
	bob := Address{0xB0}

	createTx := execTx(1, AssetServiceName, "create_asset",
		`{"name":"Tiny","symbol":"TN","supply":100}`, 1_000_000, alice)
	resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{createTx})
	if err != nil {
		t.Fatalf("exec create: %v", err)
	}
	var asset Asset
	if err := json.Unmarshal([]byte(resp.Receipts[0].Response.Ret), &asset); err != nil {
		t.Fatalf("decode asset: %v", err)
	}

	transferTx := execTx(2, AssetServiceName, "transfer",
		fmt.Sprintf(`{"asset_id":%q,"to":%q,"value":101}`, asset.ID.Hex(), bob.Hex()), 1_000_000, alice)
	resp2, err := executor.Exec(execParams(resp.StateRoot, 2), []*SignedTransaction{transferTx})
	if err != nil {
		t.Fatalf("exec transfer: %v", err)
	}

	receipt := resp2.Receipts[0]
	if !receipt.Response.IsError {
		t.Fatal("over-balance transfer did not error")
	}
	if receipt.Response.Code != CodeLackOfBalance {
		t.Fatalf("code = %d, want LackOfBalance %d", receipt.Response.Code, CodeLackOfBalance)
	}

	if got := readBalance(t, executor, resp2.StateRoot, alice, asset.ID); got != 100 {
		t.Fatalf("alice balance changed: %d", got)
	}
	if got := readBalance(t, executor, resp2.StateRoot, bob, asset.ID); got != 0 {
		t.Fatalf("bob balance changed: %d", got)
	}
}

//-------------------------------------------------------------
// Scenario: inter-service call
//-------------------------------------------------------------

func TestServiceCallService(t *testing.T) {
	executor, root := newTestExecutor(t)

	tx := execTx(1, "mock", "call_asset",
		`{"name":"TestCallAsset","symbol":"TCA","supply":320000011}`, 60_000, Address{0xA1})

	resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{tx})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	receipt := resp.Receipts[0]
	if receipt.Response.IsError {
		t.Fatalf("receipt error: %s", receipt.Response.Ret)
	}

	// outer cost 29_000 plus inner create_asset cost 21_000
	if receipt.CyclesUsed != 50_000 {
		t.Fatalf("cycles used = %d, want 50000", receipt.CyclesUsed)
	}
	if len(receipt.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(receipt.Events))
	}
	if receipt.Events[0].Service != "mock" || receipt.Events[0].Data != "call create asset succeed" {
		t.Fatalf("event mismatch: %+v", receipt.Events[0])
	}

	var asset Asset
	if err := json.Unmarshal([]byte(receipt.Response.Ret), &asset); err != nil {
		t.Fatalf("decode asset: %v", err)
	}
	if asset.Name != "TestCallAsset" || asset.Supply != 320_000_011 {
		t.Fatalf("asset mismatch: %+v", asset)
	}
}

//-------------------------------------------------------------
// Property: state determinism
//-------------------------------------------------------------

func TestExecDeterminism(t *testing.T) {
	executor, root := newTestExecutor(t)

	txs := []*SignedTransaction{
		execTx(1, AssetServiceName, "create_asset", `{"name":"D","symbol":"D","supply":1000}`, 1_000_000, Address{0xA1}),
		execTx(2, "mock", "set_value", `{"key":"k","value":"v"}`, 1_000_000, Address{0xA2}),
	}

	first, err := executor.Exec(execParams(root, 1), txs)
	if err != nil {
		t.Fatalf("first exec: %v", err)
	}
	second, err := executor.Exec(execParams(root, 1), txs)
	if err != nil {
		t.Fatalf("second exec: %v", err)
	}

	if first.StateRoot != second.StateRoot {
		t.Fatalf("state roots differ: %s vs %s", first.StateRoot, second.StateRoot)
	}
	if MerkleRootOfReceipts(first.Receipts) != MerkleRootOfReceipts(second.Receipts) {
		t.Fatal("receipt roots differ")
	}
	if first.AllCyclesUsed != second.AllCyclesUsed {
		t.Fatalf("cycles differ: %d vs %d", first.AllCyclesUsed, second.AllCyclesUsed)
	}
}

//-------------------------------------------------------------
// Property: revert isolation
//-------------------------------------------------------------

func TestExecRevertIsolation(t *testing.T) {
	executor, root := newTestExecutor(t)

	good1 := execTx(1, "mock", "set_value", `{"key":"a","value":"1"}`, 1_000_000, Address{0xA1})
	failing := execTx(2, "mock", "fail_after_write", `{"key":"poison","value":"x"}`, 1_000_000, Address{0xA2})
	good2 := execTx(3, "mock", "set_value", `{"key":"b","value":"2"}`, 1_000_000, Address{0xA3})

	withFailure, err := executor.Exec(execParams(root, 1), []*SignedTransaction{good1, failing, good2})
	if err != nil {
		t.Fatalf("exec with failure: %v", err)
	}
	if !withFailure.Receipts[1].Response.IsError {
		t.Fatal("forced failure did not produce an error receipt")
	}
	if withFailure.Receipts[0].Response.IsError || withFailure.Receipts[2].Response.IsError {
		t.Fatal("neighbouring receipts affected")
	}

	withoutFailure, err := executor.Exec(execParams(root, 1), []*SignedTransaction{good1, good2})
	if err != nil {
		t.Fatalf("exec without failure: %v", err)
	}

	if withFailure.StateRoot != withoutFailure.StateRoot {
		t.Fatalf("failed tx leaked state: %s vs %s", withFailure.StateRoot, withoutFailure.StateRoot)
	}
}

//-------------------------------------------------------------
// Cycle metering
//-------------------------------------------------------------

func TestExecOutOfCycles(t *testing.T) {
	executor, root := newTestExecutor(t)

	tx := execTx(1, AssetServiceName, "create_asset",
		`{"name":"X","symbol":"X","supply":1}`, 10, Address{0xA1})
	resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{tx})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	receipt := resp.Receipts[0]
	if !receipt.Response.IsError || receipt.Response.Code != CodeOutOfCycles {
		t.Fatalf("receipt = %+v, want OutOfCycles", receipt.Response)
	}
}

//-------------------------------------------------------------
// Dispatch failures
//-------------------------------------------------------------

func TestExecDispatchFailures(t *testing.T) {
	executor, root := newTestExecutor(t)

	tests := []struct {
		name     string
		tx       *SignedTransaction
		wantCode uint64
	}{
		{
			"UnknownService",
			execTx(1, "ghost", "noop", "", 1_000_000, Address{0xA1}),
			CodeNotFoundService,
		},
		{
			"UnknownMethod",
			execTx(2, AssetServiceName, "noop", "", 1_000_000, Address{0xA1}),
			CodeNotFoundMethod,
		},
		{
			"BadPayload",
			execTx(3, AssetServiceName, "create_asset", `{"supply":"not-a-number"}`, 1_000_000, Address{0xA1}),
			CodeJSONParse,
		},
		{
			"WriteInsideRead",
			execTx(4, "mock", "sneaky_write", `{"key":"k","value":"v"}`, 1_000_000, Address{0xA1}),
			CodeReadonly,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{tc.tx})
			if err != nil {
				t.Fatalf("exec: %v", err)
			}
			receipt := resp.Receipts[0]
			if !receipt.Response.IsError {
				t.Fatalf("no error receipt: %+v", receipt.Response)
			}
			if receipt.Response.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d (%s)", receipt.Response.Code, tc.wantCode, receipt.Response.Ret)
			}
		})
	}
}

//-------------------------------------------------------------
// Property: key namespace isolation between services
//-------------------------------------------------------------

func TestServiceNamespaceIsolation(t *testing.T) {
	executor, root := newTestExecutor(t)

	// mock writes under key "shared"; reading the same key through the
	// asset namespace must see nothing; here the raw surface is checked.
	setTx := execTx(1, "mock", "set_value", `{"key":"shared","value":"42"}`, 1_000_000, Address{0xA1})
	resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{setTx})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	readResp := executor.Read(execParams(resp.StateRoot, 1), Address{0xA1}, 1, &TransactionRequest{
		ServiceName: "mock",
		Method:      "get_value",
		Payload:     `{"key":"shared"}`,
	})
	if readResp.IsError {
		t.Fatalf("get_value error: %s", readResp.Ret)
	}
	var out kvPayload
	if err := json.Unmarshal([]byte(readResp.Ret), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Value != "42" {
		t.Fatalf("mock namespace lost its own value: %q", out.Value)
	}

	state, err := executor.stateAt(resp.StateRoot)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	assetSDK := newServiceSDK(AssetServiceName, state, NewStorageChainQuerier(nullStorage{}), newDispatcher())
	leaked, err := assetSDK.GetValue([]byte("shared"))
	if err != nil {
		t.Fatalf("asset get: %v", err)
	}
	if leaked != nil {
		t.Fatalf("namespace leak: asset sees %q", leaked)
	}
}
