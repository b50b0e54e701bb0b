package core

// service_sdk.go – the per-service handle over the shared block state. Every
// service receives its own SDK bound to its name; raw values are namespaced
// by that name so no two services can observe each other's keys.

// ChainQuerier exposes read-only access to persisted chain history.
type ChainQuerier interface {
	QueryTransaction(txHash Hash) (*SignedTransaction, error)
	// QueryBlock returns the block at height, or the latest when height is
	// nil. Missing blocks return nil without error.
	QueryBlock(height *uint64) (*Block, error)
	QueryReceipt(txHash Hash) (*Receipt, error)
}

// StorageChainQuerier answers chain queries straight from storage.
type StorageChainQuerier struct {
	storage Storage
}

func NewStorageChainQuerier(storage Storage) *StorageChainQuerier {
	return &StorageChainQuerier{storage: storage}
}

func (q *StorageChainQuerier) QueryTransaction(txHash Hash) (*SignedTransaction, error) {
	return q.storage.GetTransactionByHash(txHash)
}

func (q *StorageChainQuerier) QueryBlock(height *uint64) (*Block, error) {
	if height == nil {
		return q.storage.GetLatestBlock()
	}
	return q.storage.GetBlockByHeight(*height)
}

func (q *StorageChainQuerier) QueryReceipt(txHash Hash) (*Receipt, error) {
	return q.storage.GetReceiptByHash(txHash)
}

// ServiceSDK is handed to a service constructor once per block. The state
// borrow is only valid for that block; the dispatcher reference enables
// service-to-service calls.
type ServiceSDK struct {
	serviceName string
	state       *GeneralServiceState
	querier     ChainQuerier
	disp        *dispatcher
}

func newServiceSDK(serviceName string, state *GeneralServiceState, querier ChainQuerier, disp *dispatcher) *ServiceSDK {
	return &ServiceSDK{
		serviceName: serviceName,
		state:       state,
		querier:     querier,
		disp:        disp,
	}
}

func (sdk *ServiceSDK) ServiceName() string { return sdk.serviceName }

//---------------------------------------------------------------------
// Typed container allocation
//---------------------------------------------------------------------

// AllocOrRecoverBool binds a bool box to varName.
func (sdk *ServiceSDK) AllocOrRecoverBool(varName string) *StoreBool {
	return NewStoreBool(sdk.state, sdk.serviceName, varName)
}

// AllocOrRecoverUint64 binds a u64 box to varName.
func (sdk *ServiceSDK) AllocOrRecoverUint64(varName string) *StoreUint64 {
	return NewStoreUint64(sdk.state, sdk.serviceName, varName)
}

// AllocOrRecoverString binds a string box to varName.
func (sdk *ServiceSDK) AllocOrRecoverString(varName string) *StoreString {
	return NewStoreString(sdk.state, sdk.serviceName, varName)
}

// AllocOrRecoverMap binds a typed map to varName on the given SDK.
func AllocOrRecoverMap[K comparable, V any](sdk *ServiceSDK, varName string) (*StoreMap[K, V], error) {
	return NewStoreMap[K, V](sdk.state, sdk.serviceName, varName)
}

// AllocOrRecoverArray binds a typed array to varName on the given SDK.
func AllocOrRecoverArray[E any](sdk *ServiceSDK, varName string) (*StoreArray[E], error) {
	return NewStoreArray[E](sdk.state, sdk.serviceName, varName)
}

//---------------------------------------------------------------------
// Raw state access (service-namespaced)
//---------------------------------------------------------------------

func (sdk *ServiceSDK) rawKey(key []byte) Hash {
	buf := make([]byte, 0, len(sdk.serviceName)+1+len(key))
	buf = append(buf, sdk.serviceName...)
	buf = append(buf, '/')
	buf = append(buf, key...)
	return Digest(buf)
}

// GetValue reads a raw value from the service's namespace.
func (sdk *ServiceSDK) GetValue(key []byte) ([]byte, error) {
	return sdk.state.Get(sdk.rawKey(key).Bytes())
}

// SetValue writes a raw value into the service's namespace.
func (sdk *ServiceSDK) SetValue(key, value []byte) {
	sdk.state.Insert(sdk.rawKey(key).Bytes(), value)
}

// GetAccountValue reads an account-scoped value from the service's
// namespace.
func (sdk *ServiceSDK) GetAccountValue(addr Address, key []byte) ([]byte, error) {
	return sdk.state.GetAccountValue(addr, sdk.rawKey(key).Bytes())
}

// SetAccountValue writes an account-scoped value into the service's
// namespace.
func (sdk *ServiceSDK) SetAccountValue(addr Address, key, value []byte) {
	sdk.state.SetAccountValue(addr, sdk.rawKey(key).Bytes(), value)
}

//---------------------------------------------------------------------
// Chain queries
//---------------------------------------------------------------------

// GetTransactionByHash returns the persisted transaction, or nil.
func (sdk *ServiceSDK) GetTransactionByHash(txHash Hash) (*SignedTransaction, error) {
	return sdk.querier.QueryTransaction(txHash)
}

// GetBlockByHeight returns the block at height, or the latest when height is
// nil.
func (sdk *ServiceSDK) GetBlockByHeight(height *uint64) (*Block, error) {
	return sdk.querier.QueryBlock(height)
}

// GetReceiptByHash returns the persisted receipt, or nil.
func (sdk *ServiceSDK) GetReceiptByHash(txHash Hash) (*Receipt, error) {
	return sdk.querier.QueryReceipt(txHash)
}

//---------------------------------------------------------------------
// Inter-service dispatch
//---------------------------------------------------------------------

// Read synchronously calls a read-only method of another service. Recursion
// is allowed up to the dispatcher's stack bound.
func (sdk *ServiceSDK) Read(ctx *ServiceContext, service, method string, payload JSONString) (JSONString, error) {
	sub := WithContext(ctx, service, method, payload)
	resp := sdk.disp.call(sub, ReadKind)
	if resp.IsError {
		return "", &ServiceError{Code: resp.Code, Message: resp.Ret}
	}
	return resp.Ret, nil
}

// Write synchronously calls a state-mutating method of another service.
// Calling Write from inside a read context fails with ReadonlyViolation.
func (sdk *ServiceSDK) Write(ctx *ServiceContext, service, method string, payload JSONString) (JSONString, error) {
	sub := WithContext(ctx, service, method, payload)
	resp := sdk.disp.call(sub, WriteKind)
	if resp.IsError {
		return "", &ServiceError{Code: resp.Code, Message: resp.Ret}
	}
	return resp.Ret, nil
}
