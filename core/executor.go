package core

// executor.go – deterministic application of ordered transactions to the
// versioned state. One executor run owns the state for one block: services
// are constructed fresh against it, hooks bracket the transaction loop, and
// every transaction settles into either a stash promotion or a cache revert.

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ServiceExecutor drives service dispatch over one state root.
type ServiceExecutor struct {
	trieDB  *TrieDB
	storage Storage
	querier ChainQuerier
	mapping ServiceMapping
}

// NewServiceExecutor wires an executor over its collaborators.
func NewServiceExecutor(trieDB *TrieDB, storage Storage, mapping ServiceMapping) *ServiceExecutor {
	return &ServiceExecutor{
		trieDB:  trieDB,
		storage: storage,
		querier: NewStorageChainQuerier(storage),
		mapping: mapping,
	}
}

// buildServices constructs every mapped service against the shared state and
// registers it with a fresh dispatcher.
func (e *ServiceExecutor) buildServices(state *GeneralServiceState) (*dispatcher, error) {
	disp := newDispatcher()
	for _, name := range e.mapping.ServiceNames() {
		sdk := newServiceSDK(name, state, e.querier, disp)
		svc, err := e.mapping.GetService(name, sdk)
		if err != nil {
			return nil, NewProtocolError(KindExecutor, fmt.Errorf("construct service %s: %w", name, err))
		}
		disp.register(name, svc)
	}
	return disp, nil
}

func (e *ServiceExecutor) stateAt(root MerkleRoot) (*GeneralServiceState, error) {
	trie, err := NewMPTTrieFromRoot(root, e.trieDB)
	if err != nil {
		return nil, err
	}
	return NewGeneralServiceState(trie), nil
}

// CreateGenesis initialises every declared service against a fresh state and
// returns the resulting state root.
func (e *ServiceExecutor) CreateGenesis(services []ServiceParam) (MerkleRoot, error) {
	state := NewGeneralServiceState(NewMPTTrie(e.trieDB))
	disp, err := e.buildServices(state)
	if err != nil {
		return Hash{}, err
	}

	for _, param := range services {
		svc, ok := disp.get(param.Name)
		if !ok {
			return Hash{}, NewProtocolError(KindExecutor, fmt.Errorf("%w: %s", ErrNotFoundService, param.Name))
		}
		if svc.schema.genesisFn == nil {
			continue
		}
		if err := svc.schema.genesisFn(param.Payload); err != nil {
			return Hash{}, NewProtocolError(KindExecutor, fmt.Errorf("genesis of %s: %w", param.Name, err))
		}
	}

	state.Stash()
	root, err := state.Commit()
	if err != nil {
		return Hash{}, err
	}
	logrus.Infof("executor: genesis state root %s", root)
	return root, nil
}

// Exec applies the ordered transactions on top of params.StateRoot. Per-tx
// failures produce error receipts and never roll back earlier transactions;
// block-level failures (state commit) surface as errors.
func (e *ServiceExecutor) Exec(params *ExecutorParams, txs []*SignedTransaction) (*ExecutorResp, error) {
	state, err := e.stateAt(params.StateRoot)
	if err != nil {
		return nil, err
	}
	disp, err := e.buildServices(state)
	if err != nil {
		return nil, err
	}

	e.runBlockHooks(disp, state, params, true)

	receipts := make([]*Receipt, 0, len(txs))
	for _, tx := range txs {
		receipts = append(receipts, e.execTx(disp, state, params, tx))
	}

	e.runBlockHooks(disp, state, params, false)

	stateRoot, err := state.Commit()
	if err != nil {
		return nil, err
	}

	var allCycles uint64
	for _, r := range receipts {
		r.StateRoot = stateRoot
		allCycles += r.CyclesUsed
	}

	return &ExecutorResp{
		Receipts:      receipts,
		AllCyclesUsed: allCycles,
		StateRoot:     stateRoot,
	}, nil
}

// runBlockHooks fires every service's block hook. Hook writes are stashed so
// later per-tx reverts cannot drop them; a panicking hook is logged and its
// writes are reverted, but the block proceeds.
func (e *ServiceExecutor) runBlockHooks(disp *dispatcher, state *GeneralServiceState, params *ExecutorParams, before bool) {
	for _, name := range disp.names {
		svc, _ := disp.get(name)
		hook := svc.schema.hookAfter
		if before {
			hook = svc.schema.hookBefore
		}
		if hook == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					state.RevertCache()
					logrus.Errorf("executor: block hook of %s panicked: %v", name, r)
				}
			}()
			hook(params)
			state.Stash()
		}()
	}
}

// execTx runs one transaction through its target service's tx hooks and
// body, settling the state cache after each stage.
func (e *ServiceExecutor) execTx(disp *dispatcher, state *GeneralServiceState, params *ExecutorParams, tx *SignedTransaction) *Receipt {
	used := new(uint64)
	events := new([]Event)
	req := tx.Raw.Request

	ctx := NewServiceContext(ServiceContextParams{
		TxHash:         &tx.TxHash,
		Nonce:          &tx.Raw.Nonce,
		CyclesLimit:    tx.Raw.CyclesLimit,
		CyclesPrice:    tx.Raw.CyclesPrice,
		CyclesUsed:     used,
		Caller:         tx.Raw.Sender,
		Height:         params.Height,
		Timestamp:      params.Timestamp,
		ServiceName:    req.ServiceName,
		ServiceMethod:  req.Method,
		ServicePayload: req.Payload,
		Events:         events,
	})

	resp := e.dispatchTx(disp, state, ctx)

	return &Receipt{
		Height:     params.Height,
		TxHash:     tx.TxHash,
		CyclesUsed: *used,
		Events:     *events,
		Response: ReceiptResponse{
			ServiceName: req.ServiceName,
			Method:      req.Method,
			Ret:         resp.Ret,
			Code:        resp.Code,
			IsError:     resp.IsError,
		},
	}
}

// dispatchTx brackets the service call with the target's tx hooks. A failed
// pre-hook skips both the body and the post-hook.
func (e *ServiceExecutor) dispatchTx(disp *dispatcher, state *GeneralServiceState, ctx *ServiceContext) (resp *ServiceResponse) {
	defer func() {
		if r := recover(); r != nil {
			state.RevertCache()
			resp = errorResponse(CodeServiceError, fmt.Sprintf("panic: %v", r))
		}
	}()

	target, ok := disp.get(ctx.ServiceName())
	if !ok {
		return errorResponse(CodeNotFoundService, fmt.Sprintf("%v: %s", ErrNotFoundService, ctx.ServiceName()))
	}

	if target.schema.txHookBefore != nil {
		if err := target.schema.txHookBefore(ctx); err != nil {
			state.RevertCache()
			return responseFromError(err)
		}
		state.Stash()
	}

	kind, known := target.schema.MethodKindOf(ctx.ServiceMethod())
	if !known {
		kind = WriteKind
	}
	resp = disp.call(ctx, kind)
	if resp.IsError {
		state.RevertCache()
	} else {
		state.Stash()
	}

	if target.schema.txHookAfter != nil {
		if err := target.schema.txHookAfter(ctx); err != nil {
			state.RevertCache()
			if !resp.IsError {
				resp = responseFromError(err)
			}
		} else {
			state.Stash()
		}
	}
	return resp
}

// Read answers a query against a snapshot of the given root; nothing is
// stashed or committed.
func (e *ServiceExecutor) Read(params *ExecutorParams, caller Address, cyclesPrice uint64, req *TransactionRequest) *ServiceResponse {
	state, err := e.stateAt(params.StateRoot)
	if err != nil {
		return errorResponse(CodeServiceError, err.Error())
	}
	disp, err := e.buildServices(state)
	if err != nil {
		return errorResponse(CodeServiceError, err.Error())
	}

	ctx := NewServiceContext(ServiceContextParams{
		CyclesLimit:    params.CyclesLimit,
		CyclesPrice:    cyclesPrice,
		Caller:         caller,
		Height:         params.Height,
		Timestamp:      params.Timestamp,
		ServiceName:    req.ServiceName,
		ServiceMethod:  req.Method,
		ServicePayload: req.Payload,
	})

	return disp.call(ctx, ReadKind)
}
