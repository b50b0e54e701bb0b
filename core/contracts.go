package core

// contracts.go – built-in contract service. User code is a WASM binary
// stored by hash; invocation instantiates it under a host interface that
// exposes namespaced state, the call payload, a return buffer, event
// emission and cycle metering.

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// ContractServiceName is the registered name of this service.
const ContractServiceName = "contract"

// Contract service error codes.
const (
	CodeBadContractCode uint64 = CodeServiceBase + 80 + iota
	CodeNotFoundContract
	CodeContractTrap
)

// Contract is the stored deployment record.
type Contract struct {
	Address  Address `json:"address"`
	CodeHash Hash    `json:"code_hash"`
	Deployer Address `json:"deployer"`
	Memo     string  `json:"memo,omitempty"`
}

// DeployPayload registers a new contract.
type DeployPayload struct {
	Code string `json:"code"` // hex-encoded wasm binary
	Memo string `json:"memo,omitempty"`
}

// CallPayload invokes a deployed contract.
type CallPayload struct {
	Address Address    `json:"address"`
	Args    JSONString `json:"args"`
}

// CallResponse carries whatever the contract wrote into its return buffer.
type CallResponse struct {
	Ret string `json:"ret"`
}

// GetContractPayload queries a deployment record.
type GetContractPayload struct {
	Address Address `json:"address"`
}

// ContractService implements the contract module over a wasmer engine.
type ContractService struct {
	sdk       *ServiceSDK
	contracts *StoreMap[Address, Contract]
	engine    *wasmer.Engine
	schema    *ServiceSchema
}

// NewContractService constructs the service against its per-block SDK.
func NewContractService(sdk *ServiceSDK) (*ContractService, error) {
	contracts, err := AllocOrRecoverMap[Address, Contract](sdk, "contracts")
	if err != nil {
		return nil, err
	}

	s := &ContractService{
		sdk:       sdk,
		contracts: contracts,
		engine:    wasmer.NewEngine(),
	}

	schema := NewServiceSchema(ContractServiceName)
	schema.Write("deploy", 210_000, Handler(s.deploy))
	schema.Write("call", 21_000, Handler(s.call))
	schema.Read("get_contract", 10_000, Handler(s.getContract))
	s.schema = schema
	return s, nil
}

// Schema implements Service.
func (s *ContractService) Schema() *ServiceSchema { return s.schema }

func codeKey(codeHash Hash) []byte {
	return append([]byte("code/"), codeHash.Bytes()...)
}

func (s *ContractService) deploy(ctx *ServiceContext, payload DeployPayload) (Contract, error) {
	code, err := hex.DecodeString(clean0x(payload.Code))
	if err != nil || len(code) == 0 {
		return Contract{}, &ServiceError{Code: CodeBadContractCode, Message: "code must be non-empty hex"}
	}

	// Validate up front so a broken binary never reaches the chain.
	store := wasmer.NewStore(s.engine)
	if _, err := wasmer.NewModule(store, code); err != nil {
		return Contract{}, &ServiceError{Code: CodeBadContractCode, Message: fmt.Sprintf("invalid wasm: %v", err)}
	}

	codeHash := Digest(code)
	addr := AddressFromHash(Digest(append(codeHash.Bytes(), ctx.Caller().Bytes()...)))
	if s.contracts.Contains(addr) {
		return Contract{}, &ServiceError{Code: CodeBadContractCode, Message: fmt.Sprintf("contract %s already deployed", addr)}
	}

	s.sdk.SetValue(codeKey(codeHash), code)
	contract := Contract{
		Address:  addr,
		CodeHash: codeHash,
		Deployer: ctx.Caller(),
		Memo:     payload.Memo,
	}
	if err := s.contracts.Insert(addr, contract); err != nil {
		return Contract{}, err
	}
	return contract, nil
}

func (s *ContractService) getContract(_ *ServiceContext, payload GetContractPayload) (Contract, error) {
	if !s.contracts.Contains(payload.Address) {
		return Contract{}, &ServiceError{Code: CodeNotFoundContract, Message: fmt.Sprintf("not found contract %s", payload.Address)}
	}
	return s.contracts.Get(payload.Address)
}

func (s *ContractService) call(ctx *ServiceContext, payload CallPayload) (CallResponse, error) {
	if !s.contracts.Contains(payload.Address) {
		return CallResponse{}, &ServiceError{Code: CodeNotFoundContract, Message: fmt.Sprintf("not found contract %s", payload.Address)}
	}
	contract, err := s.contracts.Get(payload.Address)
	if err != nil {
		return CallResponse{}, err
	}
	code, err := s.sdk.GetValue(codeKey(contract.CodeHash))
	if err != nil {
		return CallResponse{}, err
	}
	if code == nil {
		return CallResponse{}, &ServiceError{Code: CodeNotFoundContract, Message: fmt.Sprintf("missing code %s", contract.CodeHash)}
	}

	host := &contractHost{
		sdk:      s.sdk,
		ctx:      ctx,
		contract: contract.Address,
		input:    []byte(payload.Args),
	}
	if err := s.execute(code, host); err != nil {
		return CallResponse{}, err
	}
	return CallResponse{Ret: string(host.ret)}, nil
}

// execute instantiates the binary and runs its exported invoke function.
func (s *ContractService) execute(code []byte, host *contractHost) error {
	store := wasmer.NewStore(s.engine)
	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return &ServiceError{Code: CodeBadContractCode, Message: fmt.Sprintf("compile: %v", err)}
	}

	instance, err := wasmer.NewInstance(module, host.imports(store))
	if err != nil {
		return &ServiceError{Code: CodeContractTrap, Message: fmt.Sprintf("instantiate: %v", err)}
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return &ServiceError{Code: CodeBadContractCode, Message: "wasm memory export missing"}
	}
	host.mem = mem

	invoke, err := instance.Exports.GetFunction("invoke")
	if err != nil {
		return &ServiceError{Code: CodeBadContractCode, Message: "invoke function required"}
	}

	if _, err := invoke(); err != nil {
		if host.meterErr != nil {
			return host.meterErr
		}
		return &ServiceError{Code: CodeContractTrap, Message: fmt.Sprintf("trap: %v", err)}
	}
	return host.meterErr
}

//---------------------------------------------------------------------
// Host bindings
//---------------------------------------------------------------------

// contractHost is the per-call host state shared with the wasm instance.
type contractHost struct {
	sdk      *ServiceSDK
	ctx      *ServiceContext
	contract Address
	mem      *wasmer.Memory

	input    []byte
	ret      []byte
	meterErr error
}

func (h *contractHost) read(ptr, length int32) ([]byte, error) {
	data := h.mem.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, errors.New("memory access out of bounds")
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

func (h *contractHost) write(ptr int32, data []byte) error {
	mem := h.mem.Data()
	if ptr < 0 || int(ptr)+len(data) > len(mem) {
		return errors.New("memory access out of bounds")
	}
	copy(mem[ptr:], data)
	return nil
}

// stateKey scopes contract storage to the contract's own address.
func (h *contractHost) stateKey(key []byte) []byte {
	return append(append([]byte("state/"), h.contract.Bytes()...), key...)
}

func i32Types(n int) []*wasmer.ValueType {
	kinds := make([]wasmer.ValueKind, n)
	for i := range kinds {
		kinds[i] = wasmer.I32
	}
	return wasmer.NewValueTypes(kinds...)
}

// imports exposes the host interface under the "env" namespace.
func (h *contractHost) imports(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	fail := func() []wasmer.Value { return []wasmer.Value{wasmer.NewI32(-1)} }
	ok := func(v int32) []wasmer.Value { return []wasmer.Value{wasmer.NewI32(v)} }

	// consume_cycles(n) -> i32
	consumeCycles := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(1), i32Types(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.ctx.SubCycles(uint64(uint32(args[0].I32()))); err != nil {
				h.meterErr = err
				return fail(), errors.New("out of cycles")
			}
			return ok(0), nil
		})

	// input_len() -> i32
	inputLen := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(0), i32Types(1)),
		func([]wasmer.Value) ([]wasmer.Value, error) {
			return ok(int32(len(h.input))), nil
		})

	// input_read(dstPtr) -> i32(len)|-1
	inputRead := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(1), i32Types(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.write(args[0].I32(), h.input); err != nil {
				return fail(), nil
			}
			return ok(int32(len(h.input))), nil
		})

	// ret(ptr, len) -> i32
	retFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(2), i32Types(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			data, err := h.read(args[0].I32(), args[1].I32())
			if err != nil {
				return fail(), nil
			}
			h.ret = data
			return ok(0), nil
		})

	// state_get(keyPtr, keyLen, dstPtr) -> i32(len)|-1
	stateGet := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(3), i32Types(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key, err := h.read(args[0].I32(), args[1].I32())
			if err != nil {
				return fail(), nil
			}
			val, err := h.sdk.GetValue(h.stateKey(key))
			if err != nil || val == nil {
				return fail(), nil
			}
			if err := h.write(args[2].I32(), val); err != nil {
				return fail(), nil
			}
			return ok(int32(len(val))), nil
		})

	// state_set(keyPtr, keyLen, valPtr, valLen) -> i32
	stateSet := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(4), i32Types(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key, err := h.read(args[0].I32(), args[1].I32())
			if err != nil {
				return fail(), nil
			}
			val, err := h.read(args[2].I32(), args[3].I32())
			if err != nil {
				return fail(), nil
			}
			h.sdk.SetValue(h.stateKey(key), val)
			return ok(0), nil
		})

	// emit(ptr, len) -> i32
	emit := wasmer.NewFunction(store,
		wasmer.NewFunctionType(i32Types(2), i32Types(1)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			data, err := h.read(args[0].I32(), args[1].I32())
			if err != nil {
				return fail(), nil
			}
			event, _ := json.Marshal(map[string]string{"contract": h.contract.Hex(), "data": string(data)})
			h.ctx.EmitEvent(string(event))
			return ok(0), nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"consume_cycles": consumeCycles,
		"input_len":      inputLen,
		"input_read":     inputRead,
		"ret":            retFn,
		"state_get":      stateGet,
		"state_set":      stateSet,
		"emit":           emit,
	})
	return imports
}
