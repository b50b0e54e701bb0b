package core

// service.go – service registration and dispatch. The original system
// synthesised the dispatch table from attribute annotations; here every
// service declares its surface by building a ServiceSchema in its
// constructor, and the dispatcher routes on that schema. Method costs are
// charged against the shared cycle counter before the body runs.

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MethodKind separates read-only queries from state-mutating calls.
type MethodKind uint8

const (
	ReadKind MethodKind = iota
	WriteKind
)

// Framework-level response codes. Service-specific codes start at
// CodeServiceBase and are unique per service.
const (
	CodeSuccess        uint64 = 0
	CodeServiceError   uint64 = 1
	CodeJSONParse      uint64 = 2
	CodeNotFoundMethod uint64 = 3
	CodeNotFoundService uint64 = 4
	CodeOutOfCycles    uint64 = 5
	CodeReadonly       uint64 = 6
	CodeCallStack      uint64 = 7
	CodeOverflow       uint64 = 8

	CodeServiceBase uint64 = 100
)

// ServiceResponse is what a dispatched call returns before it is folded into
// a receipt.
type ServiceResponse struct {
	Code    uint64
	Ret     JSONString
	IsError bool
}

// ServiceError carries a per-service error code into the receipt.
type ServiceError struct {
	Code    uint64
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

// MethodFunc is the uniform shape of a registered method after payload
// adaptation: JSON in via the context, JSON out.
type MethodFunc func(ctx *ServiceContext) (JSONString, error)

type serviceMethod struct {
	name string
	kind MethodKind
	cost uint64
	fn   MethodFunc
}

// ServiceSchema is the hand-written replacement for the original attribute
// macros: the full dispatchable surface of one service.
type ServiceSchema struct {
	name    string
	methods map[string]*serviceMethod

	genesisFn    func(payload JSONString) error
	hookBefore   func(params *ExecutorParams)
	hookAfter    func(params *ExecutorParams)
	txHookBefore func(ctx *ServiceContext) error
	txHookAfter  func(ctx *ServiceContext) error
}

// NewServiceSchema starts an empty schema for the named service.
func NewServiceSchema(name string) *ServiceSchema {
	return &ServiceSchema{
		name:    name,
		methods: make(map[string]*serviceMethod),
	}
}

func (s *ServiceSchema) Name() string { return s.name }

// Read registers a read-only method with its fixed cycle cost.
func (s *ServiceSchema) Read(name string, cost uint64, fn MethodFunc) *ServiceSchema {
	s.methods[name] = &serviceMethod{name: name, kind: ReadKind, cost: cost, fn: fn}
	return s
}

// Write registers a state-mutating method with its fixed cycle cost.
func (s *ServiceSchema) Write(name string, cost uint64, fn MethodFunc) *ServiceSchema {
	s.methods[name] = &serviceMethod{name: name, kind: WriteKind, cost: cost, fn: fn}
	return s
}

// Genesis registers the one-shot chain-initialisation hook.
func (s *ServiceSchema) Genesis(fn func(payload JSONString) error) *ServiceSchema {
	s.genesisFn = fn
	return s
}

// HookBefore registers the per-block pre-hook.
func (s *ServiceSchema) HookBefore(fn func(params *ExecutorParams)) *ServiceSchema {
	s.hookBefore = fn
	return s
}

// HookAfter registers the per-block post-hook.
func (s *ServiceSchema) HookAfter(fn func(params *ExecutorParams)) *ServiceSchema {
	s.hookAfter = fn
	return s
}

// TxHookBefore registers the per-transaction pre-hook.
func (s *ServiceSchema) TxHookBefore(fn func(ctx *ServiceContext) error) *ServiceSchema {
	s.txHookBefore = fn
	return s
}

// TxHookAfter registers the per-transaction post-hook.
func (s *ServiceSchema) TxHookAfter(fn func(ctx *ServiceContext) error) *ServiceSchema {
	s.txHookAfter = fn
	return s
}

// MethodKindOf reports whether the named method exists and its kind.
func (s *ServiceSchema) MethodKindOf(name string) (MethodKind, bool) {
	m, ok := s.methods[name]
	if !ok {
		return ReadKind, false
	}
	return m.kind, true
}

// Handler adapts a typed method body into a MethodFunc: the JSON payload is
// decoded into P, the result is JSON-encoded. An empty payload decodes into
// the zero P.
func Handler[P any, R any](fn func(ctx *ServiceContext, payload P) (R, error)) MethodFunc {
	return func(ctx *ServiceContext) (JSONString, error) {
		var payload P
		if raw := ctx.Payload(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return "", NewProtocolError(KindService, fmt.Errorf("%w: %v", ErrJSONParse, err))
			}
		}

		ret, err := fn(ctx, payload)
		if err != nil {
			return "", err
		}

		out, err := json.Marshal(ret)
		if err != nil {
			return "", NewProtocolError(KindService, fmt.Errorf("%w: %v", ErrJSONParse, err))
		}
		return string(out), nil
	}
}

// Service is a named, stateful module whose methods are invokable by
// transactions.
type Service interface {
	Schema() *ServiceSchema
}

// ServiceMapping resolves a service name to a fresh instance bound to the
// given SDK for the current block.
type ServiceMapping interface {
	GetService(name string, sdk *ServiceSDK) (Service, error)
	ServiceNames() []string
}

//---------------------------------------------------------------------
// Dispatch
//---------------------------------------------------------------------

// callStackLimit bounds recursive service dispatch. The bound is enforced
// explicitly instead of leaning on native stack exhaustion.
const callStackLimit = 1024

type registeredService struct {
	service Service
	schema  *ServiceSchema
}

// dispatcher owns the per-block service instances and routes calls between
// them. One dispatcher exists per executor run; it is single-threaded.
type dispatcher struct {
	services map[string]*registeredService
	names    []string

	depth         int
	readonlyDepth int
}

func newDispatcher() *dispatcher {
	return &dispatcher{services: make(map[string]*registeredService)}
}

func (d *dispatcher) register(name string, svc Service) {
	d.services[name] = &registeredService{service: svc, schema: svc.Schema()}
	d.names = append(d.names, name)
}

func (d *dispatcher) get(name string) (*registeredService, bool) {
	svc, ok := d.services[name]
	return svc, ok
}

// call dispatches ctx to its target service with the declared kind. Write
// calls inside a read context and over-deep recursion fail before any body
// runs.
func (d *dispatcher) call(ctx *ServiceContext, kind MethodKind) *ServiceResponse {
	if d.depth >= callStackLimit {
		return errorResponse(CodeCallStack, ErrCallStackExceeded.Error())
	}
	if kind == WriteKind && d.readonlyDepth > 0 {
		return errorResponse(CodeReadonly, ErrReadonlyViolation.Error())
	}

	target, ok := d.get(ctx.ServiceName())
	if !ok {
		return errorResponse(CodeNotFoundService, fmt.Sprintf("%v: %s", ErrNotFoundService, ctx.ServiceName()))
	}

	method, ok := target.schema.methods[ctx.ServiceMethod()]
	if !ok || method.kind != kind {
		return errorResponse(CodeNotFoundMethod,
			fmt.Sprintf("%v: %s.%s", ErrNotFoundMethod, ctx.ServiceName(), ctx.ServiceMethod()))
	}

	if err := ctx.SubCycles(method.cost); err != nil {
		return errorResponse(CodeOutOfCycles, err.Error())
	}

	d.depth++
	if kind == ReadKind {
		d.readonlyDepth++
	}
	ret, err := method.fn(ctx)
	if kind == ReadKind {
		d.readonlyDepth--
	}
	d.depth--

	if err != nil {
		return responseFromError(err)
	}
	return &ServiceResponse{Code: CodeSuccess, Ret: ret}
}

func errorResponse(code uint64, message string) *ServiceResponse {
	return &ServiceResponse{Code: code, Ret: message, IsError: true}
}

func responseFromError(err error) *ServiceResponse {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return errorResponse(svcErr.Code, svcErr.Message)
	}

	switch {
	case errors.Is(err, ErrJSONParse):
		return errorResponse(CodeJSONParse, err.Error())
	case errors.Is(err, ErrOutOfCycles):
		return errorResponse(CodeOutOfCycles, err.Error())
	case errors.Is(err, ErrReadonlyViolation):
		return errorResponse(CodeReadonly, err.Error())
	case errors.Is(err, ErrCallStackExceeded):
		return errorResponse(CodeCallStack, err.Error())
	case errors.Is(err, ErrOverflow):
		return errorResponse(CodeOverflow, err.Error())
	case errors.Is(err, ErrNotFoundMethod):
		return errorResponse(CodeNotFoundMethod, err.Error())
	default:
		return errorResponse(CodeServiceError, err.Error())
	}
}
