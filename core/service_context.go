package core

// service_context.go – per-invocation request context handed to service
// methods. The cycle counter and the event list are shared between a context
// and every sub-context spawned from it through service dispatch, all inside
// the single-threaded execution worker.

import (
	"fmt"
)

// ServiceContextParams collects everything needed to build a root context
// for one transaction or query.
type ServiceContextParams struct {
	TxHash         *Hash
	Nonce          *Hash
	CyclesLimit    uint64
	CyclesPrice    uint64
	CyclesUsed     *uint64
	Caller         Address
	Height         uint64
	Timestamp      uint64
	ServiceName    string
	ServiceMethod  string
	ServicePayload JSONString
	Extra          []byte
	Events         *[]Event
}

// ServiceContext is handed to every service method invocation.
type ServiceContext struct {
	txHash         *Hash
	nonce          *Hash
	cyclesLimit    uint64
	cyclesPrice    uint64
	cyclesUsed     *uint64
	caller         Address
	height         uint64
	timestamp      uint64
	serviceName    string
	serviceMethod  string
	servicePayload JSONString
	extra          []byte
	events         *[]Event
}

// NewServiceContext builds a root context. CyclesUsed and Events fall back
// to fresh cells when the caller does not provide shared ones.
func NewServiceContext(params ServiceContextParams) *ServiceContext {
	used := params.CyclesUsed
	if used == nil {
		used = new(uint64)
	}
	events := params.Events
	if events == nil {
		events = new([]Event)
	}
	return &ServiceContext{
		txHash:         params.TxHash,
		nonce:          params.Nonce,
		cyclesLimit:    params.CyclesLimit,
		cyclesPrice:    params.CyclesPrice,
		cyclesUsed:     used,
		caller:         params.Caller,
		height:         params.Height,
		timestamp:      params.Timestamp,
		serviceName:    params.ServiceName,
		serviceMethod:  params.ServiceMethod,
		servicePayload: params.ServicePayload,
		extra:          params.Extra,
		events:         events,
	}
}

// WithContext derives a sub-context for a service-to-service call. The cycle
// counter and event list are the parent's cells, so metering and events
// accumulate across the whole call tree.
func WithContext(parent *ServiceContext, serviceName, serviceMethod string, servicePayload JSONString) *ServiceContext {
	return &ServiceContext{
		txHash:         parent.txHash,
		nonce:          parent.nonce,
		cyclesLimit:    parent.cyclesLimit,
		cyclesPrice:    parent.cyclesPrice,
		cyclesUsed:     parent.cyclesUsed,
		caller:         parent.caller,
		height:         parent.height,
		timestamp:      parent.timestamp,
		serviceName:    serviceName,
		serviceMethod:  serviceMethod,
		servicePayload: servicePayload,
		extra:          parent.extra,
		events:         parent.events,
	}
}

func (c *ServiceContext) TxHash() *Hash      { return c.txHash }
func (c *ServiceContext) Nonce() *Hash       { return c.nonce }
func (c *ServiceContext) CyclesLimit() uint64 { return c.cyclesLimit }
func (c *ServiceContext) CyclesPrice() uint64 { return c.cyclesPrice }
func (c *ServiceContext) CyclesUsed() uint64  { return *c.cyclesUsed }
func (c *ServiceContext) Caller() Address     { return c.caller }
func (c *ServiceContext) Height() uint64      { return c.height }
func (c *ServiceContext) Timestamp() uint64   { return c.timestamp }
func (c *ServiceContext) ServiceName() string { return c.serviceName }
func (c *ServiceContext) ServiceMethod() string { return c.serviceMethod }
func (c *ServiceContext) Payload() JSONString { return c.servicePayload }
func (c *ServiceContext) Extra() []byte       { return c.extra }

// SubCycles meters cycles against the shared counter and fails with
// ErrOutOfCycles once the limit would be exceeded.
func (c *ServiceContext) SubCycles(cycles uint64) error {
	if *c.cyclesUsed+cycles > c.cyclesLimit {
		return NewProtocolError(KindService,
			fmt.Errorf("%w: used %d + %d > limit %d", ErrOutOfCycles, *c.cyclesUsed, cycles, c.cyclesLimit))
	}
	*c.cyclesUsed += cycles
	return nil
}

// EmitEvent appends a diagnostic event attributed to the current service.
func (c *ServiceContext) EmitEvent(data JSONString) {
	*c.events = append(*c.events, Event{Service: c.serviceName, Data: data})
}

// Events snapshots the accumulated event list.
func (c *ServiceContext) Events() []Event {
	out := make([]Event, len(*c.events))
	copy(out, *c.events)
	return out
}
