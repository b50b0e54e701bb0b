package core

import (
	"errors"
	"testing"
)

func testContext(limit uint64) *ServiceContext {
	return NewServiceContext(ServiceContextParams{
		CyclesLimit:    limit,
		CyclesPrice:    1,
		Caller:         Address{0x01},
		Height:         1,
		ServiceName:    "svc",
		ServiceMethod:  "method",
		ServicePayload: "{}",
	})
}

//-------------------------------------------------------------
// Context: shared counters and events
//-------------------------------------------------------------

func TestServiceContextSubCycles(t *testing.T) {
	ctx := testContext(100)

	if err := ctx.SubCycles(60); err != nil {
		t.Fatalf("sub: %v", err)
	}
	if ctx.CyclesUsed() != 60 {
		t.Fatalf("used = %d", ctx.CyclesUsed())
	}
	if err := ctx.SubCycles(41); !errors.Is(err, ErrOutOfCycles) {
		t.Fatalf("err = %v, want OutOfCycles", err)
	}
	// a failed charge does not move the counter
	if ctx.CyclesUsed() != 60 {
		t.Fatalf("used after failure = %d", ctx.CyclesUsed())
	}
}

func TestSubContextSharesCountersAndEvents(t *testing.T) {
	parent := testContext(1000)
	child := WithContext(parent, "other", "m", "{}")

	if err := child.SubCycles(300); err != nil {
		t.Fatalf("child sub: %v", err)
	}
	if parent.CyclesUsed() != 300 {
		t.Fatalf("parent counter = %d, want 300", parent.CyclesUsed())
	}

	child.EmitEvent("from-child")
	parent.EmitEvent("from-parent")

	events := parent.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Service != "other" || events[1].Service != "svc" {
		t.Fatalf("event attribution wrong: %+v", events)
	}
}

//-------------------------------------------------------------
// Dispatcher: stack depth bound
//-------------------------------------------------------------

// loopService calls itself until the dispatcher cuts it off.
type loopService struct {
	sdk    *ServiceSDK
	schema *ServiceSchema
}

func newLoopService(sdk *ServiceSDK) (*loopService, error) {
	s := &loopService{sdk: sdk}
	schema := NewServiceSchema("loop")
	schema.Write("spin", 0, Handler(s.spin))
	s.schema = schema
	return s, nil
}

func (s *loopService) Schema() *ServiceSchema { return s.schema }

func (s *loopService) spin(ctx *ServiceContext, _ struct{}) (struct{}, error) {
	_, err := s.sdk.Write(ctx, "loop", "spin", "")
	return struct{}{}, err
}

func TestDispatcherCallStackBound(t *testing.T) {
	mapping := NewDefaultServiceMapping()
	mapping.Register("loop", func(sdk *ServiceSDK) (Service, error) { return newLoopService(sdk) })

	executor := NewServiceExecutor(NewMemTrieDB(), nullStorage{}, mapping)
	root, err := executor.CreateGenesis(nil)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	tx := execTx(1, "loop", "spin", "", ^uint64(0), Address{0x01})
	resp, err := executor.Exec(execParams(root, 1), []*SignedTransaction{tx})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	receipt := resp.Receipts[0]
	if !receipt.Response.IsError || receipt.Response.Code != CodeCallStack {
		t.Fatalf("receipt = %+v, want CallStackExceeded", receipt.Response)
	}
}

//-------------------------------------------------------------
// Handler payload adaptation
//-------------------------------------------------------------

func TestHandlerEmptyPayload(t *testing.T) {
	fn := Handler(func(_ *ServiceContext, payload kvPayload) (kvPayload, error) {
		return payload, nil
	})

	ctx := NewServiceContext(ServiceContextParams{
		CyclesLimit:    100,
		ServiceName:    "svc",
		ServiceMethod:  "m",
		ServicePayload: "",
	})
	ret, err := fn(ctx)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ret != `{"key":"","value":""}` {
		t.Fatalf("ret = %s", ret)
	}
}

func TestHandlerBadPayload(t *testing.T) {
	fn := Handler(func(_ *ServiceContext, payload kvPayload) (kvPayload, error) {
		return payload, nil
	})

	ctx := NewServiceContext(ServiceContextParams{
		CyclesLimit:    100,
		ServiceName:    "svc",
		ServiceMethod:  "m",
		ServicePayload: "{broken",
	})
	if _, err := fn(ctx); !errors.Is(err, ErrJSONParse) {
		t.Fatalf("err = %v, want JsonParse", err)
	}
}
