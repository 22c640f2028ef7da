package hook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arcflow/workflow-engine/engine/hook"
)

func TestBusRegisterRejectsDuplicateID(t *testing.T) {
	b := hook.New(4, hook.Isolated)
	reg := hook.Registration{ID: "h1", Event: hook.StepStart, Handler: noopHandler, Enabled: true}
	if err := b.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := b.Register(reg); !errors.Is(err, hook.ErrDuplicateID) {
		t.Fatalf("want ErrDuplicateID, got %v", err)
	}
}

func TestBusRegisterRejectsOverCapacity(t *testing.T) {
	b := hook.New(1, hook.Isolated)
	if err := b.Register(hook.Registration{ID: "h1", Event: hook.StepStart, Handler: noopHandler, Enabled: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := b.Register(hook.Registration{ID: "h2", Event: hook.StepStart, Handler: noopHandler, Enabled: true})
	if !errors.Is(err, hook.ErrHookLimitExceeded) {
		t.Fatalf("want ErrHookLimitExceeded, got %v", err)
	}
}

func TestBusEmitRunsSyncHandlersInPriorityOrder(t *testing.T) {
	b := hook.New(4, hook.Isolated)
	var mu sync.Mutex
	var order []string
	handler := func(name string) hook.Handler {
		return func(ctx context.Context, p hook.Payload) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	_ = b.Register(hook.Registration{ID: "low", Event: hook.StepStart, Handler: handler("low"), Priority: 1, Enabled: true})
	_ = b.Register(hook.Registration{ID: "high", Event: hook.StepStart, Handler: handler("high"), Priority: 10, Enabled: true})

	if err := b.Emit(context.Background(), hook.Payload{Event: hook.StepStart}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("want high-priority handler first, got %v", order)
	}
}

func TestBusEmitIsolatesHandlerPanics(t *testing.T) {
	b := hook.New(4, hook.Isolated)
	_ = b.Register(hook.Registration{
		ID:    "panicky",
		Event: hook.StepStart,
		Handler: func(ctx context.Context, p hook.Payload) error {
			panic("boom")
		},
		Enabled: true,
	})
	if err := b.Emit(context.Background(), hook.Payload{Event: hook.StepStart}); err != nil {
		t.Fatalf("want a panicking handler to be isolated, got error: %v", err)
	}
	stats, ok := b.Stats("panicky")
	if !ok || stats.Errors != 1 {
		t.Fatalf("want one recorded error, got %+v, ok=%v", stats, ok)
	}
}

func TestBusEmitPropagatedModeReturnsSyncError(t *testing.T) {
	b := hook.New(4, hook.Propagated)
	wantErr := errors.New("handler failed")
	_ = b.Register(hook.Registration{
		ID:    "failing",
		Event: hook.StepStart,
		Handler: func(ctx context.Context, p hook.Payload) error {
			return wantErr
		},
		Enabled: true,
	})
	if err := b.Emit(context.Background(), hook.Payload{Event: hook.StepStart}); !errors.Is(err, wantErr) {
		t.Fatalf("want the handler's error propagated, got %v", err)
	}
}

func TestBusEmitSkipsDisabledHooks(t *testing.T) {
	b := hook.New(4, hook.Isolated)
	called := false
	_ = b.Register(hook.Registration{
		ID:    "disabled",
		Event: hook.StepStart,
		Handler: func(ctx context.Context, p hook.Payload) error {
			called = true
			return nil
		},
		Enabled: false,
	})
	if err := b.Emit(context.Background(), hook.Payload{Event: hook.StepStart}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if called {
		t.Fatal("want a disabled hook to never run")
	}
}

func TestBusUnregisterRemovesHandler(t *testing.T) {
	b := hook.New(4, hook.Isolated)
	called := false
	_ = b.Register(hook.Registration{
		ID:    "temp",
		Event: hook.StepStart,
		Handler: func(ctx context.Context, p hook.Payload) error {
			called = true
			return nil
		},
		Enabled: true,
	})
	b.Unregister("temp")
	_ = b.Emit(context.Background(), hook.Payload{Event: hook.StepStart})
	if called {
		t.Fatal("want an unregistered handler to never run")
	}
	// Unregistering an unknown id must not panic or error.
	b.Unregister("never-registered")
}

func TestBusAsyncHandlerRunsConcurrentlyAndRespectsTimeout(t *testing.T) {
	b := hook.New(4, hook.Isolated)
	_ = b.Register(hook.Registration{
		ID:    "slow",
		Event: hook.StepStart,
		Async: true,
		Handler: func(ctx context.Context, p hook.Payload) error {
			<-ctx.Done()
			return ctx.Err()
		},
		MaxExecutionTime: 20 * time.Millisecond,
		Enabled:          true,
	})
	start := time.Now()
	if err := b.Emit(context.Background(), hook.Payload{Event: hook.StepStart}); err != nil {
		t.Fatalf("want isolated async error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("want the async handler bounded by MaxExecutionTime, took %v", elapsed)
	}
}

func noopHandler(ctx context.Context, p hook.Payload) error { return nil }
