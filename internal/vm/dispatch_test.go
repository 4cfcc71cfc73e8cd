package vm

import (
	"context"
	"testing"

	"github.com/gab-lang/gab/internal/bytecode"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/value"
)

func TestExportedSendUsesSameDispatchAsCompiledCode(t *testing.T) {
	m := New("test")
	got, err := m.Send(context.Background(), value.Number(3), "+", []value.Value{value.Number(4)})
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if got.AsNumber() != 7 {
		t.Fatalf("got %v", got.AsNumber())
	}
}

func TestExportedSendNoImplementation(t *testing.T) {
	m := New("test")
	_, err := m.Send(context.Background(), value.Number(3), "nonexistent-message", nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Kind != "no-implementation" {
		t.Fatalf("got kind %s", err.Kind)
	}
}

func TestDispatcherHasTypeKindGeneral(t *testing.T) {
	m := New("test")
	d := m.Dispatch

	if d.HasType("Widget", "frob") {
		t.Fatalf("did not expect Widget/frob to be registered yet")
	}
	noop := func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		return value.Undefined, nil
	}
	d.RegisterType("Widget", "frob", noop)
	if !d.HasType("Widget", "frob") {
		t.Fatalf("expected Widget/frob to be registered")
	}

	if d.HasKind(value.KindNumber, "glorp") {
		t.Fatalf("did not expect KindNumber/glorp to be registered yet")
	}
	d.RegisterKind(value.KindNumber, "glorp", noop)
	if !d.HasKind(value.KindNumber, "glorp") {
		t.Fatalf("expected KindNumber/glorp to be registered")
	}

	if d.HasGeneral("universal") {
		t.Fatalf("did not expect universal to be registered yet")
	}
	d.RegisterGeneral("universal", noop)
	if !d.HasGeneral("universal") {
		t.Fatalf("expected universal to be registered")
	}
}

func TestDispatcherLookupReportsCacheKind(t *testing.T) {
	m := New("test")
	_, kind, ok := m.Dispatch.Lookup("", value.KindNumber, "+")
	if !ok {
		t.Fatalf("expected +  to resolve for KindNumber")
	}
	if kind != bytecode.CacheKindMatched {
		t.Fatalf("got cache kind %v, want CacheKindMatched", kind)
	}
}

func TestTypeNameOfBox(t *testing.T) {
	m, v := mustRunVM(t, `Box.make: "Widget"`)
	if got := m.TypeNameOf(v); got != "Widget" {
		t.Fatalf("got %q", got)
	}
}
