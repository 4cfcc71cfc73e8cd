package gab

import (
	"fmt"

	"github.com/gab-lang/gab/internal/bytecode"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/value"
	"github.com/gab-lang/gab/internal/vm"
)

// MatchKind distinguishes why `impl` found (or didn't find) an
// implementation, mirroring the original `gab_impl`'s tri-state result
// (SPEC_FULL.md §3 "impl introspection") rather than collapsing
// type-matched/kind-matched/property-matched/general down to a bare
// boolean.
type MatchKind = bytecode.CacheKind

const (
	MatchNone             = bytecode.CacheMiss
	MatchNoImplementation = bytecode.CacheNoImplementation
	MatchTypeMatched      = bytecode.CacheTypeMatched
	MatchKindMatched      = bytecode.CacheKindMatched
	MatchGeneral          = bytecode.CacheGeneral
	MatchPropertyMatched  = bytecode.CachePropertyMatched
)

// ImplResult is `impl`'s `{ status, type, spec_or_offset }` (spec.md
// §6), with spec_or_offset realized as a typed Match rather than a raw
// bytecode offset — there is no second interpreter to jump into here,
// only the Dispatcher's own resolved tier.
type ImplResult struct {
	Status diag.Status
	Type   string
	Match  MatchKind
}

// Def implements `def(message, receiver_type, specialization)` for a
// Box-typed receiver. Duplicate definitions fail, per spec.md §6.
func (e *Engine) Def(receiverType, message string, spec vm.Native) error {
	if e.vm.Dispatch.HasType(receiverType, message) {
		return fmt.Errorf("duplicate definition of %q for type %q", message, receiverType)
	}
	e.vm.Dispatch.RegisterType(receiverType, message, spec)
	return nil
}

// DefKind is Def's kind-matched form (spec.md §4.5's second dispatch
// tier): specialize message for every value of Kind k.
func (e *Engine) DefKind(k value.Kind, message string, spec vm.Native) error {
	if e.vm.Dispatch.HasKind(k, message) {
		return fmt.Errorf("duplicate definition of %q for kind %s", message, k)
	}
	e.vm.Dispatch.RegisterKind(k, message, spec)
	return nil
}

// DefGeneral is Def's general-tier form: specialize message for every
// receiver regardless of type or kind.
func (e *Engine) DefGeneral(message string, spec vm.Native) error {
	if e.vm.Dispatch.HasGeneral(message) {
		return fmt.Errorf("duplicate definition of %q", message)
	}
	e.vm.Dispatch.RegisterGeneral(message, spec)
	return nil
}

// Impl implements `impl(message, receiver)`: reports whether a
// specialization exists for receiver and which dispatch tier would
// answer it, without actually invoking it.
func (e *Engine) Impl(message string, receiver value.Value) ImplResult {
	typeName := e.vm.TypeNameOf(receiver)
	_, match, ok := e.vm.Dispatch.Lookup(typeName, receiver.Kind(), message)
	if !ok {
		return ImplResult{Status: diag.StatusInvalid, Type: typeName, Match: MatchNoImplementation}
	}
	return ImplResult{Status: diag.StatusValid, Type: typeName, Match: match}
}
