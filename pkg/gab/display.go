package gab

import (
	"fmt"
	"strings"

	"github.com/gab-lang/gab/internal/record"
	"github.com/gab-lang/gab/internal/value"
)

// Display renders v as human-readable text, for a REPL or any other host
// surface that needs to show a result rather than consume it. It walks the
// same sigil/number/string/Record cases as valueToJSON, but produces Gab
// literal syntax instead of a JSON tree.
func (e *Engine) Display(v value.Value) string {
	switch v {
	case value.Nil:
		return "nil"
	case value.None:
		return "none"
	case value.True:
		return "true"
	case value.False:
		return "false"
	case value.Ok:
		return "ok"
	case value.Err:
		return "err"
	}
	if v.IsNumber() {
		return fmt.Sprintf("%g", v.AsNumber())
	}
	if v.IsMessage() {
		return string(v.ShortBytes())
	}
	if v.IsShortString() || v.IsBinary() {
		return fmt.Sprintf("%q", v.ShortBytes())
	}
	if v.IsHeap() {
		if s := e.vm.Strings.Lookup(v); s != nil {
			return fmt.Sprintf("%q", s.String())
		}
		if r, ok := e.vm.Heap.Get(v).(*record.Record); ok {
			return e.displayRecord(r)
		}
		if typeName, ok := e.BoxType(v); ok {
			return fmt.Sprintf("<Box %s>", typeName)
		}
		return fmt.Sprintf("<%s>", e.vm.TypeNameOf(v))
	}
	return fmt.Sprintf("<%s>", v.Kind())
}

func (e *Engine) displayRecord(r *record.Record) string {
	n := e.vm.Records.Len(r)
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = e.Display(e.vm.Records.UVAt(r, i))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
