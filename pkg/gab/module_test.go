package gab

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gab-lang/gab/internal/config"
)

func fileResource(root string) config.ResourceEntry {
	return config.ResourceEntry{
		Suffix: ".gab",
		Loader: func(path string) ([]byte, error) { return os.ReadFile(path) },
		ExistencePredicate: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

func TestUseLoadsAndCachesModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greeting.gab"), []byte("21 + 21"), 0o644); err != nil {
		t.Fatalf("writing module file: %v", err)
	}

	e := New(config.New(
		config.WithModuleRoot(dir),
		config.WithResource(fileResource(dir)),
	))
	defer e.Close()

	v, err := e.Use("greeting", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if v.AsNumber() != 42 {
		t.Fatalf("got %v", v.AsNumber())
	}

	// Second call should hit the cache rather than re-resolving.
	v2, err2 := e.Use("greeting", nil)
	if err2 != nil {
		t.Fatalf("unexpected error on cached lookup: %s", err2.Message)
	}
	if v2 != v {
		t.Fatalf("expected the cached value back unchanged")
	}
}

func TestUseUnknownModuleFails(t *testing.T) {
	dir := t.TempDir()
	e := New(config.New(
		config.WithModuleRoot(dir),
		config.WithResource(fileResource(dir)),
	))
	defer e.Close()

	_, err := e.Use("does-not-exist", nil)
	if err == nil {
		t.Fatalf("expected a module-not-found error")
	}
}

func TestUseInvalidatesOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.gab")
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatalf("writing module file: %v", err)
	}

	e := New(config.New(
		config.WithModuleRoot(dir),
		config.WithResource(fileResource(dir)),
	))
	defer e.Close()

	v, err := e.Use("config", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if v.AsNumber() != 1 {
		t.Fatalf("got %v", v.AsNumber())
	}

	if err := os.WriteFile(path, []byte("2"), 0o644); err != nil {
		t.Fatalf("rewriting module file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		e.modMu.Lock()
		_, cached := e.modules["config"]
		e.modMu.Unlock()
		if !cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("module cache was never invalidated after the file changed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	v2, err2 := e.Use("config", nil)
	if err2 != nil {
		t.Fatalf("unexpected error on reload: %s", err2.Message)
	}
	if v2.AsNumber() != 2 {
		t.Fatalf("got %v, want reloaded value 2", v2.AsNumber())
	}
}

func TestUseValidatesExportsAgainstSchema(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stringy.gab"), []byte(`"hello"`), 0o644); err != nil {
		t.Fatalf("writing module file: %v", err)
	}

	entry := fileResource(dir)
	entry.Schema = []byte(`{"type": "number"}`)

	e := New(config.New(
		config.WithModuleRoot(dir),
		config.WithResource(entry),
	))
	defer e.Close()

	if _, err := e.Use("stringy", nil); err == nil {
		t.Fatalf("expected a schema validation error for a string export against a number schema")
	}
}
