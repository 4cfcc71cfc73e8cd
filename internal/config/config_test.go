package config

import (
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	if c.WorkerCount != defaultWorkerCount {
		t.Fatalf("got worker count %d", c.WorkerCount)
	}
	if c.BusyWaitInterval != defaultBusyWaitInterval {
		t.Fatalf("got busy-wait interval %v", c.BusyWaitInterval)
	}
	if c.ErrorRingSize != defaultErrorRingSize {
		t.Fatalf("got error ring size %d", c.ErrorRingSize)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	c := New(
		WithWorkerCount(4),
		WithBusyWaitInterval(10*time.Millisecond),
		WithModuleRoot("/a"),
		WithModuleRoot("/b"),
		WithPreload("std/io"),
		WithErrorRingSize(8),
	)
	if c.WorkerCount != 4 {
		t.Fatalf("got %d", c.WorkerCount)
	}
	if c.BusyWaitInterval != 10*time.Millisecond {
		t.Fatalf("got %v", c.BusyWaitInterval)
	}
	if len(c.ModuleRoots) != 2 || c.ModuleRoots[0] != "/a" || c.ModuleRoots[1] != "/b" {
		t.Fatalf("got roots %v", c.ModuleRoots)
	}
	if len(c.Preload) != 1 || c.Preload[0] != "std/io" {
		t.Fatalf("got preload %v", c.Preload)
	}
	if c.ErrorRingSize != 8 {
		t.Fatalf("got %d", c.ErrorRingSize)
	}
}

func TestWithResourceAppends(t *testing.T) {
	entry := ResourceEntry{
		Prefix: "std/",
		Suffix: ".gab",
		Loader: func(name string) ([]byte, error) { return []byte(name), nil },
		ExistencePredicate: func(name string) bool {
			return true
		},
		Schema: []byte(`{"type": "object"}`),
	}
	c := New(WithResource(entry))
	if len(c.Resources) != 1 {
		t.Fatalf("expected one resource entry, got %d", len(c.Resources))
	}
	if c.Resources[0].Prefix != "std/" {
		t.Fatalf("got prefix %q", c.Resources[0].Prefix)
	}
	if string(c.Resources[0].Schema) != `{"type": "object"}` {
		t.Fatalf("got schema %q", c.Resources[0].Schema)
	}
}

func TestEnvOverridesHostFields(t *testing.T) {
	t.Setenv("GAB_PREFIX", "/opt/gab")
	t.Setenv("GAB_VERSION", "v1.2.3")
	t.Setenv("GAB_TARGET", "x86_64-linux")

	c := New()
	if c.InstallPrefix != "/opt/gab" {
		t.Fatalf("got prefix %q", c.InstallPrefix)
	}
	if c.VersionTag != "v1.2.3" {
		t.Fatalf("got version %q", c.VersionTag)
	}
	if c.TargetTriple != "x86_64-linux" {
		t.Fatalf("got target %q", c.TargetTriple)
	}
}
