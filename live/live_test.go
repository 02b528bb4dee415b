package live

import (
	"strings"
	"testing"
)

type staticView string

func (v staticView) ProduceContent(host *Host) (string, error) {
	return string(v) + " @ " + host.Title, nil
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	if reg.Register(nil) {
		t.Fatalf("nil factory must be rejected")
	}
	reg.Register(func() View { return staticView("first") })
	reg.Register(func() View { return staticView("second") })
	factories := reg.Factories()
	if len(factories) != 2 {
		t.Fatalf("expected 2 factories, got %d", len(factories))
	}
	got, err := factories[1]().ProduceContent(&Host{Title: "demo"})
	if err != nil {
		t.Fatalf("produce content: %v", err)
	}
	if got != "second @ demo" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestSymbolsBindRegisterToRegistry(t *testing.T) {
	reg := NewRegistry()
	symbols := Symbols(reg)
	pkg, ok := symbols[ImportPath+"/live"]
	if !ok {
		t.Fatalf("missing export key for %s", ImportPath)
	}
	for _, name := range []string{"Register", "View", "_View", "Host", "Factory"} {
		if _, ok := pkg[name]; !ok {
			t.Fatalf("missing symbol %s", name)
		}
	}
	fn, ok := pkg["Register"].Interface().(func(Factory) bool)
	if !ok {
		t.Fatalf("Register has unexpected type %s", pkg["Register"].Type())
	}
	fn(func() View { return staticView("bound") })
	if reg.Len() != 1 {
		t.Fatalf("expected bound registry to receive the factory, got %d", reg.Len())
	}
	if Default().Len() != 0 {
		t.Fatalf("default registry must stay untouched")
	}
}

func TestHostString(t *testing.T) {
	h := Host{Title: "app", Width: 80, Height: 24, Reloads: 2, Version: "abc123"}
	if s := h.String(); !strings.Contains(s, "reload #2") || !strings.Contains(s, "abc123") {
		t.Fatalf("unexpected host string %q", s)
	}
}
