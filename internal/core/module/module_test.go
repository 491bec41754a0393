package module

import (
	"context"
	"testing"
)

type stubModule struct {
	pkg       string
	apiCompat int
}

func (m stubModule) Descriptor() Descriptor {
	return Descriptor{Name: "stub", Package: m.pkg, APICompat: m.apiCompat}
}
func (stubModule) Init(string, Callbacks) error { return nil }
func (stubModule) Destroy()          {}
func (stubModule) CreateSession(context.Context, uint64, string) (any, error) { return nil, nil }
func (stubModule) QuerySession(any) ([]byte, error)                          { return nil, nil }
func (stubModule) DestroySession(any) error                                  { return nil }
func (stubModule) HandleMessage(context.Context, any, []byte, string, string, bool, JSEPHints) Result {
	return Result{Kind: ResultOK}
}
func (stubModule) SetupMedia(any) error           { return nil }
func (stubModule) HangupMedia(any) error          { return nil }
func (stubModule) IncomingRTP(any, bool, []byte)  {}
func (stubModule) IncomingRTCP(any, bool, []byte) {}
func (stubModule) IncomingData(any, []byte)       {}

func TestNewRegistryRejectsLowAPICompat(t *testing.T) {
	good := stubModule{pkg: "gateway.module.echo", apiCompat: MinAPICompat}
	bad := stubModule{pkg: "gateway.module.ancient", apiCompat: MinAPICompat - 1}

	reg, errs := NewRegistry(good, bad)
	if len(errs) != 1 {
		t.Fatalf("expected 1 rejection error, got %d: %v", len(errs), errs)
	}
	if _, ok := reg.Lookup(bad.pkg); ok {
		t.Fatal("incompatible module should not be registered")
	}
	if _, ok := reg.Lookup(good.pkg); !ok {
		t.Fatal("compatible module should be registered")
	}
}

func TestRegistryPackagesListsAllRegistered(t *testing.T) {
	a := stubModule{pkg: "gateway.module.a", apiCompat: 1}
	b := stubModule{pkg: "gateway.module.b", apiCompat: 1}
	reg, errs := NewRegistry(a, b)
	if len(errs) != 0 {
		t.Fatalf("unexpected rejections: %v", errs)
	}
	pkgs := reg.Packages()
	if len(pkgs) != 2 {
		t.Fatalf("Packages() = %v, want 2 entries", pkgs)
	}
}
