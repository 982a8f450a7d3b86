package target_test

import (
	"context"
	"testing"

	"faultline/internal/target"
)

// nopClient is a minimal Client for registry tests.
type nopClient struct{}

func (nopClient) Setup(context.Context, int, int, int) (string, error) { return "SETUP_OK", nil }
func (nopClient) ChangeMode(context.Context, target.Mode) (string, error) {
	return "MODE_OK", nil
}
func (nopClient) Edit(context.Context, string, int) (string, error) { return "EDIT_OK", nil }
func (nopClient) Fire(context.Context) (string, error)              { return "SUCCESS", nil }
func (nopClient) CounterValue(context.Context) (int, error)         { return 0, nil }
func (nopClient) Reset(context.Context) error                       { return nil }

func TestRegistryResolve(t *testing.T) {
	reg := target.NewRegistry()
	reg.Register("nop", func(target.Settings) (target.Client, error) {
		return nopClient{}, nil
	})

	c, err := reg.Resolve("nop", target.Settings{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c == nil {
		t.Fatal("Resolve returned nil client")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := target.NewRegistry()
	if _, err := reg.Resolve("ghost", target.Settings{}); err == nil {
		t.Error("Resolve of unregistered target should error")
	}
}

func TestRegistryResolveProducesFreshClients(t *testing.T) {
	reg := target.NewRegistry()
	calls := 0
	reg.Register("counting", func(target.Settings) (target.Client, error) {
		calls++
		return nopClient{}, nil
	})

	reg.Resolve("counting", target.Settings{})
	reg.Resolve("counting", target.Settings{})
	if calls != 2 {
		t.Errorf("factory invoked %d times, want 2 (one client per run)", calls)
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	reg := target.NewRegistry()
	f := func(target.Settings) (target.Client, error) { return nopClient{}, nil }
	reg.Register("zeta", f)
	reg.Register("alpha", f)
	reg.Register("mid", f)

	got := reg.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List() = %v, want %v", got, want)
		}
	}
}
