package chain

import (
	"context"
	"math/big"
	"strings"
	"testing"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/intent"
)

type noopAdapter struct {
	name   string
	closed bool
}

func (a *noopAdapter) Name() string { return a.name }

func (a *noopAdapter) BuildTransaction(context.Context, intent.Intent) (*UnsignedTransaction, error) {
	return &UnsignedTransaction{Chain: a.name}, nil
}

func (a *noopAdapter) SendTransaction(context.Context, *SignedTransaction) (string, error) {
	return "0x0", nil
}

func (a *noopAdapter) ConfirmTransaction(context.Context, string) (bool, error) {
	return true, nil
}

func (a *noopAdapter) Balance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (a *noopAdapter) Close() { a.closed = true }

func TestRouterRegisterAndResolve(t *testing.T) {
	router := NewRouter()
	adapter := &noopAdapter{name: "devnet"}

	if err := router.Register("devnet", adapter); err != nil {
		t.Fatalf("register: %v", err)
	}

	resolved, err := router.Resolve("devnet")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != Adapter(adapter) {
		t.Fatal("resolve returned a different adapter")
	}
}

func TestRouterRefusesRebinding(t *testing.T) {
	router := NewRouter()
	if err := router.Register("devnet", &noopAdapter{name: "devnet"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := router.Register("devnet", &noopAdapter{name: "devnet"})
	if err == nil {
		t.Fatal("rebinding an identifier must be refused")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict code, got %s", xerrors.CodeOf(err))
	}
}

func TestRouterRejectsInvalidRegistrations(t *testing.T) {
	router := NewRouter()
	if err := router.Register("  ", &noopAdapter{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("blank name should be rejected: %v", err)
	}
	if err := router.Register("devnet", nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("nil adapter should be rejected: %v", err)
	}
}

func TestRouterResolveMissEnumeratesChains(t *testing.T) {
	router := NewRouter()
	if err := router.Register("devnet", &noopAdapter{name: "devnet"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.Register("sepolia", &noopAdapter{name: "sepolia"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := router.Resolve("mainnet")
	if err == nil {
		t.Fatal("unknown chain must not resolve")
	}
	if xerrors.CodeOf(err) != xerrors.CodeChainNotRegistered {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "devnet") || !strings.Contains(err.Error(), "sepolia") {
		t.Fatalf("miss should enumerate registered chains: %v", err)
	}
}

func TestRouterChainsSorted(t *testing.T) {
	router := NewRouter()
	for _, name := range []string{"sepolia", "devnet", "base"} {
		if err := router.Register(name, &noopAdapter{name: name}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	chains := router.Chains()
	if len(chains) != 3 || chains[0] != "base" || chains[1] != "devnet" || chains[2] != "sepolia" {
		t.Fatalf("unexpected chain list: %v", chains)
	}
}

func TestRouterCloseReleasesAdapters(t *testing.T) {
	router := NewRouter()
	adapter := &noopAdapter{name: "devnet"}
	if err := router.Register("devnet", adapter); err != nil {
		t.Fatalf("register: %v", err)
	}

	router.Close()
	if !adapter.closed {
		t.Fatal("close must release registered adapters")
	}
	if len(router.Chains()) != 0 {
		t.Fatalf("router should be empty after close: %v", router.Chains())
	}
}
