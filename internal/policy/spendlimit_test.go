package policy

import (
	"math/big"
	"testing"
	"time"

	"AgentGuard-Chain/internal/intent"
)

func TestSpendLimitCommitsOnAllow(t *testing.T) {
	limit := NewSpendLimit(big.NewInt(100), time.Hour)
	base := time.Now()

	d := limit.Evaluate(testTransfer("t1", 60), Context{AgentID: "a1", EvaluatedAt: base})
	if !d.Allowed {
		t.Fatalf("first transfer should pass: %+v", d)
	}
	if limit.Spent("a1").Int64() != 60 {
		t.Fatalf("spent not committed: %s", limit.Spent("a1"))
	}

	d = limit.Evaluate(testTransfer("t2", 40), Context{AgentID: "a1", EvaluatedAt: base.Add(time.Minute)})
	if !d.Allowed {
		t.Fatalf("exact-limit transfer should pass: %+v", d)
	}
	if limit.Spent("a1").Int64() != 100 {
		t.Fatalf("spent not committed: %s", limit.Spent("a1"))
	}
}

func TestSpendLimitDeniesWithoutCommitting(t *testing.T) {
	limit := NewSpendLimit(big.NewInt(100), time.Hour)
	base := time.Now()

	if d := limit.Evaluate(testTransfer("t1", 80), Context{AgentID: "a1", EvaluatedAt: base}); !d.Allowed {
		t.Fatalf("setup transfer should pass: %+v", d)
	}

	d := limit.Evaluate(testTransfer("t2", 30), Context{AgentID: "a1", EvaluatedAt: base.Add(time.Minute)})
	if d.Allowed {
		t.Fatalf("over-limit transfer should be denied")
	}
	if d.PolicyID != SpendLimitID {
		t.Fatalf("unexpected policy id: %s", d.PolicyID)
	}
	if d.Metadata["projected"] != "110" || d.Metadata["limit"] != "100" {
		t.Fatalf("denial metadata incomplete: %v", d.Metadata)
	}
	if limit.Spent("a1").Int64() != 80 {
		t.Fatalf("denied amount must not count against the window: %s", limit.Spent("a1"))
	}
}

func TestSpendLimitWindowResets(t *testing.T) {
	limit := NewSpendLimit(big.NewInt(100), time.Hour)
	base := time.Now()

	if d := limit.Evaluate(testTransfer("t1", 100), Context{AgentID: "a1", EvaluatedAt: base}); !d.Allowed {
		t.Fatalf("setup transfer should pass: %+v", d)
	}
	if d := limit.Evaluate(testTransfer("t2", 1), Context{AgentID: "a1", EvaluatedAt: base.Add(time.Minute)}); d.Allowed {
		t.Fatal("window still open, transfer should be denied")
	}

	d := limit.Evaluate(testTransfer("t3", 100), Context{AgentID: "a1", EvaluatedAt: base.Add(2 * time.Hour)})
	if !d.Allowed {
		t.Fatalf("expired window should reset the counter: %+v", d)
	}
	if limit.Spent("a1").Int64() != 100 {
		t.Fatalf("unexpected spent after reset: %s", limit.Spent("a1"))
	}
}

func TestSpendLimitTracksAgentsIndependently(t *testing.T) {
	limit := NewSpendLimit(big.NewInt(100), time.Hour)
	base := time.Now()

	if d := limit.Evaluate(testTransfer("t1", 100), Context{AgentID: "a1", EvaluatedAt: base}); !d.Allowed {
		t.Fatalf("agent a1 should pass: %+v", d)
	}
	if d := limit.Evaluate(testTransfer("t2", 100), Context{AgentID: "a2", EvaluatedAt: base}); !d.Allowed {
		t.Fatalf("agent a2 has its own window: %+v", d)
	}
}

func TestSpendLimitExemptsMint(t *testing.T) {
	limit := NewSpendLimit(big.NewInt(1), time.Hour)
	mint := &intent.Mint{
		Header:    intent.Header{ID: "m1", Chain: "devnet", FromWalletID: "w1"},
		TokenMint: "TKN",
		Recipient: "dst",
		Amount:    big.NewInt(1000000),
	}
	if d := limit.Evaluate(mint, Context{AgentID: "a1"}); !d.Allowed {
		t.Fatalf("mint has no transactable amount and must not count: %+v", d)
	}
	if limit.Spent("a1").Sign() != 0 {
		t.Fatalf("mint must not consume the window: %s", limit.Spent("a1"))
	}
}

func TestSpendLimitCountsSwapInputAmount(t *testing.T) {
	limit := NewSpendLimit(big.NewInt(100), time.Hour)
	swap := &intent.Swap{
		Header:       intent.Header{ID: "s1", Chain: "devnet", FromWalletID: "w1"},
		Pool:         "pool-a",
		MintIn:       "AAA",
		MintOut:      "BBB",
		AmountIn:     big.NewInt(70),
		MinAmountOut: big.NewInt(0),
	}
	if d := limit.Evaluate(swap, Context{AgentID: "a1"}); !d.Allowed {
		t.Fatalf("swap should pass: %+v", d)
	}
	if limit.Spent("a1").Int64() != 70 {
		t.Fatalf("swap input must count against the window: %s", limit.Spent("a1"))
	}
}
