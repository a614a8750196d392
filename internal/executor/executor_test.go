package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"AgentGuard-Chain/internal/chain"
	"AgentGuard-Chain/internal/chain/devnet"
	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/intent"
	"AgentGuard-Chain/internal/policy"
	"AgentGuard-Chain/internal/signer"
	"AgentGuard-Chain/internal/signer/keystore"
	"AgentGuard-Chain/internal/wallet"
)

type harness struct {
	executor *Executor
	adapter  *devnet.Adapter
	engine   *policy.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := keystore.NewMemoryStore()
	keys.Put("w1", crypto.FromECDSA(priv))
	sg := signer.New(keys)

	router := chain.NewRouter()
	wallets := wallet.NewRegistry(router)
	adapter := devnet.NewAdapter("devnet", wallets)
	if err := router.Register("devnet", adapter); err != nil {
		t.Fatalf("register adapter: %v", err)
	}

	address := crypto.PubkeyToAddress(priv.PublicKey).Hex()
	if err := wallets.Add(wallet.Wallet{ID: "w1", Chain: "devnet", Address: address}); err != nil {
		t.Fatalf("add wallet: %v", err)
	}
	adapter.Credit(address, big.NewInt(1_000_000))

	engine := policy.NewEngine()
	return &harness{
		executor: New(router, engine, sg, wallets),
		adapter:  adapter,
		engine:   engine,
	}
}

func transferIntent(id string, amount int64) *intent.Transfer {
	return &intent.Transfer{
		Header: intent.Header{ID: id, Chain: "devnet", FromWalletID: "w1", CreatedAt: time.Now().Unix()},
		To:     "0xdst",
		Amount: big.NewInt(amount),
	}
}

func TestExecuteConfirmsTransfer(t *testing.T) {
	h := newHarness(t)

	res := h.executor.Execute(context.Background(), "a1", transferIntent("it-1", 100))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.TxHash == "" {
		t.Fatal("confirmed result must carry a transaction hash")
	}
	if res.ConfirmedAt.IsZero() {
		t.Fatal("confirmed result must carry a confirmation time")
	}
	if res.IntentID != "it-1" || res.AgentID != "a1" || res.Kind != "transfer" || res.Chain != "devnet" {
		t.Fatalf("result envelope incomplete: %+v", res)
	}
	if h.adapter.Submitted() != 1 {
		t.Fatalf("expected one submitted transaction, got %d", h.adapter.Submitted())
	}
}

func TestExecuteRawParsesAndRuns(t *testing.T) {
	h := newHarness(t)

	raw := []byte(`{"kind":"transfer","id":"it-2","chain":"devnet","from_wallet_id":"w1","to":"0xdst","amount":"50"}`)
	res := h.executor.ExecuteRaw(context.Background(), "a1", raw)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestExecuteRawStopsAtValidation(t *testing.T) {
	h := newHarness(t)

	res := h.executor.ExecuteRaw(context.Background(), "a1", []byte(`{"kind":"transfer","amount":"1.5"}`))
	if res.Success {
		t.Fatal("invalid payload must not succeed")
	}
	if res.FailedStage != StageValidation {
		t.Fatalf("expected validation stage, got %s", res.FailedStage)
	}
	if res.ErrorCode != string(xerrors.CodeValidation) {
		t.Fatalf("unexpected error code: %s", res.ErrorCode)
	}
	if h.adapter.Submitted() != 0 {
		t.Fatal("nothing may reach the chain after a validation failure")
	}
}

func TestExecuteStopsAtPolicyWithDenial(t *testing.T) {
	h := newHarness(t)
	h.engine.Register(policy.NewSpendLimit(big.NewInt(10), time.Hour))

	res := h.executor.Execute(context.Background(), "a1", transferIntent("it-3", 100))
	if res.Success {
		t.Fatal("over-limit transfer must not succeed")
	}
	if res.FailedStage != StagePolicy {
		t.Fatalf("expected policy stage, got %s", res.FailedStage)
	}
	if res.ErrorCode != string(xerrors.CodePolicyViolation) {
		t.Fatalf("unexpected error code: %s", res.ErrorCode)
	}
	if res.Denial == nil || res.Denial.PolicyID != policy.SpendLimitID {
		t.Fatalf("denial details missing: %+v", res.Denial)
	}
	if h.adapter.Submitted() != 0 {
		t.Fatal("denied intent must never reach the chain")
	}
}

func TestExecuteRateLimitDeniesRegardlessOfAmount(t *testing.T) {
	h := newHarness(t)
	h.engine.Register(policy.NewRateLimit(2))

	for i := 0; i < 2; i++ {
		res := h.executor.Execute(context.Background(), "a1", transferIntent(fmt.Sprintf("it-%d", i), 1))
		if !res.Success {
			t.Fatalf("transfer %d should pass: %+v", i, res)
		}
	}

	res := h.executor.Execute(context.Background(), "a1", transferIntent("it-over", 1))
	if res.Success {
		t.Fatal("transfer beyond the per-minute budget must be denied")
	}
	if res.FailedStage != StagePolicy || res.Denial == nil || res.Denial.PolicyID != policy.RateLimitID {
		t.Fatalf("unexpected denial: stage=%s denial=%+v", res.FailedStage, res.Denial)
	}
}

func TestExecuteWhitelistDeniesUnlistedTarget(t *testing.T) {
	h := newHarness(t)
	h.engine.Register(policy.NewProgramWhitelist([]string{policy.TargetNativeTransfer}))

	token := transferIntent("it-token", 10)
	token.TokenMint = "0xROGUE"
	res := h.executor.Execute(context.Background(), "a1", token)
	if res.Success {
		t.Fatal("unlisted token target must be denied")
	}
	if res.Denial == nil || res.Denial.PolicyID != policy.WhitelistID {
		t.Fatalf("unexpected denial: %+v", res.Denial)
	}
	if res.Denial.Metadata["target"] != "0xROGUE" {
		t.Fatalf("denial must name the offending target: %v", res.Denial.Metadata)
	}

	if res := h.executor.Execute(context.Background(), "a1", transferIntent("it-native", 10)); !res.Success {
		t.Fatalf("native transfer stays allowed: %+v", res)
	}
}

func TestExecuteStopsAtBuildForUnknownChain(t *testing.T) {
	h := newHarness(t)

	it := transferIntent("it-4", 10)
	it.Chain = "mainnet"
	// 余额查询走钱包所属链，与意图声明的链无关。
	res := h.executor.Execute(context.Background(), "a1", it)
	if res.Success {
		t.Fatal("unknown chain must not succeed")
	}
	if res.FailedStage != StageBuild {
		t.Fatalf("expected build stage, got %s", res.FailedStage)
	}
	if res.ErrorCode != string(xerrors.CodeChainNotRegistered) {
		t.Fatalf("unexpected error code: %s", res.ErrorCode)
	}
}

func TestExecuteStopsAtSend(t *testing.T) {
	h := newHarness(t)
	h.adapter.FailSend(errors.New("rpc unreachable"))

	res := h.executor.Execute(context.Background(), "a1", transferIntent("it-5", 10))
	if res.Success {
		t.Fatal("send failure must not succeed")
	}
	if res.FailedStage != StageSend {
		t.Fatalf("expected send stage, got %s", res.FailedStage)
	}
	if res.ErrorCode != string(xerrors.CodeSendFailed) {
		t.Fatalf("unexpected error code: %s", res.ErrorCode)
	}
	if res.TxHash != "" {
		t.Fatalf("no hash exists before send succeeds: %q", res.TxHash)
	}
}

func TestExecuteConfirmRejectionKeepsTxHash(t *testing.T) {
	h := newHarness(t)
	h.adapter.SetConfirmResult(false)

	res := h.executor.Execute(context.Background(), "a1", transferIntent("it-6", 10))
	if res.Success {
		t.Fatal("reverted transaction must not succeed")
	}
	if res.FailedStage != StageConfirm {
		t.Fatalf("expected confirm stage, got %s", res.FailedStage)
	}
	if res.ErrorCode != string(xerrors.CodeConfirmationFailed) {
		t.Fatalf("unexpected error code: %s", res.ErrorCode)
	}
	if res.TxHash == "" {
		t.Fatal("hash of the reverted transaction must be preserved")
	}
}

func TestExecuteBuildFailure(t *testing.T) {
	h := newHarness(t)
	h.adapter.FailBuild(errors.New("nonce fetch failed"))

	res := h.executor.Execute(context.Background(), "a1", transferIntent("it-7", 10))
	if res.FailedStage != StageBuild || res.ErrorCode != string(xerrors.CodeBuildFailed) {
		t.Fatalf("unexpected result: stage=%s code=%s", res.FailedStage, res.ErrorCode)
	}
}

func TestExecuteUnknownWalletFailsPolicyStage(t *testing.T) {
	h := newHarness(t)

	it := transferIntent("it-8", 10)
	it.FromWalletID = "ghost"
	res := h.executor.Execute(context.Background(), "a1", it)
	if res.Success {
		t.Fatal("unknown wallet must not succeed")
	}
	if res.FailedStage != StagePolicy {
		t.Fatalf("balance snapshot happens in the policy stage, got %s", res.FailedStage)
	}
}

func TestStageOrdering(t *testing.T) {
	stages := Stages()
	want := []Stage{StageValidation, StagePolicy, StageBuild, StageSign, StageSend, StageConfirm}
	if len(stages) != len(want) {
		t.Fatalf("unexpected stage count: %v", stages)
	}
	for i, s := range want {
		if stages[i] != s {
			t.Fatalf("stage %d: want %s, got %s", i, s, stages[i])
		}
		if s.Index() != i {
			t.Fatalf("stage %s index: want %d, got %d", s, i, s.Index())
		}
	}
	for i := 0; i < len(want)-1; i++ {
		next, ok := want[i].Next()
		if !ok || next != want[i+1] {
			t.Fatalf("stage %s next: want %s, got %s ok=%v", want[i], want[i+1], next, ok)
		}
	}
	if _, ok := StageConfirm.Next(); ok {
		t.Fatal("confirm is the terminal stage")
	}
}
