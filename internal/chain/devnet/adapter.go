// Package devnet provides a deterministic in-memory chain adapter for tests
// and local simulation. It honours the full adapter contract — build, send,
// confirm, balances — without any network access, and supports failure
// injection per stage.
package devnet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"AgentGuard-Chain/internal/chain"
	"AgentGuard-Chain/internal/intent"
)

// signatureLength matches the secp256k1 recoverable signature the signer
// produces.
const signatureLength = 65

// Adapter is an in-memory chain. Balances are credited explicitly; sent
// transactions settle according to the configured confirm outcome.
type Adapter struct {
	name     string
	resolver chain.AddressResolver

	mu        sync.Mutex
	balances  map[string]*big.Int
	submitted map[string]*chain.SignedTransaction

	buildErr   error
	sendErr    error
	confirmErr error
	confirmOK  bool
}

// NewAdapter constructs a devnet adapter for the given chain name.
func NewAdapter(name string, resolver chain.AddressResolver) *Adapter {
	return &Adapter{
		name:      name,
		resolver:  resolver,
		balances:  make(map[string]*big.Int),
		submitted: make(map[string]*chain.SignedTransaction),
		confirmOK: true,
	}
}

// Credit sets the native balance of an address.
func (a *Adapter) Credit(address string, amount *big.Int) {
	a.mu.Lock()
	a.balances[address] = new(big.Int).Set(amount)
	a.mu.Unlock()
}

// FailBuild injects an error into BuildTransaction.
func (a *Adapter) FailBuild(err error) { a.mu.Lock(); a.buildErr = err; a.mu.Unlock() }

// FailSend injects an error into SendTransaction.
func (a *Adapter) FailSend(err error) { a.mu.Lock(); a.sendErr = err; a.mu.Unlock() }

// FailConfirm injects an error into ConfirmTransaction.
func (a *Adapter) FailConfirm(err error) { a.mu.Lock(); a.confirmErr = err; a.mu.Unlock() }

// SetConfirmResult controls the finality outcome for subsequent sends.
func (a *Adapter) SetConfirmResult(ok bool) { a.mu.Lock(); a.confirmOK = ok; a.mu.Unlock() }

// Submitted reports how many transactions have been sent.
func (a *Adapter) Submitted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submitted)
}

// Name returns the chain identifier this adapter serves.
func (a *Adapter) Name() string { return a.name }

// Close is a no-op for the in-memory chain.
func (a *Adapter) Close() {}

// Balance reports the credited balance of an address.
func (a *Adapter) Balance(ctx context.Context, address string) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, ok := a.balances[address]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// BuildTransaction encodes the intent deterministically; the digest is the
// SHA-256 of the encoding.
func (a *Adapter) BuildTransaction(ctx context.Context, it intent.Intent) (*chain.UnsignedTransaction, error) {
	a.mu.Lock()
	buildErr := a.buildErr
	a.mu.Unlock()
	if buildErr != nil {
		return nil, buildErr
	}

	if a.resolver != nil {
		if _, err := a.resolver.Address(it.Common().FromWalletID); err != nil {
			return nil, fmt.Errorf("解析钱包地址失败: %w", err)
		}
	}

	encoded, err := intent.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("编码意图失败: %w", err)
	}
	digest := sha256.Sum256(encoded)

	return &chain.UnsignedTransaction{
		Chain:   a.name,
		Digest:  digest[:],
		Encoded: encoded,
	}, nil
}

// SendTransaction accepts any transaction carrying a plausible signature and
// returns a deterministic handle.
func (a *Adapter) SendTransaction(ctx context.Context, tx *chain.SignedTransaction) (string, error) {
	a.mu.Lock()
	sendErr := a.sendErr
	a.mu.Unlock()
	if sendErr != nil {
		return "", sendErr
	}
	if tx == nil || len(tx.Encoded) == 0 {
		return "", errors.New("没有可发送的交易")
	}
	if len(tx.Signature) != signatureLength {
		return "", fmt.Errorf("签名长度非法: %d", len(tx.Signature))
	}

	sum := sha256.Sum256(append(append([]byte{}, tx.Encoded...), tx.Signature...))
	handle := "0x" + hex.EncodeToString(sum[:])

	a.mu.Lock()
	a.submitted[handle] = tx
	a.mu.Unlock()
	return handle, nil
}

// ConfirmTransaction reports the configured finality outcome for a known
// handle.
func (a *Adapter) ConfirmTransaction(ctx context.Context, handle string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.confirmErr != nil {
		return false, a.confirmErr
	}
	if _, ok := a.submitted[handle]; !ok {
		return false, fmt.Errorf("未知的交易句柄: %s", handle)
	}
	return a.confirmOK, nil
}

var _ chain.Adapter = (*Adapter)(nil)
