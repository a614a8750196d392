// Package signer is the only component in the system allowed to consume raw
// key material. It retrieves a key, signs, and discards the key before
// returning; nothing reachable after a call holds key bytes.
package signer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/signer/keystore"
)

// DigestLength is the exact payload size Sign accepts. Adapters hand the
// signer a hash, never a full transaction.
const DigestLength = 32

// Signer signs pipeline payloads with keys fetched from the key store.
// Signing for one wallet is serialized; distinct wallets do not block each
// other.
type Signer struct {
	store keystore.Store
	audit *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures optional signer behaviour.
type Option func(*Signer)

// WithAuditLogger sets the audit sink for key access events.
func WithAuditLogger(logger *slog.Logger) Option {
	return func(s *Signer) {
		s.audit = logger
	}
}

// New constructs a signer over the given key store.
func New(store keystore.Store, opts ...Option) *Signer {
	s := &Signer{store: store, locks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Sign retrieves the wallet's key, signs the digest, and wipes the working
// copy of the key before returning. Errors carry the wallet id, never key
// bytes.
func (s *Signer) Sign(walletID string, digest []byte) ([]byte, error) {
	if s.store == nil {
		return nil, signingError(walletID, nil, "未配置密钥存储")
	}
	if len(digest) != DigestLength {
		return nil, signingError(walletID, nil,
			fmt.Sprintf("签名负载必须是 %d 字节摘要，收到 %d 字节", DigestLength, len(digest)))
	}

	lock := s.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.store.Retrieve(walletID)
	if err != nil {
		return nil, signingError(walletID, err, "获取密钥失败")
	}
	defer wipe(raw)

	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, signingError(walletID, err, "密钥格式非法")
	}
	defer priv.D.SetInt64(0)

	signature, err := crypto.Sign(digest, priv)
	if err != nil {
		return nil, signingError(walletID, err, "签名失败")
	}

	if s.audit != nil {
		s.audit.Info("签名完成",
			slog.String("wallet_id", walletID),
			slog.Int("digest_len", len(digest)),
		)
	}
	return signature, nil
}

// SecretKey is the single sanctioned escape hatch for adapters that must
// co-sign externally constructed payloads. Every call is audit-logged; the
// caller owns the returned copy and must wipe it after use.
func (s *Signer) SecretKey(walletID string) ([]byte, error) {
	if s.store == nil {
		return nil, signingError(walletID, nil, "未配置密钥存储")
	}

	lock := s.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.store.Retrieve(walletID)
	if err != nil {
		return nil, signingError(walletID, err, "获取密钥失败")
	}
	if s.audit != nil {
		s.audit.Warn("密钥被直接取出用于外部协签",
			slog.String("wallet_id", walletID),
		)
	}
	return raw, nil
}

func (s *Signer) walletLock(walletID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[walletID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[walletID] = lock
	}
	return lock
}

func signingError(walletID string, cause error, message string) *xerrors.Error {
	if cause != nil {
		return xerrors.Wrap(xerrors.CodeSigning, cause, message,
			xerrors.WithMetadata("wallet_id", walletID))
	}
	return xerrors.New(xerrors.CodeSigning, message,
		xerrors.WithMetadata("wallet_id", walletID))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
