package keystore

import (
	"fmt"
	"os"
	"sync"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentGuard-Chain/internal/errors"
)

// FileEntry describes where one wallet's encrypted key lives on disk.
// The passphrase is read from the named environment variable at retrieval
// time so it never appears in configuration files.
type FileEntry struct {
	Path          string
	PassphraseEnv string
}

// FileStore reads go-ethereum encrypted keystore JSON files. Decryption
// happens on every retrieval; the plaintext key is never cached.
type FileStore struct {
	mu      sync.RWMutex
	entries map[string]FileEntry
}

// NewFileStore constructs a file-backed store from wallet id to file entries.
func NewFileStore(entries map[string]FileEntry) *FileStore {
	cloned := make(map[string]FileEntry, len(entries))
	for id, entry := range entries {
		cloned[id] = entry
	}
	return &FileStore{entries: cloned}
}

// Retrieve implements Store by decrypting the wallet's keystore file.
func (s *FileStore) Retrieve(walletID string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[walletID]
	s.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("钱包 %s 没有对应的密钥文件", walletID),
			xerrors.WithMetadata("wallet_id", walletID))
	}

	content, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("读取钱包 %s 的密钥文件失败", walletID),
			xerrors.WithMetadata("wallet_id", walletID))
	}

	passphrase := os.Getenv(entry.PassphraseEnv)
	key, err := gethkeystore.DecryptKey(content, passphrase)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("解密钱包 %s 的密钥失败", walletID),
			xerrors.WithMetadata("wallet_id", walletID))
	}

	raw := crypto.FromECDSA(key.PrivateKey)
	key.PrivateKey.D.SetInt64(0)
	return raw, nil
}
