package chain

import (
	"context"
	"math/big"

	"AgentGuard-Chain/internal/intent"
)

// UnsignedTransaction is the chain-native transaction an adapter built from
// an intent, before any signature exists. Digest is the exact byte payload
// the signer must sign; Encoded is the adapter's own opaque serialization of
// the unsigned transaction and is handed back untouched at send time.
type UnsignedTransaction struct {
	Chain   string
	Digest  []byte
	Encoded []byte
}

// SignedTransaction pairs the adapter's unsigned encoding with the signature
// produced by the signer. Adapters reassemble the final wire format from the
// two parts; no other component interprets either field.
type SignedTransaction struct {
	Chain     string
	Encoded   []byte
	Signature []byte
}

// Adapter translates intents into chain-native transactions and handles
// submission and confirmation for exactly one chain. Implementations must not
// request key material except through the KeyAccess escape hatch they were
// explicitly constructed with.
type Adapter interface {
	// Name returns the chain identifier this adapter serves.
	Name() string

	// BuildTransaction constructs an unsigned chain-native transaction
	// from a validated intent.
	BuildTransaction(ctx context.Context, it intent.Intent) (*UnsignedTransaction, error)

	// SendTransaction submits a signed transaction and returns its handle
	// (transaction hash) on the target chain.
	SendTransaction(ctx context.Context, tx *SignedTransaction) (string, error)

	// ConfirmTransaction waits for finality of a previously submitted
	// transaction. A false result without error means the chain rejected
	// or reverted the transaction.
	ConfirmTransaction(ctx context.Context, handle string) (bool, error)

	// Balance reports the native balance of an address in the smallest
	// unit of the chain.
	Balance(ctx context.Context, address string) (*big.Int, error)

	// Close releases any network resources held by the adapter.
	Close()
}

// AddressResolver maps opaque wallet identifiers to chain addresses.
// Adapters receive one at construction so intents never carry raw addresses
// for the sending side.
type AddressResolver interface {
	Address(walletID string) (string, error)
}

// KeyAccess is the single sanctioned escape hatch through which an adapter
// may obtain raw key material, for flows that require co-signing an
// externally constructed payload (e.g. a swap approval issued on behalf of
// the wallet). Every call is expected to be audited by the implementation;
// adapters must discard the returned bytes as soon as the co-signing step
// completes.
type KeyAccess interface {
	SecretKey(walletID string) ([]byte, error)
}
