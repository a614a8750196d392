// Package ethereum implements the chain adapter contract for EVM compatible
// networks on top of go-ethereum.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentGuard-Chain/internal/chain"
	"AgentGuard-Chain/internal/intent"
)

// erc20ABI covers the two methods the adapter invokes on token contracts.
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"mint","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]}
]`

// poolABI models the minimal swap entry point the adapter targets.
const poolABI = `[
	{"name":"swap","type":"function","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]}
]`

const (
	defaultGasLimitTransfer = uint64(21_000)
	defaultGasLimitCall     = uint64(200_000)
	defaultConfirmAttempts  = 20
	defaultConfirmInterval  = 3 * time.Second
)

// Config describes how to construct an EVM adapter.
type Config struct {
	Name            string
	RPCURL          string
	ConfirmAttempts int
	ConfirmInterval time.Duration
	Notes           string
}

// backend mirrors the subset of ethclient the adapter depends on, so tests
// can substitute a simulated implementation.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Adapter implements chain.Adapter for EVM compatible chains.
type Adapter struct {
	name            string
	notes           string
	rpcClient       *gethrpc.Client
	eth             backend
	resolver        chain.AddressResolver
	keys            chain.KeyAccess
	erc20           abi.ABI
	pool            abi.ABI
	confirmAttempts int
	confirmInterval time.Duration
}

// Option configures optional adapter behaviour.
type Option func(*Adapter)

// WithKeyAccess enables the swap approval co-signing path. Without it the
// adapter refuses swap intents that require an approval.
func WithKeyAccess(keys chain.KeyAccess) Option {
	return func(a *Adapter) {
		a.keys = keys
	}
}

// NewAdapter dials the configured RPC endpoint and returns a ready adapter.
func NewAdapter(ctx context.Context, cfg Config, resolver chain.AddressResolver, opts ...Option) (*Adapter, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if resolver == nil {
		return nil, errors.New("未配置钱包地址解析器")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	adapter, err := newAdapter(cfg, ethclient.NewClient(rpcClient), resolver, opts...)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	adapter.rpcClient = rpcClient
	return adapter, nil
}

// NewAdapterWithBackend wraps an existing backend, typically the go-ethereum
// simulated backend in tests.
func NewAdapterWithBackend(cfg Config, eth backend, resolver chain.AddressResolver, opts ...Option) (*Adapter, error) {
	if resolver == nil {
		return nil, errors.New("未配置钱包地址解析器")
	}
	return newAdapter(cfg, eth, resolver, opts...)
}

func newAdapter(cfg Config, eth backend, resolver chain.AddressResolver, opts ...Option) (*Adapter, error) {
	parsedERC20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	parsedPool, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("解析池 ABI 失败: %w", err)
	}

	attempts := cfg.ConfirmAttempts
	if attempts <= 0 {
		attempts = defaultConfirmAttempts
	}
	interval := cfg.ConfirmInterval
	if interval <= 0 {
		interval = defaultConfirmInterval
	}

	a := &Adapter{
		name:            cfg.Name,
		notes:           cfg.Notes,
		eth:             eth,
		resolver:        resolver,
		erc20:           parsedERC20,
		pool:            parsedPool,
		confirmAttempts: attempts,
		confirmInterval: interval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Name returns the chain identifier this adapter serves.
func (a *Adapter) Name() string { return a.name }

// Close releases network connections held by the adapter.
func (a *Adapter) Close() {
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
	}
}

// Balance reports the native balance of an address in wei.
func (a *Adapter) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("非法的以太坊地址: %s", address)
	}
	balance, err := a.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// BuildTransaction constructs an unsigned EVM transaction from the intent.
// The digest is the EIP-155 signing hash; the encoding is the canonical
// binary form of the unsigned transaction.
func (a *Adapter) BuildTransaction(ctx context.Context, it intent.Intent) (*chain.UnsignedTransaction, error) {
	header := it.Common()
	fromHex, err := a.resolver.Address(header.FromWalletID)
	if err != nil {
		return nil, fmt.Errorf("解析钱包 %s 的地址失败: %w", header.FromWalletID, err)
	}
	if !common.IsHexAddress(fromHex) {
		return nil, fmt.Errorf("钱包 %s 解析出非法地址: %s", header.FromWalletID, fromHex)
	}
	from := common.HexToAddress(fromHex)

	var (
		to       common.Address
		value    = new(big.Int)
		data     []byte
		gasLimit uint64
	)

	// 封闭意图集合的消费点之一。
	switch v := it.(type) {
	case *intent.Transfer:
		if !common.IsHexAddress(v.To) {
			return nil, fmt.Errorf("非法的收款地址: %s", v.To)
		}
		if v.TokenMint == "" {
			to = common.HexToAddress(v.To)
			value = new(big.Int).Set(v.Amount)
			gasLimit = defaultGasLimitTransfer
		} else {
			if !common.IsHexAddress(v.TokenMint) {
				return nil, fmt.Errorf("非法的代币合约地址: %s", v.TokenMint)
			}
			to = common.HexToAddress(v.TokenMint)
			data, err = a.erc20.Pack("transfer", common.HexToAddress(v.To), v.Amount)
			if err != nil {
				return nil, fmt.Errorf("编码代币转账失败: %w", err)
			}
			gasLimit = defaultGasLimitCall
		}
	case *intent.Swap:
		if !common.IsHexAddress(v.Pool) {
			return nil, fmt.Errorf("非法的池地址: %s", v.Pool)
		}
		if !common.IsHexAddress(v.MintIn) || !common.IsHexAddress(v.MintOut) {
			return nil, fmt.Errorf("非法的代币对: %s / %s", v.MintIn, v.MintOut)
		}
		if err := a.approveSwap(ctx, header.FromWalletID, from, v); err != nil {
			return nil, err
		}
		to = common.HexToAddress(v.Pool)
		data, err = a.pool.Pack("swap",
			common.HexToAddress(v.MintIn),
			common.HexToAddress(v.MintOut),
			v.AmountIn,
			v.MinAmountOut,
			from,
		)
		if err != nil {
			return nil, fmt.Errorf("编码兑换调用失败: %w", err)
		}
		gasLimit = defaultGasLimitCall
	case *intent.Mint:
		if !common.IsHexAddress(v.TokenMint) {
			return nil, fmt.Errorf("非法的代币合约地址: %s", v.TokenMint)
		}
		to = common.HexToAddress(v.TokenMint)
		if !common.IsHexAddress(v.Recipient) {
			return nil, fmt.Errorf("非法的铸造接收地址: %s", v.Recipient)
		}
		data, err = a.erc20.Pack("mint", common.HexToAddress(v.Recipient), v.Amount)
		if err != nil {
			return nil, fmt.Errorf("编码铸造调用失败: %w", err)
		}
		gasLimit = defaultGasLimitCall
	default:
		return nil, fmt.Errorf("暂不支持的意图类型: %s", it.Kind())
	}

	chainID, err := a.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	nonce, err := a.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("获取交易计数失败: %w", err)
	}
	gasPrice, err := a.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	tipCap, err := a.eth.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = gasPrice
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: gasPrice,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	encoded, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("序列化交易失败: %w", err)
	}
	digest := coretypes.LatestSignerForChainID(chainID).Hash(tx)

	return &chain.UnsignedTransaction{
		Chain:   a.name,
		Digest:  digest.Bytes(),
		Encoded: encoded,
	}, nil
}

// approveSwap issues the ERC-20 approval the pool requires before a swap.
// This is the one co-signing flow that touches raw key material, through the
// explicitly granted KeyAccess escape hatch; the key copy is wiped as soon
// as the transactor has been constructed.
func (a *Adapter) approveSwap(ctx context.Context, walletID string, from common.Address, v *intent.Swap) error {
	if a.keys == nil {
		return errors.New("兑换需要代币授权，但适配器未被授予密钥访问能力")
	}

	raw, err := a.keys.SecretKey(walletID)
	if err != nil {
		return fmt.Errorf("获取协签密钥失败: %w", err)
	}
	priv, err := crypto.ToECDSA(raw)
	wipeBytes(raw)
	if err != nil {
		return fmt.Errorf("协签密钥格式非法: %w", err)
	}
	defer priv.D.SetInt64(0)

	chainID, err := a.eth.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("获取链 ID 失败: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(priv, chainID)
	if err != nil {
		return fmt.Errorf("构造协签交易器失败: %w", err)
	}
	auth.Context = ctx

	nonce, err := a.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("获取交易计数失败: %w", err)
	}
	gasPrice, err := a.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("获取 gas 价格失败: %w", err)
	}

	data, err := a.erc20.Pack("approve", common.HexToAddress(v.Pool), v.AmountIn)
	if err != nil {
		return fmt.Errorf("编码授权调用失败: %w", err)
	}

	token := common.HexToAddress(v.MintIn)
	approveTx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      defaultGasLimitCall,
		To:       &token,
		Data:     data,
	})
	signedApprove, err := auth.Signer(auth.From, approveTx)
	if err != nil {
		return fmt.Errorf("签署授权交易失败: %w", err)
	}
	if err := a.eth.SendTransaction(ctx, signedApprove); err != nil {
		return fmt.Errorf("发送授权交易失败: %w", err)
	}
	return nil
}

// SendTransaction reassembles the signed transaction and broadcasts it.
func (a *Adapter) SendTransaction(ctx context.Context, signed *chain.SignedTransaction) (string, error) {
	if signed == nil || len(signed.Encoded) == 0 {
		return "", errors.New("没有可发送的交易")
	}

	var tx coretypes.Transaction
	if err := tx.UnmarshalBinary(signed.Encoded); err != nil {
		return "", fmt.Errorf("还原交易失败: %w", err)
	}

	chainID := tx.ChainId()
	withSig, err := tx.WithSignature(coretypes.LatestSignerForChainID(chainID), signed.Signature)
	if err != nil {
		return "", fmt.Errorf("组装签名交易失败: %w", err)
	}

	if err := a.eth.SendTransaction(ctx, withSig); err != nil {
		return "", fmt.Errorf("发送交易失败: %w", err)
	}
	return withSig.Hash().Hex(), nil
}

// ConfirmTransaction polls for the receipt until it lands or the attempt
// budget is exhausted. A reverted transaction reports false without error.
func (a *Adapter) ConfirmTransaction(ctx context.Context, handle string) (bool, error) {
	hash := common.HexToHash(handle)

	for attempt := 0; attempt < a.confirmAttempts; attempt++ {
		receipt, err := a.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt.Status == coretypes.ReceiptStatusSuccessful, nil
		}
		if err != nil && !errors.Is(err, context.Canceled) && !isNotFound(err) {
			return false, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(a.confirmInterval):
		}
	}
	return false, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var _ chain.Adapter = (*Adapter)(nil)
