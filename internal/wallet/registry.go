package wallet

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"AgentGuard-Chain/internal/chain"
	xerrors "AgentGuard-Chain/internal/errors"
)

// Wallet 描述一个受管钱包。钱包标识是不透明的，
// 系统上游只见标识，私钥材料只在签名器内出现。
type Wallet struct {
	ID      string `yaml:"id"`
	Chain   string `yaml:"chain"`
	Address string `yaml:"address"`
}

// Registry 维护钱包标识到链上地址的映射，并提供余额查询。
type Registry struct {
	mu      sync.RWMutex
	wallets map[string]Wallet
	router  *chain.Router
}

// NewRegistry 构造钱包注册表。
func NewRegistry(router *chain.Router) *Registry {
	return &Registry{wallets: make(map[string]Wallet), router: router}
}

// Add 注册一个钱包。重复的标识会被拒绝。
func (r *Registry) Add(w Wallet) error {
	if strings.TrimSpace(w.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "钱包标识不能为空")
	}
	if strings.TrimSpace(w.Address) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "钱包地址不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.wallets[w.ID]; exists {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("钱包 %s 已注册", w.ID),
			xerrors.WithMetadata("wallet_id", w.ID))
	}
	r.wallets[w.ID] = w
	return nil
}

// Get 返回指定标识的钱包。
func (r *Registry) Get(walletID string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return Wallet{}, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("钱包 %s 未注册", walletID),
			xerrors.WithMetadata("wallet_id", walletID))
	}
	return w, nil
}

// Address 实现 chain.AddressResolver。
func (r *Registry) Address(walletID string) (string, error) {
	w, err := r.Get(walletID)
	if err != nil {
		return "", err
	}
	return w.Address, nil
}

// IDs 返回已注册钱包标识的有序列表。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.wallets))
	for id := range r.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Balance 通过钱包所属链的适配器查询当前余额。
func (r *Registry) Balance(ctx context.Context, walletID string) (*big.Int, error) {
	w, err := r.Get(walletID)
	if err != nil {
		return nil, err
	}
	if r.router == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链路由")
	}
	adapter, err := r.router.Resolve(w.Chain)
	if err != nil {
		return nil, err
	}
	balance, err := adapter.Balance(ctx, w.Address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBalanceLookup, err,
			fmt.Sprintf("查询钱包 %s 余额失败", walletID),
			xerrors.WithMetadata("wallet_id", walletID))
	}
	return balance, nil
}

// definitionsFile 对应 configs/wallets.yaml 的结构。
type definitionsFile struct {
	Wallets []Wallet `yaml:"wallets"`
}

// LoadDefinitions 从 YAML 文件加载钱包定义。
func LoadDefinitions(path string) ([]Wallet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取钱包配置失败: %w", err)
	}
	var defs definitionsFile
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析钱包配置失败: %w", err)
	}
	return defs.Wallets, nil
}
