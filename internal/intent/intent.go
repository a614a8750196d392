package intent

import (
	"math/big"
	"time"
)

// Kind 标识意图的动作类型。
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindSwap     Kind = "swap"
	KindMint     Kind = "mint"
)

// IsValidKind 检查给定的意图类型是否为支持的枚举值。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindTransfer, KindSwap, KindMint:
		return true
	default:
		return false
	}
}

// Header 包含所有意图共有的字段。Reasoning 仅用于审计，
// 不参与任何策略评估。
type Header struct {
	ID           string `json:"id"`
	Chain        string `json:"chain"`
	FromWalletID string `json:"from_wallet_id"`
	CreatedAt    int64  `json:"created_at"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Intent 是智能体提出的不可变动作请求。实现是一个封闭集合：
// transfer、swap、mint。新增类型必须同时修改所有 switch 消费点。
type Intent interface {
	Kind() Kind
	Common() Header

	sealed()
}

// Transfer 描述一次原生资产或代币的转账。
// TokenMint 为空表示原生资产。
type Transfer struct {
	Header
	To        string   `json:"to"`
	Amount    *big.Int `json:"amount"`
	TokenMint string   `json:"token_mint,omitempty"`
}

func (t *Transfer) Kind() Kind     { return KindTransfer }
func (t *Transfer) Common() Header { return t.Header }
func (t *Transfer) sealed()        {}

// Swap 描述一次经由指定池的兑换。
type Swap struct {
	Header
	Pool         string   `json:"pool"`
	MintIn       string   `json:"mint_in"`
	MintOut      string   `json:"mint_out"`
	AmountIn     *big.Int `json:"amount_in"`
	MinAmountOut *big.Int `json:"min_amount_out"`
}

func (s *Swap) Kind() Kind     { return KindSwap }
func (s *Swap) Common() Header { return s.Header }
func (s *Swap) sealed()        {}

// Mint 描述一次代币铸造。
type Mint struct {
	Header
	TokenMint string   `json:"token_mint"`
	Recipient string   `json:"recipient"`
	Amount    *big.Int `json:"amount"`
}

func (m *Mint) Kind() Kind     { return KindMint }
func (m *Mint) Common() Header { return m.Header }
func (m *Mint) sealed()        {}

// NewHeader 构造带当前时间戳的公共字段。
func NewHeader(id, chain, walletID string) Header {
	return Header{
		ID:           id,
		Chain:        chain,
		FromWalletID: walletID,
		CreatedAt:    time.Now().Unix(),
	}
}
