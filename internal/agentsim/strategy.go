// Package agentsim 提供一个可脚本化的代理模拟器，按节奏向
// 提交服务投递意图。它既是联调工具，也是策略配置的试金石：
// 上线前先用模拟流量验证限额与白名单是否按预期拦截。
package agentsim

import (
	"fmt"
	"math/big"
	"math/rand"

	"github.com/google/uuid"

	"AgentGuard-Chain/internal/intent"
)

// Strategy 决定模拟代理每个节拍产生什么意图。
// 返回 nil 表示本节拍不提交。
type Strategy interface {
	Next(seq int) intent.Intent
}

// Scripted 按固定脚本循环产生意图。
type Scripted struct {
	Intents []intent.Intent
	Loop    bool
}

// Next 实现 Strategy。脚本耗尽且不循环时返回 nil。
func (s *Scripted) Next(seq int) intent.Intent {
	if len(s.Intents) == 0 {
		return nil
	}
	if seq >= len(s.Intents) && !s.Loop {
		return nil
	}
	return s.Intents[seq%len(s.Intents)]
}

// RandomTransfers 生成金额随机的原生转账，用于压测限额策略。
type RandomTransfers struct {
	Chain     string
	WalletID  string
	To        string
	MaxAmount int64
	rng       *rand.Rand
}

// NewRandomTransfers 创建随机转账策略。seed 固定时序列可复现。
func NewRandomTransfers(chain, walletID, to string, maxAmount, seed int64) *RandomTransfers {
	if maxAmount <= 0 {
		maxAmount = 1_000_000
	}
	return &RandomTransfers{
		Chain:     chain,
		WalletID:  walletID,
		To:        to,
		MaxAmount: maxAmount,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Next 实现 Strategy。
func (r *RandomTransfers) Next(seq int) intent.Intent {
	amount := r.rng.Int63n(r.MaxAmount) + 1
	return &intent.Transfer{
		Header: intent.NewHeader(
			fmt.Sprintf("sim-%s-%d", uuid.NewString()[:8], seq),
			r.Chain,
			r.WalletID,
		),
		To:     r.To,
		Amount: big.NewInt(amount),
	}
}
