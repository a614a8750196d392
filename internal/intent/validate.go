package intent

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Violation 描述一条具体的校验失败信息。
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 聚合一次校验中发现的全部问题，而不是只报告第一条。
type ValidationError struct {
	violations []Violation
}

// Error 实现 error 接口。
func (e *ValidationError) Error() string {
	if e == nil || len(e.violations) == 0 {
		return "意图校验失败"
	}
	parts := make([]string, 0, len(e.violations))
	for _, v := range e.violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "意图校验失败: " + strings.Join(parts, "; ")
}

// Violations 返回全部校验问题。
func (e *ValidationError) Violations() []Violation {
	if e == nil {
		return nil
	}
	out := make([]Violation, len(e.violations))
	copy(out, e.violations)
	return out
}

func (e *ValidationError) add(field, message string) {
	e.violations = append(e.violations, Violation{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.violations) == 0 {
		return nil
	}
	return e
}

// rawEnvelope 是未定型输入的中间表示。金额字段保留原始 JSON，
// 以便拒绝浮点数并支持任意精度整数。
type rawEnvelope struct {
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	Chain        string          `json:"chain"`
	FromWalletID string          `json:"from_wallet_id"`
	CreatedAt    int64           `json:"created_at"`
	Reasoning    string          `json:"reasoning"`
	To           string          `json:"to"`
	Amount       json.RawMessage `json:"amount"`
	TokenMint    string          `json:"token_mint"`
	Pool         string          `json:"pool"`
	MintIn       string          `json:"mint_in"`
	MintOut      string          `json:"mint_out"`
	AmountIn     json.RawMessage `json:"amount_in"`
	MinAmountOut json.RawMessage `json:"min_amount_out"`
	Recipient    string          `json:"recipient"`
}

// Parse 将原始 JSON 输入解析为定型意图。任何一条约束不满足都会被记录，
// 全部问题通过 *ValidationError 一次性返回。
func Parse(raw []byte) (Intent, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		verr := &ValidationError{}
		verr.add("payload", fmt.Sprintf("JSON 解析失败: %v", err))
		return nil, verr
	}
	return fromEnvelope(&env)
}

func fromEnvelope(env *rawEnvelope) (Intent, error) {
	verr := &ValidationError{}

	if strings.TrimSpace(env.ID) == "" {
		verr.add("id", "不能为空")
	}
	if strings.TrimSpace(env.Chain) == "" {
		verr.add("chain", "不能为空")
	}
	if strings.TrimSpace(env.FromWalletID) == "" {
		verr.add("from_wallet_id", "不能为空")
	}

	header := Header{
		ID:           strings.TrimSpace(env.ID),
		Chain:        strings.TrimSpace(env.Chain),
		FromWalletID: strings.TrimSpace(env.FromWalletID),
		CreatedAt:    env.CreatedAt,
		Reasoning:    env.Reasoning,
	}

	var built Intent
	switch Kind(env.Kind) {
	case KindTransfer:
		amount := parseAmount(verr, "amount", env.Amount, true, false)
		if strings.TrimSpace(env.To) == "" {
			verr.add("to", "不能为空")
		}
		built = &Transfer{
			Header:    header,
			To:        strings.TrimSpace(env.To),
			Amount:    amount,
			TokenMint: strings.TrimSpace(env.TokenMint),
		}
	case KindSwap:
		amountIn := parseAmount(verr, "amount_in", env.AmountIn, true, false)
		minOut := parseAmount(verr, "min_amount_out", env.MinAmountOut, false, true)
		if minOut == nil {
			minOut = big.NewInt(0)
		}
		if strings.TrimSpace(env.Pool) == "" {
			verr.add("pool", "不能为空")
		}
		if strings.TrimSpace(env.MintIn) == "" {
			verr.add("mint_in", "不能为空")
		}
		if strings.TrimSpace(env.MintOut) == "" {
			verr.add("mint_out", "不能为空")
		}
		built = &Swap{
			Header:       header,
			Pool:         strings.TrimSpace(env.Pool),
			MintIn:       strings.TrimSpace(env.MintIn),
			MintOut:      strings.TrimSpace(env.MintOut),
			AmountIn:     amountIn,
			MinAmountOut: minOut,
		}
	case KindMint:
		amount := parseAmount(verr, "amount", env.Amount, true, false)
		if strings.TrimSpace(env.TokenMint) == "" {
			verr.add("token_mint", "不能为空")
		}
		if strings.TrimSpace(env.Recipient) == "" {
			verr.add("recipient", "不能为空")
		}
		built = &Mint{
			Header:    header,
			TokenMint: strings.TrimSpace(env.TokenMint),
			Recipient: strings.TrimSpace(env.Recipient),
			Amount:    amount,
		}
	case "":
		verr.add("kind", "不能为空")
	default:
		verr.add("kind", fmt.Sprintf("未知的意图类型: %s", env.Kind))
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return built, nil
}

// parseAmount 解析金额字段。金额必须是十进制整数（JSON 数字或字符串均可），
// 浮点输入一律拒绝。required 控制缺省是否合法，allowZero 控制零值是否合法。
func parseAmount(verr *ValidationError, field string, raw json.RawMessage, required, allowZero bool) *big.Int {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		if required {
			verr.add(field, "不能为空")
		}
		return nil
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = strings.TrimSpace(text[1 : len(text)-1])
		if text == "" {
			if required {
				verr.add(field, "不能为空")
			}
			return nil
		}
	}
	if strings.ContainsAny(text, ".eE") {
		verr.add(field, "必须是整数，不接受浮点数")
		return nil
	}

	value, ok := new(big.Int).SetString(text, 10)
	if !ok {
		verr.add(field, fmt.Sprintf("无法解析为整数: %s", text))
		return nil
	}
	if value.Sign() < 0 {
		verr.add(field, "不能为负数")
		return nil
	}
	if value.Sign() == 0 && !allowZero {
		verr.add(field, "必须大于零")
		return nil
	}
	return value
}

// Validate 对已定型的意图执行与 Parse 相同的约束检查。
// 对同一个合法意图重复调用，结果保持一致。
func Validate(it Intent) error {
	verr := &ValidationError{}
	if it == nil {
		verr.add("intent", "不能为空")
		return verr.orNil()
	}

	header := it.Common()
	if strings.TrimSpace(header.ID) == "" {
		verr.add("id", "不能为空")
	}
	if strings.TrimSpace(header.Chain) == "" {
		verr.add("chain", "不能为空")
	}
	if strings.TrimSpace(header.FromWalletID) == "" {
		verr.add("from_wallet_id", "不能为空")
	}

	checkPositive := func(field string, value *big.Int) {
		if value == nil {
			verr.add(field, "不能为空")
			return
		}
		if value.Sign() <= 0 {
			verr.add(field, "必须大于零")
		}
	}

	switch v := it.(type) {
	case *Transfer:
		checkPositive("amount", v.Amount)
		if strings.TrimSpace(v.To) == "" {
			verr.add("to", "不能为空")
		}
	case *Swap:
		checkPositive("amount_in", v.AmountIn)
		if v.MinAmountOut == nil || v.MinAmountOut.Sign() < 0 {
			verr.add("min_amount_out", "不能为负数")
		}
		if strings.TrimSpace(v.Pool) == "" {
			verr.add("pool", "不能为空")
		}
		if strings.TrimSpace(v.MintIn) == "" {
			verr.add("mint_in", "不能为空")
		}
		if strings.TrimSpace(v.MintOut) == "" {
			verr.add("mint_out", "不能为空")
		}
	case *Mint:
		checkPositive("amount", v.Amount)
		if strings.TrimSpace(v.TokenMint) == "" {
			verr.add("token_mint", "不能为空")
		}
		if strings.TrimSpace(v.Recipient) == "" {
			verr.add("recipient", "不能为空")
		}
	default:
		verr.add("kind", fmt.Sprintf("未知的意图类型: %s", it.Kind()))
	}

	return verr.orNil()
}

// Marshal 将意图序列化为带类型判别符的 JSON 表示，
// 可被 Parse 原样还原。
func Marshal(it Intent) ([]byte, error) {
	if it == nil {
		return nil, fmt.Errorf("意图不能为空")
	}
	body, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("序列化意图失败: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("序列化意图失败: %w", err)
	}
	fields["kind"] = json.RawMessage(fmt.Sprintf("%q", it.Kind()))
	return json.Marshal(fields)
}
