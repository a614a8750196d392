package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policies 是策略 YAML 文件的顶层结构。未出现或 enabled
// 为 false 的段不注册对应策略。
type Policies struct {
	SpendLimit SpendLimitSection `yaml:"spend_limit"`
	RateLimit  RateLimitSection  `yaml:"rate_limit"`
	Whitelist  WhitelistSection  `yaml:"whitelist"`
}

// SpendLimitSection 配置滑动窗口限额策略。Max 以链上最小
// 单位表示，写成十进制字符串以避免精度丢失。
type SpendLimitSection struct {
	Enabled bool   `yaml:"enabled"`
	Max     string `yaml:"max"`
	Window  string `yaml:"window"`
}

// RateLimitSection 配置每分钟提交频率上限。
type RateLimitSection struct {
	Enabled      bool `yaml:"enabled"`
	MaxPerMinute int  `yaml:"max_per_minute"`
}

// WhitelistSection 配置交互目标白名单。
type WhitelistSection struct {
	Enabled bool     `yaml:"enabled"`
	Targets []string `yaml:"targets"`
}

// LoadPolicies 解析策略 YAML 文件。
func LoadPolicies(path string) (*Policies, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取策略文件失败: %w", err)
	}
	var p Policies
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("解析策略文件失败: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policies) validate() error {
	if p.SpendLimit.Enabled {
		if _, err := p.SpendLimitMax(); err != nil {
			return err
		}
		if _, err := p.SpendLimitWindow(); err != nil {
			return err
		}
	}
	if p.RateLimit.Enabled && p.RateLimit.MaxPerMinute <= 0 {
		return fmt.Errorf("rate_limit.max_per_minute 必须为正数")
	}
	return nil
}

// SpendLimitMax 返回解析后的限额上限。
func (p *Policies) SpendLimitMax() (*big.Int, error) {
	max, ok := new(big.Int).SetString(p.SpendLimit.Max, 10)
	if !ok || max.Sign() <= 0 {
		return nil, fmt.Errorf("spend_limit.max 不是合法的正整数: %q", p.SpendLimit.Max)
	}
	return max, nil
}

// SpendLimitWindow 返回解析后的窗口长度，未填写时为 24 小时。
func (p *Policies) SpendLimitWindow() (time.Duration, error) {
	if p.SpendLimit.Window == "" {
		return 24 * time.Hour, nil
	}
	window, err := time.ParseDuration(p.SpendLimit.Window)
	if err != nil || window <= 0 {
		return 0, fmt.Errorf("spend_limit.window 不是合法的时间窗口: %q", p.SpendLimit.Window)
	}
	return window, nil
}
