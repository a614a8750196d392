package agentsim

import (
	"context"
	"log/slog"
	"time"

	"AgentGuard-Chain/internal/intent"
	"AgentGuard-Chain/internal/submit"
	"AgentGuard-Chain/pkg/logger"
)

// Submitter 是 Runner 依赖的提交入口。
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*submit.Submission, error)
}

// Runner 以固定节拍驱动一个模拟代理。
type Runner struct {
	AgentID  string
	Strategy Strategy
	Interval time.Duration
	Count    int

	submitter Submitter
	logger    *slog.Logger
}

// NewRunner 创建模拟代理。count 为 0 时持续运行直到 ctx 取消。
func NewRunner(agentID string, strategy Strategy, submitter Submitter, interval time.Duration, count int) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{
		AgentID:   agentID,
		Strategy:  strategy,
		Interval:  interval,
		Count:     count,
		submitter: submitter,
		logger:    logger.L().With(slog.String("agent_id", agentID)),
	}
}

// Run 阻塞执行，直到脚本耗尽、达到计数上限或 ctx 被取消。
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for seq := 0; r.Count <= 0 || seq < r.Count; seq++ {
		it := r.Strategy.Next(seq)
		if it == nil {
			r.logger.Info("脚本结束，模拟代理退出", slog.Int("submitted", seq))
			return nil
		}

		raw, err := intent.Marshal(it)
		if err != nil {
			r.logger.Error("序列化意图失败", slog.Any("error", err))
			return err
		}
		sub, err := r.submitter.Submit(ctx, submit.Request{
			ID:      it.Common().ID,
			AgentID: r.AgentID,
			Intent:  raw,
		})
		if err != nil {
			r.logger.Warn("提交意图失败",
				slog.String("intent_id", it.Common().ID),
				slog.Any("error", err),
			)
		} else {
			r.logger.Info("提交意图",
				slog.String("submission_id", sub.ID),
				slog.String("kind", string(it.Kind())),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
