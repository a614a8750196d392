package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
	ChannelLog     Channel = "log"
)

// Event 描述一次需要告警的流水线事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	IntentID   string
	AgentID    string
	Chain      string
	Stage      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func summary(event Event) string {
	return fmt.Sprintf("[%s] %s 意图=%s 代理=%s 链=%s 阶段=%s: %s",
		event.Severity, event.Code, event.IntentID, event.AgentID, event.Chain, event.Stage, event.Message)
}

// SlackSender 负责向 Slack 渠道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 通过 Slack 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("intent_id", event.IntentID))
		return nil
	}
	content := fmt.Sprintf("*%s*", summary(event))
	if len(event.Metadata) > 0 {
		for k, v := range event.Metadata {
			content += fmt.Sprintf("\n> %s: %s", k, v)
		}
	}
	return n.Sender.Send(ctx, n.ChannelID, content)
}

// WebhookSender 负责将告警推送到外部 Webhook。
type WebhookSender interface {
	Send(ctx context.Context, payload Event) error
}

// WebhookNotifier 通过通用 Webhook 发送告警。
type WebhookNotifier struct {
	Sender WebhookSender
}

// Channel 返回 Webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 推送 Webhook 消息。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("intent_id", event.IntentID))
		return nil
	}
	return n.Sender.Send(ctx, event)
}

// LogNotifier 将告警写入审计日志，作为兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录审计日志。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("intent_id", event.IntentID),
		slog.String("agent_id", event.AgentID),
		slog.String("chain", event.Chain),
		slog.String("stage", event.Stage),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}
	logger.Audit().Warn(event.Message, attrs...)
	return nil
}
