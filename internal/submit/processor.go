package submit

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/executor"
	"AgentGuard-Chain/pkg/logger"
)

// Pipeline 定义了处理器所需的执行能力。
type Pipeline interface {
	ExecuteRaw(ctx context.Context, agentID string, raw []byte) *executor.Result
}

// Processor 负责从队列消费提交并交给执行流水线。
// 流水线的结果总是终态：拒绝与阶段失败都不重试，
// 只有存储或队列层面的故障才会触发重投。
type Processor struct {
	pipeline    Pipeline
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(pipeline Pipeline, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		pipeline:    pipeline,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动提交处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置提交消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个提交。队列消费循环以其为回调。
func (p *Processor) Handle(ctx context.Context, submissionID string) error {
	if p.store == nil || p.pipeline == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	sub, err := p.store.Claim(ctx, submissionID)
	if err != nil {
		if stdErrors.Is(err, ErrNotFound) || stdErrors.Is(err, ErrCompleted) || stdErrors.Is(err, ErrExhausted) {
			p.logDebug("跳过提交", slog.String("submission_id", submissionID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取提交失败", slog.Any("error", err), slog.String("submission_id", submissionID))
		return err
	}

	result := p.pipeline.ExecuteRaw(ctx, sub.AgentID, sub.Payload)

	if err := p.store.Complete(ctx, sub.ID, result); err != nil {
		logger.L().Error("记录执行结果失败", slog.Any("error", err), slog.String("submission_id", sub.ID))
		if storeErr := p.store.MarkFailed(ctx, sub.ID, CodeSubmissionProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("submission_id", sub.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, sub.ID); pubErr != nil {
			return xerrors.Wrap(CodeSubmissionPublish, pubErr, fmt.Sprintf("提交 %s 在结果落库失败后重投失败", sub.ID))
		}
		logger.Audit().Warn("提交在结果落库失败后重试",
			slog.String("submission_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if result != nil && result.Success {
		logger.Audit().Info("提交执行成功",
			slog.String("submission_id", sub.ID),
			slog.String("agent_id", sub.AgentID),
			slog.String("tx_hash", result.TxHash),
		)
		return nil
	}

	status := StatusOf(result)
	attrs := []any{
		slog.String("submission_id", sub.ID),
		slog.String("agent_id", sub.AgentID),
		slog.String("status", string(status)),
	}
	if result != nil {
		attrs = append(attrs,
			slog.String("failed_stage", string(result.FailedStage)),
			slog.String("error_code", result.ErrorCode),
			slog.String("error", result.ErrorMessage),
		)
	}
	logger.Audit().Warn("提交执行未通过", attrs...)
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}
