// Package executor 实现意图执行流水线：
// 校验 -> 策略 -> 构造 -> 签名 -> 发送 -> 确认。
// 任何失败都终止在当前阶段，并产出结构化的执行结果，
// 调用方永远拿到 Result 而不是裸错误。
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"AgentGuard-Chain/internal/chain"
	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/intent"
	"AgentGuard-Chain/internal/observability/alerting"
	"AgentGuard-Chain/internal/observability/metrics"
	"AgentGuard-Chain/internal/policy"
	"AgentGuard-Chain/internal/signer"
	"AgentGuard-Chain/internal/wallet"
	"AgentGuard-Chain/pkg/logger"
)

// Result 是一次流水线执行的最终产物。Success 为 true 时
// TxHash 与 ConfirmedAt 有效；为 false 时 FailedStage、
// ErrorCode、ErrorMessage 描述终止位置，若终止于策略阶段
// 则 Denial 额外携带拒绝详情。
type Result struct {
	IntentID     string            `json:"intent_id"`
	AgentID      string            `json:"agent_id"`
	Kind         string            `json:"kind,omitempty"`
	Chain        string            `json:"chain,omitempty"`
	Success      bool              `json:"success"`
	TxHash       string            `json:"tx_hash,omitempty"`
	ConfirmedAt  time.Time         `json:"confirmed_at,omitzero"`
	FailedStage  Stage             `json:"failed_stage,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Denial       *policy.Decision  `json:"denial,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Executor 串联路由、策略引擎与签名器，驱动单个意图走完流水线。
// 同一实例可被多个 goroutine 并发调用；按代理维度的串行化
// 由策略引擎内部保证。
type Executor struct {
	router  *chain.Router
	engine  *policy.Engine
	signer  *signer.Signer
	wallets *wallet.Registry
	alerts  alerting.Dispatcher
	logger  *slog.Logger
	now     func() time.Time
}

// Option 调整 Executor 的可选依赖。
type Option func(*Executor)

// WithAlerts 注入告警分发器，流水线失败且错误码要求告警时触发。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(e *Executor) { e.alerts = d }
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock 覆盖时钟，仅测试使用。
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New 创建 Executor。router、engine、signer、wallets 均为必需依赖。
func New(router *chain.Router, engine *policy.Engine, sg *signer.Signer, wallets *wallet.Registry, opts ...Option) *Executor {
	e := &Executor{
		router:  router,
		engine:  engine,
		signer:  sg,
		wallets: wallets,
		logger:  logger.L(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRaw 解析一段原始意图 JSON 并执行。解析即校验的一部分，
// 解析失败会产出终止于校验阶段的 Result。
func (e *Executor) ExecuteRaw(ctx context.Context, agentID string, raw []byte) *Result {
	it, err := intent.Parse(raw)
	if err != nil {
		res := &Result{AgentID: agentID, Metadata: map[string]string{}}
		e.fail(res, StageValidation, xerrors.Wrap(xerrors.CodeValidation, err, "意图解析失败"))
		return res
	}
	return e.Execute(ctx, agentID, it)
}

// Execute 驱动一个已解析的意图走完流水线。永不返回错误：
// 所有失败都折叠进 Result。
func (e *Executor) Execute(ctx context.Context, agentID string, it intent.Intent) (res *Result) {
	header := it.Common()
	res = &Result{
		IntentID: header.ID,
		AgentID:  agentID,
		Kind:     string(it.Kind()),
		Chain:    header.Chain,
		Metadata: map[string]string{},
	}
	started := e.now()
	done := metrics.ExecutionStarted()
	defer done()

	stage := StageValidation
	defer func() {
		if r := recover(); r != nil {
			e.fail(res, stage, xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("流水线 panic: %v", r),
				xerrors.WithSeverity(xerrors.SeverityCritical)))
		}
		res.Metadata["elapsed_ms"] = strconv.FormatInt(e.now().Sub(started).Milliseconds(), 10)
	}()

	log := e.logger.With(
		slog.String("intent_id", header.ID),
		slog.String("agent_id", agentID),
		slog.String("kind", res.Kind),
		slog.String("chain", header.Chain),
	)
	log.Info("开始执行意图")

	// 校验阶段：收集全部违规后一次性报告。
	if err := e.runStage(log, &stage, StageValidation, func() error {
		if err := intent.Validate(it); err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "意图校验失败")
		}
		return nil
	}); err != nil {
		e.fail(res, StageValidation, err)
		return res
	}

	// 策略阶段：先获取余额快照，再交给引擎整体评估。
	var denial *policy.Decision
	if err := e.runStage(log, &stage, StagePolicy, func() error {
		balance, err := e.wallets.Balance(ctx, header.FromWalletID)
		if err != nil {
			return err
		}
		decision := e.engine.EvaluateAll(it, policy.Context{
			AgentID:     agentID,
			WalletID:    header.FromWalletID,
			Balance:     balance,
			EvaluatedAt: e.now(),
		})
		if !decision.Allowed {
			denial = &decision
			metrics.ObservePolicyDenial(decision.PolicyID)
			return xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("策略 %s 拒绝: %s", decision.PolicyID, decision.Reason))
		}
		return nil
	}); err != nil {
		res.Denial = denial
		e.fail(res, StagePolicy, err)
		return res
	}

	// 构造阶段：路由到链适配器并生成未签名交易。
	var (
		adapter  chain.Adapter
		unsigned *chain.UnsignedTransaction
	)
	if err := e.runStage(log, &stage, StageBuild, func() error {
		var err error
		adapter, err = e.router.Resolve(header.Chain)
		if err != nil {
			return err
		}
		unsigned, err = adapter.BuildTransaction(ctx, it)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeBuildFailed, err, "交易构造失败")
		}
		return nil
	}); err != nil {
		e.fail(res, StageBuild, err)
		return res
	}

	// 签名阶段：签名器只见摘要，不见交易内容。
	var signature []byte
	if err := e.runStage(log, &stage, StageSign, func() error {
		var err error
		signature, err = e.signer.Sign(header.FromWalletID, unsigned.Digest)
		return err
	}); err != nil {
		e.fail(res, StageSign, err)
		return res
	}

	// 发送阶段。
	var handle string
	if err := e.runStage(log, &stage, StageSend, func() error {
		var err error
		handle, err = adapter.SendTransaction(ctx, &chain.SignedTransaction{
			Chain:     unsigned.Chain,
			Encoded:   unsigned.Encoded,
			Signature: signature,
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeSendFailed, err, "交易发送失败")
		}
		return nil
	}); err != nil {
		e.fail(res, StageSend, err)
		return res
	}
	res.TxHash = handle

	// 确认阶段：链上回滚视为失败，但交易哈希保留在结果中。
	if err := e.runStage(log, &stage, StageConfirm, func() error {
		confirmed, err := adapter.ConfirmTransaction(ctx, handle)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeConfirmationFailed, err, "交易确认失败")
		}
		if !confirmed {
			return xerrors.New(xerrors.CodeConfirmationFailed, "交易未在确认窗口内落块或已回滚",
				xerrors.WithMetadata("tx_hash", handle))
		}
		return nil
	}); err != nil {
		e.fail(res, StageConfirm, err)
		return res
	}

	res.Success = true
	res.ConfirmedAt = e.now()
	metrics.ObserveIntent(res.Kind, res.Chain, "confirmed")
	log.Info("意图执行成功", slog.String("tx_hash", handle))
	return res
}

// runStage 统一记录阶段耗时与日志。stage 指针跟踪当前阶段，
// 供 panic 恢复时归因。
func (e *Executor) runStage(log *slog.Logger, current *Stage, s Stage, fn func() error) error {
	*current = s
	begin := e.now()
	err := fn()
	elapsed := e.now().Sub(begin)
	metrics.ObserveStage(string(s), elapsed)
	if err != nil {
		return err
	}
	log.Debug("阶段完成", slog.String("stage", string(s)), slog.Duration("elapsed", elapsed))
	return nil
}

// fail 将错误折叠进结果并触发指标、日志与告警。
func (e *Executor) fail(res *Result, stage Stage, err error) {
	res.Success = false
	res.FailedStage = stage
	code := xerrors.CodeOf(err)
	res.ErrorCode = string(code)
	res.ErrorMessage = err.Error()
	if xe, ok := xerrors.From(err); ok {
		for k, v := range xe.Metadata() {
			res.Metadata[k] = v
		}
	}

	outcome := "failed"
	if code == xerrors.CodePolicyViolation {
		outcome = "denied"
	}
	metrics.ObserveIntent(res.Kind, res.Chain, outcome)
	metrics.ObserveStageFailure(string(stage), res.ErrorCode)

	e.logger.Warn("意图执行终止",
		slog.String("intent_id", res.IntentID),
		slog.String("agent_id", res.AgentID),
		slog.String("stage", string(stage)),
		slog.String("code", res.ErrorCode),
		slog.String("error", res.ErrorMessage),
	)

	if e.alerts != nil && xerrors.ShouldAlert(err) {
		_ = e.alerts.Notify(context.Background(), alerting.Event{
			Code:       code,
			Message:    res.ErrorMessage,
			Severity:   xerrors.SeverityOf(err),
			IntentID:   res.IntentID,
			AgentID:    res.AgentID,
			Chain:      res.Chain,
			Stage:      string(stage),
			Metadata:   res.Metadata,
			OccurredAt: e.now(),
		})
	}
}
