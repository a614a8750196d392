package submit

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/pkg/logger"
)

// Request 是代理提交意图时的入参。ID 可选：携带 ID 的重复
// 提交是幂等的，返回已存在的记录而不是重复入队。
type Request struct {
	ID      string          `json:"id,omitempty"`
	AgentID string          `json:"agent_id"`
	Intent  json.RawMessage `json:"intent"`
}

// Service 负责提交的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造提交服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的提交并推送到队列。这里只做轻量检查，
// 意图的完整校验在执行流水线内完成，以便校验失败也留痕。
func (s *Service) Submit(ctx context.Context, req Request) (*Submission, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, xerrors.New(CodeSubmissionValidation, "代理 ID 不能为空")
	}
	if len(req.Intent) == 0 || !json.Valid(req.Intent) {
		return nil, xerrors.New(CodeSubmissionValidation, "意图必须是合法的 JSON")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交服务未初始化")
	}

	submissionID := strings.TrimSpace(req.ID)
	if submissionID != "" {
		sub, err := s.store.Get(ctx, submissionID)
		if err == nil {
			return sub, nil
		}
		if !stdErrors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		submissionID = uuid.NewString()
	}

	sub := &Submission{
		ID:         submissionID,
		AgentID:    req.AgentID,
		Payload:    append(json.RawMessage(nil), req.Intent...),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		if stdErrors.Is(err, ErrConflict) {
			existing, getErr := s.store.Get(ctx, submissionID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, submissionID); err != nil {
		logger.L().Error("提交入队失败", slog.Any("error", err), slog.String("submission_id", submissionID))
		wrapped := xerrors.Wrap(CodeSubmissionPublish, err, "发布提交到队列失败")
		_ = s.store.MarkFailed(ctx, submissionID, CodeSubmissionPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("提交入队成功",
		slog.String("submission_id", submissionID),
		slog.String("agent_id", sub.AgentID),
		slog.Int("max_retries", sub.MaxRetries),
	)
	return sub, nil
}

// Get 返回指定提交的状态。
func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的提交列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Submission, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的提交统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询提交状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Submission, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sub, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(sub.Status) {
			return sub, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
