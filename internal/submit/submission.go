// Package submit 管理意图提交的生命周期：入库、排队、
// 由处理器取出交给执行流水线，并持久化执行结果。
package submit

import (
	"encoding/json"
	stdErrors "errors"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/executor"
)

// Status 表示提交在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusConfirmed Status = "confirmed"
	StatusDenied    Status = "denied"
	StatusFailed    Status = "failed"
)

// Submission 描述一次排队等待执行的意图提交。Payload 保存
// 代理提交的原始意图 JSON，不在入队前完整解析：完整校验
// 发生在流水线内部，这样校验失败也会留下执行记录。
type Submission struct {
	ID         string           `json:"id"`
	AgentID    string           `json:"agent_id"`
	Payload    json.RawMessage  `json:"payload"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *executor.Result `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

var (
	// ErrNotFound 表示指定的提交不存在。
	ErrNotFound = xerrors.New(CodeSubmissionNotFound, "submission not found")
	// ErrConflict 表示提交在当前状态下无法进行所请求的操作。
	ErrConflict = xerrors.New(CodeSubmissionConflict, "submission conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrCompleted 表示提交已到达终态。
	ErrCompleted = xerrors.New(CodeSubmissionCompleted, "submission already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrExhausted 表示提交的重试次数已经耗尽。
	ErrExhausted = xerrors.New(CodeSubmissionExhausted, "submission retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeSubmissionNotFound   xerrors.Code = "SUBMISSION_NOT_FOUND"
	CodeSubmissionConflict   xerrors.Code = "SUBMISSION_CONFLICT"
	CodeSubmissionCompleted  xerrors.Code = "SUBMISSION_COMPLETED"
	CodeSubmissionExhausted  xerrors.Code = "SUBMISSION_RETRIES_EXHAUSTED"
	CodeSubmissionValidation xerrors.Code = "SUBMISSION_VALIDATION_FAILED"
	CodeSubmissionPublish    xerrors.Code = "SUBMISSION_PUBLISH_FAILED"
	CodeSubmissionProcessing xerrors.Code = "SUBMISSION_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeSubmissionNotFound, xerrors.Attributes{
		Message:   "submission not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSubmissionConflict, xerrors.Attributes{
		Message:   "submission conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSubmissionCompleted, xerrors.Attributes{
		Message:   "submission already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSubmissionExhausted, xerrors.Attributes{
		Message:   "submission retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeSubmissionValidation, xerrors.Attributes{
		Message:   "submission validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSubmissionPublish, xerrors.Attributes{
		Message:   "failed to publish submission",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeSubmissionProcessing, xerrors.Attributes{
		Message:   "submission processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(status Status) bool {
	switch status {
	case StatusConfirmed, StatusDenied, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的提交状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusConfirmed, StatusDenied, StatusFailed:
		return true
	default:
		return false
	}
}

// StatusOf 根据一次执行结果推导提交的终态。
func StatusOf(res *executor.Result) Status {
	switch {
	case res == nil:
		return StatusFailed
	case res.Success:
		return StatusConfirmed
	case res.Denial != nil || res.ErrorCode == string(xerrors.CodePolicyViolation):
		return StatusDenied
	default:
		return StatusFailed
	}
}

// IsSubmitError 判断错误是否为统一提交错误。
func IsSubmitError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrNotFound):
		return target == CodeSubmissionNotFound
	case stdErrors.Is(err, ErrConflict):
		return target == CodeSubmissionConflict
	case stdErrors.Is(err, ErrCompleted):
		return target == CodeSubmissionCompleted
	case stdErrors.Is(err, ErrExhausted):
		return target == CodeSubmissionExhausted
	}
	return false
}

func cloneSubmission(sub *Submission) *Submission {
	clone := *sub
	if sub.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), sub.Payload...)
	}
	if sub.Result != nil {
		resultCopy := *sub.Result
		clone.Result = &resultCopy
	}
	return &clone
}
