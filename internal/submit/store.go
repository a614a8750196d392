package submit

import (
	"context"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/executor"
)

// Store 抽象了提交状态的持久化接口。
type Store interface {
	Create(ctx context.Context, sub *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	Claim(ctx context.Context, id string) (*Submission, error)
	Complete(ctx context.Context, id string, res *executor.Result) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Submission, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
