package submit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/executor"
)

// MemoryStore 以内存方式保存提交状态，主要用于测试。
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Submission
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Submission)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "submission 不能为空")
	}
	if sub.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "提交 ID 不能为空")
	}
	if _, ok := m.subs[sub.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	m.subs[sub.ID] = cloneSubmission(sub)
	return nil
}

// Get 返回提交。
func (m *MemoryStore) Get(_ context.Context, id string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSubmission(sub), nil
}

// Claim 将提交状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch {
	case IsTerminal(sub.Status) && sub.Status != StatusFailed:
		return cloneSubmission(sub), ErrCompleted
	case sub.Status == StatusRunning:
		return cloneSubmission(sub), ErrConflict
	}
	if sub.Attempts >= sub.MaxRetries {
		return cloneSubmission(sub), ErrExhausted
	}
	sub.Status = StatusRunning
	sub.Attempts++
	sub.LastError = ""
	sub.ErrorCode = ""
	sub.UpdatedAt = time.Now().Unix()
	return cloneSubmission(sub), nil
}

// Complete 记录执行结果，并根据结果推导终态。
func (m *MemoryStore) Complete(_ context.Context, id string, res *executor.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Status = StatusOf(res)
	if res != nil {
		resultCopy := *res
		sub.Result = &resultCopy
		sub.LastError = res.ErrorMessage
		sub.ErrorCode = res.ErrorCode
	}
	sub.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记提交失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Status = StatusFailed
	sub.LastError = lastError
	sub.ErrorCode = string(code)
	sub.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回最近提交。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Submission, 0, len(m.subs))
	for _, sub := range m.subs {
		if !matchesListFilters(sub, opts) {
			continue
		}
		results = append(results, cloneSubmission(sub))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Submission{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的提交数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, sub := range m.subs {
		if !matchesListFilters(sub, opts) {
			continue
		}
		stats.Total++
		switch sub.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusConfirmed:
			stats.Confirmed++
		case StatusDenied:
			stats.Denied++
		case StatusFailed:
			stats.Failed++
		}
		if sub.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = sub.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (sub.UpdatedAt != 0 && sub.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = sub.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(sub *Submission, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if sub.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.AgentID != "" && sub.AgentID != opts.AgentID {
		return false
	}
	if opts.UpdatedGTE > 0 && sub.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && sub.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" {
		if !strings.Contains(sub.ID, opts.Query) &&
			!strings.Contains(sub.AgentID, opts.Query) &&
			!strings.Contains(string(sub.Payload), opts.Query) &&
			!strings.Contains(sub.LastError, opts.Query) {
			return false
		}
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
