package submit

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"AgentGuard-Chain/deploy/migrations"
	xerrors "AgentGuard-Chain/internal/errors"
	"AgentGuard-Chain/internal/executor"
)

// MySQLStore 使用 MySQL 记录提交状态。执行结果整体以 JSON
// 存入 result 列，避免结果结构演进时反复迁移表结构。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	if err := migrations.Apply(s.db); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 executions 表失败")
	}
	return nil
}

// Create 插入新的提交记录。
func (s *MySQLStore) Create(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "submission 不能为空")
	}
	if strings.TrimSpace(sub.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "提交 ID 不能为空")
	}

	now := time.Now().Unix()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	const stmt = `INSERT INTO executions
        (id, agent_id, payload, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		sub.ID,
		sub.AgentID,
		string(sub.Payload),
		sub.Status,
		sub.Attempts,
		sub.MaxRetries,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入提交失败")
	}
	return nil
}

// Get 查询指定提交。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Submission, error) {
	const stmt = `SELECT id, agent_id, payload, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at
        FROM executions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	return scanSubmission(row.Scan)
}

// Claim 将提交标记为运行中并返回最新状态。确认与拒绝为
// 终态，仅 pending 与可重试的 failed 能被领取。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Submission, error) {
	const updateStmt = `UPDATE executions SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新提交状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		sub, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch sub.Status {
		case StatusConfirmed, StatusDenied:
			return sub, ErrCompleted
		case StatusRunning:
			return sub, ErrConflict
		default:
			if sub.Attempts >= sub.MaxRetries {
				return sub, ErrExhausted
			}
			return sub, ErrConflict
		}
	}
	return s.Get(ctx, id)
}

// Complete 记录执行结果并推导终态。
func (s *MySQLStore) Complete(ctx context.Context, id string, result *executor.Result) error {
	var (
		resultValue sql.NullString
		lastError   string
		errorCode   string
	)
	if result != nil {
		bytes, err := json.Marshal(result)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行结果失败")
		}
		resultValue = sql.NullString{String: string(bytes), Valid: true}
		lastError = result.ErrorMessage
		errorCode = result.ErrorCode
	}

	const stmt = `UPDATE executions SET status = ?, result = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		StatusOf(result),
		resultValue,
		lastError,
		errorCode,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录执行结果失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed 将提交标记为失败。是否还能重试由 Claim 按
// attempts 与 max_retries 判定，terminal 仅供调用方表意。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	const stmt = `UPDATE executions SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记提交失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回最近的提交。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	opts.applyDefaults()

	query := `SELECT id, agent_id, payload, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at FROM executions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交列表失败")
	}
	defer rows.Close()

	subs := make([]*Submission, 0, opts.Limit)
	for rows.Next() {
		sub, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提交失败")
	}
	return subs, nil
}

// Stats 返回符合过滤条件的提交聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS denied,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM executions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusConfirmed), string(StatusDenied), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats Stats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Confirmed,
		&stats.Denied,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanSubmission(scan func(dest ...any) error) (*Submission, error) {
	var (
		sub     Submission
		payload string
		result  sql.NullString
	)
	if err := scan(
		&sub.ID,
		&sub.AgentID,
		&payload,
		&sub.Status,
		&sub.Attempts,
		&sub.MaxRetries,
		&sub.LastError,
		&sub.ErrorCode,
		&result,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提交记录失败")
	}
	sub.Payload = json.RawMessage(payload)
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var res executor.Result
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行结果失败")
		}
		sub.Result = &res
	}
	return &sub, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR agent_id LIKE ? OR payload LIKE ? OR last_error LIKE ? OR result LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
