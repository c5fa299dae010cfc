package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrStaleWrite 表示写回任务携带的写序号不比已落库的新，写入被跳过。
	// 调用方（写回 worker）应将其视为可安全忽略的结果，而不是失败。
	ErrStaleWrite = errors.New("repository: stale write skipped")
)

// 特定资源的错误
var (
	ErrUserNotFound    = ErrNotFound
	ErrProjectNotFound = ErrNotFound
	ErrObjectNotFound  = ErrNotFound
)
