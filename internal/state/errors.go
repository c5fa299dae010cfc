package state

import (
	"errors"
	"fmt"
)

// 会话层错误分类。这些错误同步传播给 Session Facade 的调用方；
// 写回失败不在其中，它们由写回 worker 异步重试，永远不会出现在这里。
var (
	ErrRoomNotFound    = errors.New("state: room not found")
	ErrProjectNotFound = errors.New("state: project not found")
	ErrObjectNotFound  = errors.New("state: object not found")
	ErrDuplicateRoom   = errors.New("state: room already exists")
	ErrDuplicateObject = errors.New("state: object id already exists")
	// ErrNotInRoom 表示发起操作的连接不在目标房间内，按权限错误处理。
	ErrNotInRoom = errors.New("state: connection not present in room")
)

// LockConflictError 表示对象已被另一个连接 checkout。
// 携带当前持有者，UI 可以据此显示是谁锁定了对象。
type LockConflictError struct {
	ObjectID string
	Holder   string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("state: object %s is locked by connection %s", e.ObjectID, e.Holder)
}

// IsLockConflict 判断 err 是否为锁冲突，并返回当前持有者。
func IsLockConflict(err error) (holder string, ok bool) {
	var lc *LockConflictError
	if errors.As(err, &lc) {
		return lc.Holder, true
	}
	return "", false
}
