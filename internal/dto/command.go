package dto

import "github.com/lucidbard/realityflow-2/internal/domain"

// Command 表示从客户端 WebSocket 消息中接收的一次对象操作请求。
// Object 仅在 create/update 时要求携带，其余操作只需要 ObjectID。
type Command struct {
	Op       string              `json:"op" binding:"required"`
	ObjectID string              `json:"object_id,omitempty"`
	Object   *domain.SceneObject `json:"object,omitempty"`
}

// 客户端可请求的操作
const (
	OpObjectCreate   = "object:create"
	OpObjectRead     = "object:read"
	OpObjectUpdate   = "object:update"
	OpObjectDelete   = "object:delete"
	OpObjectCheckout = "object:checkout"
	OpObjectCheckin  = "object:checkin"
	OpRoomUsers      = "room:users"
)

// Reply 表示发送给命令发起方的应答。
type Reply struct {
	Type     string              `json:"type"` // "ack" 或 "error"
	Op       string              `json:"op,omitempty"`
	ObjectID string              `json:"object_id,omitempty"`
	Object   *domain.SceneObject `json:"object,omitempty"`
	Users    []string            `json:"users,omitempty"`
	Message  string              `json:"message,omitempty"`
	Holder   string              `json:"holder,omitempty"` // 锁冲突时的持有者连接
}

// SceneDTO 表示新连接加入房间后收到的初始场景同步。
type SceneDTO struct {
	Type    string               `json:"type"` // "scene"
	Room    string               `json:"room"`
	Objects []domain.SceneObject `json:"objects"`
	Users   []string             `json:"users"`
}
