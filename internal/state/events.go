package state

import "github.com/lucidbard/realityflow-2/internal/domain"

// EventType 标识会话层对外发布的一类变更事件。
type EventType string

const (
	EventObjectCreated  EventType = "object:created"
	EventObjectUpdated  EventType = "object:updated"
	EventObjectDeleted  EventType = "object:deleted"
	EventObjectLocked   EventType = "object:locked"
	EventObjectUnlocked EventType = "object:unlocked"
	EventUserJoinedRoom EventType = "user:joined"
	EventUserLeftRoom   EventType = "user:left"
)

// Event 是会话层发出的一次变更通知。
// 广播给房间内其他连接是传输层（hub）的职责，这里只负责发出。
type Event struct {
	Type     EventType           `json:"type"`
	RoomCode string              `json:"room_code"`
	UserID   string              `json:"user_id,omitempty"`   // 发起变更的用户
	ConnID   string              `json:"conn_id,omitempty"`   // 发起变更的连接
	ObjectID string              `json:"object_id,omitempty"` // 受影响的对象
	Object   *domain.SceneObject `json:"object,omitempty"`    // 变更后的对象快照（创建/更新时携带）
}

// EventSink 接收会话层事件。Publish 不允许阻塞调用方：
// 实现方（如 websocket hub）必须自行排队或丢弃。
type EventSink interface {
	Publish(ev Event)
}

// NopSink 丢弃所有事件，用于测试和不需要广播的场景。
type NopSink struct{}

func (NopSink) Publish(Event) {}
