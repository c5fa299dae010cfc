package state

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// Room 是绑定到一个项目缓存的实时协作会话，
// 维护用户标识到该用户当前打开的连接集合的映射。
// 房间的在场表和项目缓存各有自己的互斥范围，绝不嵌套持有：
// 委托对象操作时先在房间锁下校验在场，释放后再进入缓存。
type Room struct {
	code  string
	cache *ProjectCache
	sink  EventSink

	mu    sync.RWMutex
	users map[string]map[string]struct{} // userID -> 连接 ID 集合
}

func newRoom(code string, cache *ProjectCache, sink EventSink) *Room {
	return &Room{
		code:  code,
		cache: cache,
		sink:  sink,
		users: make(map[string]map[string]struct{}),
	}
}

// Code 返回房间代码。
func (r *Room) Code() string { return r.code }

// Cache 返回房间绑定的项目缓存。
func (r *Room) Cache() *ProjectCache { return r.cache }

// Join 把连接加入用户在本房间的连接集合。
// 重复加入同一连接是 no-op；用户的第一个连接会发出 UserJoinedRoom 事件。
func (r *Room) Join(userID, connID string) {
	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	if _, dup := conns[connID]; dup {
		r.mu.Unlock()
		return
	}
	conns[connID] = struct{}{}
	first := len(conns) == 1
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_code": r.code,
		"user_id":   userID,
		"conn_id":   connID,
	}).Debug("Connection joined room")

	if first {
		r.sink.Publish(Event{
			Type:     EventUserJoinedRoom,
			RoomCode: r.code,
			UserID:   userID,
			ConnID:   connID,
		})
	}
}

// Leave 把连接从用户的连接集合移除，并释放该连接在项目缓存中持有的所有锁。
// 用户的最后一个连接离开时移除用户条目并发出 UserLeftRoom 事件。
func (r *Room) Leave(userID, connID string) {
	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, present := conns[connID]; !present {
		r.mu.Unlock()
		return
	}
	delete(conns, connID)
	last := len(conns) == 0
	if last {
		delete(r.users, userID)
	}
	r.mu.Unlock()

	// 离开的连接不允许留下悬空的锁，无论该用户是否还有其他连接在场。
	released := r.cache.ReleaseLocksHeldBy(connID)
	for _, objectID := range released {
		r.sink.Publish(Event{
			Type:     EventObjectUnlocked,
			RoomCode: r.code,
			UserID:   userID,
			ConnID:   connID,
			ObjectID: objectID,
		})
	}
	if len(released) > 0 {
		logrus.WithFields(logrus.Fields{
			"room_code": r.code,
			"conn_id":   connID,
			"released":  len(released),
		}).Info("Released locks held by departed connection")
	}

	if last {
		r.sink.Publish(Event{
			Type:     EventUserLeftRoom,
			RoomCode: r.code,
			UserID:   userID,
			ConnID:   connID,
		})
	}
}

// PresentUsers 返回当前在场用户的标识集合（排序后，便于稳定输出）。
func (r *Room) PresentUsers() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for userID := range r.users {
		out = append(out, userID)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// connections 返回房间内全部 (userID, connID) 对，供 DestroyRoom 驱逐使用。
func (r *Room) connections() [][2]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out [][2]string
	for userID, conns := range r.users {
		for connID := range conns {
			out = append(out, [2]string{userID, connID})
		}
	}
	return out
}

// userOf 在房间锁下校验连接在场，并解析出它属于哪个用户。
// 连接不在房间内的任何对象操作都以 ErrNotInRoom 拒绝。
func (r *Room) userOf(connID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for userID, conns := range r.users {
		if _, ok := conns[connID]; ok {
			return userID, nil
		}
	}
	return "", ErrNotInRoom
}

// --- 对象操作：薄委托到项目缓存，前置在场校验 ---

// CreateObject 校验连接在场后向项目缓存插入对象。
func (r *Room) CreateObject(obj domain.SceneObject, connID string) (domain.SceneObject, error) {
	userID, err := r.userOf(connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	created, err := r.cache.AddObject(obj)
	if err != nil {
		return domain.SceneObject{}, err
	}
	r.sink.Publish(Event{
		Type:     EventObjectCreated,
		RoomCode: r.code,
		UserID:   userID,
		ConnID:   connID,
		ObjectID: created.ID,
		Object:   &created,
	})
	return created, nil
}

// ReadObject 校验连接在场后读取对象快照。
func (r *Room) ReadObject(objectID, connID string) (domain.SceneObject, error) {
	if _, err := r.userOf(connID); err != nil {
		return domain.SceneObject{}, err
	}
	return r.cache.ReadObject(objectID)
}

// UpdateObject 校验连接在场后更新对象。
func (r *Room) UpdateObject(newState domain.SceneObject, connID string) (domain.SceneObject, error) {
	userID, err := r.userOf(connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	updated, err := r.cache.UpdateObject(newState, connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	r.sink.Publish(Event{
		Type:     EventObjectUpdated,
		RoomCode: r.code,
		UserID:   userID,
		ConnID:   connID,
		ObjectID: updated.ID,
		Object:   &updated,
	})
	return updated, nil
}

// DeleteObject 校验连接在场后删除对象。
func (r *Room) DeleteObject(objectID, connID string) error {
	userID, err := r.userOf(connID)
	if err != nil {
		return err
	}
	if err := r.cache.DeleteObject(objectID, connID); err != nil {
		return err
	}
	r.sink.Publish(Event{
		Type:     EventObjectDeleted,
		RoomCode: r.code,
		UserID:   userID,
		ConnID:   connID,
		ObjectID: objectID,
	})
	return nil
}

// CheckoutObject 校验连接在场后为 connID 获取对象的独占编辑锁。
func (r *Room) CheckoutObject(objectID, connID string) (domain.SceneObject, error) {
	userID, err := r.userOf(connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	obj, changed, err := r.cache.CheckoutObject(objectID, connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	if changed {
		r.sink.Publish(Event{
			Type:     EventObjectLocked,
			RoomCode: r.code,
			UserID:   userID,
			ConnID:   connID,
			ObjectID: objectID,
		})
	}
	return obj, nil
}

// CheckinObject 校验连接在场后释放 connID 持有的对象锁。
func (r *Room) CheckinObject(objectID, connID string) (domain.SceneObject, error) {
	userID, err := r.userOf(connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	obj, changed, err := r.cache.CheckinObject(objectID, connID)
	if err != nil {
		return domain.SceneObject{}, err
	}
	if changed {
		r.sink.Publish(Event{
			Type:     EventObjectUnlocked,
			RoomCode: r.code,
			UserID:   userID,
			ConnID:   connID,
			ObjectID: objectID,
		})
	}
	return obj, nil
}
