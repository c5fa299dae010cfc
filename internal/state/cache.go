package state

import (
	"sync"
	"time"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// ProjectCache 是一个项目在内存中的权威工作副本（快速访问内存）。
// 所有对象变更先在这里同步生效，再通过 Flusher 异步写回持久存储。
//
// 全部变更在同一把互斥锁下执行，因此同一对象的变更按到达顺序线性化。
// checkout/checkin 锁是建立在这种机械互斥之上的应用层策略，两者是不同的东西。
// 写回入队发生在释放互斥锁之后，持锁期间绝不做 IO。
type ProjectCache struct {
	mu      sync.Mutex
	project domain.Project
	objects []*domain.SceneObject // 插入顺序即显示顺序
	index   map[string]int        // 对象 ID -> objects 下标
	rev     uint64                // 单调写序号，每次变更递增
	flusher Flusher
}

// NewProjectCache 用项目元数据和已加载的对象集合构建缓存。
// objects 的顺序被保留；写序号从已持久化的最大 Revision 继续，
// 保证会话内新分配的序号总能胜过历史写入。
func NewProjectCache(project domain.Project, objects []domain.SceneObject, flusher Flusher) *ProjectCache {
	if flusher == nil {
		panic("Flusher cannot be nil for ProjectCache")
	}
	c := &ProjectCache{
		project: project,
		objects: make([]*domain.SceneObject, 0, len(objects)),
		index:   make(map[string]int, len(objects)),
		flusher: flusher,
	}
	for i := range objects {
		obj := objects[i]
		if _, dup := c.index[obj.ID]; dup {
			continue // 持久层不应出现重复 ID，防御性跳过
		}
		c.index[obj.ID] = len(c.objects)
		c.objects = append(c.objects, &obj)
		if obj.Revision > c.rev {
			c.rev = obj.Revision
		}
	}
	return c
}

// ProjectID 返回缓存绑定的项目 ID。
func (c *ProjectCache) ProjectID() string {
	return c.project.ID
}

// Project 返回项目元数据的快照。
func (c *ProjectCache) Project() domain.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// Objects 按显示顺序返回全部对象的快照。
func (c *ProjectCache) Objects() []domain.SceneObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SceneObject, len(c.objects))
	for i, obj := range c.objects {
		out[i] = *obj
	}
	return out
}

// Len 返回缓存中的对象数量。
func (c *ProjectCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// AddObject 把对象插入有序集合并排入持久化创建。
// ID 已存在时返回 ErrDuplicateObject，集合不变。
func (c *ProjectCache) AddObject(obj domain.SceneObject) (domain.SceneObject, error) {
	c.mu.Lock()
	if _, exists := c.index[obj.ID]; exists {
		c.mu.Unlock()
		return domain.SceneObject{}, ErrDuplicateObject
	}
	obj.ProjectID = c.project.ID
	obj.LockedBy = "" // 新对象总是以未锁定状态进入缓存
	c.rev++
	obj.Revision = c.rev
	stored := obj
	c.index[obj.ID] = len(c.objects)
	c.objects = append(c.objects, &stored)
	proj := c.touchLocked()
	c.mu.Unlock()

	c.flusher.SaveObject(obj)
	c.flusher.SaveProject(proj)
	return obj, nil
}

// ReadObject 返回对象快照，不存在时返回 ErrObjectNotFound。
func (c *ProjectCache) ReadObject(id string) (domain.SceneObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return domain.SceneObject{}, ErrObjectNotFound
	}
	return *c.objects[i], nil
}

// UpdateObject 用 newState 覆盖对象的可变字段并排入持久化更新。
// 对象被其他连接锁定时返回 LockConflictError，缓存状态保持不变——
// 被拒绝的变更绝不部分生效。
func (c *ProjectCache) UpdateObject(newState domain.SceneObject, connID string) (domain.SceneObject, error) {
	c.mu.Lock()
	i, ok := c.index[newState.ID]
	if !ok {
		c.mu.Unlock()
		return domain.SceneObject{}, ErrObjectNotFound
	}
	obj := c.objects[i]
	if obj.LockedBy != "" && obj.LockedBy != connID {
		holder := obj.LockedBy
		c.mu.Unlock()
		return domain.SceneObject{}, &LockConflictError{ObjectID: newState.ID, Holder: holder}
	}
	obj.ApplyUpdate(newState)
	c.rev++
	obj.Revision = c.rev
	updated := *obj
	proj := c.touchLocked()
	c.mu.Unlock()

	c.flusher.SaveObject(updated)
	c.flusher.SaveProject(proj)
	return updated, nil
}

// DeleteObject 把对象从集合中移除并排入持久化删除。
// 锁检查与 UpdateObject 相同。
func (c *ProjectCache) DeleteObject(id, connID string) error {
	c.mu.Lock()
	i, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return ErrObjectNotFound
	}
	obj := c.objects[i]
	if obj.LockedBy != "" && obj.LockedBy != connID {
		holder := obj.LockedBy
		c.mu.Unlock()
		return &LockConflictError{ObjectID: id, Holder: holder}
	}
	c.objects = append(c.objects[:i], c.objects[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.objects); j++ {
		c.index[c.objects[j].ID] = j
	}
	c.rev++
	rev := c.rev
	proj := c.touchLocked()
	c.mu.Unlock()

	c.flusher.DeleteObject(proj.ID, id, rev)
	c.flusher.SaveProject(proj)
	return nil
}

// CheckoutObject 原子地把锁设置给 connID。
// 未锁定或已被 connID 持有时成功（重复 checkout 幂等），
// 否则返回携带当前持有者的 LockConflictError。
// changed 表示锁状态是否真的发生了转换。
func (c *ProjectCache) CheckoutObject(id, connID string) (obj domain.SceneObject, changed bool, err error) {
	c.mu.Lock()
	i, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return domain.SceneObject{}, false, ErrObjectNotFound
	}
	o := c.objects[i]
	switch o.LockedBy {
	case connID:
		// 幂等的重复 checkout
		snapshot := *o
		c.mu.Unlock()
		return snapshot, false, nil
	case "":
		o.LockedBy = connID
		c.rev++
		o.Revision = c.rev
		snapshot := *o
		c.mu.Unlock()
		c.flusher.SaveObject(snapshot)
		return snapshot, true, nil
	default:
		holder := o.LockedBy
		c.mu.Unlock()
		return domain.SceneObject{}, false, &LockConflictError{ObjectID: id, Holder: holder}
	}
}

// CheckinObject 清除 connID 持有的锁。
// 对象本就未锁定时视为无害的 no-op 成功；被其他连接持有时返回 LockConflictError。
func (c *ProjectCache) CheckinObject(id, connID string) (obj domain.SceneObject, changed bool, err error) {
	c.mu.Lock()
	i, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return domain.SceneObject{}, false, ErrObjectNotFound
	}
	o := c.objects[i]
	switch o.LockedBy {
	case "":
		snapshot := *o
		c.mu.Unlock()
		return snapshot, false, nil
	case connID:
		o.LockedBy = ""
		c.rev++
		o.Revision = c.rev
		snapshot := *o
		c.mu.Unlock()
		c.flusher.SaveObject(snapshot)
		return snapshot, true, nil
	default:
		holder := o.LockedBy
		c.mu.Unlock()
		return domain.SceneObject{}, false, &LockConflictError{ObjectID: id, Holder: holder}
	}
}

// ReleaseLocksHeldBy 扫描全部对象并清除 connID 持有的锁，
// 返回被解锁的对象 ID。连接断开或离开房间时调用，
// 保证不会有悬空的锁在持有者离开后存活。
// 与该连接刚完成的变更并发执行是安全的：两者都在缓存互斥锁下串行化。
func (c *ProjectCache) ReleaseLocksHeldBy(connID string) []string {
	c.mu.Lock()
	var released []string
	var snapshots []domain.SceneObject
	for _, o := range c.objects {
		if o.LockedBy == connID {
			o.LockedBy = ""
			c.rev++
			o.Revision = c.rev
			released = append(released, o.ID)
			snapshots = append(snapshots, *o)
		}
	}
	c.mu.Unlock()

	for i := range snapshots {
		c.flusher.SaveObject(snapshots[i])
	}
	return released
}

// touchLocked 更新项目的最后修改时间并返回元数据快照。调用方必须持有 c.mu。
func (c *ProjectCache) touchLocked() domain.Project {
	c.project.DateModified = time.Now()
	return c.project
}
