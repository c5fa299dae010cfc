package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

func newTestCache(t *testing.T, objects ...domain.SceneObject) (*ProjectCache, *recordingFlusher) {
	t.Helper()
	flusher := &recordingFlusher{}
	cache := NewProjectCache(testProject("p1"), objects, flusher)
	return cache, flusher
}

func TestProjectCache_AddObject(t *testing.T) {
	cache, flusher := newTestCache(t)

	created, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)
	assert.Equal(t, "p1", created.ProjectID, "对象应绑定到缓存的项目")
	assert.Equal(t, "o1", created.ID)
	assert.Empty(t, created.LockedBy, "新对象总是以未锁定状态进入缓存")
	assert.Equal(t, uint64(1), created.Revision)

	// 创建被排入写回
	saves := flusher.objectSaves()
	require.Len(t, saves, 1)
	assert.Equal(t, "o1", saves[0].ID)
}

func TestProjectCache_AddObject_DuplicateID(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	_, err = cache.AddObject(testObject("o1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateObject))
	assert.Equal(t, 1, cache.Len(), "重复创建不应改变集合")
}

func TestProjectCache_AddObject_StripsIncomingLock(t *testing.T) {
	cache, _ := newTestCache(t)

	obj := testObject("o1")
	obj.LockedBy = "sneaky-conn"
	created, err := cache.AddObject(obj)
	require.NoError(t, err)
	assert.Empty(t, created.LockedBy, "客户端提供的锁状态必须被忽略")
}

func TestProjectCache_ReadObject_NotFound(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.ReadObject("missing")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestProjectCache_UpdateObject_Unlocked(t *testing.T) {
	cache, flusher := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	newState := testObject("o1")
	newState.X = 42
	newState.Name = "moved"
	updated, err := cache.UpdateObject(newState, "conn-a")
	require.NoError(t, err)
	assert.Equal(t, float64(42), updated.X)
	assert.Equal(t, "moved", updated.Name)
	assert.Equal(t, uint64(2), updated.Revision, "每次变更递增写序号")

	saves := flusher.objectSaves()
	require.Len(t, saves, 2)
	assert.Equal(t, float64(42), saves[1].X)
}

func TestProjectCache_UpdateObject_LockedByOther(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	_, _, err = cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)

	newState := testObject("o1")
	newState.X = 99
	_, err = cache.UpdateObject(newState, "conn-b")
	require.Error(t, err)
	holder, ok := IsLockConflict(err)
	require.True(t, ok, "非持有者的更新应返回锁冲突")
	assert.Equal(t, "conn-a", holder)

	// 被拒绝的变更绝不部分生效
	obj, err := cache.ReadObject("o1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj.X)
	assert.Equal(t, "conn-a", obj.LockedBy)
}

func TestProjectCache_UpdateObject_HolderMayWrite(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	_, _, err = cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)

	newState := testObject("o1")
	newState.X = 7
	updated, err := cache.UpdateObject(newState, "conn-a")
	require.NoError(t, err)
	assert.Equal(t, float64(7), updated.X)
	assert.Equal(t, "conn-a", updated.LockedBy, "更新不改变锁状态")
}

func TestProjectCache_UpdateObject_DoesNotMutateIdentity(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	newState := testObject("o1")
	newState.ProjectID = "other-project"
	newState.Revision = 999
	newState.LockedBy = "conn-x"
	updated, err := cache.UpdateObject(newState, "conn-a")
	require.NoError(t, err)
	assert.Equal(t, "p1", updated.ProjectID)
	assert.Empty(t, updated.LockedBy)
	assert.Equal(t, uint64(2), updated.Revision, "写序号由缓存分配，客户端提供的值被忽略")
}

func TestProjectCache_DeleteObject(t *testing.T) {
	cache, flusher := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)
	_, err = cache.AddObject(testObject("o2"))
	require.NoError(t, err)

	err = cache.DeleteObject("o1", "conn-a")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	_, err = cache.ReadObject("o1")
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	deletes := flusher.objectDeletes()
	require.Len(t, deletes, 1)
	assert.Equal(t, "o1", deletes[0].objectID)
	assert.Equal(t, uint64(3), deletes[0].revision, "删除同样占用一个写序号")
}

func TestProjectCache_DeleteObject_MissingID(t *testing.T) {
	cache, flusher := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	err = cache.DeleteObject("missing", "conn-a")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
	assert.Equal(t, 1, cache.Len(), "删除不存在的 ID 不改变集合")
	assert.Empty(t, flusher.objectDeletes())
}

func TestProjectCache_DeleteObject_LockedByOther(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)
	_, _, err = cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)

	err = cache.DeleteObject("o1", "conn-b")
	holder, ok := IsLockConflict(err)
	require.True(t, ok)
	assert.Equal(t, "conn-a", holder)
	assert.Equal(t, 1, cache.Len())
}

func TestProjectCache_CheckoutObject(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	obj, changed, err := cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "conn-a", obj.LockedBy)

	// 重复 checkout 幂等
	obj, changed, err = cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)
	assert.False(t, changed, "重复 checkout 不是锁状态转换")
	assert.Equal(t, "conn-a", obj.LockedBy)

	// 其他连接被拒绝并得知持有者
	_, _, err = cache.CheckoutObject("o1", "conn-b")
	holder, ok := IsLockConflict(err)
	require.True(t, ok)
	assert.Equal(t, "conn-a", holder)
}

func TestProjectCache_CheckinObject(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	// 未锁定对象的 checkin 是无害的 no-op
	obj, changed, err := cache.CheckinObject("o1", "conn-a")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, obj.LockedBy)

	_, _, err = cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)

	// 非持有者不能释放别人的锁
	_, _, err = cache.CheckinObject("o1", "conn-b")
	_, ok := IsLockConflict(err)
	require.True(t, ok)

	obj, changed, err = cache.CheckinObject("o1", "conn-a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, obj.LockedBy)
}

func TestProjectCache_ReleaseLocksHeldBy(t *testing.T) {
	cache, _ := newTestCache(t)
	for _, id := range []string{"o1", "o2", "o3"} {
		_, err := cache.AddObject(testObject(id))
		require.NoError(t, err)
	}
	_, _, err := cache.CheckoutObject("o1", "conn-a")
	require.NoError(t, err)
	_, _, err = cache.CheckoutObject("o3", "conn-a")
	require.NoError(t, err)
	_, _, err = cache.CheckoutObject("o2", "conn-b")
	require.NoError(t, err)

	released := cache.ReleaseLocksHeldBy("conn-a")
	assert.ElementsMatch(t, []string{"o1", "o3"}, released)

	// conn-b 的锁不受影响
	obj, err := cache.ReadObject("o2")
	require.NoError(t, err)
	assert.Equal(t, "conn-b", obj.LockedBy)

	for _, id := range []string{"o1", "o3"} {
		obj, err := cache.ReadObject(id)
		require.NoError(t, err)
		assert.Empty(t, obj.LockedBy)
	}
}

func TestProjectCache_ObjectsPreserveInsertionOrder(t *testing.T) {
	cache, _ := newTestCache(t)
	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		_, err := cache.AddObject(testObject(id))
		require.NoError(t, err)
	}

	objects := cache.Objects()
	require.Len(t, objects, 3)
	for i, id := range ids {
		assert.Equal(t, id, objects[i].ID)
	}
}

func TestProjectCache_RevisionSeededFromLoadedObjects(t *testing.T) {
	loaded := []domain.SceneObject{testObject("o1"), testObject("o2")}
	loaded[0].Revision = 17
	loaded[1].Revision = 5
	flusher := &recordingFlusher{}
	cache := NewProjectCache(testProject("p1"), loaded, flusher)

	created, err := cache.AddObject(testObject("o3"))
	require.NoError(t, err)
	assert.Equal(t, uint64(18), created.Revision, "新写序号必须胜过全部已持久化的序号")
}

func TestProjectCache_RevisionMonotonicAcrossDeleteRecreate(t *testing.T) {
	cache, flusher := newTestCache(t)
	created, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	require.NoError(t, cache.DeleteObject("o1", "conn-a"))
	recreated, err := cache.AddObject(testObject("o1"))
	require.NoError(t, err)

	deletes := flusher.objectDeletes()
	require.Len(t, deletes, 1)
	assert.Greater(t, deletes[0].revision, created.Revision)
	assert.Greater(t, recreated.Revision, deletes[0].revision,
		"重建对象的写序号必须胜过删除的序号，防止持久层错序")
}

func TestProjectCache_ConcurrentMutations(t *testing.T) {
	cache, _ := newTestCache(t)

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-o%d", w, i)
				_, err := cache.AddObject(testObject(id))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, cache.Len())

	// 写序号不重复
	seen := make(map[uint64]bool)
	for _, obj := range cache.Objects() {
		assert.False(t, seen[obj.Revision], "写序号必须唯一")
		seen[obj.Revision] = true
	}
}
