package domain

import (
	"time"

	"gorm.io/gorm"
)

// SceneObject 表示项目场景中的一个可编辑实体（变换、网格、纹理元数据）。
// 主键是 (ProjectID, ID) 复合主键，对象 ID 只需在项目内唯一。
type SceneObject struct {
	ProjectID string `gorm:"primaryKey;size:191" json:"project_id"` // 所属项目 ID
	ID        string `gorm:"primaryKey;size:191" json:"id"`         // 对象在项目内的唯一标识符

	Kind string `gorm:"size:50;not null" json:"kind"` // 对象类型，例如 "mesh", "texture"
	Name string `gorm:"size:191" json:"name"`         // 显示名称

	// 网格数据
	Triangles int `json:"triangles"` // 三角形数量

	// 变换：位置 / 旋转（四元数） / 缩放
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	QX float64 `json:"q_x"`
	QY float64 `json:"q_y"`
	QZ float64 `json:"q_z"`
	QW float64 `json:"q_w"`
	SX float64 `json:"s_x"`
	SY float64 `json:"s_y"`
	SZ float64 `json:"s_z"`

	// 纹理元数据
	UV            float64 `json:"uv"`                      // UV 描述符
	Texture       string  `gorm:"size:191" json:"texture"` // 纹理资源引用
	TextureWidth  int     `json:"texture_width"`
	TextureHeight int     `json:"texture_height"`
	TextureFormat int     `json:"texture_format"`
	MipmapCount   int     `json:"mipmap_count"`

	// LockedBy 持有当前独占编辑权的连接 ID，空字符串表示未锁定。
	// 锁的持有者是连接而不是用户：同一用户的第二台设备编辑前同样要 checkout。
	LockedBy string `gorm:"size:191;column:locked_by" json:"locked_by"`

	// Revision 是缓存分配的单调写序号，落库时用于拒绝过期的写回任务。
	Revision uint64 `gorm:"not null" json:"revision"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // 软删除，避免延迟的写回任务复活已删对象
}

// Locked 返回对象当前是否被任何连接锁定。
func (o *SceneObject) Locked() bool {
	return o.LockedBy != ""
}

// ApplyUpdate 用 newState 覆盖可变的负载字段。
// 锁状态、写序号和标识字段不在可变范围内，只能通过专门的操作改变。
func (o *SceneObject) ApplyUpdate(newState SceneObject) {
	o.Kind = newState.Kind
	o.Name = newState.Name
	o.Triangles = newState.Triangles
	o.X, o.Y, o.Z = newState.X, newState.Y, newState.Z
	o.QX, o.QY, o.QZ, o.QW = newState.QX, newState.QY, newState.QZ, newState.QW
	o.SX, o.SY, o.SZ = newState.SX, newState.SY, newState.SZ
	o.UV = newState.UV
	o.Texture = newState.Texture
	o.TextureWidth = newState.TextureWidth
	o.TextureHeight = newState.TextureHeight
	o.TextureFormat = newState.TextureFormat
	o.MipmapCount = newState.MipmapCount
}
