package domain

import "time"

// Project 表示一个可协作编辑的场景项目。
// 对象集合不内嵌在这里：运行时由 state.ProjectCache 持有有序副本，
// 持久化时 scene_objects 表通过 ProjectID 关联。
type Project struct {
	ID           string    `gorm:"primaryKey;size:191" json:"id"` // 项目唯一标识符（同时用作房间代码）
	Name         string    `gorm:"size:191;not null" json:"name"` // 项目名称
	Description  string    `gorm:"type:text" json:"description"`  // 项目描述
	OwnerID      uint      `gorm:"index" json:"owner_id"`         // 创建该项目的用户 ID
	DateModified time.Time `gorm:"index" json:"date_modified"`    // 最后一次缓存变更时间
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"-"`
}
