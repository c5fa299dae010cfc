package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lucidbard/realityflow-2/internal/domain"
)

// MigrateDB 自动迁移全部模型对应的表结构。
// 字符串主键和唯一索引列都在模型 tag 里限定了长度，
// AutoMigrate 在 utf8mb4 下不会再碰到索引长度问题。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	err := db.AutoMigrate(
		&domain.User{},
		&domain.Project{},
		&domain.SceneObject{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
