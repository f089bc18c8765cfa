package store

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"adreel/internal/config"
	"adreel/internal/model"
)

var GormDB *gorm.DB

// InitDB 初始化数据库连接并迁移表结构
func InitDB() {
	dsn := config.AppConfig.MySQL.DSN
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Generation{}, &model.StageScore{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	GormDB = db
}
