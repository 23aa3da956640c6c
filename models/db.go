package models

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/config"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

// InitDB 打开 MySQL 连接并自动建表（服务端入口使用）
func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	db, err := sql.Open("mysql", config.AppConfig.MySQL.DSN)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = Open(mysql.New(mysql.Config{Conn: DB}))
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}
	zap.L().Info("数据库连接成功 (Native SQL + GORM)")
}

// Open wraps a dialector in gorm and migrates every table.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Project{}, &Character{}, &Scene{}, &Prop{}, &Storyboard{}, &Task{})
}
