package orm

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DSN         string `mapstructure:"dsn"`          // 连接字符串，为空表示不落库
	MaxIdle     int    `mapstructure:"max_idle"`     // 最大空闲连接
	MaxOpen     int    `mapstructure:"max_open"`     // 最大打开连接
	MaxLifetime int    `mapstructure:"max_lifetime"` // 连接存活秒数
	LogLevel    string `mapstructure:"log_level"`    // silent/error/warn/info
}

// NewMySQL 初始化 GORM
func NewMySQL(c *Config) (*gorm.DB, error) {
	if _, err := mysqldriver.ParseDSN(c.DSN); err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	db, err := gorm.Open(mysql.Open(c.DSN), &gorm.Config{
		// 生产环境建议用 Warn/Error，开发环境用 Info (打印SQL)
		Logger: logger.Default.LogMode(LogLevel(c.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 关键配置：连接池优化
	sqlDB.SetMaxIdleConns(c.MaxIdle)
	sqlDB.SetMaxOpenConns(c.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)

	return db, nil
}

func LogLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Target dsn 里的 addr/db，打日志用，不带密码
func Target(dsn string) string {
	dc, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "invalid-dsn"
	}
	return dc.Addr + "/" + dc.DBName
}
