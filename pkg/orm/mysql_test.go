package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, LogLevel("silent"))
	assert.Equal(t, logger.Info, LogLevel("info"))
	assert.Equal(t, logger.Warn, LogLevel(""))
	assert.Equal(t, logger.Warn, LogLevel("bogus"))
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3307/stockx",
		Target("root:123456@tcp(127.0.0.1:3307)/stockx?charset=utf8mb4&parseTime=true"))
	assert.Equal(t, "invalid-dsn", Target("root@tcp(127.0.0.1:3307"))
}

func TestNewMySQL_BadDSN(t *testing.T) {
	_, err := NewMySQL(&Config{DSN: "root@tcp(127.0.0.1:3307"})
	assert.ErrorContains(t, err, "parse mysql dsn")
}
