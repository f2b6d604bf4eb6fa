package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockx.com/internal/quotes/model"
	"stockx.com/pkg/metrics"
)

// MySQL gorm 实现。表结构由外部维护，AutoMigrate 只在本地/测试用
type MySQL struct {
	db *gorm.DB
}

func NewMySQL(db *gorm.DB) *MySQL {
	return &MySQL{db: db}
}

func (s *MySQL) AutoMigrate() error {
	return s.db.AutoMigrate(&InstrumentRow{})
}

func (s *MySQL) LoadInstrument(ctx context.Context, symbol string) (q model.Quote, ok bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveDB("load_instrument", start, err) }()

	var row InstrumentRow
	err = s.db.WithContext(ctx).Where("symbol = ?", symbol).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Quote{}, false, nil
	}
	if err != nil {
		return model.Quote{}, false, err
	}
	return row.quote(), true, nil
}

// SaveInstrument upsert 整行，合并在缓存里已经做过了
func (s *MySQL) SaveInstrument(ctx context.Context, q model.Quote) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveDB("save_instrument", start, err) }()

	row := rowFromQuote(q)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}
