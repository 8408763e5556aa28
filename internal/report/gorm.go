package report

import (
	"context"
	"fmt"
	"time"

	"fbahunter/internal/model"
	"fbahunter/internal/profit"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const insertBatchSize = 200

// ProfitRow 是 profit_records 表的一行。每次运行追加写入，用于历史对比。
type ProfitRow struct {
	ID             uint      `gorm:"primaryKey"`
	RunID          string    `gorm:"type:varchar(64);index"`
	Supplier       string    `gorm:"type:varchar(191);index"`
	SupplierKey    string    `gorm:"type:varchar(191);index"`
	SupplierTitle  string    `gorm:"type:text"`
	SupplierURL    string    `gorm:"type:text"`
	IdentifierCode string    `gorm:"type:varchar(32)"`
	SupplierPrice  float64   `gorm:"type:decimal(12,2)"`
	CatalogID      string    `gorm:"type:varchar(64);index"`
	MarketplaceURL string    `gorm:"type:text"`
	ListingTitle   string    `gorm:"type:text"`
	SellingPrice   float64   `gorm:"type:decimal(12,2)"`
	TotalFees      float64   `gorm:"type:decimal(12,2)"`
	NetProfit      float64   `gorm:"type:decimal(12,2)"`
	ROI            float64   `gorm:"column:roi;type:decimal(12,2)"`
	MatchType      string    `gorm:"type:varchar(32)"`
	Confidence     float64
	Profitable     bool      `gorm:"index"`
	EvaluatedAt    time.Time
	CreatedAt      time.Time
}

func (ProfitRow) TableName() string { return "profit_records" }

// GormSink 把记录追加写入数据库。
type GormSink struct {
	db *gorm.DB
}

// NewGormSink 使用已打开的连接创建输出，并迁移表结构。
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&ProfitRow{}); err != nil {
		return nil, fmt.Errorf("migrate profit_records: %w", err)
	}
	return &GormSink{db: db}, nil
}

// OpenMySQL 打开 MySQL 连接并创建输出。
func OpenMySQL(dsn string) (*GormSink, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return NewGormSink(db)
}

func (s *GormSink) Name() string { return "mysql" }

func (s *GormSink) Write(ctx context.Context, r *Report) error {
	rows := Rows(r)
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert profit_records: %w", err)
	}
	return nil
}

// Rows 把报表转换为数据库行。金额舍入到分。
func Rows(r *Report) []ProfitRow {
	rows := make([]ProfitRow, 0, len(r.Records))
	for _, rec := range r.Records {
		rows = append(rows, toRow(r, rec))
	}
	return rows
}

func toRow(r *Report, rec model.ProfitRecord) ProfitRow {
	return ProfitRow{
		RunID:          r.RunID,
		Supplier:       r.Supplier,
		SupplierKey:    rec.SupplierKey,
		SupplierTitle:  rec.SupplierTitle,
		SupplierURL:    rec.SupplierURL,
		IdentifierCode: rec.IdentifierCode,
		SupplierPrice:  profit.Round2(rec.SupplierPrice),
		CatalogID:      rec.CatalogID,
		MarketplaceURL: rec.MarketplaceURL,
		ListingTitle:   rec.ListingTitle,
		SellingPrice:   profit.Round2(rec.SellingPrice),
		TotalFees:      profit.Round2(rec.Fees.Total),
		NetProfit:      profit.Round2(rec.NetProfit),
		ROI:            profit.Round2(rec.ROI),
		MatchType:      string(rec.MatchType),
		Confidence:     rec.Confidence,
		Profitable:     rec.Profitable,
		EvaluatedAt:    rec.EvaluatedAt,
	}
}
