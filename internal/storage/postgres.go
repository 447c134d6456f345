package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/LJTian/NewsHub/internal/processor"
)

// PostgresStore 基于 gorm + PostgreSQL
type PostgresStore struct {
	DB     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	s, err := openPostgres(postgres.Open(dsn), logger)
	if err != nil {
		return nil, err
	}
	if err := s.DB.AutoMigrate(&News{}, &EmergencyNews{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func openPostgres(dialector gorm.Dialector, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		// 单语句写入不需要 gorm 默认事务
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	return &PostgresStore{DB: db, logger: logger, now: time.Now}, nil
}

// Upsert 依赖表上的唯一约束保证原子性：ON CONFLICT DO NOTHING 之后再判断冲突的是哪一个约束
func (s *PostgresStore) Upsert(ctx context.Context, item processor.NewsItem) (UpsertResult, error) {
	now := s.now().UTC()
	rec := FromItem(item, now)

	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return Stored, fmt.Errorf("storage: insert %s: %w", rec.UniqueID, res.Error)
	}
	if res.RowsAffected > 0 {
		return Stored, nil
	}

	// uniqueId 已存在：只刷新 updated_at；否则是 canonical_url 冲突
	upd := s.DB.WithContext(ctx).Model(&News{}).Where("unique_id = ?", rec.UniqueID).Update("updated_at", now)
	if upd.Error != nil {
		return Stored, fmt.Errorf("storage: touch %s: %w", rec.UniqueID, upd.Error)
	}
	if upd.RowsAffected > 0 {
		return Duplicate, nil
	}
	s.logger.Debug("storage: canonical url conflict", "unique_id", rec.UniqueID, "canonical_url", rec.CanonicalURL)
	return URLConflict, nil
}

func (s *PostgresStore) EmergencyInsert(ctx context.Context, item processor.NewsItem) error {
	rec := emergencyFromItem(item, s.now())
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("storage: emergency insert %s: %w", rec.UniqueID, err)
	}
	return nil
}

func (s *PostgresStore) ExistingCanonicalURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool, len(urls))
	for _, chunk := range chunks(urls, inChunkSize) {
		var got []string
		if err := s.DB.WithContext(ctx).Model(&News{}).
			Where("canonical_url IN ?", chunk).
			Pluck("canonical_url", &got).Error; err != nil {
			return nil, fmt.Errorf("storage: lookup canonical urls: %w", err)
		}
		for _, u := range got {
			found[u] = true
		}
	}
	return found, nil
}

func (s *PostgresStore) TitleStamps(ctx context.Context, keys []string, from, to time.Time) ([]processor.TitleStamp, error) {
	var out []processor.TitleStamp
	for _, chunk := range chunks(keys, inChunkSize) {
		var rows []struct {
			NormalizedTitle string
			PublishedAt     time.Time
		}
		if err := s.DB.WithContext(ctx).Model(&News{}).
			Select("normalized_title, published_at").
			Where("normalized_title IN ? AND published_at BETWEEN ? AND ?", chunk, from.UTC(), to.UTC()).
			Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("storage: lookup titles: %w", err)
		}
		for _, r := range rows {
			out = append(out, processor.TitleStamp{Key: r.NormalizedTitle, PublishedAt: r.PublishedAt})
		}
	}
	return out, nil
}

// ListNews 按分类、来源筛选，按发布时间倒序
func (s *PostgresStore) ListNews(ctx context.Context, q ListQuery) ([]News, error) {
	q = q.normalized()
	db := s.DB.WithContext(ctx).Model(&News{})
	if q.Category != "" {
		db = db.Where("category = ?", q.Category)
	}
	if q.Source != "" {
		db = db.Where("source = ? OR api_source = ?", q.Source, q.Source)
	}
	var list []News
	if err := db.Order("published_at DESC").Limit(q.Limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("storage: list news: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByAPISource: map[string]int64{}, BySentiment: map[string]int64{}}
	db := s.DB.WithContext(ctx)

	if err := db.Model(&News{}).Count(&st.Total).Error; err != nil {
		return st, fmt.Errorf("storage: count news: %w", err)
	}
	if err := db.Model(&News{}).Where("ai_processed = ?", true).Count(&st.AIProcessed).Error; err != nil {
		return st, fmt.Errorf("storage: count ai processed: %w", err)
	}
	if err := db.Model(&EmergencyNews{}).Count(&st.Emergency).Error; err != nil {
		return st, fmt.Errorf("storage: count emergency: %w", err)
	}

	type group struct {
		Bucket string
		Total  int64
	}
	var bySource []group
	if err := db.Model(&News{}).Select("api_source AS bucket, COUNT(*) AS total").Group("api_source").Scan(&bySource).Error; err != nil {
		return st, fmt.Errorf("storage: group by source: %w", err)
	}
	for _, g := range bySource {
		st.ByAPISource[g.Bucket] = g.Total
	}
	var bySentiment []group
	if err := db.Model(&News{}).Select("sentiment_label AS bucket, COUNT(*) AS total").Group("sentiment_label").Scan(&bySentiment).Error; err != nil {
		return st, fmt.Errorf("storage: group by sentiment: %w", err)
	}
	for _, g := range bySentiment {
		st.BySentiment[g.Bucket] = g.Total
	}
	return st, nil
}

func (s *PostgresStore) Close(context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

const inChunkSize = 500

func chunks(in []string, size int) [][]string {
	var out [][]string
	for len(in) > 0 {
		n := size
		if len(in) < n {
			n = len(in)
		}
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}
