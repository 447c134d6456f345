package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/LJTian/NewsHub/internal/processor"
)

const (
	newsCollection      = "news_items"
	emergencyCollection = "news_items_emergency"
	// DefaultRetention 是 fetched_at 上 TTL 索引的保留时长
	DefaultRetention = 90 * 24 * time.Hour
)

// MongoStore 基于 MongoDB 文档存储
type MongoStore struct {
	client    *mongo.Client
	news      *mongo.Collection
	emergency *mongo.Collection
	logger    *slog.Logger
	now       func() time.Time
}

func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storage: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("storage: ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		news:      db.Collection(newsCollection),
		emergency: db.Collection(emergencyCollection),
		logger:    logger,
		now:       time.Now,
	}
	if err := s.ensureIndexes(ctx, DefaultRetention); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context, retention time.Duration) error {
	_, err := s.news.Indexes().CreateMany(ctx, newsIndexes(retention))
	if err != nil {
		return fmt.Errorf("storage: create indexes: %w", err)
	}
	s.logger.Info("storage: mongo indexes ready", "collection", newsCollection)
	return nil
}

func newsIndexes(retention time.Duration) []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "unique_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id_unique"),
		},
		{
			// 只约束非空的 canonical_url
			Keys: bson.D{{Key: "canonical_url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("canonical_url_unique").
				SetPartialFilterExpression(bson.M{"canonical_url": bson.M{"$gt": ""}}),
		},
		{
			Keys:    bson.D{{Key: "normalized_title", Value: 1}, {Key: "published_at", Value: 1}},
			Options: options.Index().SetName("title_time_dedup"),
		},
		{
			Keys:    bson.D{{Key: "fetched_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)).SetName("fetched_at_ttl"),
		},
	}
}

func (s *MongoStore) Upsert(ctx context.Context, item processor.NewsItem) (UpsertResult, error) {
	now := s.now().UTC()
	rec := FromItem(item, now)

	_, err := s.news.InsertOne(ctx, rec)
	if err == nil {
		return Stored, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return Stored, fmt.Errorf("storage: insert %s: %w", rec.UniqueID, err)
	}

	res, err := s.news.UpdateOne(ctx, bson.M{"unique_id": rec.UniqueID}, bson.M{"$set": bson.M{"updated_at": now}})
	if err != nil {
		return Stored, fmt.Errorf("storage: touch %s: %w", rec.UniqueID, err)
	}
	if res.MatchedCount > 0 {
		return Duplicate, nil
	}
	s.logger.Debug("storage: canonical url conflict", "unique_id", rec.UniqueID, "canonical_url", rec.CanonicalURL)
	return URLConflict, nil
}

func (s *MongoStore) EmergencyInsert(ctx context.Context, item processor.NewsItem) error {
	rec := emergencyFromItem(item, s.now())
	if _, err := s.emergency.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("storage: emergency insert %s: %w", rec.UniqueID, err)
	}
	return nil
}

func (s *MongoStore) ExistingCanonicalURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return found, nil
	}
	values, err := s.news.Distinct(ctx, "canonical_url", bson.M{"canonical_url": bson.M{"$in": urls}})
	if err != nil {
		return nil, fmt.Errorf("storage: lookup canonical urls: %w", err)
	}
	for _, v := range values {
		if u, ok := v.(string); ok {
			found[u] = true
		}
	}
	return found, nil
}

func (s *MongoStore) TitleStamps(ctx context.Context, keys []string, from, to time.Time) ([]processor.TitleStamp, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"normalized_title": bson.M{"$in": keys},
		"published_at":     bson.M{"$gte": from.UTC(), "$lte": to.UTC()},
	}
	opts := options.Find().SetProjection(bson.M{"normalized_title": 1, "published_at": 1})
	cur, err := s.news.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: lookup titles: %w", err)
	}
	var rows []struct {
		NormalizedTitle string    `bson:"normalized_title"`
		PublishedAt     time.Time `bson:"published_at"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("storage: decode titles: %w", err)
	}
	out := make([]processor.TitleStamp, 0, len(rows))
	for _, r := range rows {
		out = append(out, processor.TitleStamp{Key: r.NormalizedTitle, PublishedAt: r.PublishedAt})
	}
	return out, nil
}

func listFilter(q ListQuery) bson.M {
	filter := bson.M{}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	if q.Source != "" {
		filter["$or"] = bson.A{bson.M{"source": q.Source}, bson.M{"api_source": q.Source}}
	}
	return filter
}

func (s *MongoStore) ListNews(ctx context.Context, q ListQuery) ([]News, error) {
	q = q.normalized()
	opts := options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}}).SetLimit(int64(q.Limit))
	cur, err := s.news.Find(ctx, listFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("storage: list news: %w", err)
	}
	var list []News
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("storage: decode news: %w", err)
	}
	return list, nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByAPISource: map[string]int64{}, BySentiment: map[string]int64{}}
	var err error
	if st.Total, err = s.news.CountDocuments(ctx, bson.M{}); err != nil {
		return st, fmt.Errorf("storage: count news: %w", err)
	}
	if st.AIProcessed, err = s.news.CountDocuments(ctx, bson.M{"ai_processed": true}); err != nil {
		return st, fmt.Errorf("storage: count ai processed: %w", err)
	}
	if st.Emergency, err = s.emergency.CountDocuments(ctx, bson.M{}); err != nil {
		return st, fmt.Errorf("storage: count emergency: %w", err)
	}
	if err := s.groupCount(ctx, "$api_source", st.ByAPISource); err != nil {
		return st, err
	}
	if err := s.groupCount(ctx, "$sentiment_label", st.BySentiment); err != nil {
		return st, err
	}
	return st, nil
}

func (s *MongoStore) groupCount(ctx context.Context, field string, into map[string]int64) error {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: field},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.news.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("storage: group by %s: %w", field, err)
	}
	var rows []struct {
		ID    string `bson:"_id"`
		Total int64  `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return fmt.Errorf("storage: decode group by %s: %w", field, err)
	}
	for _, r := range rows {
		into[r.ID] = r.Total
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
