package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mercator-hq/tally/pkg/analytics"
)

// MongoConfig contains configuration for the MongoDB storage backend.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the database holding the analytics collections.
	// Default: "analytics"
	Database string

	// ConnectTimeout bounds the initial connection and ping.
	// Default: 10 seconds
	ConnectTimeout time.Duration

	// ServerSelectionTimeout bounds server selection for every operation.
	// Default: 5 seconds
	ServerSelectionTimeout time.Duration

	// MaxPoolSize is the maximum number of pooled connections.
	// Default: 10
	MaxPoolSize uint64
}

// DefaultMongoConfig returns the default MongoDB configuration.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:                    "mongodb://localhost:27017",
		Database:               "analytics",
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
		MaxPoolSize:            10,
	}
}

// MongoStore implements analytics.Store on MongoDB. Counter writes are
// single UpdateOne calls with upsert, combining $inc, $set, $setOnInsert
// and $push, so concurrent writers serialize inside the server.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	config *MongoConfig
	logger *slog.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}
	if config.Database == "" {
		config.Database = "analytics"
	}

	logger := slog.Default().With("component", "analytics.storage.mongo")

	opts := options.Client().
		ApplyURI(config.URI).
		SetAppName("tally")
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(config.ConnectTimeout)
	}
	if config.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(config.ServerSelectionTimeout)
	}
	if config.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(config.MaxPoolSize)
	}

	connectCtx := ctx
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, analytics.NewStorageError("mongo", "connect", 0, err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, analytics.NewStorageError("mongo", "ping", 0, err)
	}

	logger.Info("MongoDB analytics store connected", "database", config.Database)

	return &MongoStore{
		client: client,
		db:     client.Database(config.Database),
		config: config,
		logger: logger,
	}, nil
}

func (s *MongoStore) coll(c analytics.Category) *mongo.Collection {
	return s.db.Collection(c.Collection())
}

// Backend implements analytics.Store.
func (s *MongoStore) Backend() string { return "mongo" }

// Ping implements analytics.Store.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return analytics.NewStorageError("mongo", "ping", 0, err)
	}
	return nil
}

// indexModel converts an IndexSpec into a driver index model.
func indexModel(spec analytics.IndexSpec) mongo.IndexModel {
	keys := bson.D{}
	for _, f := range spec.Fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}

	opts := options.Index().SetName(spec.Name)
	if spec.Unique {
		opts.SetUnique(true)
	}
	if spec.TTL > 0 {
		opts.SetExpireAfterSeconds(int32(spec.TTL / time.Second))
	}

	return mongo.IndexModel{Keys: keys, Options: opts}
}

// Index option conflict codes reported by the server.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// CreateIndex implements analytics.Store. Re-creating an identical index is
// a no-op on the server. A TTL index whose expiry differs from spec is
// updated in place with collMod, so server-side expiry follows the current
// retention policy. Any other existing index with different options is
// reported as a conflict.
func (s *MongoStore) CreateIndex(ctx context.Context, spec analytics.IndexSpec) error {
	_, err := s.coll(spec.Category).Indexes().CreateOne(ctx, indexModel(spec))
	if err == nil {
		return nil
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == codeIndexOptionsConflict && spec.TTL > 0 {
		if err := s.db.RunCommand(ctx, ttlCollMod(spec)).Err(); err != nil {
			return analytics.NewIndexError(spec.Name, spec.Category, false, err)
		}
		s.logger.Info("TTL index expiry updated",
			"collection", spec.Category.Collection(),
			"index", spec.Name,
			"ttl", spec.TTL,
		)
		return nil
	}

	conflict := errors.As(err, &ce) &&
		(ce.Code == codeIndexOptionsConflict || ce.Code == codeIndexKeySpecsConflict)
	return analytics.NewIndexError(spec.Name, spec.Category, conflict, err)
}

// ttlCollMod builds the command that changes the expiry of an existing TTL
// index.
func ttlCollMod(spec analytics.IndexSpec) bson.D {
	return bson.D{
		{Key: "collMod", Value: spec.Category.Collection()},
		{Key: "index", Value: bson.D{
			{Key: "name", Value: spec.Name},
			{Key: "expireAfterSeconds", Value: int64(spec.TTL / time.Second)},
		}},
	}
}

// menuFilter selects the record at key.
func menuFilter(key analytics.MenuKey) bson.D {
	return bson.D{
		{Key: "menuId", Value: key.MenuID},
		{Key: "period", Value: key.Period},
		{Key: "periodType", Value: string(key.PeriodType)},
	}
}

// menuUpdate builds the single update document applying delta. Scalar
// counters are always $inc'ed, which also creates them at zero on insert.
// Maps and the peak hour list are seeded by $setOnInsert only when the
// update does not touch them, since one path cannot appear in two operators.
func menuUpdate(delta analytics.MenuDelta, now time.Time) bson.D {
	inc := bson.D{
		{Key: "viewCount", Value: delta.Views},
		{Key: "orderCount", Value: delta.Orders},
		{Key: "totalRevenue", Value: delta.Revenue},
		{Key: "ratingCount", Value: delta.RatingCount},
		{Key: "ratingSum", Value: delta.RatingSum},
	}
	for _, k := range delta.Diet.Keys() {
		inc = append(inc, bson.E{Key: "ordersByDiet." + k, Value: delta.Diet[k]})
	}
	for _, k := range delta.Theme.Keys() {
		inc = append(inc, bson.E{Key: "ordersByTheme." + k, Value: delta.Theme[k]})
	}

	set := bson.D{
		{Key: "menuTitle", Value: delta.Title},
		{Key: "updatedAt", Value: now},
	}

	setOnInsert := bson.D{{Key: "createdAt", Value: now}}
	if len(delta.Diet) == 0 {
		setOnInsert = append(setOnInsert, bson.E{Key: "ordersByDiet", Value: bson.D{}})
	}
	if len(delta.Theme) == 0 {
		setOnInsert = append(setOnInsert, bson.E{Key: "ordersByTheme", Value: bson.D{}})
	}
	if delta.PeakHour == nil {
		setOnInsert = append(setOnInsert, bson.E{Key: "peakHours", Value: bson.A{}})
	}

	update := bson.D{
		{Key: "$inc", Value: inc},
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: setOnInsert},
	}
	if delta.PeakHour != nil {
		update = append(update, bson.E{Key: "$push", Value: bson.D{{Key: "peakHours", Value: *delta.PeakHour}}})
	}
	return update
}

// ApplyMenuDelta implements analytics.Store.
func (s *MongoStore) ApplyMenuDelta(ctx context.Context, key analytics.MenuKey, delta analytics.MenuDelta, now time.Time) error {
	if err := delta.Validate(); err != nil {
		return analytics.NewStorageError("mongo", "upsert", analytics.MenuAnalytics, err)
	}

	_, err := s.coll(analytics.MenuAnalytics).UpdateOne(ctx,
		menuFilter(key),
		menuUpdate(delta, now),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return analytics.NewStorageError("mongo", "upsert", analytics.MenuAnalytics, err)
	}
	return nil
}

// orderSnapshotUpdate replaces every field but createdAt, which is only
// written on insert.
func orderSnapshotUpdate(rec *analytics.OrderSnapshotRecord) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "userId", Value: rec.UserID},
			{Key: "userName", Value: rec.UserName},
			{Key: "userEmail", Value: rec.UserEmail},
			{Key: "status", Value: rec.Status},
			{Key: "items", Value: rec.Items},
			{Key: "totalPrice", Value: rec.TotalPrice},
			{Key: "orderDate", Value: rec.OrderDate},
			{Key: "updatedAt", Value: rec.UpdatedAt},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "createdAt", Value: rec.CreatedAt},
		}},
	}
}

// UpsertOrderSnapshot implements analytics.Store.
func (s *MongoStore) UpsertOrderSnapshot(ctx context.Context, rec *analytics.OrderSnapshotRecord) error {
	_, err := s.coll(analytics.OrderSnapshot).UpdateOne(ctx,
		bson.D{{Key: "orderId", Value: rec.OrderID}},
		orderSnapshotUpdate(rec),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return analytics.NewStorageError("mongo", "upsert", analytics.OrderSnapshot, err)
	}
	return nil
}

// UpsertDashboardStats implements analytics.Store.
func (s *MongoStore) UpsertDashboardStats(ctx context.Context, rec *analytics.DashboardStatsRecord) error {
	_, err := s.coll(analytics.DashboardStats).ReplaceOne(ctx,
		bson.D{{Key: "date", Value: rec.Date}, {Key: "type", Value: rec.Type}},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return analytics.NewStorageError("mongo", "upsert", analytics.DashboardStats, err)
	}
	return nil
}

// AppendActivity implements analytics.Store.
func (s *MongoStore) AppendActivity(ctx context.Context, rec *analytics.ActivityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.insert(ctx, analytics.UserActivityLog, rec)
}

// AppendSearch implements analytics.Store.
func (s *MongoStore) AppendSearch(ctx context.Context, rec *analytics.SearchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.insert(ctx, analytics.SearchAnalytics, rec)
}

// AppendAudit implements analytics.Store.
func (s *MongoStore) AppendAudit(ctx context.Context, rec *analytics.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.insert(ctx, analytics.AuditLog, rec)
}

func (s *MongoStore) insert(ctx context.Context, c analytics.Category, doc any) error {
	if _, err := s.coll(c).InsertOne(ctx, doc); err != nil {
		return analytics.NewStorageError("mongo", "insert", c, err)
	}
	return nil
}

// MarkSearchesConverted implements analytics.Store.
func (s *MongoStore) MarkSearchesConverted(ctx context.Context, sessionID string, since time.Time) (int64, error) {
	res, err := s.coll(analytics.SearchAnalytics).UpdateMany(ctx,
		bson.D{
			{Key: "sessionId", Value: sessionID},
			{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
			{Key: "convertedToOrder", Value: false},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "convertedToOrder", Value: true}}}},
	)
	if err != nil {
		return 0, analytics.NewStorageError("mongo", "update", analytics.SearchAnalytics, err)
	}
	return res.ModifiedCount, nil
}

// olderThanFilter selects records of c whose time field is before cutoff.
func olderThanFilter(c analytics.Category, cutoff time.Time) bson.D {
	return bson.D{{Key: c.TimeField(), Value: bson.D{{Key: "$lt", Value: cutoff}}}}
}

// DeleteOlderThan implements analytics.Store.
func (s *MongoStore) DeleteOlderThan(ctx context.Context, c analytics.Category, cutoff time.Time) (int64, error) {
	if !c.Valid() {
		return 0, analytics.NewStorageError("mongo", "delete", c, fmt.Errorf("unknown category"))
	}

	res, err := s.coll(c).DeleteMany(ctx, olderThanFilter(c, cutoff))
	if err != nil {
		return 0, analytics.NewStorageError("mongo", "delete", c, err)
	}

	s.logger.Debug("deleted expired records",
		"category", c.String(),
		"cutoff", cutoff,
		"deleted_count", res.DeletedCount,
	)
	return res.DeletedCount, nil
}

// CollectionStats implements analytics.Store using the collStats command.
func (s *MongoStore) CollectionStats(ctx context.Context, c analytics.Category) (analytics.CollectionStats, error) {
	var raw bson.M
	err := s.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: c.Collection()}}).Decode(&raw)
	if err != nil {
		return analytics.CollectionStats{}, analytics.NewStorageError("mongo", "stats", c, err)
	}

	return analytics.CollectionStats{
		Count:     toInt64(raw["count"]),
		SizeBytes: toInt64(raw["size"]),
	}, nil
}

// DatabaseSize implements analytics.Store using dbStats: data plus index
// bytes, which is what managed tiers count against the quota.
func (s *MongoStore) DatabaseSize(ctx context.Context) (int64, error) {
	var raw bson.M
	if err := s.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&raw); err != nil {
		return 0, analytics.NewStorageError("mongo", "database_size", 0, err)
	}
	return toInt64(raw["dataSize"]) + toInt64(raw["indexSize"]), nil
}

// toInt64 normalizes the numeric types stats commands return.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

// orderSummaryPipeline groups snapshots created at or after since.
func orderSummaryPipeline(since time.Time) mongo.Pipeline {
	countStatus := func(status string) bson.D {
		return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{"$status", status}}}, 1, 0,
		}}}}}
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "totalOrders", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "completedOrders", Value: countStatus(analytics.OrderStatusCompleted)},
			{Key: "cancelledOrders", Value: countStatus(analytics.OrderStatusCancelled)},
			{Key: "pendingOrders", Value: countStatus(analytics.OrderStatusPending)},
			{Key: "totalRevenue", Value: bson.D{{Key: "$sum", Value: "$totalPrice"}}},
		}}},
	}
}

// SummarizeOrders implements analytics.Store.
func (s *MongoStore) SummarizeOrders(ctx context.Context, since time.Time) (analytics.OrderSummary, error) {
	cur, err := s.coll(analytics.OrderSnapshot).Aggregate(ctx, orderSummaryPipeline(since))
	if err != nil {
		return analytics.OrderSummary{}, analytics.NewStorageError("mongo", "aggregate", analytics.OrderSnapshot, err)
	}

	var rows []struct {
		TotalOrders     int64   `bson:"totalOrders"`
		CompletedOrders int64   `bson:"completedOrders"`
		CancelledOrders int64   `bson:"cancelledOrders"`
		PendingOrders   int64   `bson:"pendingOrders"`
		TotalRevenue    float64 `bson:"totalRevenue"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return analytics.OrderSummary{}, analytics.NewStorageError("mongo", "aggregate", analytics.OrderSnapshot, err)
	}
	if len(rows) == 0 {
		return analytics.OrderSummary{}, nil
	}

	r := rows[0]
	return analytics.OrderSummary{
		TotalOrders:     r.TotalOrders,
		CompletedOrders: r.CompletedOrders,
		CancelledOrders: r.CancelledOrders,
		PendingOrders:   r.PendingOrders,
		TotalRevenue:    r.TotalRevenue,
	}, nil
}

// popularSearchesPipeline counts normalized queries since a time.
func popularSearchesPipeline(since time.Time, limit int) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
			{Key: "normalizedQuery", Value: bson.D{{Key: "$ne", Value: ""}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$normalizedQuery"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	return pipeline
}

// PopularSearches implements analytics.Store.
func (s *MongoStore) PopularSearches(ctx context.Context, since time.Time, limit int) ([]analytics.PopularSearch, error) {
	cur, err := s.coll(analytics.SearchAnalytics).Aggregate(ctx, popularSearchesPipeline(since, limit))
	if err != nil {
		return nil, analytics.NewStorageError("mongo", "aggregate", analytics.SearchAnalytics, err)
	}

	out := []analytics.PopularSearch{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, analytics.NewStorageError("mongo", "aggregate", analytics.SearchAnalytics, err)
	}
	return out, nil
}

func findOptions(sortField string, limit int) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

// MenuAnalytics implements analytics.Store.
func (s *MongoStore) MenuAnalytics(ctx context.Context, menuID int64, pt analytics.PeriodType, limit int) ([]*analytics.MenuAnalyticsRecord, error) {
	cur, err := s.coll(analytics.MenuAnalytics).Find(ctx,
		bson.D{{Key: "menuId", Value: menuID}, {Key: "periodType", Value: string(pt)}},
		findOptions("period", limit),
	)
	if err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.MenuAnalytics, err)
	}

	var out []*analytics.MenuAnalyticsRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.MenuAnalytics, err)
	}
	for _, r := range out {
		r.DeriveAverageRating()
	}
	return out, nil
}

// DashboardStats implements analytics.Store.
func (s *MongoStore) DashboardStats(ctx context.Context, date, typ string) (*analytics.DashboardStatsRecord, error) {
	var rec analytics.DashboardStatsRecord
	err := s.coll(analytics.DashboardStats).FindOne(ctx,
		bson.D{{Key: "date", Value: date}, {Key: "type", Value: typ}},
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.DashboardStats, err)
	}
	return &rec, nil
}

// UserActivity implements analytics.Store.
func (s *MongoStore) UserActivity(ctx context.Context, userID string, limit int) ([]*analytics.ActivityRecord, error) {
	cur, err := s.coll(analytics.UserActivityLog).Find(ctx,
		bson.D{{Key: "userId", Value: userID}},
		findOptions("timestamp", limit),
	)
	if err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.UserActivityLog, err)
	}

	var out []*analytics.ActivityRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.UserActivityLog, err)
	}
	return out, nil
}

// AuditTrail implements analytics.Store.
func (s *MongoStore) AuditTrail(ctx context.Context, entityType, entityID string, limit int) ([]*analytics.AuditRecord, error) {
	cur, err := s.coll(analytics.AuditLog).Find(ctx,
		bson.D{{Key: "entityType", Value: entityType}, {Key: "entityId", Value: entityID}},
		findOptions("timestamp", limit),
	)
	if err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.AuditLog, err)
	}

	var out []*analytics.AuditRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, analytics.NewStorageError("mongo", "find", analytics.AuditLog, err)
	}
	return out, nil
}

// Close implements analytics.Store.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Disconnect(ctx); err != nil {
		return analytics.NewStorageError("mongo", "close", 0, err)
	}
	s.logger.Info("MongoDB analytics store disconnected")
	return nil
}
