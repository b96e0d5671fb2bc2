package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver (cgo)
	_ "modernc.org/sqlite"          // "sqlite" driver (pure Go)

	"mercator-hq/tally/pkg/analytics"
)

// Driver names accepted by SQLiteConfig.Driver.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver: "sqlite" (modernc.org/sqlite,
	// pure Go) or "sqlite3" (github.com/mattn/go-sqlite3, cgo).
	// Default: "sqlite"
	Driver string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 2
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/analytics.db",
		Driver:       DriverModernc,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements analytics.Store on SQLite. Each category is one
// table of JSON documents; counter upserts are single
// INSERT ... ON CONFLICT DO UPDATE statements, so they are atomic per key.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite backend and initializes its schema.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverModernc
	}

	logger := slog.Default().With("component", "analytics.storage.sqlite")

	db, err := sql.Open(config.Driver, sqliteDSN(config))
	if err != nil {
		return nil, analytics.NewStorageError("sqlite", "open", 0, err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite analytics store initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// sqliteDSN applies connection pragmas in the dialect of the chosen driver,
// so every pooled connection gets them.
func sqliteDSN(config *SQLiteConfig) string {
	busyMs := config.BusyTimeout.Milliseconds()
	if config.Driver == DriverMattn {
		dsn := fmt.Sprintf("%s?_busy_timeout=%d", config.Path, busyMs)
		if config.WALMode {
			dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
		}
		return dsn
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", config.Path, busyMs)
	if config.WALMode {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	return dsn
}

// initialize creates the category tables and records the schema version.
func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(Schema()); err != nil {
		return analytics.NewStorageError("sqlite", "create_schema", 0, err)
	}
	s.logger.Debug("database schema created")

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return analytics.NewStorageError("sqlite", "insert_schema_version", 0, err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return analytics.NewStorageError("sqlite", "get_schema_version", 0, err)
	}
	if version != SchemaVersion {
		return analytics.NewStorageError("sqlite", "schema_version_mismatch", 0,
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Backend implements analytics.Store.
func (s *SQLiteStore) Backend() string { return "sqlite" }

// Ping implements analytics.Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return analytics.NewStorageError("sqlite", "ping", 0, err)
	}
	return nil
}

// CreateIndex implements analytics.Store. SQLite has no TTL indexes; a TTL
// spec becomes a plain index on ts and expiry is left to the cleanup engine.
func (s *SQLiteStore) CreateIndex(ctx context.Context, spec analytics.IndexSpec) error {
	name, ddl := indexDDL(spec)

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name).Scan(&exists)
	if err != nil {
		return analytics.NewIndexError(spec.Name, spec.Category, false, err)
	}
	if exists > 0 {
		return analytics.NewIndexError(spec.Name, spec.Category, true, fmt.Errorf("index %s already exists", name))
	}

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return analytics.NewIndexError(spec.Name, spec.Category, false, err)
	}

	s.logger.Debug("index created", "index", name, "unique", spec.Unique, "ttl", spec.TTL)
	return nil
}

func menuKeyString(k analytics.MenuKey) string {
	return fmt.Sprintf("%d|%s|%s", k.MenuID, k.Period, k.PeriodType)
}

func dashboardKeyString(date, typ string) string {
	return date + "|" + typ
}

// ApplyMenuDelta implements analytics.Store with one upsert statement. The
// insert branch carries a document seeded with the delta; the update branch
// increments the stored fields in place with json_set.
func (s *SQLiteStore) ApplyMenuDelta(ctx context.Context, key analytics.MenuKey, delta analytics.MenuDelta, now time.Time) error {
	if err := delta.Validate(); err != nil {
		return analytics.NewStorageError("sqlite", "upsert", analytics.MenuAnalytics, err)
	}

	seed := &analytics.MenuAnalyticsRecord{
		MenuID:        key.MenuID,
		MenuTitle:     delta.Title,
		Period:        key.Period,
		PeriodType:    key.PeriodType,
		ViewCount:     delta.Views,
		OrderCount:    delta.Orders,
		TotalRevenue:  delta.Revenue,
		OrdersByDiet:  analytics.CounterMap{},
		OrdersByTheme: analytics.CounterMap{},
		PeakHours:     []int{},
		RatingCount:   delta.RatingCount,
		RatingSum:     delta.RatingSum,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	seed.OrdersByDiet.Merge(delta.Diet)
	seed.OrdersByTheme.Merge(delta.Theme)
	if delta.PeakHour != nil {
		seed.PeakHours = append(seed.PeakHours, *delta.PeakHour)
	}

	doc, err := json.Marshal(seed)
	if err != nil {
		return analytics.NewStorageError("sqlite", "marshal", analytics.MenuAnalytics, err)
	}

	setExpr, setArgs := menuUpdateSet(delta, now)
	query := fmt.Sprintf(`
INSERT INTO %s (key, ts, doc) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    ts = excluded.ts,
    doc = json_set(doc, %s)`, analytics.MenuAnalytics.Collection(), setExpr)

	args := append([]any{menuKeyString(key), now.UnixNano(), string(doc)}, setArgs...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return analytics.NewStorageError("sqlite", "upsert", analytics.MenuAnalytics, err)
	}
	return nil
}

// menuUpdateSet builds the json_set path/value list for an existing menu
// document. Paths are bound as parameters; counter keys are validated by
// the caller.
func menuUpdateSet(delta analytics.MenuDelta, now time.Time) (string, []any) {
	var exprs []string
	var args []any

	set := func(path string, v any) {
		exprs = append(exprs, "?, ?")
		args = append(args, path, v)
	}
	inc := func(path string, v any) {
		exprs = append(exprs, "?, COALESCE(json_extract(doc, ?), 0) + ?")
		args = append(args, path, path, v)
	}

	set("$.menuTitle", delta.Title)
	set("$.updatedAt", now.Format(time.RFC3339Nano))
	inc("$.viewCount", delta.Views)
	inc("$.orderCount", delta.Orders)
	inc("$.totalRevenue", delta.Revenue)
	if delta.RatingCount != 0 || delta.RatingSum != 0 {
		inc("$.ratingCount", delta.RatingCount)
		inc("$.ratingSum", delta.RatingSum)
	}
	for _, k := range delta.Diet.Keys() {
		inc(fmt.Sprintf(`$.ordersByDiet."%s"`, k), delta.Diet[k])
	}
	for _, k := range delta.Theme.Keys() {
		inc(fmt.Sprintf(`$.ordersByTheme."%s"`, k), delta.Theme[k])
	}
	if delta.PeakHour != nil {
		set("$.peakHours[#]", *delta.PeakHour)
	}

	return strings.Join(exprs, ", "), args
}

// UpsertOrderSnapshot implements analytics.Store. An existing snapshot keeps
// its original createdAt so retention counts from the first sighting.
func (s *SQLiteStore) UpsertOrderSnapshot(ctx context.Context, rec *analytics.OrderSnapshotRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return analytics.NewStorageError("sqlite", "marshal", analytics.OrderSnapshot, err)
	}

	table := analytics.OrderSnapshot.Collection()
	query := fmt.Sprintf(`
INSERT INTO %[1]s (key, ts, doc) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    doc = json_set(excluded.doc, '$.createdAt', json_extract(%[1]s.doc, '$.createdAt'))`, table)

	if _, err := s.db.ExecContext(ctx, query, rec.OrderID, rec.CreatedAt.UnixNano(), string(doc)); err != nil {
		return analytics.NewStorageError("sqlite", "upsert", analytics.OrderSnapshot, err)
	}
	return nil
}

// UpsertDashboardStats implements analytics.Store.
func (s *SQLiteStore) UpsertDashboardStats(ctx context.Context, rec *analytics.DashboardStatsRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return analytics.NewStorageError("sqlite", "marshal", analytics.DashboardStats, err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (key, ts, doc) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET ts = excluded.ts, doc = excluded.doc`, analytics.DashboardStats.Collection())

	if _, err := s.db.ExecContext(ctx, query, dashboardKeyString(rec.Date, rec.Type), rec.ComputedAt.UnixNano(), string(doc)); err != nil {
		return analytics.NewStorageError("sqlite", "upsert", analytics.DashboardStats, err)
	}
	return nil
}

// AppendActivity implements analytics.Store.
func (s *SQLiteStore) AppendActivity(ctx context.Context, rec *analytics.ActivityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.insert(ctx, analytics.UserActivityLog, rec.ID, rec.Timestamp, rec)
}

// AppendSearch implements analytics.Store.
func (s *SQLiteStore) AppendSearch(ctx context.Context, rec *analytics.SearchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.insert(ctx, analytics.SearchAnalytics, rec.ID, rec.Timestamp, rec)
}

// AppendAudit implements analytics.Store.
func (s *SQLiteStore) AppendAudit(ctx context.Context, rec *analytics.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.insert(ctx, analytics.AuditLog, rec.ID, rec.Timestamp, rec)
}

func (s *SQLiteStore) insert(ctx context.Context, c analytics.Category, key string, ts time.Time, rec any) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return analytics.NewStorageError("sqlite", "marshal", c, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (key, ts, doc) VALUES (?, ?, ?)", c.Collection())
	if _, err := s.db.ExecContext(ctx, query, key, ts.UnixNano(), string(doc)); err != nil {
		return analytics.NewStorageError("sqlite", "insert", c, err)
	}
	return nil
}

// MarkSearchesConverted implements analytics.Store.
func (s *SQLiteStore) MarkSearchesConverted(ctx context.Context, sessionID string, since time.Time) (int64, error) {
	query := fmt.Sprintf(`
UPDATE %s SET doc = json_set(doc, '$.convertedToOrder', json('true'))
WHERE json_extract(doc, '$.sessionId') = ? AND ts >= ? AND json_extract(doc, '$.convertedToOrder') = 0`,
		analytics.SearchAnalytics.Collection())

	res, err := s.db.ExecContext(ctx, query, sessionID, since.UnixNano())
	if err != nil {
		return 0, analytics.NewStorageError("sqlite", "update", analytics.SearchAnalytics, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOlderThan implements analytics.Store.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, c analytics.Category, cutoff time.Time) (int64, error) {
	if !c.Valid() {
		return 0, analytics.NewStorageError("sqlite", "delete", c, fmt.Errorf("unknown category"))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE ts < ?", c.Collection())
	res, err := s.db.ExecContext(ctx, query, cutoff.UnixNano())
	if err != nil {
		return 0, analytics.NewStorageError("sqlite", "delete", c, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, analytics.NewStorageError("sqlite", "delete", c, err)
	}

	s.logger.Debug("deleted expired records",
		"category", c.String(),
		"cutoff", cutoff,
		"deleted_count", deleted,
	)
	return deleted, nil
}

// CollectionStats implements analytics.Store. The size is the stored
// document bytes of the table.
func (s *SQLiteStore) CollectionStats(ctx context.Context, c analytics.Category) (analytics.CollectionStats, error) {
	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(LENGTH(doc)), 0) FROM %s", c.Collection())

	var stats analytics.CollectionStats
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Count, &stats.SizeBytes); err != nil {
		return analytics.CollectionStats{}, analytics.NewStorageError("sqlite", "stats", c, err)
	}
	return stats, nil
}

// DatabaseSize implements analytics.Store: pages in use times page size.
// Pages on the freelist are excluded so deletions show up without VACUUM.
func (s *SQLiteStore) DatabaseSize(ctx context.Context) (int64, error) {
	const query = `
SELECT (p.page_count - f.freelist_count) * s.page_size
FROM pragma_page_count() AS p, pragma_freelist_count() AS f, pragma_page_size() AS s`

	var size int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&size); err != nil {
		return 0, analytics.NewStorageError("sqlite", "database_size", 0, err)
	}
	return size, nil
}

// SummarizeOrders implements analytics.Store.
func (s *SQLiteStore) SummarizeOrders(ctx context.Context, since time.Time) (analytics.OrderSummary, error) {
	query := fmt.Sprintf(`
SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN json_extract(doc, '$.status') = ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN json_extract(doc, '$.status') = ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN json_extract(doc, '$.status') = ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(json_extract(doc, '$.totalPrice')), 0.0)
FROM %s WHERE ts >= ?`, analytics.OrderSnapshot.Collection())

	var sum analytics.OrderSummary
	err := s.db.QueryRowContext(ctx, query,
		analytics.OrderStatusCompleted,
		analytics.OrderStatusCancelled,
		analytics.OrderStatusPending,
		since.UnixNano(),
	).Scan(&sum.TotalOrders, &sum.CompletedOrders, &sum.CancelledOrders, &sum.PendingOrders, &sum.TotalRevenue)
	if err != nil {
		return analytics.OrderSummary{}, analytics.NewStorageError("sqlite", "aggregate", analytics.OrderSnapshot, err)
	}
	return sum, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// PopularSearches implements analytics.Store.
func (s *SQLiteStore) PopularSearches(ctx context.Context, since time.Time, limit int) ([]analytics.PopularSearch, error) {
	query := fmt.Sprintf(`
SELECT json_extract(doc, '$.normalizedQuery') AS q, COUNT(*) AS n
FROM %s
WHERE ts >= ? AND COALESCE(json_extract(doc, '$.normalizedQuery'), '') != ''
GROUP BY q
ORDER BY n DESC, q ASC
LIMIT ?`, analytics.SearchAnalytics.Collection())

	rows, err := s.db.QueryContext(ctx, query, since.UnixNano(), sqlLimit(limit))
	if err != nil {
		return nil, analytics.NewStorageError("sqlite", "query", analytics.SearchAnalytics, err)
	}
	defer rows.Close()

	out := []analytics.PopularSearch{}
	for rows.Next() {
		var ps analytics.PopularSearch
		if err := rows.Scan(&ps.Query, &ps.Count); err != nil {
			return nil, analytics.NewStorageError("sqlite", "scan", analytics.SearchAnalytics, err)
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, analytics.NewStorageError("sqlite", "query", analytics.SearchAnalytics, err)
	}
	return out, nil
}

// MenuAnalytics implements analytics.Store.
func (s *SQLiteStore) MenuAnalytics(ctx context.Context, menuID int64, pt analytics.PeriodType, limit int) ([]*analytics.MenuAnalyticsRecord, error) {
	query := fmt.Sprintf(`
SELECT doc FROM %s
WHERE json_extract(doc, '$.menuId') = ? AND json_extract(doc, '$.periodType') = ?
ORDER BY json_extract(doc, '$.period') DESC
LIMIT ?`, analytics.MenuAnalytics.Collection())

	recs, err := queryDocs[analytics.MenuAnalyticsRecord](ctx, s.db, analytics.MenuAnalytics, query, menuID, string(pt), sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		r.DeriveAverageRating()
	}
	return recs, nil
}

// DashboardStats implements analytics.Store.
func (s *SQLiteStore) DashboardStats(ctx context.Context, date, typ string) (*analytics.DashboardStatsRecord, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE key = ?", analytics.DashboardStats.Collection())

	recs, err := queryDocs[analytics.DashboardStatsRecord](ctx, s.db, analytics.DashboardStats, query, dashboardKeyString(date, typ))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// UserActivity implements analytics.Store.
func (s *SQLiteStore) UserActivity(ctx context.Context, userID string, limit int) ([]*analytics.ActivityRecord, error) {
	query := fmt.Sprintf(`
SELECT doc FROM %s WHERE json_extract(doc, '$.userId') = ?
ORDER BY ts DESC LIMIT ?`, analytics.UserActivityLog.Collection())

	return queryDocs[analytics.ActivityRecord](ctx, s.db, analytics.UserActivityLog, query, userID, sqlLimit(limit))
}

// AuditTrail implements analytics.Store.
func (s *SQLiteStore) AuditTrail(ctx context.Context, entityType, entityID string, limit int) ([]*analytics.AuditRecord, error) {
	query := fmt.Sprintf(`
SELECT doc FROM %s WHERE json_extract(doc, '$.entityType') = ? AND json_extract(doc, '$.entityId') = ?
ORDER BY ts DESC LIMIT ?`, analytics.AuditLog.Collection())

	return queryDocs[analytics.AuditRecord](ctx, s.db, analytics.AuditLog, query, entityType, entityID, sqlLimit(limit))
}

// queryDocs runs query and decodes every returned doc column into a T.
func queryDocs[T any](ctx context.Context, db *sql.DB, c analytics.Category, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, analytics.NewStorageError("sqlite", "query", c, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, analytics.NewStorageError("sqlite", "scan", c, err)
		}
		rec := new(T)
		if err := json.Unmarshal([]byte(doc), rec); err != nil {
			return nil, analytics.NewStorageError("sqlite", "unmarshal", c, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, analytics.NewStorageError("sqlite", "query", c, err)
	}
	return out, nil
}

// Close implements analytics.Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return analytics.NewStorageError("sqlite", "close", 0, err)
	}
	s.logger.Info("SQLite analytics store closed")
	return nil
}
