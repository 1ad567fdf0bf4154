// Package history keeps a local SQLite record of features and the actions
// taken on them. It outlives the workspace document: deleted features stay
// in history with status "deleted".
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type FeatureState string

const (
	FeatureActive    FeatureState = "active"
	FeatureCompleted FeatureState = "completed"
	FeatureDeleted   FeatureState = "deleted"
)

type ActivityType string

const (
	ActivityCreate   ActivityType = "create"
	ActivityUpdate   ActivityType = "update"
	ActivityDelete   ActivityType = "delete"
	ActivityComplete ActivityType = "complete"
	ActivityWorktree ActivityType = "worktree"
	ActivityFetch    ActivityType = "fetch"
	ActivityExpire   ActivityType = "expire"
	ActivityPull     ActivityType = "pull"
	ActivityPush     ActivityType = "push"
	ActivityCommit   ActivityType = "commit"
	ActivityMerge    ActivityType = "merge"
)

type FeatureRecord struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Status       FeatureState      `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	DeletedAt    *time.Time        `json:"deletedAt,omitempty"`
	ProjectCount int               `json:"projectCount"`
	Template     string            `json:"template"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Activity struct {
	ID          string       `json:"id"`
	Type        ActivityType `json:"type"`
	FeatureName string       `json:"featureName"`
	ProjectName string       `json:"projectName,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Details     string       `json:"details,omitempty"`
}

type Stats struct {
	TotalFeatures     int `json:"totalFeatures"`
	ActiveFeatures    int `json:"activeFeatures"`
	CompletedFeatures int `json:"completedFeatures"`
	TotalProjects     int `json:"totalProjects"`
	RecentActivity    int `json:"recentActivity"`
}

type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		conn.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	db := &DB{conn: conn, path: path}
	if err := db.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return db, nil
}

func (db *DB) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS features (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT,
			deleted_at TEXT,
			project_count INTEGER DEFAULT 0,
			template TEXT,
			metadata TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_features_status ON features(status);
		CREATE INDEX IF NOT EXISTS idx_features_created ON features(created_at);
		CREATE INDEX IF NOT EXISTS idx_features_name ON features(name);

		CREATE TABLE IF NOT EXISTS activity_log (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			feature_name TEXT NOT NULL,
			project_name TEXT,
			timestamp TEXT NOT NULL,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_activity_feature ON activity_log(feature_name);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Path() string { return db.path }

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// RecordFeature inserts a feature row and returns it with its assigned id.
func (db *DB) RecordFeature(ctx context.Context, rec FeatureRecord) (FeatureRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = FeatureActive
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Template == "" {
		rec.Template = "default"
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return rec, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO features
		(id, name, status, created_at, completed_at, deleted_at, project_count, template, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, string(rec.Status), formatTime(rec.CreatedAt),
		nullTime(rec.CompletedAt), nullTime(rec.DeletedAt), rec.ProjectCount, rec.Template, string(meta),
	)
	if err != nil {
		return rec, fmt.Errorf("record feature %s: %w", rec.Name, err)
	}
	return rec, nil
}

// SetFeatureStatus updates every live row for name. Rows already marked
// deleted are left alone so a recreated feature keeps its old history.
func (db *DB) SetFeatureStatus(ctx context.Context, name string, status FeatureState, at time.Time) error {
	var query string
	switch status {
	case FeatureCompleted:
		query = `UPDATE features SET status = ?, completed_at = ? WHERE name = ? AND status != 'deleted'`
	case FeatureDeleted:
		query = `UPDATE features SET status = ?, deleted_at = ? WHERE name = ? AND status != 'deleted'`
	case FeatureActive:
		query = `UPDATE features SET status = ?, completed_at = NULL WHERE name = ? AND status != 'deleted'`
		_, err := db.conn.ExecContext(ctx, query, string(status), name)
		return err
	default:
		return fmt.Errorf("unknown feature status %q", status)
	}
	_, err := db.conn.ExecContext(ctx, query, string(status), formatTime(at), name)
	return err
}

// Features lists recorded features, newest first. An empty status lists
// all of them.
func (db *DB) Features(ctx context.Context, status FeatureState) ([]FeatureRecord, error) {
	query := `SELECT id, name, status, created_at, completed_at, deleted_at, project_count, template, metadata FROM features`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []FeatureRecord
	for rows.Next() {
		var (
			rec                   FeatureRecord
			st, created           string
			completed, deleted    sql.NullString
			template, metadataRaw sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &st, &created, &completed, &deleted, &rec.ProjectCount, &template, &metadataRaw); err != nil {
			return nil, err
		}
		rec.Status = FeatureState(st)
		rec.CreatedAt = parseTime(created)
		rec.CompletedAt = parseNullTime(completed)
		rec.DeletedAt = parseNullTime(deleted)
		rec.Template = template.String
		if metadataRaw.Valid && metadataRaw.String != "" && metadataRaw.String != "null" {
			_ = json.Unmarshal([]byte(metadataRaw.String), &rec.Metadata)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (db *DB) LogActivity(ctx context.Context, a Activity) (Activity, error) {
	if a.Type == "" || a.FeatureName == "" {
		return a, errors.New("activity requires a type and a feature name")
	}
	a.ID = uuid.NewString()
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO activity_log (id, type, feature_name, project_name, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.FeatureName, nullString(a.ProjectName), formatTime(a.Timestamp), a.Details,
	)
	if err != nil {
		return a, fmt.Errorf("log activity: %w", err)
	}
	return a, nil
}

// Activity returns the newest entries, optionally for one feature.
func (db *DB) Activity(ctx context.Context, feature string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, type, feature_name, project_name, timestamp, details FROM activity_log`
	var args []any
	if feature != "" {
		query += ` WHERE feature_name = ?`
		args = append(args, feature)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)
	return db.queryActivity(ctx, query, args...)
}

// RecentActivity returns entries newer than since, newest first.
func (db *DB) RecentActivity(ctx context.Context, since time.Time) ([]Activity, error) {
	return db.queryActivity(ctx, `
		SELECT id, type, feature_name, project_name, timestamp, details FROM activity_log
		WHERE timestamp > ? ORDER BY timestamp DESC`, formatTime(since))
}

func (db *DB) queryActivity(ctx context.Context, query string, args ...any) ([]Activity, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Activity
	for rows.Next() {
		var (
			a               Activity
			typ, ts         string
			project, detail sql.NullString
		)
		if err := rows.Scan(&a.ID, &typ, &a.FeatureName, &project, &ts, &detail); err != nil {
			return nil, err
		}
		a.Type = ActivityType(typ)
		a.ProjectName = project.String
		a.Timestamp = parseTime(ts)
		a.Details = detail.String
		res = append(res, a)
	}
	return res, rows.Err()
}

// Stats summarizes the history. Recent activity covers the 24 hours
// before now.
func (db *DB) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var s Stats
	row := db.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(project_count), 0)
		FROM features`)
	if err := row.Scan(&s.TotalFeatures, &s.ActiveFeatures, &s.CompletedFeatures, &s.TotalProjects); err != nil {
		return s, err
	}
	since := formatTime(now.Add(-24 * time.Hour))
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log WHERE timestamp > ?`, since).Scan(&s.RecentActivity); err != nil {
		return s, err
	}
	return s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
