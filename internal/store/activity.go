package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"cadence/api/internal/util"
)

const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
)

// ActivityStore is the audit trail of committed mutations.
type ActivityStore interface {
	RecordActivity(ctx context.Context, activity Activity) error
	ListActivity(ctx context.Context, projectID, instance string, limit int) ([]Activity, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}

func prepare(activity Activity) (Activity, error) {
	if activity.ProjectID == "" || activity.Instance == "" || activity.ItemID == "" {
		return Activity{}, fmt.Errorf("activity requires project, instance and item")
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	if activity.ID == "" {
		activity.ID = util.NewSortableID(activity.CreatedAt)
	}
	return activity, nil
}

type PostgresActivityLog struct {
	db *sql.DB
}

func NewPostgresActivityLog(db *sql.DB) *PostgresActivityLog {
	return &PostgresActivityLog{db: db}
}

func (s *PostgresActivityLog) DB() *sql.DB {
	return s.db
}

func (s *PostgresActivityLog) RecordActivity(ctx context.Context, activity Activity) error {
	activity, err := prepare(activity)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, project_id, instance, item_id, action, from_location, to_location, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, activity.ID, activity.ProjectID, activity.Instance, activity.ItemID, activity.Action,
		activity.FromLocation, activity.ToLocation, activity.Actor, activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresActivityLog) ListActivity(ctx context.Context, projectID, instance string, limit int) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, instance, item_id, action, from_location, to_location, actor, created_at
		FROM activity_log
		WHERE project_id = $1 AND instance = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, projectID, instance, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := []Activity{}
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Instance, &a.ItemID, &a.Action,
			&a.FromLocation, &a.ToLocation, &a.Actor, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

// MemoryActivityLog keeps the most recent entries in process. It stands
// in for Postgres when no database is configured.
type MemoryActivityLog struct {
	mu      sync.Mutex
	entries []Activity
	max     int
}

func NewMemoryActivityLog(max int) *MemoryActivityLog {
	if max <= 0 {
		max = 10 * MaxActivityLimit
	}
	return &MemoryActivityLog{max: max}
}

func (m *MemoryActivityLog) RecordActivity(_ context.Context, activity Activity) error {
	activity, err := prepare(activity)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, activity)
	if len(m.entries) > m.max {
		m.entries = append([]Activity(nil), m.entries[len(m.entries)-m.max:]...)
	}
	return nil
}

func (m *MemoryActivityLog) ListActivity(_ context.Context, projectID, instance string, limit int) ([]Activity, error) {
	m.mu.Lock()
	matched := []Activity{}
	for _, a := range m.entries {
		if a.ProjectID == projectID && a.Instance == instance {
			matched = append(matched, a)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit = clampLimit(limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
