package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// List page size limits.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Frame is one journalled line.
type Frame struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Direction  string    `json:"direction"`
	Kind       string    `json:"kind"`
	Line       string    `json:"line"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FeedValue is the last value seen on a feed.
type FeedValue struct {
	Feed      string    `json:"feed"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter controls which frames to return.
type Filter struct {
	Direction string // optional: "in" or "out"
	Kind      string // optional: "status" or "payload"
	SessionID string // optional
	Limit     int    // default 50, max 500
	Offset    int
}

// ListResult contains a page of frames, newest first.
type ListResult struct {
	Frames []Frame `json:"frames"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the journal storage operations.
type Repository interface {
	Record(ctx context.Context, frame *Frame) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	SaveFeedValue(ctx context.Context, feed, value string) error
	FeedValues(ctx context.Context) ([]FeedValue, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a frame. RecordedAt is set to now when zero, and ID is
// filled in from the insert.
func (r *SQLiteRepository) Record(ctx context.Context, frame *Frame) error {
	if frame.RecordedAt.IsZero() {
		frame.RecordedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO frames (session_id, direction, kind, line, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		frame.SessionID, frame.Direction, frame.Kind, frame.Line,
		frame.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting frame: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		frame.ID = id
	}
	return nil
}

// List returns frames matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM frames %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting frames: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, session_id, direction, kind, line, recorded_at FROM frames %s ORDER BY id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying frames: %w", err)
	}
	defer rows.Close()

	frames := []Frame{}
	for rows.Next() {
		var f Frame
		var recordedAt string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Direction, &f.Kind, &f.Line, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning frame: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing frame timestamp %q: %w", recordedAt, err)
		}
		f.RecordedAt = t
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating frames: %w", err)
	}

	return &ListResult{
		Frames: frames,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Recent returns the newest frames across all sessions, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Frame, error) {
	result, err := r.List(ctx, Filter{Limit: limit})
	if err != nil {
		return nil, err
	}
	return result.Frames, nil
}

// Prune deletes frames older than the given duration.
// Returns the number of rows deleted.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)

	res, err := r.db.ExecContext(ctx, "DELETE FROM frames WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning frames: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned frames: %w", err)
	}
	return n, nil
}

// SaveFeedValue stores the latest value for a feed.
func (r *SQLiteRepository) SaveFeedValue(ctx context.Context, feed, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_values (feed, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(feed) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		feed, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving feed value: %w", err)
	}
	return nil
}

// FeedValues returns the last value of every feed, ordered by feed name.
func (r *SQLiteRepository) FeedValues(ctx context.Context) ([]FeedValue, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT feed, value, updated_at FROM feed_values ORDER BY feed")
	if err != nil {
		return nil, fmt.Errorf("querying feed values: %w", err)
	}
	defer rows.Close()

	values := []FeedValue{}
	for rows.Next() {
		var v FeedValue
		var updatedAt string
		if err := rows.Scan(&v.Feed, &v.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning feed value: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing feed timestamp %q: %w", updatedAt, err)
		}
		v.UpdatedAt = t
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feed values: %w", err)
	}
	return values, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
