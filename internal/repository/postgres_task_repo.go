package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/taskmanager/internal/model"
)

const taskColumns = `id, user_id, title, description, due_date, priority, is_completed,
	completed_at, category, tags, attachments, notes, created_at, updated_at`

// priorityRankSQL は優先度をlow < medium < highの順位に変換する式。
const priorityRankSQL = `CASE priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 ELSE 0 END`

// sortColumns はソートキーと列式の対応。
var sortColumns = map[SortField]string{
	SortByCreatedAt: "created_at",
	SortByUpdatedAt: "updated_at",
	SortByDueDate:   "due_date",
	SortByPriority:  priorityRankSQL,
	SortByTitle:     "title",
}

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// attachmentJSON はattachments列（JSONB）の要素。
type attachmentJSON struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

func encodeAttachments(attachments []model.Attachment) ([]byte, error) {
	out := make([]attachmentJSON, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, attachmentJSON(a))
	}
	return json.Marshal(out)
}

func decodeAttachments(data []byte) ([]model.Attachment, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var in []attachmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	out := make([]model.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, model.Attachment(a))
	}
	return out, nil
}

func scanTask(row rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var priority string
	var completedAt sql.NullTime
	var tags []string
	var attachments []byte
	if err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &task.DueDate, &priority, &task.IsCompleted,
		&completedAt, &task.Category, pq.Array(&tags), &attachments, &task.Notes, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Priority = model.Priority(priority)
	task.Tags = tags
	decoded, err := decodeAttachments(attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	task.Attachments = decoded
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}
	task.DueDate = task.DueDate.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return task, nil
}

func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	defer rows.Close()
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}
	return tasks, nil
}

// ValidID はIDがUUID形式かどうかを返す。
func (r *PostgresTaskRepo) ValidID(id string) bool {
	return isUUID(id)
}

// Create はタスクを作成する。IDが空の場合はUUIDを採番する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	attachments, err := encodeAttachments(task.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		task.ID, task.UserID, task.Title, task.Description, task.DueDate, string(task.Priority), task.IsCompleted,
		task.CompletedAt, task.Category, pq.Array(tags), attachments, task.Notes, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// FindByID は所有者のタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, userID, id string) (*model.Task, error) {
	if !isUUID(id) || !isUUID(userID) {
		return nil, nil
	}
	task, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return task, nil
}

// buildTaskListWhere は一覧検索のWHERE句と引数を構築する。
func buildTaskListWhere(userID string, f TaskFilter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if f.IsCompleted != nil {
		args = append(args, *f.IsCompleted)
		conds = append(conds, fmt.Sprintf("is_completed = $%d", len(args)))
	}
	if f.Priority != nil {
		args = append(args, string(*f.Priority))
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)))
	}
	if f.Category != nil {
		args = append(args, *f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// buildTaskOrderBy は一覧検索のORDER BY句を構築する。同値の場合はidで順序を確定させる。
func buildTaskOrderBy(sortBy SortField, desc bool) string {
	col, ok := sortColumns[sortBy]
	if !ok {
		col = sortColumns[SortByCreatedAt]
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, id %s", col, dir, dir)
}

// List は条件に一致するタスクのページと総件数を返す。
func (r *PostgresTaskRepo) List(ctx context.Context, userID string, q TaskListQuery) ([]*model.Task, int64, error) {
	if !isUUID(userID) {
		return nil, 0, nil
	}
	where, args := buildTaskListWhere(userID, q.Filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		taskColumns, where, buildTaskOrderBy(q.SortBy, q.Descending), len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// buildTaskUpdateSet は部分更新のSET句と引数を構築する。argsの先頭2つはid, user_idで予約する。
func buildTaskUpdateSet(u model.TaskUpdate) ([]string, []any, error) {
	var sets []string
	args := []any{nil, nil}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.DueDate != nil {
		add("due_date", *u.DueDate)
	}
	if u.Priority != nil {
		add("priority", string(*u.Priority))
	}
	if u.IsCompleted != nil {
		add("is_completed", *u.IsCompleted)
		if *u.IsCompleted {
			add("completed_at", u.UpdatedAt)
		} else {
			add("completed_at", nil)
		}
	}
	if u.Category != nil {
		add("category", *u.Category)
	}
	if u.Tags != nil {
		tags := *u.Tags
		if tags == nil {
			tags = []string{}
		}
		add("tags", pq.Array(tags))
	}
	if u.Attachments != nil {
		data, err := encodeAttachments(*u.Attachments)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode attachments: %w", err)
		}
		add("attachments", data)
	}
	if u.Notes != nil {
		add("notes", *u.Notes)
	}
	add("updated_at", u.UpdatedAt)
	return sets, args, nil
}

// Update は部分更新を適用し、更新後のタスクを返す。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) Update(ctx context.Context, userID, id string, u model.TaskUpdate) (*model.Task, error) {
	if !isUUID(id) || !isUUID(userID) {
		return nil, nil
	}
	sets, args, err := buildTaskUpdateSet(u)
	if err != nil {
		return nil, err
	}
	args[0], args[1] = id, userID

	task, err := scanTask(r.db.QueryRowContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = $1 AND user_id = $2 RETURNING `+taskColumns,
		args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// ToggleCompletion は完了状態を1文で反転する。SET句の列参照は更新前の値を指す。
func (r *PostgresTaskRepo) ToggleCompletion(ctx context.Context, userID, id string, at time.Time) (*model.Task, error) {
	if !isUUID(id) || !isUUID(userID) {
		return nil, nil
	}
	task, err := scanTask(r.db.QueryRowContext(ctx,
		`UPDATE tasks SET
		    is_completed = NOT is_completed,
		    completed_at = CASE WHEN is_completed THEN NULL ELSE $3::timestamptz END,
		    updated_at = $3
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		id, userID, at,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}
	return task, nil
}

// Delete は所有者のタスクを削除する。
func (r *PostgresTaskRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	if !isUUID(id) || !isUUID(userID) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListOverdue は期限切れの未完了タスクを期限昇順で返す。
func (r *PostgresTaskRepo) ListOverdue(ctx context.Context, userID string, now time.Time) ([]*model.Task, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1 AND is_completed = false AND due_date < $2
		 ORDER BY due_date ASC, id ASC`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	return scanTasks(rows)
}

// ListDueBetween は期限がfrom〜toの未完了タスクを期限昇順で返す。
func (r *PostgresTaskRepo) ListDueBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Task, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1 AND is_completed = false AND due_date >= $2 AND due_date <= $3
		 ORDER BY due_date ASC, id ASC`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming tasks: %w", err)
	}
	return scanTasks(rows)
}

const countsSQL = `SELECT
	    count(*),
	    count(*) FILTER (WHERE is_completed),
	    count(*) FILTER (WHERE NOT is_completed AND due_date < $1)
	 FROM tasks`

// Counts は所有者のタスク件数を集計する。
func (r *PostgresTaskRepo) Counts(ctx context.Context, userID string, now time.Time) (model.TaskCounts, error) {
	var c model.TaskCounts
	if !isUUID(userID) {
		return c, nil
	}
	err := r.db.QueryRowContext(ctx, countsSQL+` WHERE user_id = $2`, now, userID).
		Scan(&c.Total, &c.Completed, &c.Overdue)
	if err != nil {
		return c, fmt.Errorf("failed to count tasks: %w", err)
	}
	return c, nil
}

// GlobalCounts は全ユーザーのタスク件数を集計する。
func (r *PostgresTaskRepo) GlobalCounts(ctx context.Context, now time.Time) (model.TaskCounts, error) {
	var c model.TaskCounts
	if err := r.db.QueryRowContext(ctx, countsSQL, now).Scan(&c.Total, &c.Completed, &c.Overdue); err != nil {
		return c, fmt.Errorf("failed to count all tasks: %w", err)
	}
	return c, nil
}

func (r *PostgresTaskRepo) groupCounts(ctx context.Context, query string, args ...any) ([]model.GroupCount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.GroupCount
	for rows.Next() {
		var g model.GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CountByPriority は優先度ごとの件数を返す。
func (r *PostgresTaskRepo) CountByPriority(ctx context.Context, userID string) ([]model.GroupCount, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	groups, err := r.groupCounts(ctx,
		`SELECT priority, count(*) FROM tasks WHERE user_id = $1 GROUP BY priority`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by priority: %w", err)
	}
	return groups, nil
}

// CountByCategory は空でないカテゴリごとの件数を返す。
func (r *PostgresTaskRepo) CountByCategory(ctx context.Context, userID string) ([]model.GroupCount, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	groups, err := r.groupCounts(ctx,
		`SELECT category, count(*) FROM tasks WHERE user_id = $1 AND category <> '' GROUP BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by category: %w", err)
	}
	return groups, nil
}

// CountCreatedSince はsince以降に作成されたタスク数を返す。
func (r *PostgresTaskRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	if !isUUID(userID) {
		return 0, nil
	}
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM tasks WHERE user_id = $1 AND created_at >= $2`, userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent tasks: %w", err)
	}
	return n, nil
}

// DailyCreated はsince以降に作成されたタスクをUTC日付ごとに集計する。
func (r *PostgresTaskRepo) DailyCreated(ctx context.Context, userID string, since time.Time) ([]model.DailyCount, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		        count(*),
		        count(*) FILTER (WHERE is_completed)
		 FROM tasks
		 WHERE user_id = $1 AND created_at >= $2
		 GROUP BY day
		 ORDER BY day`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily tasks: %w", err)
	}
	defer rows.Close()

	var days []model.DailyCount
	for rows.Next() {
		var d model.DailyCount
		if err := rows.Scan(&d.Date, &d.Created, &d.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan daily row: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily rows: %w", err)
	}
	return days, nil
}

// RecentActivity はsince以降に作成・更新されたタスクを新しい順に返す。
func (r *PostgresTaskRepo) RecentActivity(ctx context.Context, userID string, since time.Time, limit int) ([]model.Activity, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM tasks
		 WHERE user_id = $1 AND (created_at >= $2 OR updated_at >= $2)
		 ORDER BY GREATEST(created_at, updated_at) DESC, id DESC
		 LIMIT $3`,
		userID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent activity: %w", err)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		var id, title string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		activities = append(activities, model.NewActivity(id, title, createdAt.UTC(), updatedAt.UTC()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity rows: %w", err)
	}
	return activities, nil
}

// validUUIDs は不正な形式のIDを除外する。
func validUUIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			out = append(out, id)
		}
	}
	return out
}

// BulkUpdate はids中の所有タスクに更新を適用する。
func (r *PostgresTaskRepo) BulkUpdate(ctx context.Context, userID string, ids []string, u model.TaskUpdate) (int64, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 || !isUUID(userID) {
		return 0, nil
	}
	sets, args, err := buildTaskUpdateSet(u)
	if err != nil {
		return 0, err
	}
	args[0], args[1] = pq.Array(ids), userID

	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ANY($1::uuid[]) AND user_id = $2`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// BulkDelete はids中の所有タスクを削除する。
func (r *PostgresTaskRepo) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 || !isUUID(userID) {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ANY($1::uuid[]) AND user_id = $2`,
		pq.Array(ids), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
