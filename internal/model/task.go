package model

import (
	"math"
	"time"
)

// Priority はタスクの優先度を表す。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities は有効な優先度を低い順に並べたもの。
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// IsValid は優先度が定義済みの値かどうかを返す。
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Rank は並び替え用の順位を返す（low=1, medium=2, high=3）。未定義の値は0。
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

// TaskStatus はタスクの導出ステータス。永続化しない。
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusOverdue   TaskStatus = "overdue"
	TaskStatusPending   TaskStatus = "pending"
)

// Attachment はタスクに添付されたファイル情報。
type Attachment struct {
	Name string
	URL  string
	Type string
	Size int64
}

// Task はユーザーが所有するタスクを表す。
// CompletedAtはIsCompletedがtrueの場合に限り設定される。
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	DueDate     time.Time
	Priority    Priority
	IsCompleted bool
	CompletedAt *time.Time
	Category    string
	Tags        []string
	Attachments []Attachment
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status は現在時刻を基準にタスクのステータスを導出する。
func (t *Task) Status(now time.Time) TaskStatus {
	if t.IsCompleted {
		return TaskStatusCompleted
	}
	if now.After(t.DueDate) {
		return TaskStatusOverdue
	}
	return TaskStatusPending
}

// DaysUntilDue は期限までの日数を切り上げで返す。期限切れの場合は0以下になる。
// time.Durationは約292年で飽和するため、Unix秒で差を取る。
func (t *Task) DaysUntilDue(now time.Time) int {
	secs := float64(t.DueDate.Unix()-now.Unix()) +
		float64(t.DueDate.Nanosecond()-now.Nanosecond())/float64(time.Second)
	return int(math.Ceil(secs / (24 * 60 * 60)))
}

// TaskUpdate はタスクの部分更新内容。nilのフィールドは変更しない。
// IsCompletedが指定された場合、CompletedAtはtrueならUpdatedAt、falseならクリアされる。
type TaskUpdate struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Priority    *Priority
	IsCompleted *bool
	Category    *string
	Tags        *[]string
	Attachments *[]Attachment
	Notes       *string
	UpdatedAt   time.Time
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.DueDate == nil &&
		u.Priority == nil && u.IsCompleted == nil && u.Category == nil &&
		u.Tags == nil && u.Attachments == nil && u.Notes == nil
}

// Apply は更新内容をタスクに適用する。ストレージ実装間で更新規則を揃えるために使う。
func (u TaskUpdate) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.IsCompleted != nil {
		t.IsCompleted = *u.IsCompleted
		if *u.IsCompleted {
			at := u.UpdatedAt
			t.CompletedAt = &at
		} else {
			t.CompletedAt = nil
		}
	}
	if u.Category != nil {
		t.Category = *u.Category
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), (*u.Tags)...)
	}
	if u.Attachments != nil {
		t.Attachments = append([]Attachment(nil), (*u.Attachments)...)
	}
	if u.Notes != nil {
		t.Notes = *u.Notes
	}
	t.UpdatedAt = u.UpdatedAt
}

// TaskCounts はタスク件数の集計結果。
type TaskCounts struct {
	Total     int64
	Completed int64
	Overdue   int64
}

// Pending は未完了タスク数を返す。
func (c TaskCounts) Pending() int64 {
	return c.Total - c.Completed
}

// CompletionRate は完了率（%）を小数第1位で丸めて返す。総数0の場合は0。
func (c TaskCounts) CompletionRate() float64 {
	return CompletionRate(c.Completed, c.Total)
}

// CompletionRate は completed/total*100 を小数第1位で丸める。totalが0なら0を返す。
func CompletionRate(completed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*1000) / 10
}

// GroupCount はキーごとの件数集計。
type GroupCount struct {
	Key   string
	Count int64
}

// DailyCount は日別の作成・完了件数。DateはUTCのYYYY-MM-DD。
type DailyCount struct {
	Date      string
	Created   int64
	Completed int64
}

// ActivityAction はアクティビティの種別。
type ActivityAction string

const (
	ActivityCreated ActivityAction = "created"
	ActivityUpdated ActivityAction = "updated"
)

// Activity はタスクの作成・更新イベント。
type Activity struct {
	TaskID string
	Title  string
	Action ActivityAction
	Date   time.Time
}

// NewActivity はタスクのタイムスタンプからアクティビティを導出する。
func NewActivity(taskID, title string, createdAt, updatedAt time.Time) Activity {
	a := Activity{TaskID: taskID, Title: title, Action: ActivityUpdated, Date: updatedAt}
	if createdAt.Equal(updatedAt) {
		a.Action = ActivityCreated
	}
	if createdAt.After(updatedAt) {
		a.Date = createdAt
	}
	return a
}
