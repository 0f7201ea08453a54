package handler

import (
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
)

// userResponse はユーザーの公開プロフィールのJSON表現。パスワードハッシュは含まない。
type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Avatar      string     `json:"avatar,omitempty"`
	IsActive    bool       `json:"isActive"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toUserResponse(u *model.User) userResponse {
	p := u.PublicProfile()
	return userResponse{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		IsActive:    p.IsActive,
		LastLogin:   p.LastLogin,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type attachmentJSON struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

func fromAttachmentJSON(in []attachmentJSON) []model.Attachment {
	if in == nil {
		return nil
	}
	out := make([]model.Attachment, len(in))
	for i, a := range in {
		out[i] = model.Attachment{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size}
	}
	return out
}

// taskResponse はタスクのJSON表現。statusとdaysUntilDueはレスポンス生成時刻を基準に導出する。
type taskResponse struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	DueDate      time.Time        `json:"dueDate"`
	Priority     model.Priority   `json:"priority"`
	IsCompleted  bool             `json:"isCompleted"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	Category     string           `json:"category,omitempty"`
	Tags         []string         `json:"tags"`
	Attachments  []attachmentJSON `json:"attachments"`
	Notes        string           `json:"notes,omitempty"`
	Status       model.TaskStatus `json:"status"`
	DaysUntilDue int              `json:"daysUntilDue"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func toTaskResponse(t *model.Task, now time.Time) taskResponse {
	resp := taskResponse{
		ID:           t.ID,
		UserID:       t.UserID,
		Title:        t.Title,
		Description:  t.Description,
		DueDate:      t.DueDate,
		Priority:     t.Priority,
		IsCompleted:  t.IsCompleted,
		CompletedAt:  t.CompletedAt,
		Category:     t.Category,
		Tags:         t.Tags,
		Attachments:  make([]attachmentJSON, 0, len(t.Attachments)),
		Notes:        t.Notes,
		Status:       t.Status(now),
		DaysUntilDue: t.DaysUntilDue(now),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	for _, a := range t.Attachments {
		resp.Attachments = append(resp.Attachments, attachmentJSON{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size})
	}
	return resp
}

func toTaskResponses(tasks []*model.Task, now time.Time) []taskResponse {
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t, now))
	}
	return out
}

// countsResponse はタスク件数の集計。
type countsResponse struct {
	Total          int64   `json:"total"`
	Completed      int64   `json:"completed"`
	Pending        int64   `json:"pending"`
	Overdue        int64   `json:"overdue"`
	CompletionRate float64 `json:"completionRate"`
}

func toCountsResponse(c model.TaskCounts) countsResponse {
	return countsResponse{
		Total:          c.Total,
		Completed:      c.Completed,
		Pending:        c.Pending(),
		Overdue:        c.Overdue,
		CompletionRate: c.CompletionRate(),
	}
}

type groupCountResponse struct {
	Key   string `json:"_id"`
	Count int64  `json:"count"`
}

func toGroupCounts(groups []model.GroupCount) []groupCountResponse {
	out := make([]groupCountResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupCountResponse{Key: g.Key, Count: g.Count})
	}
	return out
}

type dailyCountResponse struct {
	Date      string `json:"date"`
	Created   int64  `json:"created"`
	Completed int64  `json:"completed"`
}

type activityResponse struct {
	TaskID string               `json:"taskId"`
	Title  string               `json:"title"`
	Action model.ActivityAction `json:"action"`
	Date   time.Time            `json:"date"`
}
