package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
)

// ページングの既定値と上限
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// 期限が近いタスクの検索期間（日）
const (
	DefaultUpcomingDays = 7
	MaxUpcomingDays     = 365
)

const (
	msgDueDate    = "Due date must be a valid date"
	msgPriority   = "Priority must be low, medium, or high"
	msgTaskIDs    = "Task IDs must be a non-empty array"
	msgTaskIDForm = "Invalid task ID format"
)

// CreateInput はタスク作成の入力。DueDateはISO 8601形式の文字列。
type CreateInput struct {
	Title       string
	Description string
	DueDate     string
	Priority    string
	Category    string
	Tags        []string
	Attachments []model.Attachment
	Notes       string
}

// UpdateInput はタスク更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Title       *string
	Description *string
	DueDate     *string
	Priority    *string
	IsCompleted *bool
	Category    *string
	Tags        *[]string
	Attachments *[]model.Attachment
	Notes       *string
}

// ListParams はタスク一覧のクエリパラメータ。未指定は空文字列。
type ListParams struct {
	Page        string
	Limit       string
	IsCompleted string
	Priority    string
	Category    string
	SortBy      string
	SortOrder   string
}

// listQuery は検証済みの一覧条件。
type listQuery struct {
	page  int
	limit int
	repo  repository.TaskListQuery
}

var sortFields = map[string]repository.SortField{
	string(repository.SortByCreatedAt): repository.SortByCreatedAt,
	string(repository.SortByUpdatedAt): repository.SortByUpdatedAt,
	string(repository.SortByDueDate):   repository.SortByDueDate,
	string(repository.SortByPriority):  repository.SortByPriority,
	string(repository.SortByTitle):     repository.SortByTitle,
}

// parseListParams はクエリパラメータを検証し、一覧条件に変換する。
func parseListParams(p ListParams) (listQuery, error) {
	q := listQuery{page: DefaultPage, limit: DefaultLimit}
	q.repo.SortBy = repository.SortByCreatedAt
	q.repo.Descending = true

	var fields model.FieldErrors
	if p.Page != "" {
		n, err := strconv.Atoi(p.Page)
		if err != nil || n < 1 {
			fields.Addf("page", p.Page, "Page must be a positive integer")
		} else {
			q.page = n
		}
	}
	if p.Limit != "" {
		n, err := strconv.Atoi(p.Limit)
		if err != nil || n < 1 || n > MaxLimit {
			fields.Addf("limit", p.Limit, "Limit must be between 1 and %d", MaxLimit)
		} else {
			q.limit = n
		}
	}
	if p.IsCompleted != "" {
		switch strings.ToLower(p.IsCompleted) {
		case "true", "1":
			v := true
			q.repo.Filter.IsCompleted = &v
		case "false", "0":
			v := false
			q.repo.Filter.IsCompleted = &v
		default:
			fields.Addf("isCompleted", p.IsCompleted, "isCompleted must be a boolean")
		}
	}
	if p.Priority != "" {
		priority := model.Priority(p.Priority)
		if !priority.IsValid() {
			fields.Addf("priority", p.Priority, msgPriority)
		} else {
			q.repo.Filter.Priority = &priority
		}
	}
	if p.Category != "" {
		category := p.Category
		q.repo.Filter.Category = &category
	}
	if p.SortBy != "" {
		field, ok := sortFields[p.SortBy]
		if !ok {
			fields.Addf("sortBy", p.SortBy, "Invalid sort field")
		} else {
			q.repo.SortBy = field
		}
	}
	switch p.SortOrder {
	case "", "desc":
	case "asc":
		q.repo.Descending = false
	default:
		fields.Addf("sortOrder", p.SortOrder, "Sort order must be asc or desc")
	}

	if err := fields.Err(); err != nil {
		return listQuery{}, err
	}
	q.repo.Offset = (q.page - 1) * q.limit
	q.repo.Limit = q.limit
	return q, nil
}

// parseUpcomingDays は期限が近いタスクの検索日数を検証する。空文字列は既定値。
func parseUpcomingDays(raw string) (int, error) {
	if raw == "" {
		return DefaultUpcomingDays, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxUpcomingDays {
		return 0, model.NewValidationError("Validation failed", model.FieldError{
			Field:   "days",
			Message: fmt.Sprintf("Days must be between 1 and %d", MaxUpcomingDays),
			Value:   raw,
		})
	}
	return n, nil
}

// cleaner はサニタイズと検証を1つの入力に対して行う。
type cleaner struct {
	sanitizer Sanitizer
	fields    model.FieldErrors
}

func (c *cleaner) text(rule model.StringRule, value string) string {
	value = c.sanitizer.Sanitize(value)
	c.fields.Add(rule.Check(value))
	return value
}

func (c *cleaner) dueDate(value string) time.Time {
	t, err := model.ParseTimestamp(value)
	if err != nil {
		c.fields.Addf("dueDate", value, msgDueDate)
	}
	return t
}

func (c *cleaner) priority(value string) model.Priority {
	p := model.Priority(value)
	if !p.IsValid() {
		c.fields.Addf("priority", value, msgPriority)
	}
	return p
}

func (c *cleaner) tags(values []string) []string {
	tags := make([]string, 0, len(values))
	for _, v := range values {
		v = c.sanitizer.Sanitize(v)
		if v == "" {
			continue
		}
		c.fields.Add(model.TaskRules.Tag.Check(v))
		tags = append(tags, v)
	}
	return tags
}

func (c *cleaner) attachments(values []model.Attachment) []model.Attachment {
	out := make([]model.Attachment, 0, len(values))
	for i, a := range values {
		a.Name = c.sanitizer.Sanitize(a.Name)
		a.Type = c.sanitizer.Sanitize(a.Type)
		a.URL = strings.TrimSpace(a.URL)

		if fe := model.TaskRules.AttachmentName.Check(a.Name); fe != nil {
			fe.Field = fmt.Sprintf("attachments[%d].name", i)
			c.fields.Add(fe)
		}
		if fe := model.TaskRules.AttachmentType.Check(a.Type); fe != nil {
			fe.Field = fmt.Sprintf("attachments[%d].type", i)
			c.fields.Add(fe)
		}
		if !model.IsHTTPURL(a.URL) {
			c.fields.Addf(fmt.Sprintf("attachments[%d].url", i), a.URL, "Attachment URL must be a valid URL")
		}
		if a.Size < 0 {
			c.fields.Addf(fmt.Sprintf("attachments[%d].size", i), a.Size, "Attachment size cannot be negative")
		}
		out = append(out, a)
	}
	return out
}

// newTask は作成入力を検証し、所有者と作成日時を設定したタスクを返す。
func (c *cleaner) newTask(in CreateInput, userID string, now time.Time) *model.Task {
	t := &model.Task{
		UserID:      userID,
		Title:       c.text(model.TaskRules.Title, in.Title),
		Description: c.text(model.TaskRules.Description, in.Description),
		Priority:    model.PriorityMedium,
		Category:    c.text(model.TaskRules.Category, in.Category),
		Tags:        c.tags(in.Tags),
		Attachments: c.attachments(in.Attachments),
		Notes:       c.text(model.TaskRules.Notes, in.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if strings.TrimSpace(in.DueDate) == "" {
		c.fields.Addf("dueDate", in.DueDate, msgDueDate)
	} else {
		t.DueDate = c.dueDate(in.DueDate)
	}
	if in.Priority != "" {
		t.Priority = c.priority(in.Priority)
	}
	return t
}

// update は更新入力を検証し、指定されたフィールドのみを持つTaskUpdateを返す。
func (c *cleaner) update(in UpdateInput, now time.Time) model.TaskUpdate {
	u := model.TaskUpdate{IsCompleted: in.IsCompleted, UpdatedAt: now}
	if in.Title != nil {
		v := c.text(model.TaskRules.Title, *in.Title)
		u.Title = &v
	}
	if in.Description != nil {
		v := c.text(model.TaskRules.Description, *in.Description)
		u.Description = &v
	}
	if in.DueDate != nil {
		v := c.dueDate(*in.DueDate)
		u.DueDate = &v
	}
	if in.Priority != nil {
		v := c.priority(*in.Priority)
		u.Priority = &v
	}
	if in.Category != nil {
		v := c.text(model.TaskRules.Category, *in.Category)
		u.Category = &v
	}
	if in.Tags != nil {
		v := c.tags(*in.Tags)
		u.Tags = &v
	}
	if in.Attachments != nil {
		v := c.attachments(*in.Attachments)
		u.Attachments = &v
	}
	if in.Notes != nil {
		v := c.text(model.TaskRules.Notes, *in.Notes)
		u.Notes = &v
	}
	return u
}
