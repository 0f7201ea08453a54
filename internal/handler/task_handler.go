package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskmanager/internal/middleware"
	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	List(ctx context.Context, userID string, params task.ListParams) (*task.ListResult, error)
	Get(ctx context.Context, userID, id string) (*model.Task, error)
	Update(ctx context.Context, userID, id string, in task.UpdateInput) (*model.Task, error)
	Delete(ctx context.Context, userID, id string) error
	Toggle(ctx context.Context, userID, id string) (*model.Task, error)
	Overdue(ctx context.Context, userID string) ([]*model.Task, error)
	Upcoming(ctx context.Context, userID, days string) ([]*model.Task, error)
	Stats(ctx context.Context, userID string) (*task.Stats, error)
	BulkUpdate(ctx context.Context, userID string, ids []string, updates *task.UpdateInput) (int64, error)
	BulkDelete(ctx context.Context, userID string, ids []string) (int64, error)
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service     TaskServiceInterface
	development bool

	// Now はstatusとdaysUntilDueの基準時刻。テストで差し替える。
	Now func() time.Time
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface, development bool) *TaskHandler {
	return &TaskHandler{service: service, development: development, Now: model.Now}
}

type createTaskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	DueDate     string           `json:"dueDate"`
	Priority    string           `json:"priority"`
	Category    string           `json:"category"`
	Tags        []string         `json:"tags"`
	Attachments []attachmentJSON `json:"attachments"`
	Notes       string           `json:"notes"`
}

type updateTaskRequest struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	DueDate     *string           `json:"dueDate"`
	Priority    *string           `json:"priority"`
	IsCompleted *bool             `json:"isCompleted"`
	Category    *string           `json:"category"`
	Tags        *[]string         `json:"tags"`
	Attachments *[]attachmentJSON `json:"attachments"`
	Notes       *string           `json:"notes"`
}

func (req updateTaskRequest) toInput() task.UpdateInput {
	in := task.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		IsCompleted: req.IsCompleted,
		Category:    req.Category,
		Tags:        req.Tags,
		Notes:       req.Notes,
	}
	if req.Attachments != nil {
		a := fromAttachmentJSON(*req.Attachments)
		if a == nil {
			a = []model.Attachment{}
		}
		in.Attachments = &a
	}
	return in
}

type bulkUpdateRequest struct {
	TaskIDs []string           `json:"taskIds"`
	Updates *updateTaskRequest `json:"updates"`
}

type bulkDeleteRequest struct {
	TaskIDs []string `json:"taskIds"`
}

type taskEnvelope struct {
	Task taskResponse `json:"task"`
}

type tasksEnvelope struct {
	Tasks []taskResponse `json:"tasks"`
}

type paginationResponse struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type taskListResponse struct {
	Tasks      []taskResponse     `json:"tasks"`
	Pagination paginationResponse `json:"pagination"`
}

type taskStatsResponse struct {
	Stats         countsResponse       `json:"stats"`
	PriorityStats []groupCountResponse `json:"priorityStats"`
	CategoryStats []groupCountResponse `json:"categoryStats"`
}

func (h *TaskHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err, h.development)
}

func (h *TaskHandler) writeTask(w http.ResponseWriter, status int, message string, t *model.Task) {
	middleware.WriteSuccess(w, status, message, taskEnvelope{Task: toTaskResponse(t, h.Now())})
}

func (h *TaskHandler) writeTasks(w http.ResponseWriter, message string, tasks []*model.Task) {
	middleware.WriteSuccess(w, http.StatusOK, message, tasksEnvelope{Tasks: toTaskResponses(tasks, h.Now())})
}

// Create はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.service.Create(r.Context(), userID, task.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		Category:    req.Category,
		Tags:        req.Tags,
		Attachments: fromAttachmentJSON(req.Attachments),
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeTask(w, http.StatusCreated, "Task created successfully", t)
}

// List はタスク一覧をページングして返す。
// GET /api/tasks?page=1&limit=20&isCompleted=false&priority=high&category=work&sortBy=dueDate&sortOrder=asc
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	res, err := h.service.List(r.Context(), userID, task.ListParams{
		Page:        q.Get("page"),
		Limit:       q.Get("limit"),
		IsCompleted: q.Get("isCompleted"),
		Priority:    q.Get("priority"),
		Category:    q.Get("category"),
		SortBy:      q.Get("sortBy"),
		SortOrder:   q.Get("sortOrder"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Tasks retrieved successfully", taskListResponse{
		Tasks: toTaskResponses(res.Tasks, h.Now()),
		Pagination: paginationResponse{
			Page:  res.Page,
			Limit: res.Limit,
			Total: res.Total,
			Pages: res.Pages,
		},
	})
}

// Get はタスクを1件返す。
// GET /api/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeTask(w, http.StatusOK, "Task retrieved successfully", t)
}

// Update はリクエストに含まれるフィールドのみを更新する。
// PUT /api/tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeTask(w, http.StatusOK, "Task updated successfully", t)
}

// Delete はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Task deleted successfully", nil)
}

// Toggle は完了状態を反転する。
// PATCH /api/tasks/{id}/toggle
func (h *TaskHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Toggle(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeTask(w, http.StatusOK, "Task completion toggled successfully", t)
}

// Overdue は期限切れの未完了タスクを返す。
// GET /api/tasks/overdue
func (h *TaskHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.Overdue(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeTasks(w, "Overdue tasks retrieved successfully", tasks)
}

// Upcoming は指定日数以内に期限を迎える未完了タスクを返す。
// GET /api/tasks/upcoming?days=7
func (h *TaskHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.Upcoming(r.Context(), userID, r.URL.Query().Get("days"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeTasks(w, "Upcoming tasks retrieved successfully", tasks)
}

// Stats はタスクの集計を返す。
// GET /api/tasks/stats
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Task statistics retrieved successfully", taskStatsResponse{
		Stats:         toCountsResponse(stats.Counts),
		PriorityStats: toGroupCounts(stats.ByPriority),
		CategoryStats: toGroupCounts(stats.ByCategory),
	})
}

// BulkUpdate は複数タスクに同じ更新を適用する。
// PUT /api/tasks/bulk/update
func (h *TaskHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req bulkUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var updates *task.UpdateInput
	if req.Updates != nil {
		in := req.Updates.toInput()
		updates = &in
	}

	n, err := h.service.BulkUpdate(r.Context(), userID, req.TaskIDs, updates)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, fmt.Sprintf("%d tasks updated successfully", n),
		map[string]int64{"modifiedCount": n})
}

// BulkDelete は複数タスクを削除する。
// DELETE /api/tasks/bulk/delete
func (h *TaskHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.service.BulkDelete(r.Context(), userID, req.TaskIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, fmt.Sprintf("%d tasks deleted successfully", n),
		map[string]int64{"deletedCount": n})
}
