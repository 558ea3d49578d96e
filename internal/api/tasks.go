package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskhub/internal/api/middleware"
	"taskhub/internal/api/respond"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// createTaskRequest 创建任务的请求参数。
type createTaskRequest struct {
	Title       string     `json:"title" binding:"required,min=1,max=100"`
	Description string     `json:"description" binding:"omitempty,max=500"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        []string   `json:"tags" binding:"omitempty,max=10,dive,min=1,max=20"`
	IsImportant bool       `json:"isImportant"`
	Notes       string     `json:"notes" binding:"omitempty,max=1000"`
}

// updateTaskRequest 整体更新的请求参数，nil 字段保持原值。
type updateTaskRequest struct {
	Title       *string    `json:"title" binding:"omitempty,min=1,max=100"`
	Description *string    `json:"description" binding:"omitempty,max=500"`
	Status      *string    `json:"status" binding:"omitempty,oneof=pending completed"`
	Priority    *string    `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        []string   `json:"tags" binding:"omitempty,max=10,dive,min=1,max=20"`
	IsImportant *bool      `json:"isImportant"`
	Notes       *string    `json:"notes" binding:"omitempty,max=1000"`
}

// taskResponse 任务的对外视图，包含读取时派生的 isOverdue 与
// daysUntilDue。
type taskResponse struct {
	ID           uint               `json:"id"`
	UserID       uint               `json:"userId"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Status       model.TaskStatus   `json:"status"`
	Priority     model.TaskPriority `json:"priority"`
	DueDate      *time.Time         `json:"dueDate,omitempty"`
	CompletedAt  *time.Time         `json:"completedAt"`
	Tags         []string           `json:"tags"`
	IsImportant  bool               `json:"isImportant"`
	Notes        string             `json:"notes,omitempty"`
	IsOverdue    bool               `json:"isOverdue"`
	DaysUntilDue *int               `json:"daysUntilDue"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

type taskStatsResponse struct {
	Total          int64            `json:"total"`
	Completed      int64            `json:"completed"`
	Pending        int64            `json:"pending"`
	Important      int64            `json:"important"`
	Overdue        int64            `json:"overdue"`
	CompletionRate int              `json:"completionRate"`
	ByPriority     map[string]int64 `json:"byPriority"`
}

func newTaskResponse(t *model.Task, now time.Time) taskResponse {
	tags := []string(t.Tags)
	if tags == nil {
		tags = []string{}
	}
	return taskResponse{
		ID:           t.ID,
		UserID:       t.UserID,
		Title:        t.Title,
		Description:  t.Description,
		Status:       t.Status,
		Priority:     t.Priority,
		DueDate:      t.DueDate,
		CompletedAt:  t.CompletedAt,
		Tags:         tags,
		IsImportant:  t.IsImportant,
		Notes:        t.Notes,
		IsOverdue:    t.IsOverdue(now),
		DaysUntilDue: t.DaysUntilDue(now),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// handleCreateTask 创建任务。
//
// POST /tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		respond.Error(c, http.StatusBadRequest, "title must not be empty")
		return
	}

	priority := model.TaskPriority(req.Priority)
	if priority == "" {
		priority = model.PriorityMedium
	}

	task := model.Task{
		UserID:      middleware.UserID(c),
		Title:       title,
		Description: req.Description,
		Status:      model.StatusPending,
		Priority:    priority,
		DueDate:     req.DueDate,
		Tags:        normalizeTags(req.Tags),
		IsImportant: req.IsImportant,
		Notes:       req.Notes,
	}

	if err := s.taskStore.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		respond.Internal(c, "create task failed", err)
		return
	}

	metrics.TasksCreatedTotal.Inc()
	respond.OK(c, http.StatusCreated, newTaskResponse(&task, time.Now()))
}

// handleListTasks 返回当前用户的任务列表。
//
// 过滤参数: status / priority / isImportant / search。
// 排序固定（见 taskListOrder），客户端不可配置。
//
// GET /tasks
func (s *Server) handleListTasks(c *gin.Context) {
	filter, ok := parseTaskFilter(c)
	if !ok {
		return
	}

	tasks, err := s.taskStore.ListTasks(c.Request.Context(), middleware.UserID(c), filter)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		respond.Internal(c, "list tasks failed", err)
		return
	}

	now := time.Now()
	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, newTaskResponse(&tasks[i], now))
	}
	respond.List(c, resp, len(resp))
}

// handleGetTask 返回单个任务。
//
// GET /tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.taskForOwner(c)
	if !ok {
		return
	}
	respond.OK(c, http.StatusOK, newTaskResponse(task, time.Now()))
}

// handleUpdateTask 整体更新任务。
//
// 状态在这里变化时，completedAt 跟随同一次落库变更，保持
// "completedAt 非空 当且仅当 completed" 的不变式。
//
// PUT /tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	task, ok := s.taskForOwner(c)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			respond.Error(c, http.StatusBadRequest, "title must not be empty")
			return
		}
		updates["title"] = title
		task.Title = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
		task.Description = *req.Description
	}
	if req.Status != nil {
		status := model.TaskStatus(*req.Status)
		if status != task.Status {
			updates["status"] = status
			task.Status = status
			if status == model.StatusCompleted {
				now := time.Now()
				updates["completed_at"] = now
				task.CompletedAt = &now
			} else {
				updates["completed_at"] = nil
				task.CompletedAt = nil
			}
		}
	}
	if req.Priority != nil {
		updates["priority"] = model.TaskPriority(*req.Priority)
		task.Priority = model.TaskPriority(*req.Priority)
	}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
		task.DueDate = req.DueDate
	}
	if req.Tags != nil {
		tags := normalizeTags(req.Tags)
		updates["tags"] = tags
		task.Tags = tags
	}
	if req.IsImportant != nil {
		updates["is_important"] = *req.IsImportant
		task.IsImportant = *req.IsImportant
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
		task.Notes = *req.Notes
	}

	if len(updates) == 0 {
		respond.Error(c, http.StatusBadRequest, "no updates")
		return
	}

	if err := s.taskStore.UpdateTask(c.Request.Context(), task.ID, updates); err != nil {
		s.logger.Error("update task failed", slog.String("error", err.Error()))
		respond.Internal(c, "update task failed", err)
		return
	}

	respond.OK(c, http.StatusOK, newTaskResponse(task, time.Now()))
}

// handleDeleteTask 删除任务。
//
// DELETE /tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	task, ok := s.taskForOwner(c)
	if !ok {
		return
	}

	if err := s.taskStore.DeleteTask(c.Request.Context(), task.ID); err != nil {
		s.logger.Error("delete task failed", slog.String("error", err.Error()))
		respond.Internal(c, "delete task failed", err)
		return
	}

	metrics.TasksDeletedTotal.Inc()
	respond.OKMessage(c, http.StatusOK, "task deleted")
}

// handleToggleStatus 翻转任务状态。
//
// pending -> completed 时写入完成时间，反向清空；状态与时间戳在
// 同一条 UPDATE 中落库。并发翻转没有乐观锁，后写覆盖先写。
//
// PATCH /tasks/:id/toggle
func (s *Server) handleToggleStatus(c *gin.Context) {
	task, ok := s.taskForOwner(c)
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if task.Status == model.StatusPending {
		now := time.Now()
		updates["status"] = model.StatusCompleted
		updates["completed_at"] = now
		task.Status = model.StatusCompleted
		task.CompletedAt = &now
	} else {
		updates["status"] = model.StatusPending
		updates["completed_at"] = nil
		task.Status = model.StatusPending
		task.CompletedAt = nil
	}

	if err := s.taskStore.UpdateTask(c.Request.Context(), task.ID, updates); err != nil {
		s.logger.Error("toggle task status failed", slog.String("error", err.Error()))
		respond.Internal(c, "toggle status failed", err)
		return
	}

	if task.Status == model.StatusCompleted {
		metrics.TasksCompletedTotal.Inc()
	}
	respond.OK(c, http.StatusOK, newTaskResponse(task, time.Now()))
}

// handleToggleImportant 翻转重要标记。
//
// PATCH /tasks/:id/important
func (s *Server) handleToggleImportant(c *gin.Context) {
	task, ok := s.taskForOwner(c)
	if !ok {
		return
	}

	task.IsImportant = !task.IsImportant
	if err := s.taskStore.UpdateTask(c.Request.Context(), task.ID, map[string]interface{}{
		"is_important": task.IsImportant,
	}); err != nil {
		s.logger.Error("toggle important failed", slog.String("error", err.Error()))
		respond.Internal(c, "toggle important failed", err)
		return
	}

	respond.OK(c, http.StatusOK, newTaskResponse(task, time.Now()))
}

// handleTaskStats 返回当前用户的任务统计。
//
// GET /tasks/stats
func (s *Server) handleTaskStats(c *gin.Context) {
	stats, err := s.taskStore.TaskStats(c.Request.Context(), middleware.UserID(c), time.Now())
	if err != nil {
		s.logger.Error("task stats failed", slog.String("error", err.Error()))
		respond.Internal(c, "task stats failed", err)
		return
	}

	byPriority := map[string]int64{}
	for _, p := range []model.TaskPriority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh} {
		byPriority[string(p)] = stats.ByPriority[p]
	}

	respond.OK(c, http.StatusOK, taskStatsResponse{
		Total:          stats.Total,
		Completed:      stats.Completed,
		Pending:        stats.Pending,
		Important:      stats.Important,
		Overdue:        stats.Overdue,
		CompletionRate: stats.CompletionRate,
		ByPriority:     byPriority,
	})
}

// taskForOwner 解析路径中的任务 ID 并执行归属校验。
//
// 任务不存在返回 404；存在但不属于请求者返回 403。失败分支已写好
// 响应，调用方直接 return 即可。
func (s *Server) taskForOwner(c *gin.Context) (*model.Task, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respond.Error(c, http.StatusBadRequest, "invalid task id")
		return nil, false
	}

	task, err := s.taskStore.GetTask(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond.Error(c, http.StatusNotFound, "task not found")
			return nil, false
		}
		s.logger.Error("load task failed", slog.String("error", err.Error()))
		respond.Internal(c, "load task failed", err)
		return nil, false
	}

	if task.UserID != middleware.UserID(c) {
		respond.Error(c, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return task, true
}

// parseTaskFilter 解析列表查询参数，非法取值直接响应 400。
func parseTaskFilter(c *gin.Context) (model.TaskFilter, bool) {
	var filter model.TaskFilter

	if v := c.Query("status"); v != "" {
		status := model.TaskStatus(v)
		if !status.Valid() {
			respond.Error(c, http.StatusBadRequest, "invalid status filter")
			return filter, false
		}
		filter.Status = &status
	}
	if v := c.Query("priority"); v != "" {
		priority := model.TaskPriority(v)
		if !priority.Valid() {
			respond.Error(c, http.StatusBadRequest, "invalid priority filter")
			return filter, false
		}
		filter.Priority = &priority
	}
	if v := c.Query("isImportant"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "invalid isImportant filter")
			return filter, false
		}
		filter.IsImportant = &b
	}
	filter.Search = strings.TrimSpace(c.Query("search"))

	return filter, true
}

func normalizeTags(tags []string) model.TagList {
	if len(tags) == 0 {
		return nil
	}
	out := make(model.TagList, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
