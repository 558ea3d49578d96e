package api

import (
	"context"
	"strings"
	"time"

	"taskhub/internal/model"

	"gorm.io/gorm"
)

// taskListOrder 是列表接口固定的排序规则：重要优先，其次截止日期
// 升序（无截止日期排最后），最后按创建时间倒序。不可配置。
const taskListOrder = "is_important DESC, due_date IS NULL, due_date ASC, created_at DESC"

// TaskStore 抽象任务持久化，便于在测试中替换。
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id uint) (*model.Task, error)
	ListTasks(ctx context.Context, userID uint, filter model.TaskFilter) ([]model.Task, error)
	UpdateTask(ctx context.Context, id uint, updates map[string]interface{}) error
	DeleteTask(ctx context.Context, id uint) error
	TaskStats(ctx context.Context, userID uint, now time.Time) (*model.TaskStats, error)
}

type dbTaskStore struct {
	db *gorm.DB
}

func (s dbTaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s dbTaskStore) GetTask(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s dbTaskStore) ListTasks(ctx context.Context, userID uint, filter model.TaskFilter) ([]model.Task, error) {
	tasks := []model.Task{}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		q = q.Where("priority = ?", *filter.Priority)
	}
	if filter.IsImportant != nil {
		q = q.Where("is_important = ?", *filter.IsImportant)
	}
	if filter.Search != "" {
		like := "%" + escapeLike(filter.Search) + "%"
		q = q.Where("title LIKE ? OR description LIKE ?", like, like)
	}
	if err := q.Order(taskListOrder).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// escapeLike 转义搜索词里的 LIKE 通配符，搜索按字面值匹配。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func (s dbTaskStore) UpdateTask(ctx context.Context, id uint, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Updates(updates).Error
}

func (s dbTaskStore) DeleteTask(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&model.Task{}, id).Error
}

func (s dbTaskStore) TaskStats(ctx context.Context, userID uint, now time.Time) (*model.TaskStats, error) {
	stats := &model.TaskStats{ByPriority: map[model.TaskPriority]int64{}}

	count := func(conds func(*gorm.DB) *gorm.DB) (int64, error) {
		var n int64
		q := s.db.WithContext(ctx).Model(&model.Task{}).Where("user_id = ?", userID)
		if conds != nil {
			q = conds(q)
		}
		if err := q.Count(&n).Error; err != nil {
			return 0, err
		}
		return n, nil
	}

	var err error
	if stats.Total, err = count(nil); err != nil {
		return nil, err
	}
	if stats.Completed, err = count(func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ?", model.StatusCompleted)
	}); err != nil {
		return nil, err
	}
	stats.Pending = stats.Total - stats.Completed
	if stats.Important, err = count(func(q *gorm.DB) *gorm.DB {
		return q.Where("is_important = ?", true)
	}); err != nil {
		return nil, err
	}
	if stats.Overdue, err = count(func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND due_date IS NOT NULL AND due_date < ?", model.StatusPending, now)
	}); err != nil {
		return nil, err
	}

	var rows []struct {
		Priority model.TaskPriority
		Count    int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Select("priority, COUNT(*) as count").
		Where("user_id = ?", userID).
		Group("priority").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByPriority[row.Priority] = row.Count
	}

	stats.CompletionRate = model.CompletionRate(stats.Completed, stats.Total)
	return stats, nil
}
