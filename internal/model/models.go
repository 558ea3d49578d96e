package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TaskStatus 任务状态。
type TaskStatus string

// TaskPriority 任务优先级。
type TaskPriority string

const (
	StatusPending   TaskStatus = "pending"   // 待办
	StatusCompleted TaskStatus = "completed" // 已完成

	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Valid 报告状态值是否合法。
func (s TaskStatus) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Valid 报告优先级值是否合法。
func (p TaskPriority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// TagList 任务标签列表，序列化为 JSON 列存储。
type TagList []string

// Value 实现 driver.Valuer。
func (t TagList) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (t *TagList) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan tags: unsupported type %T", src)
	}
	if len(data) == 0 {
		*t = nil
		return nil
	}
	if err := json.Unmarshal(data, t); err != nil {
		return fmt.Errorf("scan tags: %w", err)
	}
	return nil
}

// Task 表示一条用户私有的待办任务。
//
// 每条任务恰好属于一个用户（UserID）；所有读写操作都必须先核对
// 请求者身份与任务归属。CompletedAt 仅在状态切到 completed 时写入，
// 切回 pending 时清空，两个字段始终在同一次落库中变更。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	UserID uint `gorm:"not null;index"` // 所属用户 ID
	User   User `gorm:"foreignKey:UserID"`

	Title       string       `gorm:"type:varchar(100);not null"`         // 标题（1-100 字符）
	Description string       `gorm:"type:varchar(500)"`                  // 描述（可选，≤500）
	Status      TaskStatus   `gorm:"type:varchar(16);default:pending"`   // 状态: pending / completed
	Priority    TaskPriority `gorm:"type:varchar(16);default:medium"`    // 优先级: low / medium / high
	DueDate     *time.Time   // 截止日期（可选）
	CompletedAt *time.Time   // 完成时间（仅 completed 状态下非空）
	Tags        TagList      `gorm:"type:json"`                          // 标签（≤10 个，每个 ≤20 字符）
	IsImportant bool         `gorm:"default:false"`                      // 重要标记
	Notes       string       `gorm:"type:varchar(1000)"`                 // 备注（可选，≤1000）
}

// IsOverdue 报告任务是否已逾期（待办且截止日期早于 now）。
//
// 派生值，不持久化。
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Status != StatusPending || t.DueDate == nil {
		return false
	}
	return t.DueDate.Before(now)
}

// DaysUntilDue 返回距截止日期的天数（向上取整，已过期为负数）。
//
// 没有截止日期时返回 nil。派生值，不持久化。
func (t *Task) DaysUntilDue(now time.Time) *int {
	if t.DueDate == nil {
		return nil
	}
	days := int(math.Ceil(t.DueDate.Sub(now).Hours() / 24))
	return &days
}

// TaskFilter 列表查询的过滤条件，nil 字段表示不过滤。
type TaskFilter struct {
	Status      *TaskStatus
	Priority    *TaskPriority
	IsImportant *bool
	Search      string // 对标题与描述做模糊匹配
}

// CompletionRate 计算完成率百分比（四舍五入），total 为 0 时取 0。
func CompletionRate(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// TaskStats 任务聚合统计。
type TaskStats struct {
	Total          int64
	Completed      int64
	Pending        int64
	Important      int64
	Overdue        int64 // 待办且截止日期已过
	ByPriority     map[TaskPriority]int64
	CompletionRate int // round(100 * completed / total)，total 为 0 时取 0
}
