package api

import (
	"context"
	"errors"
	"time"

	"taskhub/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 初始化演示账号与示例任务。
//
// 仅在配置开启 seed_demo 时执行；已有数据不会被覆盖。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if !s.cfg.App.SeedDemo {
		return nil
	}

	const demoEmail = "demo@taskhub.local"
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", demoEmail).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("demo-password"), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Email:    demoEmail,
			Name:     "Demo",
			Password: string(hash),
			IsActive: true,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	}

	var taskCount int64
	if err := s.db.WithContext(ctx).Model(&model.Task{}).Where("user_id = ?", user.ID).Count(&taskCount).Error; err != nil {
		return err
	}
	if taskCount > 0 {
		return nil
	}

	tomorrow := time.Now().Add(24 * time.Hour)
	samples := []model.Task{
		{
			UserID:      user.ID,
			Title:       "欢迎使用 TaskHub",
			Description: "点开任务看看详情，试试右侧的完成与重要开关。",
			Status:      model.StatusPending,
			Priority:    model.PriorityHigh,
			IsImportant: true,
			Tags:        model.TagList{"入门"},
		},
		{
			UserID:   user.ID,
			Title:    "给第一条任务设置截止日期",
			Status:   model.StatusPending,
			Priority: model.PriorityMedium,
			DueDate:  &tomorrow,
		},
		{
			UserID:   user.ID,
			Title:    "了解过滤与搜索",
			Status:   model.StatusPending,
			Priority: model.PriorityLow,
			Tags:     model.TagList{"入门", "提示"},
		},
	}
	return s.db.WithContext(ctx).Create(&samples).Error
}
