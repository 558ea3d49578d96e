package auth

import (
	"context"

	"taskhub/internal/model"

	"gorm.io/gorm"
)

// UserStore 抽象用户持久化，便于在测试中替换。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id uint) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, id uint, updates map[string]interface{}) error

	// LoadUser 供认证中间件使用（等价于 FindByID）。
	LoadUser(ctx context.Context, id uint) (*model.User, error)
}

type dbUserStore struct {
	db *gorm.DB
}

// NewStore 创建基于 GORM 的 UserStore。
func NewStore(db *gorm.DB) UserStore {
	return dbUserStore{db: db}
}

func (s dbUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbUserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbUserStore) Create(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s dbUserStore) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates).Error
}

func (s dbUserStore) LoadUser(ctx context.Context, id uint) (*model.User, error) {
	return s.FindByID(ctx, id)
}
