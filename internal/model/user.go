package model

import (
	"crypto/md5"
	"fmt"
	"strings"
	"time"
)

// User 表示系统用户。
type User struct {
	ID          uint       `gorm:"primaryKey"`                    // 用户 ID
	Email       string     `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一，统一小写存储）
	Name        string     `gorm:"type:varchar(50);not null"`     // 显示名称
	Password    string     `gorm:"not null"`                      // bcrypt 哈希，永不序列化
	AvatarURL   string     `gorm:"type:varchar(255)"`             // 头像链接（可选）
	IsActive    bool       `gorm:"default:true"`                  // 账号是否有效
	LastLoginAt *time.Time // 最近登录时间
	CreatedAt   time.Time  // 创建时间
	UpdatedAt   time.Time  // 更新时间

	Tasks []Task `gorm:"foreignKey:UserID"`
}

// ProfileURL 返回用户头像地址。
//
// 未设置头像时回退到基于邮箱的 Gravatar 占位图。该值在读取时派生，不持久化。
func (u *User) ProfileURL() string {
	if u.AvatarURL != "" {
		return u.AvatarURL
	}
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(u.Email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?d=identicon", sum)
}
