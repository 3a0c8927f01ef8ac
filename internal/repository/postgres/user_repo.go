package postgres

import (
	"context"
	"time"

	"github.com/lwang/campus-chat/internal/domain"
	"gorm.io/gorm"
)

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *userRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) GetByStudentID(ctx context.Context, studentID string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "student_id = ?", studentID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, studentID string) error {
	return r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("student_id = ?", studentID).
		Update("last_login_at", time.Now().UTC()).Error
}
