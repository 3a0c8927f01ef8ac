package repository

import (
	"context"

	"github.com/lwang/campus-chat/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByStudentID(ctx context.Context, studentID string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, studentID string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *domain.UserSession) error
	DeleteByUserID(ctx context.Context, userID string) error
}

type MessageRepository interface {
	Append(ctx context.Context, message *domain.Message) error
	Query(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error)
}

type Repositories struct {
	User    UserRepository
	Session SessionRepository
	Message MessageRepository
}
