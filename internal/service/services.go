package service

import (
	"github.com/lwang/campus-chat/internal/config"
	"github.com/lwang/campus-chat/internal/repository"
)

type Services struct {
	Auth *AuthService
}

func NewServices(repos *repository.Repositories, cfg *config.Config) *Services {
	return &Services{
		Auth: NewAuthService(repos.User, repos.Session, cfg),
	}
}
